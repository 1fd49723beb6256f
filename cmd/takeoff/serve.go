package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/home"
	"github.com/jackzampolin/takeoff/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the takeoff server",
	Long: `Start the takeoff HTTP server and its document workers.

The server opens the status store, the document store and the task queue
from configuration. Uploaded documents are queued and processed by a
bounded worker pool. On Ctrl+C or SIGTERM the server stops accepting
requests and lets in-flight runs finish before closing the stores.

The server provides:
  - /health                         - Liveness check
  - /ready                          - Readiness (store and queue)
  - /api/documents                  - Upload and list documents
  - /api/documents/{id}/status      - Poll processing status
  - /api/documents/{id}/result      - Fetch the result

Examples:
  takeoff serve                    # Start on the configured port (default 8080)
  takeoff serve --port 3000        # Start on custom port
  takeoff serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger()
		if err != nil {
			return err
		}

		// Get home directory
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfgMgr.SetLogger(logger)
		if cfgMgr.ConfigFile() != "" {
			logger.Info("loaded config", "file", cfgMgr.ConfigFile())
			cfgMgr.WatchConfig()
		}

		// Create server
		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			ConfigManager: cfgMgr,
			Home:          h,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config: 127.0.0.1)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config: 8080)")

	rootCmd.AddCommand(serveCmd)
}
