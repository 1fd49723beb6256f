package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/blob"
	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/home"
	"github.com/jackzampolin/takeoff/internal/pipeline"
	"github.com/jackzampolin/takeoff/internal/profiles"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/rates"
	"github.com/jackzampolin/takeoff/internal/store"
)

var (
	processOutputFile string
	processRecognizer string
	processLLM        string
)

var processCmd = &cobra.Command{
	Use:   "process <file.pdf>",
	Short: "Process a plan set locally without a server",
	Long: `Run the full pipeline on one PDF in this process and print the result.

Nothing is persisted: the document and its result live in memory for the
duration of the command. Providers, retries and timeouts come from the
same configuration the server uses.

Examples:
  takeoff process plans.pdf
  takeoff process plans.pdf -o json --file result.json
  takeoff process plans.pdf --recognizer text-layer`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cfg := cfgMgr.Get()

		registry := providers.NewRegistry()
		registry.SetLogger(logger)
		registry.Reload(cfg.ToProviderRegistryConfig())

		recognizer := processRecognizer
		if recognizer == "" {
			recognizer = cfg.Defaults.Recognizer
		}
		llm := processLLM
		if llm == "" {
			llm = cfg.Defaults.LLMProvider
		}

		tmp, err := os.MkdirTemp("", "takeoff-process-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		blobs, err := blob.NewLocalStore(tmp)
		if err != nil {
			return err
		}
		st := store.NewMemoryStore()

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		profileSet := profiles.Builtin()
		if path := h.Override(cfg.Pipeline.ProfilesFile, home.ProfilesFileName); path != "" {
			if profileSet, err = profiles.LoadFile(path); err != nil {
				return err
			}
		}
		var rateTable rates.Table = rates.Default()
		if path := h.Override(cfg.Pipeline.RatesFile, home.RatesFileName); path != "" {
			t, err := rates.LoadFile(path)
			if err != nil {
				return err
			}
			rateTable = t
		}

		orch, err := pipeline.New(pipeline.Config{
			Store:      st,
			Blobs:      blobs,
			Profiles:   profileSet,
			Recognizer: registry.Recognizer(recognizer, providers.TextLayerName),
			LLM:        registry.LLM(llm),
			Rates:      rateTable,
			Retry: pipeline.RetryConfig{
				MaxRetries: cfg.Pipeline.MaxRetries,
				BaseDelay:  cfg.Pipeline.BaseDelay(),
				MaxDelay:   cfg.Pipeline.MaxDelay(),
				Factor:     cfg.Pipeline.BackoffFactor,
			},
			RecognizeTimeout: cfg.Pipeline.RecognizeTimeout(),
			InterpretTimeout: cfg.Pipeline.InterpretTimeout(),
			Temperature:      cfg.Pipeline.Temperature,
			MaxTokens:        cfg.Pipeline.MaxTokens,
			MalformedRetries: cfg.Pipeline.MalformedRetries,
			Logger:           logger,
		})
		if err != nil {
			return err
		}

		id := uuid.NewString()
		key := blob.DocumentKey(id)
		if err := blobs.Put(ctx, key, data); err != nil {
			return err
		}
		if err := st.Create(ctx, &document.Document{ID: id, Filename: filepath.Base(args[0]), StorageRef: key}); err != nil {
			return err
		}

		start := time.Now()
		result, err := orch.Run(ctx, id)
		if err != nil {
			if doc, gerr := st.Get(ctx, id); gerr == nil && doc.Error != "" {
				return fmt.Errorf("processing failed: %s", doc.Error)
			}
			return err
		}
		logger.Info("processing complete",
			"document_id", id,
			"confidence", result.Confidence,
			"duration", time.Since(start).Round(time.Millisecond),
		)

		if processOutputFile != "" {
			return api.OutputToFile(result, processOutputFile)
		}
		return api.Output(result)
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOutputFile, "file", "f", "", "Write the result to a file (.json or .yaml)")
	processCmd.Flags().StringVar(&processRecognizer, "recognizer", "", "Recognizer to use (default from config)")
	processCmd.Flags().StringVar(&processLLM, "llm", "", "LLM provider to use (default from config)")

	rootCmd.AddCommand(processCmd)
}
