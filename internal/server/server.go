package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/blob"
	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/home"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/pipeline"
	"github.com/jackzampolin/takeoff/internal/profiles"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/rates"
	"github.com/jackzampolin/takeoff/internal/server/endpoints"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// Server is the main takeoff HTTP server.
// It owns the status store, blob store, task queue and worker pool,
// opening them on start and closing them on shutdown.
type Server struct {
	httpServer *http.Server
	registry   *providers.Registry
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger

	store        store.Store
	blobs        blob.Store
	queue        jobs.Queue
	pool         *jobs.Pool
	orchestrator *pipeline.Orchestrator

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	poolCancel context.CancelFunc
	poolDone   chan struct{}
	poolErr    error

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Home locates the default database and document directories
	Home *home.Dir
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Home == nil {
		h, err := home.New("")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.Home = h
	}

	appCfg := cfg.ConfigManager.Get()
	if cfg.Host == "" {
		cfg.Host = appCfg.Server.Host
	}
	if cfg.Port == "" {
		cfg.Port = appCfg.Server.Port
	}

	// Create provider registry
	registry := providers.NewRegistry()
	registry.SetLogger(cfg.Logger)
	registry.Reload(appCfg.ToProviderRegistryConfig())

	// Watch for config changes
	cfg.ConfigManager.OnChange(func(c *config.Config) {
		registry.Reload(c.ToProviderRegistryConfig())
		cfg.Logger.Info("provider registry reloaded from config")
	})

	s := &Server{
		registry:  registry,
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{
		MaxUploadBytes: int64(appCfg.Server.MaxUploadMB) << 20,
	}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.withServices(mux),
		ReadTimeout: 5 * time.Minute, // large plan set uploads
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Start opens the backends, starts the worker pool and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.open(ctx); err != nil {
		_ = s.shutdown()
		return err
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case <-s.poolDone:
		if s.poolErr != nil {
			_ = s.shutdown()
			return fmt.Errorf("worker pool error: %w", s.poolErr)
		}
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// open builds every backend from the current configuration.
func (s *Server) open(ctx context.Context) error {
	cfg := s.configMgr.Get()

	if err := s.home.EnsureExists(); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}

	dsn := cfg.Storage.DSN
	if dsn == "" && (cfg.Storage.Store == "" || cfg.Storage.Store == "sqlite") {
		dsn = s.home.DatabasePath()
	}
	st, err := store.Open(ctx, store.Config{Driver: cfg.Storage.Store, DSN: dsn, Logger: s.logger})
	if err != nil {
		return fmt.Errorf("failed to open status store: %w", err)
	}
	s.store = st
	s.logger.Info("status store ready", "driver", cfg.Storage.Store)

	blobs, err := s.openBlobs(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	s.blobs = blobs

	queue, err := s.openQueue(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	s.queue = queue
	s.logger.Info("task queue ready", "driver", cfg.Queue.Driver)

	profileSet := profiles.Builtin()
	if path := s.home.Override(cfg.Pipeline.ProfilesFile, home.ProfilesFileName); path != "" {
		if profileSet, err = profiles.LoadFile(path); err != nil {
			return fmt.Errorf("failed to load profiles: %w", err)
		}
		s.logger.Info("loaded index profiles", "path", path)
	}
	var rateTable rates.Table = rates.Default()
	if path := s.home.Override(cfg.Pipeline.RatesFile, home.RatesFileName); path != "" {
		t, err := rates.LoadFile(path)
		if err != nil {
			return fmt.Errorf("failed to load rates: %w", err)
		}
		rateTable = t
		s.logger.Info("loaded unit rates", "path", path)
	}

	orch, err := pipeline.New(pipeline.Config{
		Store:      s.store,
		Blobs:      s.blobs,
		Profiles:   profileSet,
		Recognizer: s.registry.Recognizer(cfg.Defaults.Recognizer, providers.TextLayerName),
		LLM:        s.registry.LLM(cfg.Defaults.LLMProvider),
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
		Logger:           s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	s.orchestrator = orch

	bridge := jobs.NewBridge(jobs.BridgeConfig{
		Runner:     orch,
		Store:      s.store,
		RunTimeout: cfg.Pipeline.RunTimeout(),
		Logger:     s.logger,
	})
	pool, err := jobs.NewPool(jobs.PoolConfig{
		Queue:   s.queue,
		Handler: bridge.Handler(),
		Workers: cfg.Defaults.Workers,
		Logger:  s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	s.pool = pool

	poolCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.poolCancel = cancel
	s.poolDone = make(chan struct{})
	go func() {
		defer close(s.poolDone)
		s.poolErr = pool.Run(poolCtx)
	}()

	// Create services struct for context enrichment
	s.mu.Lock()
	s.services = &svcctx.Services{
		Store:        s.store,
		Blobs:        s.blobs,
		Queue:        s.queue,
		Pool:         s.pool,
		Orchestrator: s.orchestrator,
		Registry:     s.registry,
		Logger:       s.logger,
		Home:         s.home,
	}
	s.mu.Unlock()
	return nil
}

func (s *Server) openBlobs(ctx context.Context, cfg config.StorageCfg) (blob.Store, error) {
	switch cfg.Blob {
	case "", "local":
		root := s.home.DocumentsPath()
		b, err := blob.NewLocalStore(root)
		if err != nil {
			return nil, fmt.Errorf("failed to open document store: %w", err)
		}
		s.logger.Info("document store ready", "backend", "local", "root", root)
		return b, nil
	case "gcs":
		b, err := blob.NewGCSStore(ctx, blob.GCSConfig{Bucket: cfg.Bucket, Prefix: cfg.Prefix, Logger: s.logger})
		if err != nil {
			return nil, fmt.Errorf("failed to open document store: %w", err)
		}
		s.logger.Info("document store ready", "backend", "gcs", "bucket", cfg.Bucket)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", cfg.Blob)
	}
}

func (s *Server) openQueue(ctx context.Context, cfg config.QueueCfg) (jobs.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return jobs.NewMemoryQueue(), nil
	case "redis":
		q, err := jobs.NewRedisQueue(ctx, jobs.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.Prefix,
			Logger:   s.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open task queue: %w", err)
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unknown queue driver: %s", cfg.Driver)
	}
}

// shutdown stops HTTP, drains the worker pool and closes the backends.
// In-flight runs finish before the status store is closed.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.poolCancel != nil {
		s.logger.Info("stopping workers")
		s.poolCancel()
		select {
		case <-s.poolDone:
		case <-shutdownCtx.Done():
			s.logger.Warn("timed out waiting for workers")
		}
	}
	if s.orchestrator != nil {
		s.orchestrator.Wait()
	}

	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Error("task queue close error", "error", err)
		}
	}
	if c, ok := s.blobs.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.Error("document store close error", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("status store close error", "error", err)
		}
	}

	s.mu.Lock()
	s.services = nil
	s.running = false
	s.mu.Unlock()
	s.logger.Info("server stopped")
	return nil
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Store returns the status store.
// Returns nil if the server hasn't started yet.
func (s *Server) Store() store.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.services == nil {
		return nil
	}
	return s.services.Store
}

func (s *Server) currentServices() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc := s.currentServices(); svc != nil {
			ctx = svcctx.WithServices(ctx, svc)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the backends and workers are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.currentServices() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
