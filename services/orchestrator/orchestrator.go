// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the AEye assistant service.
//
// This package builds every collaborator the conversation engine needs
// from a config.Config (the LLM completer, the Weaviate knowledge store,
// the health-session analyst and conversation memory), wires them into an
// engine.Engine and serves it over HTTP and websockets.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	err = svc.Run(ctx)
//
// Tests and embedders can replace any collaborator through Options.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AEyeAssistant/pkg/telemetry"
	"github.com/AleutianAI/AEyeAssistant/services/llm"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/config"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/conversation"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/engine"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/handlers"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/healthlog"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/knowledge"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/observability"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/routes"
)

// metricsOnce guards the Prometheus registration, which panics on a
// second call within one process.
var metricsOnce sync.Once

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle so the CLI and tests can
// drive it the same way.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and should
// only be called once per instance.
type Service interface {
	// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
	//
	// # Outputs
	//
	//   - error: Non-nil if the listener fails or shutdown times out.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine.
	Router() *gin.Engine

	// Engine returns the conversation engine, for in-process chat.
	Engine() *engine.Engine

	// Close releases stores, clients and telemetry. Safe to call twice.
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// Options replaces collaborators that New would otherwise build from the
// configuration. Nil fields are built.
type Options struct {
	Completer engine.Completer
	Memory    conversation.Store
	Analyst   engine.TabularAnalyst
	Knowledge engine.KnowledgeStore
	Sessions  healthlog.SessionSink

	// SkipTelemetry leaves the global OpenTelemetry providers untouched.
	SkipTelemetry bool
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: Validated configuration.
//   - router: Gin HTTP engine with every route registered.
//   - engine: The conversation engine.
//   - memory: Conversation memory, closed on shutdown.
//   - knowledgeClient: Nil unless the knowledge store is enabled.
//   - embedder: Shared by the store and the docs watcher.
//   - closers: Run in reverse order by Close.
type service struct {
	config          config.Config
	router          *gin.Engine
	engine          *engine.Engine
	memory          conversation.Store
	knowledgeClient *knowledge.Client
	embedder        knowledge.Embedder
	metrics         *telemetry.Metrics
	readiness       map[string]handlers.Checker
	closers         []func() error
	closeOnce       sync.Once
	closeErr        error
}

// =============================================================================
// Constructor
// =============================================================================

// New builds the orchestrator from cfg.
//
// # Description
//
// New initializes all components in dependency order:
//  1. OpenTelemetry providers and Prometheus metrics
//  2. The LLM completer
//  3. The knowledge store, when enabled
//  4. The health-session analyst for the configured backend
//  5. Conversation memory
//  6. The engine and the HTTP router
//
// Anything already built is released when a later step fails.
//
// # Inputs
//
//   - ctx: Bounds schema creation and exporter connections.
//   - cfg: Validated configuration, usually from config.Load.
//   - opts: Optional collaborator overrides. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator.
//   - error: Non-nil if a required collaborator cannot be built.
func New(ctx context.Context, cfg config.Config, opts *Options) (Service, error) {
	if opts == nil {
		opts = &Options{}
	}
	s := &service{config: cfg, readiness: make(map[string]handlers.Checker)}

	if err := s.init(ctx, opts); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *service) init(ctx context.Context, opts *Options) error {
	if !opts.SkipTelemetry {
		shutdown, err := telemetry.Init(ctx, s.config.Telemetry)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		s.addCloser(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(ctx)
		})
	}
	metricsOnce.Do(func() {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus engine metrics")
	})

	meter := otel.Meter("aeye.orchestrator")
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create transport metrics: %w", err)
	}
	s.metrics = metrics

	completer, err := s.initCompleter(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	store, err := s.initKnowledge(ctx, opts, meter)
	if err != nil {
		return fmt.Errorf("failed to initialize knowledge store: %w", err)
	}

	analyst, sink, err := s.initHealthLog(opts)
	if err != nil {
		return fmt.Errorf("failed to initialize health log: %w", err)
	}

	if err := s.initMemory(opts); err != nil {
		return fmt.Errorf("failed to initialize conversation memory: %w", err)
	}

	s.engine, err = engine.New(s.config.EngineSettings(), engine.Dependencies{
		Completer: completer,
		Memory:    s.memory,
		Analyst:   analyst,
		Knowledge: store,
		Logger:    slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	s.initRouter(sink)
	return nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until ctx is cancelled.
//
// # Description
//
// When knowledge.watch_docs is set a file watcher re-indexes the docs
// directory alongside the server. On cancellation the server drains
// in-flight requests for up to server.shutdown_timeout.
func (s *service) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.startWatcher(runCtx); err != nil {
		slog.Warn("Document watcher disabled", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting orchestrator server", "port", s.config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("orchestrator server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down orchestrator server", "timeout", s.config.Server.ShutdownTimeout)
	shutdownCtx, stop := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Router returns the underlying Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Engine returns the conversation engine.
func (s *service) Engine() *engine.Engine {
	return s.engine
}

// Close releases every resource New acquired, newest first.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) addCloser(fn func() error) {
	s.closers = append(s.closers, fn)
}

// initCompleter builds the rate-limited, retrying completer over the
// configured backend.
func (s *service) initCompleter(opts *Options) (engine.Completer, error) {
	if opts.Completer != nil {
		return opts.Completer, nil
	}
	client, err := llm.New(s.config.LLM.Config)
	if err != nil {
		return nil, err
	}
	slog.Info("Using LLM backend", "backend", s.config.LLM.Backend, "model", s.config.LLM.Model)
	return llm.NewCompleter(client, s.config.CompleterOptions()), nil
}

// initKnowledge connects to Weaviate when the knowledge store is enabled.
//
// # Description
//
// A schema failure is logged, not fatal: the store reports unavailable
// evidence until Weaviate recovers. The circuit breaker state is exported
// as an observable gauge.
func (s *service) initKnowledge(ctx context.Context, opts *Options, meter metric.Meter) (engine.KnowledgeStore, error) {
	if opts.Knowledge != nil {
		return opts.Knowledge, nil
	}
	if !s.config.Knowledge.Enabled {
		slog.Info("Knowledge store disabled, semantic evidence unavailable")
		return nil, nil
	}

	client, err := knowledge.NewClient(s.config.Knowledge.Weaviate)
	if err != nil {
		return nil, err
	}
	s.knowledgeClient = client
	s.readiness["knowledge"] = client.Ready

	if err := knowledge.EnsureSchema(ctx, client); err != nil {
		slog.Warn("Knowledge schema check failed, continuing", "error", err)
	}

	reg, err := s.metrics.RegisterKnowledgeCircuitState(meter, func() int64 {
		return int64(client.State())
	})
	if err != nil {
		slog.Warn("Could not register knowledge circuit gauge", "error", err)
	} else {
		s.addCloser(reg.Unregister)
	}

	embedder, err := llm.NewEmbedder(s.config.EmbedderSettings())
	if err != nil {
		return nil, err
	}
	s.embedder = embedder

	store, err := knowledge.NewStore(client, embedder, knowledge.StoreOptions{
		MinCertainty: s.config.Knowledge.MinCertainty,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Knowledge store initialized", "url", s.config.Knowledge.Weaviate.URL, "class", client.Class())
	return store, nil
}

// initHealthLog builds the tabular analyst over the configured session
// source. Only the InfluxDB backend accepts ingested sessions.
func (s *service) initHealthLog(opts *Options) (engine.TabularAnalyst, healthlog.SessionSink, error) {
	sink := opts.Sessions
	if opts.Analyst != nil {
		return opts.Analyst, sink, nil
	}

	var source healthlog.SessionSource
	switch s.config.HealthLog.Backend {
	case config.HealthLogInflux:
		influx, err := healthlog.NewInfluxStore(s.config.HealthLog.Influx)
		if err != nil {
			return nil, nil, err
		}
		s.addCloser(func() error {
			influx.Close()
			return nil
		})
		s.readiness["health_log"] = influx.Ping
		source = influx
		if sink == nil {
			sink = influx
		}
		slog.Info("Reading health sessions from InfluxDB", "url", s.config.HealthLog.Influx.URL,
			"bucket", s.config.HealthLog.Influx.Bucket)

	case config.HealthLogCSV:
		loc, err := s.config.HealthLog.Location()
		if err != nil {
			return nil, nil, err
		}
		source = &healthlog.CSVFileSource{Path: s.config.HealthLog.CSVPath, Location: loc}
		slog.Info("Reading health sessions from CSV", "path", s.config.HealthLog.CSVPath)

	default:
		slog.Info("Health log disabled, tabular evidence unavailable")
		return nil, sink, nil
	}

	analyst, err := healthlog.NewAnalyst(source, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	return analyst, sink, nil
}

// initMemory opens conversation memory.
func (s *service) initMemory(opts *Options) error {
	if opts.Memory != nil {
		s.memory = opts.Memory
		return nil
	}
	switch s.config.Memory.Backend {
	case config.MemoryBadger:
		badgerCfg := s.config.Memory.Badger
		if badgerCfg.Logger == nil {
			badgerCfg.Logger = slog.Default().With("component", "badger")
		}
		store, err := conversation.OpenBadgerStore(badgerCfg, s.config.Memory.TTL)
		if err != nil {
			return err
		}
		s.memory = store
		slog.Info("Conversation memory on BadgerDB", "path", badgerCfg.Path, "ttl", s.config.Memory.TTL)
	default:
		s.memory = conversation.NewInMemoryStore(s.config.Memory.TTL)
		slog.Info("Conversation memory in process", "ttl", s.config.Memory.TTL)
	}
	s.addCloser(s.memory.Close)
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter(sink healthlog.SessionSink) {
	s.router = gin.New()
	s.router.Use(handlers.Recovery())
	s.router.Use(otelgin.Middleware(s.config.Telemetry.ServiceName))
	s.router.Use(telemetry.GinMetrics(s.metrics))

	routes.SetupRoutes(s.router, routes.Dependencies{
		Runner:         s.engine,
		Threads:        s.memory,
		Sessions:       sink,
		Readiness:      s.readiness,
		Metrics:        s.metrics,
		MetricsHandler: telemetry.MetricsHandler(),
		AllowedOrigins: s.config.Server.AllowedOrigins,
		APIToken:       s.config.Server.APIToken,
	})
}

// startWatcher re-indexes the docs directory on change.
func (s *service) startWatcher(ctx context.Context) error {
	if !s.config.Knowledge.WatchDocs || s.knowledgeClient == nil || s.embedder == nil {
		return nil
	}
	indexer, err := knowledge.NewIndexer(s.knowledgeClient, s.embedder, 0)
	if err != nil {
		return err
	}
	src := knowledge.NewDirSource(s.config.Knowledge.DocsDir)
	watcher, err := knowledge.NewWatcher(s.config.Knowledge.DocsDir, 0, func(ctx context.Context) error {
		stats, err := indexer.IndexSource(ctx, src)
		if err != nil {
			return err
		}
		slog.Info("Re-indexed knowledge documents", "documents", stats.Documents,
			"chunks", stats.Chunks, "failed", stats.Failed)
		return nil
	})
	if err != nil {
		return err
	}
	go func() {
		if err := watcher.Run(ctx); err != nil {
			slog.Error("Document watcher stopped", "error", err)
		}
	}()
	slog.Info("Watching knowledge documents", "dir", s.config.Knowledge.DocsDir)
	return nil
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
