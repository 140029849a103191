// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver provides the case resolution service for AleutianCases.
//
// This package contains the main service type that coordinates all
// components of the resolver: HTTP routing, the resolution engine,
// the Weaviate report store, the embedding client, the LLM-backed case
// namer, and observability infrastructure.
//
// # Usage
//
//	cfg := resolver.Config{Port: 12310, WeaviateHost: "localhost:8080"}
//	svc, err := resolver.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianCases/services/llm"
	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
	"github.com/AleutianAI/AleutianCases/services/resolver/embed"
	"github.com/AleutianAI/AleutianCases/services/resolver/engine"
	"github.com/AleutianAI/AleutianCases/services/resolver/lock"
	"github.com/AleutianAI/AleutianCases/services/resolver/naming"
	"github.com/AleutianAI/AleutianCases/services/resolver/observability"
	"github.com/AleutianAI/AleutianCases/services/resolver/routes"
	"github.com/AleutianAI/AleutianCases/services/resolver/search"
	"github.com/AleutianAI/AleutianCases/services/resolver/store"
)

// Service is the interface exposed to cmd wrappers.
type Service interface {
	// Run starts the HTTP server and blocks until it exits.
	Run() error

	// Router returns the configured Gin engine for testing.
	Router() *gin.Engine

	// Close releases resources held by the service.
	Close()
}

// Config holds all configuration for the resolver service.
type Config struct {
	// Port is the HTTP listen port. Default: 12310.
	Port int `yaml:"port"`

	// WeaviateHost is the host:port of the Weaviate instance,
	// e.g. "localhost:8080".
	WeaviateHost string `yaml:"weaviate_host"`

	// WeaviateScheme is "http" or "https". Default: "http".
	WeaviateScheme string `yaml:"weaviate_scheme"`

	// WeaviateAPIKey enables API-key auth when non-empty.
	WeaviateAPIKey string `yaml:"weaviate_api_key"`

	// EmbeddingURL is the base URL of the embedding sidecar,
	// e.g. "http://localhost:12110".
	EmbeddingURL string `yaml:"embedding_url"`

	// LLMBackend selects the case naming backend: "openai" or "ollama".
	// Default: "ollama".
	LLMBackend string `yaml:"llm_backend"`

	// OTelEndpoint is the OTLP gRPC collector address.
	// Default: "aleutian-otel-collector:4317".
	OTelEndpoint string `yaml:"otel_endpoint"`

	// CounterPath is the directory for the persistent daily index
	// counter. Empty selects an in-memory counter (single-instance,
	// test, or ephemeral deployments).
	CounterPath string `yaml:"counter_path"`

	// TunablesPath points at an optional YAML file with runtime-
	// adjustable resolution tunables. The file is hot-reloaded.
	TunablesPath string `yaml:"tunables_path"`

	// ScoreThreshold is the default minimum similarity for linking.
	// Default: 0.85.
	ScoreThreshold float64 `yaml:"score_threshold"`

	// RadiusMeters is the default geo filter radius. Default: 500.
	RadiusMeters float64 `yaml:"radius_meters"`

	// SearchLimit is the default similarity candidate cap. Default: 5.
	SearchLimit int `yaml:"search_limit"`

	// LockMaxWait bounds how long a request waits on a busy cluster.
	// Default: 10s.
	LockMaxWait time.Duration `yaml:"lock_max_wait"`

	// NamingDisabled turns off the async case namer entirely.
	NamingDisabled bool `yaml:"naming_disabled"`

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: "release".
	GinMode string `yaml:"gin_mode"`
}

// service is the concrete implementation of Service.
type service struct {
	config   Config
	router   *gin.Engine
	engine   *engine.Resolver
	store    *store.WeaviateStore
	embedder *embed.Client
	counter  *store.IndexCounter
	namer    *naming.Namer
	tunables *TunablesWatcher
	metrics  *observability.ResolutionMetrics

	tracerCleanup func(context.Context)
}

// =============================================================================
// Construction
// =============================================================================

// New creates a fully wired resolver service.
//
// # Description
//
// Initializes, in order: tracing, metrics, the Weaviate store and its
// schema, the daily index counter, the embedding client, the LLM client
// and case namer, the cluster locks, the tunables watcher, and finally
// the resolution engine and HTTP router.
//
// # Outputs
//
//   - Service: Ready-to-run service instance
//   - error: Non-nil if any component fails to initialize
func New(cfg Config) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	s := &service{config: cfg}

	cleanup, err := s.initTracer()
	if err != nil {
		// Tracing is best-effort: the resolver must come up even when the
		// collector is absent.
		slog.Warn("tracer initialization failed, continuing without tracing", "error", err)
	} else {
		s.tracerCleanup = cleanup
	}

	s.metrics = observability.InitMetrics()

	if err := s.initStore(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.initCounter(); err != nil {
		s.Close()
		return nil, err
	}

	s.embedder = embed.NewClient(cfg.EmbeddingURL)

	if err := s.initNamer(); err != nil {
		s.Close()
		return nil, err
	}

	s.tunables, err = NewTunablesWatcher(cfg.TunablesPath, engine.Tunables{
		ScoreThreshold: cfg.ScoreThreshold,
		RadiusMeters:   cfg.RadiusMeters,
		SearchLimit:    cfg.SearchLimit,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	locks := lock.NewClusterLocks(cfg.LockMaxWait)

	var namer engine.CaseNamer
	if s.namer != nil {
		namer = s.namer
	}
	s.engine = engine.NewResolver(
		s.store, s.embedder, locks, s.counter, namer, s.metrics, s.tunables.Current)

	s.initRouter()

	slog.Info("resolver service initialized",
		"port", cfg.Port,
		"weaviate", cfg.WeaviateHost,
		"llm_backend", cfg.LLMBackend,
		"score_threshold", cfg.ScoreThreshold)

	return s, nil
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.WeaviateScheme == "" {
		cfg.WeaviateScheme = "http"
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	if cfg.ScoreThreshold == 0 {
		cfg.ScoreThreshold = datatypes.DefaultScoreThreshold
	}
	if cfg.RadiusMeters == 0 {
		cfg.RadiusMeters = datatypes.DefaultRadiusMeters
	}
	if cfg.SearchLimit == 0 {
		cfg.SearchLimit = datatypes.DefaultSearchLimit
	}
	if cfg.LockMaxWait == 0 {
		cfg.LockMaxWait = lock.DefaultMaxWait
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	return cfg
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run starts the HTTP server. Blocks until the server exits.
func (s *service) Run() error {
	defer s.Close()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("starting resolver service", "addr", addr)

	return s.router.Run(addr)
}

// Router returns the Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close releases all resources held by the service.
func (s *service) Close() {
	if s.namer != nil {
		s.namer.Close()
	}
	if s.tunables != nil {
		s.tunables.Close()
	}
	if s.counter != nil {
		if err := s.counter.Close(); err != nil {
			slog.Warn("counter close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Service methods
// =============================================================================

// Resolve assigns a case identity to one report.
func (s *service) Resolve(ctx context.Context, req *datatypes.ResolveCaseRequest) (*datatypes.Resolution, error) {
	return s.engine.Resolve(ctx, req)
}

// SimilarCases runs a raw similarity query without assigning identity.
//
// # Description
//
// Embeds the query text and searches the report store with the same
// category, location, and time filters the resolution path uses. The
// candidates come back scored, best first, without any case being
// minted or linked.
func (s *service) SimilarCases(ctx context.Context, query string, req *datatypes.ResolveCaseRequest) ([]datatypes.SimilarCase, error) {
	t := s.tunables.Current()
	req.EnsureDefaults(t.ScoreThreshold, t.RadiusMeters, t.SearchLimit)
	if err := req.Validate(); err != nil {
		return nil, &datatypes.ValidationError{Reason: err.Error()}
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &datatypes.SearchUnavailableError{Err: err}
	}

	since, until := req.Window()
	where := search.NewFilterBuilder(req.RadiusMeters).
		Build(req.ReportType, req.Data.LocationDetails, since, until)

	matches, err := s.store.Search(ctx, vector, where, req.Threshold(), req.Limit)
	if err != nil {
		return nil, err
	}

	cases := make([]datatypes.SimilarCase, 0, len(matches))
	for _, m := range matches {
		cases = append(cases, datatypes.SimilarCase{Score: m.Score, Record: m.Record})
	}
	return cases, nil
}

// CaseReports pages through the reports attached to a case, newest
// first.
func (s *service) CaseReports(ctx context.Context, caseID string, limit, offset int) ([]*datatypes.ReportRecord, error) {
	return s.store.ReportsByCase(ctx, caseID, limit, offset)
}

// LatestReport returns the newest report attached to a case.
func (s *service) LatestReport(ctx context.Context, req *datatypes.LatestReportRequest) (*datatypes.ReportRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, &datatypes.ValidationError{Reason: err.Error()}
	}

	where := store.CaseReportFilter(req.CaseID, req.StartTime, req.EndTime)
	return s.store.Latest(ctx, where)
}

// CurrentTunables exposes the effective tunables for response echoing.
func (s *service) CurrentTunables() engine.Tunables {
	return s.tunables.Current()
}

// =============================================================================
// Initialization helpers
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("case-resolver-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initStore creates the Weaviate report store and ensures its schema.
func (s *service) initStore() error {
	if s.config.WeaviateHost == "" {
		return fmt.Errorf("weaviate host is required")
	}

	reportStore, err := store.NewWeaviateStore(store.Config{
		Host:   s.config.WeaviateHost,
		Scheme: s.config.WeaviateScheme,
		APIKey: s.config.WeaviateAPIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create report store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := reportStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure report schema: %w", err)
	}

	s.store = reportStore
	slog.Info("report store initialized", "host", s.config.WeaviateHost)

	return nil
}

// initCounter creates the daily index counter, seeded from the store so
// a fresh counter never re-issues an index already present in Weaviate.
func (s *service) initCounter() error {
	seed := func(ctx context.Context, clusterKey string) (int, error) {
		return s.store.MaxDailyIndex(ctx, clusterKey)
	}

	var err error
	if s.config.CounterPath == "" {
		slog.Info("using in-memory daily index counter")
		s.counter, err = store.NewInMemoryIndexCounter(seed)
	} else {
		s.counter, err = store.NewIndexCounter(s.config.CounterPath, seed)
	}
	if err != nil {
		return fmt.Errorf("failed to create index counter: %w", err)
	}

	return nil
}

// initNamer creates the LLM client and the async case namer.
func (s *service) initNamer() error {
	if s.config.NamingDisabled {
		slog.Info("case naming disabled")
		return nil
	}

	var client llm.LLMClient
	var err error
	switch s.config.LLMBackend {
	case "openai":
		client, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend for case naming")
	case "ollama":
		client, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend for case naming")
	default:
		slog.Warn("Unknown LLM backend, defaulting to ollama", "backend", s.config.LLMBackend)
		client, err = llm.NewOllamaClient()
	}
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	s.namer = naming.NewNamer(client, s.store, naming.Config{Metrics: s.metrics})

	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("case-resolver-service"))

	routes.SetupRoutes(s.router, s)
}
