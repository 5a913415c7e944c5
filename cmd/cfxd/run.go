package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/cfx-labs/cfx/internal/app"
	"github.com/cfx-labs/cfx/internal/auth"
	"github.com/cfx-labs/cfx/internal/circuitbreaker"
	"github.com/cfx-labs/cfx/internal/cloudauth"
	"github.com/cfx-labs/cfx/internal/config"
	"github.com/cfx-labs/cfx/internal/logpipe"
	"github.com/cfx-labs/cfx/internal/quota"
	"github.com/cfx-labs/cfx/internal/routing"
	"github.com/cfx-labs/cfx/internal/server"
	"github.com/cfx-labs/cfx/internal/storage"
	"github.com/cfx-labs/cfx/internal/storage/postgres"
	"github.com/cfx-labs/cfx/internal/storage/sqlite"
	"github.com/cfx-labs/cfx/internal/streamlimit"
	"github.com/cfx-labs/cfx/internal/telemetry"
	"github.com/cfx-labs/cfx/internal/upstream"
	"github.com/cfx-labs/cfx/internal/worker"
)

const gcpCloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("starting cfx router", "version", cfg.Version, "addr", cfg.Server.Addr)

	ctx := context.Background()

	// Open database. No driver means development mode: in-memory quota
	// counters, format-only auth, discarded request logs.
	var store storage.Store
	switch cfg.Database.Driver {
	case "postgres":
		s, err := postgres.New(ctx, cfg.Database.PostgresDSN(), cfg.Database.MinConns, cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	case "sqlite":
		s, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	default:
		slog.Warn("no database configured, running in development mode")
	}

	// Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	// Tracing, only when an OTLP endpoint is configured
	if cfg.Observability.OTLPEndpoint != "" {
		stopTracing, err := telemetry.SetupTracing(ctx, cfg.Observability.OTLPEndpoint, cfg.Observability.TraceSampleRate)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := stopTracing(flushCtx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Stage routing table
	routes := routing.Config{
		Stages: make(map[routing.Stage]routing.Binding, len(cfg.Stages)),
		Direct: routing.Direct{
			AllowedModels: cfg.Direct.AllowedModels,
			MaxTokensCap:  cfg.Direct.MaxTokensCap,
		},
	}
	for name, st := range cfg.Stages {
		stage, ok := routing.ParseStage(name)
		if !ok {
			return fmt.Errorf("config: unknown stage %q", name)
		}
		routes.Stages[stage] = routing.Binding{
			Model:          st.Model,
			MaxTokens:      st.MaxTokens,
			Temperature:    st.Temperature,
			FallbackModels: st.Fallback,
		}
	}

	// Admission: daily quota, per-user stream slots, upstream breaker
	var counter quota.Counter = quota.NewMemoryCounter()
	if store != nil {
		counter = store
	}
	limiter := quota.NewLimiter(cfg.RateLimit.DailyRequests, counter)
	streams := streamlimit.NewLimiter(cfg.RateLimit.ConcurrentStreams)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  cfg.CircuitBreaker.RecoveryTimeout.Std(),
		HalfOpenMaxCalls: 1,
		TransitionHook: func(name string, _, to circuitbreaker.State) {
			metrics.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	// Upstream client: pooled transport, cached DNS, auth injection
	resolver := &dnscache.Resolver{}
	var rt http.RoundTripper = upstream.NewTransport(resolver,
		cfg.LiteLLM.ConnectTimeout.Std(),
		cfg.LiteLLM.Timeout.Std(),
		strings.HasPrefix(cfg.LiteLLM.BaseURL, "https://"),
	)
	if cfg.LiteLLM.AuthMode == "gcp_oauth" {
		rt, err = cloudauth.NewGCPOAuthTransport(ctx, rt, gcpCloudPlatformScope)
		if err != nil {
			return err
		}
	} else if cfg.LiteLLM.APIKey != "" {
		rt = cloudauth.NewBearerTransport(cfg.LiteLLM.APIKey, rt)
	}
	llm := upstream.New(cfg.LiteLLM.BaseURL, &http.Client{Transport: rt}, cfg.LiteLLM.RetryCount, metrics.UpstreamRetries)

	// Authentication
	authn, err := auth.NewAPIKeyAuth(store, cfg.Auth.Salt, cfg.Auth.CacheTTL.Std())
	if err != nil {
		return err
	}

	// Async request log pipeline
	pipe := logpipe.New(store, logpipe.Config{
		QueueSize:     cfg.LogPipeline.QueueSize,
		BatchSize:     cfg.LogPipeline.BatchSize,
		FlushInterval: cfg.LogPipeline.FlushInterval.Std(),
		MaxRetries:    cfg.LogPipeline.MaxRetries,
		QueueDepth:    metrics.LogQueueDepth,
		Dropped:       metrics.LogDropped,
	})

	// Wire services
	gw := app.NewGateway(app.Deps{
		Router:   routing.NewRouter(routes),
		Quota:    limiter,
		Streams:  streams,
		Breakers: breakers,
		Upstream: llm,
		Logs:     pipe,
		Metrics:  metrics,
	})
	keys := app.NewKeyManager(store, cfg.Auth.Salt, authn)

	handler := server.New(server.Deps{
		Auth:       authn,
		Gateway:    gw,
		Routes:     routes,
		Keys:       keys,
		Quota:      limiter,
		Streams:    streams,
		Breakers:   breakers,
		Upstream:   llm,
		Store:      store,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Version:    cfg.Version,
		AdminToken: cfg.Admin.Token,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout.Std(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: it would sever long SSE responses. Streams are
		// bounded by the upstream response timeout instead.
	}

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	runner := worker.NewRunner(pipe, dnsRefresher{resolver})
	workerErr := make(chan error, 1)
	go func() { workerErr <- runner.Run(workerCtx) }()

	// HTTP server
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("cfx router ready", "addr", cfg.Server.Addr)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	// Shutdown: stop accepting, finish in-flight requests, then stop the
	// workers so the log pipeline drains entries those requests enqueued.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	stopWorkers()
	if err := <-workerErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("cfx router stopped")
	return nil
}

// dnsRefresher re-resolves cached upstream hostnames in the background so
// a LiteLLM failover behind a DNS name is picked up without a restart.
type dnsRefresher struct {
	resolver *dnscache.Resolver
}

func (d dnsRefresher) Name() string { return "dnscache" }

func (d dnsRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.resolver.Refresh(true)
		case <-ctx.Done():
			return nil
		}
	}
}
