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
	"go.opentelemetry.io/otel/trace"

	"github.com/tbuijibing/KiroGate/internal/app"
	"github.com/tbuijibing/KiroGate/internal/auth"
	"github.com/tbuijibing/KiroGate/internal/circuitbreaker"
	"github.com/tbuijibing/KiroGate/internal/compressor"
	"github.com/tbuijibing/KiroGate/internal/config"
	"github.com/tbuijibing/KiroGate/internal/credpool"
	"github.com/tbuijibing/KiroGate/internal/ratelimit"
	"github.com/tbuijibing/KiroGate/internal/server"
	"github.com/tbuijibing/KiroGate/internal/storage/sqlite"
	"github.com/tbuijibing/KiroGate/internal/telemetry"
	"github.com/tbuijibing/KiroGate/internal/upstream"
	"github.com/tbuijibing/KiroGate/internal/worker"
)

func run(configPath string) error {
	// Load config.
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting kirogate", "version", version, "addr", cfg.Server.Addr)

	// Open database.
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	dsnLog := cfg.Database.DSN
	if i := strings.IndexByte(dsnLog, '?'); i >= 0 {
		dsnLog = dsnLog[:i]
	}
	slog.Info("database opened", "dsn", dsnLog)

	// Bootstrap seed credentials/keys from the config file on first run.
	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Credential pool, loaded from durable storage (spec §3 "loaded at
	// startup").
	pool := credpool.NewPool()
	creds, err := store.ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	for _, c := range creds {
		pool.Add(c)
	}
	slog.Info("credential pool loaded", "count", len(creds))

	// Upstream client: dual-endpoint failover, DNS caching, binary stream
	// decoding (spec §4.3).
	upstreamClient := upstream.New(cfg.Upstream.Region)
	dnsCtx, dnsCancel := context.WithCancel(context.Background())
	go upstreamClient.StartDNSRefresh(dnsCtx)

	// Circuit breaker, one per credential, created lazily (spec §4.7).
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())

	// Context compressor: recursive upstream summarization behind a
	// three-tier cache, the durable tier backed by the same store (spec
	// §4.6).
	var comp *compressor.Compressor
	if cfg.Compressor.Enabled {
		compCfg := compressor.DefaultConfig()
		summarizer := &compressor.UpstreamSummarizer{
			Pool:      pool,
			Client:    upstreamClient,
			Model:     compCfg.SummaryModel,
			MaxTokens: compCfg.SummaryMaxTokens,
		}
		comp = compressor.New(compCfg, summarizer, store)
		slog.Info("context compressor enabled",
			"max_messages", compCfg.MaxMessagesPerSession,
			"token_threshold", compCfg.TokenThreshold,
		)
	}

	// Request-orchestration core (spec §2).
	svc := app.NewService(pool, upstreamClient, comp, breakers)

	// Authenticators (spec §6 auth modes, admin bearer).
	apiKeyAuth, err := auth.New(cfg.Auth.ProxyAPIKey, store, pool)
	if err != nil {
		return err
	}
	adminAuth := auth.NewAdminAuthenticator(cfg.Auth.AdminPassword)

	// Rate limiter (spec §4.7, §6 RATE_LIMIT_PER_MINUTE).
	rateLimiter := ratelimit.NewLimiter(cfg.RateLimit.PerMinute, ratelimit.DefaultBurstMultiplier)
	slog.Info("rate limit configured", "per_minute", cfg.RateLimit.PerMinute)

	// Background workers: credential snapshot, pool self-heal + compressor
	// cache prune (spec §6 "a 60-second background task", §4.1, §4.6).
	workers := []worker.Worker{
		worker.NewSnapshotWorker(pool, store),
		worker.NewMaintenanceWorker(pool, store, compressor.DefaultConfig().CacheTTL),
	}
	runner := worker.NewRunner(workers...)

	// Prometheus metrics.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(promRegistry)
	metricsHandler := promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
	slog.Info("prometheus metrics enabled")

	// OpenTelemetry tracing.
	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.OTLPEndpoint != "" {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.OTLPEndpoint, 0.1)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("kirogate/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
		}
	}

	// Create HTTP server.
	handler := server.New(server.Deps{
		Auth:           apiKeyAuth,
		AdminAuth:      adminAuth,
		Service:        svc,
		Pool:           pool,
		Breakers:       breakers,
		Store:          store,
		RateLimiter:    rateLimiter,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		CORSOrigins:    cfg.CORS.AllowedOrigins,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Start background workers.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	// Periodic eviction of per-credential rate limiter buckets unused in
	// the last hour, on top of ratelimit.Limiter's own size-triggered
	// cleanup (spec §4.7).
	go func() {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-t.C:
				if n := rateLimiter.EvictStale(time.Now().Add(-1 * time.Hour)); n > 0 {
					slog.Info("rate limiter eviction", "evicted", n)
				}
			}
		}
	}()

	// Graceful shutdown.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("gateway surface enabled",
		"endpoints", []string{
			"POST /v1/chat/completions",
			"POST /v1/messages",
			"GET  /v1/models",
		},
	)
	slog.Info("kirogate ready", "addr", cfg.Server.Addr)

	// Wait for signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		dnsCancel()
		return err
	}

	// Shutdown HTTP first, then workers (so in-flight requests finish
	// logging before the snapshot worker takes its final pass).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		dnsCancel()
		return err
	}

	// Cancel workers and wait for drain; the snapshot worker's final tick
	// persists the pool's state (spec §6 "exit code 0 ... snapshot
	// persisted").
	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}
	dnsCancel()

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("kirogate stopped")
	return nil
}
