package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	cfhttp "github.com/MFaiqKhan/sweepjudge/internal/adapter/http"
	"github.com/MFaiqKhan/sweepjudge/internal/adapter/litellm"
	"github.com/MFaiqKhan/sweepjudge/internal/adapter/mcp"
	cfnats "github.com/MFaiqKhan/sweepjudge/internal/adapter/nats"
	"github.com/MFaiqKhan/sweepjudge/internal/adapter/natskv"
	cfotel "github.com/MFaiqKhan/sweepjudge/internal/adapter/otel"
	"github.com/MFaiqKhan/sweepjudge/internal/adapter/postgres"
	"github.com/MFaiqKhan/sweepjudge/internal/adapter/ristretto"
	"github.com/MFaiqKhan/sweepjudge/internal/adapter/tiered"
	"github.com/MFaiqKhan/sweepjudge/internal/adapter/ws"
	"github.com/MFaiqKhan/sweepjudge/internal/config"
	"github.com/MFaiqKhan/sweepjudge/internal/logger"
	"github.com/MFaiqKhan/sweepjudge/internal/middleware"
	"github.com/MFaiqKhan/sweepjudge/internal/pipeline"
	"github.com/MFaiqKhan/sweepjudge/internal/port/a2a"
	"github.com/MFaiqKhan/sweepjudge/internal/port/cache"
	"github.com/MFaiqKhan/sweepjudge/internal/port/messagequeue"
	"github.com/MFaiqKhan/sweepjudge/internal/port/worker"
	"github.com/MFaiqKhan/sweepjudge/internal/resilience"
	"github.com/MFaiqKhan/sweepjudge/internal/service"
)

const version = "1.0.0"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	args := os.Args[1:]
	var err error
	switch {
	case len(args) > 0 && args[0] == "admin":
		err = runAdmin(args[1:])
	case len(args) > 0 && args[0] == "serve":
		err = run(args[1:])
	default:
		err = run(args)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"wake_mode", cfg.Queue.WakeMode,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"workers", len(cfg.Swarm.Workers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	otelShutdown, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	store := postgres.NewStore(pool)
	waker, err := postgres.NewWaker(cfg.Queue.WakeMode, pool, store.Tasks, cfg.Queue.PollInterval)
	if err != nil {
		return fmt.Errorf("waker: %w", err)
	}

	l1, err := ristretto.NewMB(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()

	// NATS is optional: without it events stay on the websocket hub and
	// caches stay in process.
	var (
		events    messagequeue.Queue
		nq        *cfnats.Queue
		scoreL2   cache.Cache
		scoreKV   *natskv.Cache
		idemStore cache.Cache = l1
	)
	if cfg.NATS.URL != "" {
		nq, err = cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = nq.Close() }()
		events = nq

		kv, err := nq.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.ScoreTTL)
		if err != nil {
			return fmt.Errorf("nats kv %s: %w", cfg.Cache.L2Bucket, err)
		}
		scoreKV = natskv.New(kv)
		scoreL2 = scoreKV

		idemKV, err := nq.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
		if err != nil {
			return fmt.Errorf("nats kv %s: %w", cfg.Idempotency.Bucket, err)
		}
		idemStore = natskv.New(idemKV)
	}
	scoreCache := tiered.New(l1, scoreL2, cfg.Cache.ScoreTTL)

	var llmClient *litellm.Client
	var llmBreaker *resilience.Breaker
	if cfg.LiteLLM.URL != "" {
		llmClient = litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.Model, cfg.LiteLLM.Timeout)
		llmBreaker = resilience.NewNamedBreaker("litellm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		llmClient.SetBreaker(llmBreaker)
	}

	// --- Services ---

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	defer hub.Close()

	bus := service.NewEvents(events, hub)
	queue := service.NewTaskQueue(store.Tasks, waker, bus, cfg.Queue)
	queue.SetMetrics(metrics)
	if err := metrics.ObserveQueueDepth(queue.Size); err != nil {
		return fmt.Errorf("otel queue gauge: %w", err)
	}
	dir := service.NewDirectory(store.Agents, cfg.Directory)
	defer dir.Close()
	karmaSvc := service.NewKarmaService(store.Karma, scoreCache, cfg.Cache.ScoreTTL, bus)
	karmaSvc.SetMetrics(metrics)

	registry := worker.NewRegistry()
	pipeline.RegisterDefaults(registry, pipeline.Deps{
		Worker:   cfg.Worker,
		Reviewer: cfg.Reviewer,
		LLM:      llmClient,
		Queue:    queue,
	})

	swarm := service.NewSwarm(registry, service.HarnessDeps{
		Queue:          queue,
		Directory:      dir,
		Karma:          karmaSvc,
		FailurePenalty: cfg.Harness.FailurePenalty,
		Metrics:        metrics,
	}, bus)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		swarm.StopAll(stopCtx)
	}()

	scheduler := service.NewScheduler(queue, dir, karmaSvc, swarm, cfg.Scheduler)
	scheduler.SetMetrics(metrics)

	if err := startWorkers(ctx, cfg.Swarm, swarm); err != nil {
		return err
	}

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Tasks:     queue,
		Swarm:     swarm,
		Directory: dir,
		Karma:     karmaSvc,
	}

	checks := cfhttp.HealthChecks{Postgres: store, Cache: l1, ScoreL2: scoreCache}
	if nq != nil {
		checks.NATS = nq
	}
	if llmBreaker != nil {
		checks.Breaker = llmBreaker
	}

	auth := middleware.APIKey(cfg.Server.APIKey)
	opts := cfhttp.RouteOptions{
		Auth:   auth,
		Mutate: middleware.Idempotency(idemStore, cfg.Idempotency.TTL),
	}
	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		opts.Submit = limiter.Handler
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	r.Get("/health", cfhttp.Health(checks))

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Get("/ws", hub.HandleWS)
		a2aHandler := a2a.NewHandler(cfg.Server.BaseURL, version, queue, dir)
		if limiter != nil {
			a2aHandler.GuardSubmit(limiter.Handler)
		}
		a2aHandler.MountRoutes(r)
	})

	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(
			mcp.ServerConfig{Name: "sweepjudge", Version: version, APIKey: cfg.MCP.APIKey},
			mcp.ServerDeps{Tasks: queue, Workers: swarm, Karma: karmaSvc},
		)
		r.Handle("/mcp", mcpSrv.Handler())
		slog.Info("mcp server enabled", "path", "/mcp")
	}

	r.Group(func(r chi.Router) {
		r.Use(cfhttp.SecurityHeaders)
		r.Use(chimw.Timeout(30 * time.Second))
		cfhttp.MountRoutes(r, handlers, opts)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return waker.Run(gctx) })
	g.Go(func() error { return queue.RunReclaimer(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	if scoreKV != nil {
		// Another process's ledger write makes our L1 score stale.
		g.Go(func() error {
			return scoreKV.Watch(gctx, func(key string) { _ = l1.Delete(gctx, key) })
		})
	}
	if limiter != nil {
		g.Go(func() error { return limiter.Run(gctx, time.Minute, 10*time.Minute) })
	}
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if nq != nil {
		if derr := nq.Drain(); derr != nil {
			slog.Warn("nats drain", "error", derr)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startWorkers restores persisted agents when respawn is on, then spawns
// the configured workers that are not already running.
func startWorkers(ctx context.Context, cfg config.Swarm, swarm *service.Swarm) error {
	if cfg.Respawn {
		n, err := swarm.Respawn(ctx)
		if err != nil {
			return fmt.Errorf("respawn: %w", err)
		}
		slog.Info("workers respawned", "count", n)
	}
	for _, w := range cfg.Workers {
		if _, err := swarm.Spawn(ctx, w.ClassTag, w.ID, w.Config); err != nil {
			if errors.Is(err, service.ErrWorkerExists) {
				continue
			}
			return fmt.Errorf("spawn %s/%s: %w", w.ClassTag, w.ID, err)
		}
	}
	return nil
}
