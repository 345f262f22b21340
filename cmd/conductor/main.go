package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/Conductor/internal/adapter/claude"
	"github.com/Strob0t/Conductor/internal/adapter/codex"
	"github.com/Strob0t/Conductor/internal/adapter/discord"
	"github.com/Strob0t/Conductor/internal/adapter/gitea"
	conhttp "github.com/Strob0t/Conductor/internal/adapter/http"
	connats "github.com/Strob0t/Conductor/internal/adapter/nats"
	"github.com/Strob0t/Conductor/internal/adapter/natskv"
	"github.com/Strob0t/Conductor/internal/adapter/opencode"
	conotel "github.com/Strob0t/Conductor/internal/adapter/otel"
	"github.com/Strob0t/Conductor/internal/adapter/postgres"
	"github.com/Strob0t/Conductor/internal/adapter/ristretto"
	"github.com/Strob0t/Conductor/internal/adapter/slack"
	"github.com/Strob0t/Conductor/internal/adapter/templates"
	"github.com/Strob0t/Conductor/internal/adapter/ws"
	"github.com/Strob0t/Conductor/internal/bridge"
	"github.com/Strob0t/Conductor/internal/config"
	"github.com/Strob0t/Conductor/internal/domain/pipeline"
	"github.com/Strob0t/Conductor/internal/logger"
	"github.com/Strob0t/Conductor/internal/port/notifier"
	"github.com/Strob0t/Conductor/internal/port/progress"
	"github.com/Strob0t/Conductor/internal/registry"
	"github.com/Strob0t/Conductor/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"progress_backend", cfg.Progress.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	otelShutdown, err := conotel.Setup(ctx, cfg.Telemetry, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	// --- Infrastructure ---

	// NATS
	queue, err := connats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// Progress store
	var store progress.Store
	switch cfg.Progress.Backend {
	case "natskv":
		store, err = natskv.NewBucket(ctx, queue.JetStream())
		if err != nil {
			return fmt.Errorf("natskv: %w", err)
		}
		slog.Info("progress store ready", "backend", "natskv")
	default:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store = postgres.NewStore(pool)
		slog.Info("progress store ready", "backend", "postgres")
	}

	// --- Template rendering ---
	tmplCache, err := ristretto.New(cfg.Templates.CacheSizeMB << 20)
	if err != nil {
		return fmt.Errorf("template cache: %w", err)
	}
	defer tmplCache.Close()
	renderer := templates.New(cfg.Templates.RootDir, tmplCache, cfg.Templates.CacheTTL)

	// --- Adapter registry ---
	reg := registry.New(registry.Config{
		Interval:           cfg.Health.Interval,
		Timeout:            cfg.Health.Timeout,
		HistoryLimit:       cfg.Health.HistoryLimit,
		UnhealthyThreshold: cfg.Health.UnhealthyThreshold,
	})
	if err := reg.Register(claude.New(renderer, cfg.Health.Timeout)); err != nil {
		return fmt.Errorf("register claude: %w", err)
	}
	if err := reg.Register(codex.New(renderer, cfg.Health.Timeout)); err != nil {
		return fmt.Errorf("register codex: %w", err)
	}
	if err := reg.Register(opencode.New(renderer, cfg.Health.Timeout)); err != nil {
		return fmt.Errorf("register opencode: %w", err)
	}
	reg.Start(ctx)

	// --- Pipeline ---
	var companion *bridge.CompanionClient
	if cfg.Bridge.CompanionURL != "" {
		companion = bridge.NewCompanionClient(cfg.Bridge.CompanionURL, cfg.Bridge.ProbeLimit, cfg.Bridge.ProbeBackoff)
	}
	proc := bridge.New(companion, cfg.Bridge.Grace)

	host := gitea.NewProvider(cfg.CodeHost.BaseURL, cfg.CodeHost.Token)

	var notify notifier.Notifier = slack.NewNotifier(cfg.Notify.SlackWebhookURL)
	if cfg.Notify.DiscordWebhookURL != "" {
		notify = discord.NewNotifier(cfg.Notify.DiscordWebhookURL)
	}

	hub := ws.NewHub()
	metrics, err := conotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	caster := newInstrumentedCaster(hub, metrics)

	runner := service.NewRunner(reg, store, proc, host, notify, caster, service.RunnerConfig{
		WorkingDir: cfg.Pipeline.WorkingDir,
		FIFOName:   cfg.Bridge.FIFOName,
		MaxAttempts: map[pipeline.Stage]int{
			pipeline.StageImplementation: cfg.Pipeline.ImplementationMax,
			pipeline.StageQuality:        cfg.Pipeline.QualityMax,
			pipeline.StageTesting:        cfg.Pipeline.TestingMax,
		},
		MaxTokens:        cfg.Pipeline.MaxTokens,
		Temperature:      cfg.Pipeline.Temperature,
		RemoteTools:      cfg.Pipeline.RemoteTools,
		WaitPollInterval: cfg.Pipeline.WaitPollInterval,
	})

	trigger := service.NewTrigger(queue, runner)
	if err := trigger.Start(ctx); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}

	// --- HTTP ---
	handlers := conhttp.NewHandlers(reg, store, queue, caster)

	r := chi.NewRouter()
	r.Use(conhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(conhttp.Logger)
	r.Use(conhttp.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Telemetry.Enabled {
		r.Use(conotel.HTTPMiddleware(cfg.Logging.Service))
	}

	conhttp.MountRoutes(r, handlers, hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
