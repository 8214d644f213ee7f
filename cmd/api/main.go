package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callbot-platform/internal/audit"
	"callbot-platform/internal/auth"
	"callbot-platform/internal/bot"
	"callbot-platform/internal/calls"
	"callbot-platform/internal/callstate"
	"callbot-platform/internal/config"
	"callbot-platform/internal/engine"
	"callbot-platform/internal/graph"
	"callbot-platform/internal/history"
	"callbot-platform/internal/httpapi"
	"callbot-platform/internal/observability"
	"callbot-platform/internal/router"
	"callbot-platform/pkg/logger"
	"callbot-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	if cfg.App.LogLevel != "" {
		log = logger.NewWithWriter(os.Stdout, cfg.App.Env, cfg.App.LogLevel)
	}
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	var webhookManager *auth.Manager
	if cfg.Webhook.JWTSecret != "" {
		webhookManager, err = auth.NewWebhookManager(cfg.Webhook)
		if err != nil {
			log.Error("webhook auth init failed", "err", err)
			os.Exit(1)
		}
	} else {
		log.Warn("webhook token verification disabled", "env", cfg.App.Env)
	}

	var db *sql.DB
	if cfg.UsesPostgres() {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	state, hist, err := openStores(rootCtx, cfg, db, rdb)
	if err != nil {
		log.Error("store init failed", "err", err)
		os.Exit(1)
	}

	tracer, shutdownTracing, err := observability.NewTracer(rootCtx, observability.TraceConfig{
		ServiceName:  "callbot-platform",
		Environment:  cfg.App.Env,
		Endpoint:     cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Insecure:     cfg.Tracing.Insecure,
	})
	if err != nil {
		log.Warn("tracing export disabled", "err", err)
	}

	metrics := observability.NewMetrics()
	// Every engine over these stores must take this one gate.
	gate := selectGate(cfg, rdb, log)
	eng := engine.New(state, hist,
		engine.WithGate(gate),
		engine.WithLogger(log),
		engine.WithMetrics(metrics),
		engine.WithTracer(tracer),
	)

	graphClient := graph.New(rootCtx, graph.Config{
		BaseURL:      cfg.Graph.BaseURL,
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		TokenURL:     cfg.Graph.TokenURL,
	})

	botRouter := router.New(log)
	callBot := bot.New(bot.Config{
		TypeName:    cfg.Bot.Name,
		CallbackURL: cfg.Bot.CallbackURL,
		TenantID:    cfg.Graph.TenantID,
		Playlist:    playlist(cfg.Bot),
		HangUpTone:  calls.Tone(cfg.Bot.HangUpTone),
	}, graphClient, eng, botRouter, bot.Hooks{}, log)

	h := httpapi.Handlers{
		Routers:  router.Set{botRouter},
		Fallback: callBot,
		Bots:     map[string]*bot.Bot{callBot.TypeName(): callBot},
		State:    state,
		History:  hist,
		Audit:    audit.NewService(auditRepo(db)),
		Checks:   readinessChecks(db, rdb),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	var webhookMW gin.HandlerFunc
	if webhookManager != nil {
		webhookMW = auth.RequireWebhookToken(webhookManager)
	}
	registerRoutes(r, h, webhookMW, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env,
			"bot", callBot.TypeName(), "gate", cfg.Engine.Gate,
			"state_backend", cfg.Storage.StateBackend, "history_backend", cfg.Storage.HistoryBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown failed", "err", err)
	}
}

func openStores(ctx context.Context, cfg config.Config, db *sql.DB, rdb *redis.Client) (callstate.Store, history.Store, error) {
	var state callstate.Store
	switch cfg.Storage.StateBackend {
	case config.BackendPostgres:
		state = callstate.NewPostgresStore(db)
	case config.BackendRedis:
		state = callstate.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
	case config.BackendMemory:
		state = callstate.NewMemoryStore()
	default:
		return nil, nil, fmt.Errorf("unsupported state backend %q", cfg.Storage.StateBackend)
	}

	var hist history.Store
	switch cfg.Storage.HistoryBackend {
	case config.BackendPostgres:
		hist = history.NewPostgresStore(db)
	case config.BackendS3:
		s3Store, err := history.OpenS3Store(ctx, history.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			Prefix:       cfg.S3.Prefix,
			UsePathStyle: cfg.S3.Endpoint != "",
		})
		if err != nil {
			return nil, nil, err
		}
		hist = s3Store
	case config.BackendMemory:
		hist = history.NewMemoryStore()
	default:
		return nil, nil, fmt.Errorf("unsupported history backend %q", cfg.Storage.HistoryBackend)
	}
	return state, hist, nil
}

func auditRepo(db *sql.DB) audit.Repository {
	if db != nil {
		return audit.NewPostgresRepo(db)
	}
	return audit.NewBoundedMemoryRepo(10000)
}

func readinessChecks(db *sql.DB, rdb *redis.Client) map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if db != nil {
		checks["postgres"] = func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db, 2*time.Second)
		}
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	return checks
}

func selectGate(cfg config.Config, rdb *redis.Client, log *slog.Logger) engine.Gate {
	switch cfg.Engine.Gate {
	case config.GateGlobal:
		return engine.NewGlobalGate()
	case config.GateRedis:
		return &engine.RedisGate{
			Lease:           utils.RedisLease{Client: rdb, TTL: cfg.Engine.GateTTL},
			Prefix:          "callbot:gate:",
			RefreshInterval: cfg.Engine.GateTTL / 3,
			Log:             log,
		}
	default:
		return engine.NewKeyedGate()
	}
}

func playlist(cfg config.BotConfig) map[string]calls.MediaPrompt {
	if cfg.WelcomePromptURI == "" {
		return nil
	}
	return map[string]calls.MediaPrompt{
		bot.WelcomePrompt: {Name: bot.WelcomePrompt, URI: cfg.WelcomePromptURI},
	}
}
