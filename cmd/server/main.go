package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/bitmage-backend/internal/api"
	"github.com/kjannette/bitmage-backend/internal/config"
	"github.com/kjannette/bitmage-backend/internal/db"
	"github.com/kjannette/bitmage-backend/internal/game"
	"github.com/kjannette/bitmage-backend/internal/kv"
	"github.com/kjannette/bitmage-backend/internal/ledger"
	"github.com/kjannette/bitmage-backend/internal/logging"
	"github.com/kjannette/bitmage-backend/internal/market"
	"github.com/kjannette/bitmage-backend/internal/notify"
	"github.com/kjannette/bitmage-backend/internal/repository"
	"github.com/kjannette/bitmage-backend/internal/risk"
	"github.com/kjannette/bitmage-backend/internal/scheduler"
)

const banner = `
╔══════════════════════════════════════╗
║   BitMAGE BTC Prediction Server      ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg.Print()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log := logging.For("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database (optional)
	var pool *pgxpool.Pool
	var users *repository.UserRepo
	if cfg.DBEnabled() {
		log.Info().Str("host", cfg.DBHost).Int("port", cfg.DBPort).Str("db", cfg.DBName).Msg("connecting to Postgres")
		pool, err = db.Connect(ctx, cfg.DSN(), db.PoolOptions{})
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer func() {
			pool.Close()
			log.Info().Msg("connection pool closed")
		}()
		now, err := db.ServerTime(ctx, pool)
		if err != nil {
			log.Fatal().Err(err).Msg("database test query failed")
		}
		log.Info().Time("server_time", now).Msg("database connection successful")
		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
		users = repository.NewUserRepo(pool)
	}

	// KV cache
	var store kv.Store
	if cfg.RedisURL != "" {
		rs, err := kv.NewRedisStore(cfg.RedisURL, "bitmage:")
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, falling back to in-process cache")
			store = kv.NewMemoryStore(0)
		} else {
			defer rs.Close()
			store = rs
		}
	} else {
		store = kv.NewMemoryStore(0)
	}

	// Settlement ledger
	var rec ledger.Recorder = ledger.NoopRecorder{}
	if cfg.LedgerPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o755); err != nil {
			log.Warn().Err(err).Msg("cannot create ledger directory")
		} else if sr, err := ledger.NewSQLiteRecorder(cfg.LedgerPath); err != nil {
			log.Warn().Err(err).Str("path", cfg.LedgerPath).Msg("ledger unavailable, settlements will not be recorded")
		} else {
			rec = sr
		}
	}
	defer rec.Close()

	// Notification sinks
	var sinks []notify.Sink
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL, cfg.BotName))
	}
	var devices notify.DeviceLookup
	if users != nil {
		devices = users
	}
	push, err := notify.NewPushSink(ctx, cfg.FCMCredentialsFile, devices)
	if err != nil {
		log.Warn().Err(err).Msg("push notifications disabled")
	} else if push.Enabled() {
		sinks = append(sinks, push)
	}

	// Points backend
	var backends game.BackendFactory
	switch cfg.BackendMode() {
	case "postgres":
		backends = game.Local(users)
	case "remote":
		backends = game.Remote(cfg.PointsAPIURL, cfg.BackendTimeout)
	default:
		backends = game.Offline()
	}

	// Game service
	engine := market.NewEngine(store, market.Options{Location: cfg.Location()})
	svc := game.NewService(engine, store, game.Options{
		Backends:        backends,
		Ledger:          rec,
		Sinks:           sinks,
		Timeout:         cfg.BackendTimeout,
		StartingBalance: cfg.StartingBalance,
		Limits:          risk.Limits{MaxWager: cfg.MaxWager},
	})
	defer svc.Close()

	// 1. Scheduler
	sched, err := scheduler.New(svc, scheduler.Config{
		CountdownInterval: cfg.CountdownInterval,
		TickInterval:      cfg.TickInterval,
		ChartInterval:     cfg.ChartInterval,
		SyncInterval:      cfg.SyncInterval,
		Location:          cfg.Location(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler setup failed")
	}
	sched.Start()

	// 2. API server
	srv := api.NewServer(svc, api.Options{
		Port:         cfg.Port,
		CORSOrigin:   cfg.CORSAllowOrigin,
		Pool:         pool,
		StaticTokens: cfg.StaticTokens,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("API server error")
			stop()
		}
	}()

	log.Info().Str("backend", cfg.BackendMode()).Msg("all services started")

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("shutting down gracefully")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API shutdown error")
	}
	log.Info().Msg("shutdown complete")
}
