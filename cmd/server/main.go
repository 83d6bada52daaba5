package main

import (
	"context"
	"embed"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"threatguard/internal/api"
	"threatguard/internal/app"
	"threatguard/internal/config"
	"threatguard/internal/tasks"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	rdb "github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

//go:embed migrations/*
var migrationsFS embed.FS

func main() {
	// 0. Setup Structured Logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zlog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg := config.Load()

	if cfg.LogDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	zlog.Info().Msg("Starting Threatguard Server")

	// Run Migrations
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create iofs source")
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, cfg.PostgresURL)
	if err == nil {
		version, dirty, err := m.Version()
		if err != nil && err != migrate.ErrNilVersion {
			zlog.Error().Err(err).Msg("Failed to get migration version")
		} else {
			zlog.Info().Uint("version", version).Bool("dirty", dirty).Msg("Current database version")
		}

		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			zlog.Error().Err(err).Msg("Migration error")
		} else if err == migrate.ErrNoChange {
			zlog.Info().Msg("Database is up to date (no migrations needed)")
		} else {
			zlog.Info().Msg("Database migrations applied successfully")
		}
	} else {
		zlog.Error().Err(err).Msg("Failed to initialize migrations")
	}

	// 1. Bootstrap shared state
	a, err := app.Bootstrap(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to bootstrap app")
	}
	defer a.Close()

	// 2. Start the cleanup scheduler and task workers (optional)
	var asynqServer *asynq.Server
	var asynqScheduler *asynq.Scheduler

	if cfg.RunWorkerInProcess {
		zlog.Info().Msg("Starting background worker in-process")

		a.Scheduler.Start()

		asynqServer = asynq.NewServer(
			a.RedisOpts,
			asynq.Config{
				Concurrency: 10,
				Queues: map[string]int{
					"default": 5,
					"low":     2,
				},
			},
		)

		asynqMux := asynq.NewServeMux()
		asynqMux.Handle(tasks.TypeEventRetention, tasks.NewRetentionTaskHandler(a.ThreatService))
		asynqMux.Handle(tasks.TypeThreatStreamDelivery, tasks.NewStreamTaskHandler(cfg.ThreatStreamURL))

		go func() {
			if err := asynqServer.Run(asynqMux); err != nil {
				zlog.Fatal().Err(err).Msg("Failed to run asynq server")
			}
		}()

		asynqScheduler = asynq.NewScheduler(a.RedisOpts, &asynq.SchedulerOpts{})

		retentionTask, _ := tasks.NewEventRetentionTask(cfg.EventRetentionDays)
		if _, err := asynqScheduler.Register("@daily", retentionTask); err != nil {
			zlog.Error().Err(err).Msg("Failed to schedule event retention")
		}

		go func() {
			if err := asynqScheduler.Run(); err != nil {
				zlog.Fatal().Err(err).Msg("Failed to run asynq scheduler")
			}
		}()
	} else {
		zlog.Info().Msg("Background worker disabled (external worker expected)")
	}

	// 3. Initialize WebSocket Hub fed from Redis pub/sub
	hub := api.NewHub()
	go hub.Run()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	if err := hub.Consume(hubCtx, a.RedisRepo); err != nil {
		zlog.Error().Err(err).Msg("Failed to attach hub to threat event feed")
	}

	// 4. Setup Gin
	if !cfg.LogDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// Correct client IP detection behind reverse proxies.
	trustedProxies := []string{}
	for _, p := range strings.Split(cfg.TrustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			trustedProxies = append(trustedProxies, p)
		}
	}
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		zlog.Error().Err(err).Msg("Failed to set trusted proxies")
	}

	// Rate limiting backed by a dedicated Redis DB.
	rate := limiter.Rate{
		Period: time.Duration(cfg.RatePeriod) * time.Second,
		Limit:  int64(cfg.RateLimit),
	}
	limiterClient := rdb.NewClient(&rdb.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisLimDB,
	})
	limitStore, err := sredis.NewStoreWithOptions(limiterClient, limiter.StoreOptions{
		Prefix: "limiter_threats",
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to create limiter store")
	}

	// 5. Initialize API Handler
	handler := api.NewAPIHandler(a.BlockingService, a.ThreatService, a.GeoService, hub, cfg.MetricsAllowedIPs)

	r.Use(api.PrometheusMiddleware())
	r.Use(handler.BlockCheckMiddleware())
	r.Use(handler.GeoBlockMiddleware())
	r.Use(mgin.NewMiddleware(limiter.New(limitStore, rate)))
	handler.RegisterRoutes(r)

	// 6. Run Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		zlog.Info().Str("port", cfg.Port).Msg("Threatguard Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop background components first so no new work lands mid-shutdown.
	if asynqScheduler != nil {
		asynqScheduler.Shutdown()
	}
	if asynqServer != nil {
		asynqServer.Shutdown()
	}
	if cfg.RunWorkerInProcess {
		a.Scheduler.Stop()
	}
	hubCancel()
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	zlog.Info().Msg("Server exited")
}
