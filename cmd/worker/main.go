package main

import (
	"os"
	"os/signal"
	"syscall"

	"threatguard/internal/app"
	"threatguard/internal/config"
	"threatguard/internal/tasks"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	// Setup Logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zlog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg := config.Load()
	if cfg.LogDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	zlog.Info().Msg("Starting Threatguard Standalone Worker")

	// Bootstrap shared dependencies
	a, err := app.Bootstrap(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to bootstrap app")
	}
	defer a.Close()

	// The worker owns the periodic cleanup when it runs standalone.
	a.Scheduler.Start()

	asynqServer := asynq.NewServer(
		a.RedisOpts,
		asynq.Config{
			Concurrency: 20, // Dedicated worker can have higher concurrency
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

	asynqScheduler := asynq.NewScheduler(a.RedisOpts, &asynq.SchedulerOpts{})
	retentionTask, _ := tasks.NewEventRetentionTask(cfg.EventRetentionDays)
	if _, err := asynqScheduler.Register("@daily", retentionTask); err != nil {
		zlog.Error().Err(err).Msg("Failed to schedule event retention")
	}
	go func() {
		if err := asynqScheduler.Run(); err != nil {
			zlog.Fatal().Err(err).Msg("Failed to run asynq scheduler")
		}
	}()

	// Wait for interrupt
	zlog.Info().Msg("Worker running. Press Ctrl+C to exit.")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info().Msg("Shutting down worker...")
	asynqScheduler.Shutdown()
	asynqServer.Shutdown()
	a.Scheduler.Stop()
	zlog.Info().Msg("Worker exited")
}
