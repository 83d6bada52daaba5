package app

import (
	"context"
	"fmt"
	"time"

	"threatguard/internal/config"
	"threatguard/internal/repository"
	"threatguard/internal/service"

	"github.com/hibiken/asynq"
)

type App struct {
	Config          *config.Config
	RedisRepo       *repository.RedisRepository
	PgRepo          *repository.PostgresRepository
	AsynqClient     *asynq.Client
	BlockingService *service.BlockingService
	ThreatService   *service.ThreatService
	GeoService      *service.GeoService
	GeoIP           *service.GeoIPService
	Scheduler       *service.SchedulerService
	RedisOpts       asynq.RedisClientOpt
}

func Bootstrap(cfg *config.Config) (*App, error) {
	// Initialize Repositories
	redisRepo := repository.NewRedisRepository(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword, cfg.RedisDB)
	if err := redisRepo.GetClient().Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	pgRepo, err := repository.NewPostgresRepository(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}

	redisOpts := asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisOpts)

	// Initialize Services
	blockingService := service.NewBlockingService(cfg, pgRepo, redisRepo)
	feed := service.NewFanoutFeed(redisRepo, asynqClient, cfg.ThreatStreamURL)
	threatService := service.NewThreatService(pgRepo, pgRepo, blockingService, pgRepo, feed)
	geoIP := service.NewGeoIPService(cfg.GeoIPDBPath)
	geoService := service.NewGeoService(pgRepo, geoIP)

	interval := time.Duration(cfg.CleanupIntervalMin) * time.Minute
	scheduler := service.NewSchedulerService(blockingService, redisRepo, interval)

	return &App{
		Config:          cfg,
		RedisRepo:       redisRepo,
		PgRepo:          pgRepo,
		AsynqClient:     asynqClient,
		BlockingService: blockingService,
		ThreatService:   threatService,
		GeoService:      geoService,
		GeoIP:           geoIP,
		Scheduler:       scheduler,
		RedisOpts:       redisOpts,
	}, nil
}

func (a *App) Close() {
	if a.AsynqClient != nil {
		_ = a.AsynqClient.Close()
	}
	if a.GeoIP != nil {
		a.GeoIP.Close()
	}
}
