package service

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"
)

const cleanupLockKey = "lock_threat_cleanup"

// SchedulerService runs the periodic expired-block sweep. A short Redis
// lock keeps multiple instances from sweeping at the same time; a
// missed run is harmless since the next tick covers it.
type SchedulerService struct {
	blocking *BlockingService
	locker   Locker
	interval time.Duration
	done     chan struct{}
}

func NewSchedulerService(blocking *BlockingService, locker Locker, interval time.Duration) *SchedulerService {
	return &SchedulerService{
		blocking: blocking,
		locker:   locker,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (s *SchedulerService) Start() {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunOnce(context.Background())
			case <-s.done:
				return
			}
		}
	}()
	zlog.Info().Dur("interval", s.interval).Msg("SchedulerService: started")
}

func (s *SchedulerService) Stop() {
	close(s.done)
}

// RunOnce performs one sweep, skipping it when another instance holds
// the lock.
func (s *SchedulerService) RunOnce(ctx context.Context) {
	acquired, err := s.locker.AcquireLock(ctx, cleanupLockKey, 10*time.Minute)
	if err != nil {
		zlog.Warn().Err(err).Msg("SchedulerService: failed to acquire cleanup lock")
		return
	}
	if !acquired {
		zlog.Debug().Msg("SchedulerService: cleanup lock held elsewhere, skipping")
		return
	}
	defer func() {
		if err := s.locker.ReleaseLock(ctx, cleanupLockKey); err != nil {
			zlog.Warn().Err(err).Msg("SchedulerService: failed to release cleanup lock")
		}
	}()

	if _, err := s.blocking.CleanupExpiredBlocks(ctx); err != nil {
		zlog.Error().Err(err).Msg("SchedulerService: expired block cleanup failed")
	}
}
