package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	zlog "github.com/rs/zerolog/log"
)

const (
	TypeEventRetention = "events:retention"
)

type RetentionPayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewEventRetentionTask builds the daily task that drops threat events
// older than the retention period.
func NewEventRetentionTask(retentionDays int) (*asynq.Task, error) {
	payload, err := json.Marshal(RetentionPayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEventRetention, payload, asynq.MaxRetry(3), asynq.Queue("low")), nil
}

// EventCleaner is the slice of the threat service retention needs.
type EventCleaner interface {
	CleanupOldEvents(ctx context.Context, retention time.Duration) (int64, error)
}

type RetentionTaskHandler struct {
	threats EventCleaner
}

func NewRetentionTaskHandler(threats EventCleaner) *RetentionTaskHandler {
	return &RetentionTaskHandler{threats: threats}
}

func (h *RetentionTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p RetentionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if p.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be positive, got %d: %w", p.RetentionDays, asynq.SkipRetry)
	}

	removed, err := h.threats.CleanupOldEvents(ctx, time.Duration(p.RetentionDays)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("event retention sweep failed: %w", err)
	}
	zlog.Info().Int64("removed", removed).Int("retention_days", p.RetentionDays).
		Msg("RetentionTask: sweep finished")
	return nil
}
