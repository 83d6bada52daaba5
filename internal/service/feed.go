package service

import (
	"context"

	"threatguard/internal/tasks"

	"github.com/hibiken/asynq"
	zlog "github.com/rs/zerolog/log"
)

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// FanoutFeed publishes threat events to the Redis channel for live
// subscribers and, when a stream URL is configured, queues delivery to
// the downstream consumer.
type FanoutFeed struct {
	pubsub    ThreatFeed
	enqueuer  TaskEnqueuer
	streamURL string
}

func NewFanoutFeed(pubsub ThreatFeed, enqueuer TaskEnqueuer, streamURL string) *FanoutFeed {
	return &FanoutFeed{pubsub: pubsub, enqueuer: enqueuer, streamURL: streamURL}
}

func (f *FanoutFeed) PublishThreatEvent(ctx context.Context, payload []byte) error {
	if err := f.pubsub.PublishThreatEvent(ctx, payload); err != nil {
		return err
	}
	if f.streamURL == "" || f.enqueuer == nil {
		return nil
	}
	task, err := tasks.NewThreatStreamTask(payload)
	if err != nil {
		return err
	}
	if _, err := f.enqueuer.Enqueue(task); err != nil {
		// The live channel already carried the event; queue failures
		// only affect the downstream copy.
		zlog.Warn().Err(err).Msg("FanoutFeed: failed to enqueue stream delivery")
	}
	return nil
}
