package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"threatguard/internal/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	blockedVerdictPrefix = "security:blocked_ip:"
	// ThreatEventChannel carries JSON-encoded threat events for the live
	// admin feed.
	ThreatEventChannel = "security:threat_events"
)

// RedisRepository is the distributed verdict cache plus the leader lock
// and pub/sub plumbing. It is a performance accelerator only; the
// Postgres store stays authoritative.
type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(host string, port int, password string, db int) *RedisRepository {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})
	return &RedisRepository{client: rdb}
}

func (r *RedisRepository) GetClient() *redis.Client { return r.client }

func (r *RedisRepository) trackDuration(op string, start time.Time) {
	metrics.MetricRedisDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// GetBlockVerdict returns true when a positive blocked verdict is cached
// for ip. A cache miss is (false, nil).
func (r *RedisRepository) GetBlockVerdict(ctx context.Context, ip string) (bool, error) {
	defer r.trackDuration("GetBlockVerdict", time.Now())
	_, err := r.client.Get(ctx, blockedVerdictPrefix+ip).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisRepository) SetBlockVerdict(ctx context.Context, ip string, ttl time.Duration) error {
	defer r.trackDuration("SetBlockVerdict", time.Now())
	return r.client.Set(ctx, blockedVerdictPrefix+ip, "1", ttl).Err()
}

func (r *RedisRepository) DeleteBlockVerdict(ctx context.Context, ip string) error {
	defer r.trackDuration("DeleteBlockVerdict", time.Now())
	return r.client.Del(ctx, blockedVerdictPrefix+ip).Err()
}

func (r *RedisRepository) AcquireLock(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, "lock", expiration).Result()
}

func (r *RedisRepository) ReleaseLock(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisRepository) PublishThreatEvent(ctx context.Context, payload []byte) error {
	defer r.trackDuration("PublishThreatEvent", time.Now())
	return r.client.Publish(ctx, ThreatEventChannel, payload).Err()
}

func (r *RedisRepository) SubscribeThreatEvents(ctx context.Context) *redis.PubSub {
	return r.client.Subscribe(ctx, ThreatEventChannel)
}

// ThreatEventMessages subscribes and exposes the feed as a byte
// channel. The channel closes when the subscription ends.
func (r *RedisRepository) ThreatEventMessages(ctx context.Context) (<-chan []byte, error) {
	sub := r.SubscribeThreatEvents(ctx)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				out <- []byte(msg.Payload)
			}
		}
	}()
	return out, nil
}
