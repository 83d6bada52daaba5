package service

import (
	"context"
	"time"

	"threatguard/internal/models"
)

// Store interfaces consumed by the services. *repository.PostgresRepository
// and *repository.RedisRepository satisfy them; tests substitute in-memory
// fakes.

type ThreatRuleStore interface {
	GetThreatRules(ctx context.Context) ([]models.ThreatRule, error)
	GetEnabledRulesByType(ctx context.Context, ruleType string) ([]models.ThreatRule, error)
	SaveThreatRule(ctx context.Context, rule *models.ThreatRule) error
}

type ThreatEventStore interface {
	InsertThreatEvent(ctx context.Context, ev *models.ThreatEvent) error
	GetThreatEvent(ctx context.Context, id string) (*models.ThreatEvent, error)
	UpdateThreatEventResolution(ctx context.Context, ev *models.ThreatEvent) error
	CountEventsOfTypeSince(ctx context.Context, sourceIP, eventType string, since time.Time) (int64, error)
	ListThreatEvents(ctx context.Context, eventType, severity string, limit, offset int) ([]models.ThreatEvent, int64, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountEventsSince(ctx context.Context, since time.Time) (int64, error)
	CountByEventTypeSince(ctx context.Context, since time.Time) (map[string]int64, error)
	CountBySeveritySince(ctx context.Context, since time.Time) (map[string]int64, error)
	CountUnresolvedEvents(ctx context.Context) (int64, error)
}

type BlockStore interface {
	InsertBlockedIP(ctx context.Context, b *models.BlockedIP) error
	GetBlockedIPByID(ctx context.Context, id string) (*models.BlockedIP, error)
	GetBlockedIPByAddress(ctx context.Context, ip string) (*models.BlockedIP, error)
	DeleteBlockedIP(ctx context.Context, id string) (bool, error)
	HasActiveExactBlock(ctx context.Context, ip string, now time.Time) (bool, error)
	GetCIDRBlocks(ctx context.Context) ([]models.BlockedIP, error)
	ListBlockedIPs(ctx context.Context, limit, offset int) ([]models.BlockedIP, int64, error)
	FindNonPermanentExpired(ctx context.Context, before time.Time) ([]models.BlockedIP, error)
	DeleteNonPermanentExpired(ctx context.Context, before time.Time) (int64, error)
	CountBlockedIPs(ctx context.Context) (int64, error)
}

type GeoRuleStore interface {
	InsertGeoBlockRule(ctx context.Context, rule *models.GeoBlockRule) error
	GetGeoBlockRules(ctx context.Context) ([]models.GeoBlockRule, error)
	GetActiveGeoBlockRules(ctx context.Context) ([]models.GeoBlockRule, error)
	GetGeoBlockRuleByID(ctx context.Context, id string) (*models.GeoBlockRule, error)
	HasEnabledGeoBlockRule(ctx context.Context, countryCode string) (bool, error)
	DeleteGeoBlockRule(ctx context.Context, id string) (bool, error)
	UpdateGeoBlockRuleEnabled(ctx context.Context, id string, enabled bool) error
	CountActiveGeoBlockRules(ctx context.Context) (int64, error)
}

// VerdictCache holds positive blocked-IP verdicts. A miss means "ask the
// store", never "not blocked".
type VerdictCache interface {
	GetBlockVerdict(ctx context.Context, ip string) (bool, error)
	SetBlockVerdict(ctx context.Context, ip string, ttl time.Duration) error
	DeleteBlockVerdict(ctx context.Context, ip string) error
}

type Locker interface {
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// ThreatFeed fans recorded events out to subscribers (websocket hub,
// stream forwarder). Publishing is best effort.
type ThreatFeed interface {
	PublishThreatEvent(ctx context.Context, payload []byte) error
}
