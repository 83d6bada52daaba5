package api

import (
	"context"

	"threatguard/internal/models"
	"threatguard/internal/service"
)

// BlockingProvider defines the interface for IP blocking operations
type BlockingProvider interface {
	BlockIP(ctx context.Context, req service.BlockRequest) (*models.BlockedIP, error)
	UnblockIP(ctx context.Context, id string) error
	IsIPBlocked(ctx context.Context, ip string) bool
	GetBlockedIP(ctx context.Context, id string) (*models.BlockedIP, error)
	GetBlockedIPs(ctx context.Context, page, size int) (*models.Page[models.BlockedIP], error)
}

// ThreatProvider defines the interface for detection and event operations
type ThreatProvider interface {
	AnalyzeLoginEvent(ctx context.Context, login service.LoginFailure) (*service.Analysis, error)
	LogThreatEvent(ctx context.Context, ev *models.ThreatEvent) error
	GetThreatEvent(ctx context.Context, id string) (*models.ThreatEvent, error)
	GetThreatEvents(ctx context.Context, eventType, severity string, page, size int) (*models.Page[models.ThreatEvent], error)
	ResolveThreatEvent(ctx context.Context, id, resolvedBy string) (*models.ThreatEvent, error)
	GetThreatRules(ctx context.Context) ([]models.ThreatRule, error)
	SaveThreatRule(ctx context.Context, rule *models.ThreatRule) error
	Dashboard(ctx context.Context) (*models.Dashboard, error)
}

// GeoProvider defines the interface for geo blocking operations
type GeoProvider interface {
	AddGeoBlockRule(ctx context.Context, countryCode, countryName, createdBy string) (*models.GeoBlockRule, error)
	GetGeoBlockRules(ctx context.Context) ([]models.GeoBlockRule, error)
	RemoveGeoBlockRule(ctx context.Context, id string) error
	SetGeoBlockRuleEnabled(ctx context.Context, id string, enabled bool) (*models.GeoBlockRule, error)
	IsIPGeoBlocked(ctx context.Context, ip string) (bool, string, error)
}
