package models

import (
	"encoding/json"
	"time"
)

// Rule and event type identifiers. The set is open ended; these are the
// ones the detection engine itself produces or evaluates.
const (
	RuleTypeBruteForce         = "BRUTE_FORCE"
	RuleTypeSuspiciousActivity = "SUSPICIOUS_ACTIVITY"

	EventLoginFailure       = "LOGIN_FAILURE"
	EventBruteForce         = "BRUTE_FORCE"
	EventSuspiciousActivity = "SUSPICIOUS_ACTIVITY"
)

const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

const (
	ActionLog   = "LOG"
	ActionBlock = "BLOCK"
)

// ThreatRule is a detection policy. Rules are created by administrators
// and only read by the detection engine.
type ThreatRule struct {
	ID                     string    `json:"id" db:"id"`
	Name                   string    `json:"name" db:"name"`
	Description            string    `json:"description" db:"description"`
	RuleType               string    `json:"rule_type" db:"rule_type"`
	Enabled                bool      `json:"enabled" db:"enabled"`
	Severity               string    `json:"severity" db:"severity"`
	Threshold              int       `json:"threshold" db:"threshold"`
	WindowMinutes          int       `json:"window_minutes" db:"window_minutes"`
	Action                 string    `json:"action" db:"action"`
	AutoBlockDurationHours *int      `json:"auto_block_duration_hours" db:"auto_block_duration_hours"`
	CreatedAt              time.Time `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time `json:"updated_at" db:"updated_at"`
}

// ThreatEvent is an observed security fact. Immutable once written except
// for the resolution fields.
type ThreatEvent struct {
	ID          string          `json:"id" db:"id"`
	EventType   string          `json:"event_type" db:"event_type"`
	Severity    string          `json:"severity" db:"severity"`
	SourceIP    string          `json:"source_ip" db:"source_ip"`
	UserID      *string         `json:"user_id,omitempty" db:"user_id"`
	UserEmail   *string         `json:"user_email,omitempty" db:"user_email"`
	Description string          `json:"description" db:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Resolved    bool            `json:"resolved" db:"resolved"`
	ResolvedBy  *string         `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// BlockedIP is an enforcement record. IPAddress is the literal the block
// was created with and is unique; CIDRRange is set when the block covers
// a range, in which case IPAddress holds the range's canonical string.
type BlockedIP struct {
	ID          string     `json:"id" db:"id"`
	IPAddress   string     `json:"ip_address" db:"ip_address"`
	CIDRRange   *string    `json:"cidr_range,omitempty" db:"cidr_range"`
	Reason      string     `json:"reason" db:"reason"`
	BlockedBy   string     `json:"blocked_by" db:"blocked_by"`
	IsPermanent bool       `json:"is_permanent" db:"is_permanent"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// Active reports whether the block is still in force at the given instant.
func (b *BlockedIP) Active(now time.Time) bool {
	if b.IsPermanent {
		return true
	}
	return b.ExpiresAt != nil && b.ExpiresAt.After(now)
}

// GeoBlockRule denies traffic from a whole country. CountryCode is ISO
// alpha-2, stored upper-case and unique.
type GeoBlockRule struct {
	ID          string    `json:"id" db:"id"`
	CountryCode string    `json:"country_code" db:"country_code"`
	CountryName string    `json:"country_name" db:"country_name"`
	Enabled     bool      `json:"enabled" db:"enabled"`
	CreatedBy   string    `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Page is a paged listing of items.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Page       int   `json:"page"`
	Size       int   `json:"size"`
	TotalItems int64 `json:"total_items"`
}

// Dashboard is the threat overview summary.
type Dashboard struct {
	ThreatsLast24h     int64            `json:"threats_last_24h"`
	ThreatsLast7d      int64            `json:"threats_last_7d"`
	BlockedIPs         int64            `json:"blocked_ips"`
	ActiveGeoRules     int64            `json:"active_geo_rules"`
	ThreatsByType      map[string]int64 `json:"threats_by_type"`
	ThreatsBySeverity  map[string]int64 `json:"threats_by_severity"`
	UnresolvedThreats  int64            `json:"unresolved_threats"`
}
