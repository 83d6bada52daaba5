package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"threatguard/internal/iputil"
	"threatguard/internal/metrics"
	"threatguard/internal/models"
	"threatguard/internal/repository"
	"threatguard/internal/security"

	zlog "github.com/rs/zerolog/log"
)

// AutoBlockReason is recorded on blocks the detection engine creates.
const AutoBlockReason = "Auto-blocked: brute force attack"

// AutoBlocker is the slice of the blocking service the detection engine
// needs.
type AutoBlocker interface {
	AutoBlockIP(ctx context.Context, ip, reason string, durationHours *int) (*models.BlockedIP, bool, error)
}

// DashboardCounters supplies the non-event counts for the overview.
type DashboardCounters interface {
	CountBlockedIPs(ctx context.Context) (int64, error)
	CountActiveGeoBlockRules(ctx context.Context) (int64, error)
}

type LoginFailure struct {
	SourceIP  string          `json:"source_ip"`
	UserID    *string         `json:"user_id,omitempty"`
	UserEmail *string         `json:"user_email,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	// Success marks the login as successful; successful logins carry no
	// threat signal and are not recorded.
	Success bool `json:"success,omitempty"`
}

// Analysis reports what a login failure triggered.
type Analysis struct {
	Event     *models.ThreatEvent `json:"event"`
	Escalated bool                `json:"escalated"`
	Blocked   bool                `json:"blocked"`
}

type ThreatService struct {
	rules    ThreatRuleStore
	events   ThreatEventStore
	blocker  AutoBlocker
	counters DashboardCounters
	feed     ThreatFeed
}

func NewThreatService(rules ThreatRuleStore, events ThreatEventStore, blocker AutoBlocker, counters DashboardCounters, feed ThreatFeed) *ThreatService {
	return &ThreatService{rules: rules, events: events, blocker: blocker, counters: counters, feed: feed}
}

// AnalyzeLoginEvent records the failure and evaluates every enabled
// brute-force rule against the window ending now. The window count
// includes the failure being recorded, so threshold N trips on the Nth
// failure. Each rule is evaluated independently; only the first tripped
// rule emits the escalation event, and that event replaces the login
// failure as the returned one.
func (s *ThreatService) AnalyzeLoginEvent(ctx context.Context, login LoginFailure) (*Analysis, error) {
	if !iputil.IsValidIPAddress(login.SourceIP) {
		return nil, security.InvalidInput("INVALID_IP", "invalid source IP: %q", login.SourceIP)
	}
	if login.Success {
		return &Analysis{}, nil
	}

	ev := &models.ThreatEvent{
		EventType:   models.EventLoginFailure,
		Severity:    models.SeverityLow,
		SourceIP:    login.SourceIP,
		UserID:      login.UserID,
		UserEmail:   login.UserEmail,
		Metadata:    login.Metadata,
		Description: fmt.Sprintf("Failed login attempt from %s", login.SourceIP),
	}
	if err := s.recordEvent(ctx, ev); err != nil {
		return nil, err
	}

	result := &Analysis{Event: ev}

	rules, err := s.rules.GetEnabledRulesByType(ctx, models.RuleTypeBruteForce)
	if err != nil {
		// The failure is recorded; rule evaluation can catch up on the
		// next attempt.
		zlog.Error().Err(err).Msg("ThreatService: failed to load brute-force rules")
		return result, nil
	}

	now := time.Now().UTC()
	for i := range rules {
		rule := &rules[i]
		since := now.Add(-time.Duration(rule.WindowMinutes) * time.Minute)
		count, err := s.events.CountEventsOfTypeSince(ctx, login.SourceIP, models.EventLoginFailure, since)
		if err != nil {
			zlog.Error().Err(err).Str("rule", rule.Name).Msg("ThreatService: window count failed")
			continue
		}
		if count < int64(rule.Threshold) {
			continue
		}

		if !result.Escalated {
			result.Escalated = true
			esc := &models.ThreatEvent{
				EventType: models.EventBruteForce,
				Severity:  rule.Severity,
				SourceIP:  login.SourceIP,
				UserID:    login.UserID,
				UserEmail: login.UserEmail,
				Description: fmt.Sprintf("Brute force attack detected from %s: %d failed logins within %d minutes",
					login.SourceIP, count, rule.WindowMinutes),
			}
			if err := s.recordEvent(ctx, esc); err != nil {
				zlog.Error().Err(err).Str("ip", login.SourceIP).Msg("ThreatService: failed to record escalation")
			} else {
				result.Event = esc
			}
		}

		if rule.Action == models.ActionBlock {
			if rule.AutoBlockDurationHours == nil {
				zlog.Warn().Str("rule", rule.Name).Str("ip", login.SourceIP).
					Msg("ThreatService: BLOCK rule has no duration, skipping auto-block")
				continue
			}
			_, created, err := s.blocker.AutoBlockIP(ctx, login.SourceIP, AutoBlockReason, rule.AutoBlockDurationHours)
			if err != nil {
				zlog.Error().Err(err).Str("ip", login.SourceIP).Msg("ThreatService: auto-block failed")
				continue
			}
			result.Blocked = true
			if created {
				zlog.Warn().Str("ip", login.SourceIP).Str("rule", rule.Name).
					Int64("failures", count).Msg("ThreatService: brute force attacker blocked")
			}
		}
	}

	return result, nil
}

// LogThreatEvent records an externally observed event without running
// detection.
func (s *ThreatService) LogThreatEvent(ctx context.Context, ev *models.ThreatEvent) error {
	if ev.EventType == "" {
		return security.InvalidInput("MISSING_EVENT_TYPE", "event_type is required")
	}
	if !validSeverity(ev.Severity) {
		return security.InvalidInput("INVALID_SEVERITY", "invalid severity: %q", ev.Severity)
	}
	if !iputil.IsValidIPAddress(ev.SourceIP) {
		return security.InvalidInput("INVALID_IP", "invalid source IP: %q", ev.SourceIP)
	}
	return s.recordEvent(ctx, ev)
}

func (s *ThreatService) recordEvent(ctx context.Context, ev *models.ThreatEvent) error {
	if err := s.events.InsertThreatEvent(ctx, ev); err != nil {
		return err
	}
	metrics.MetricThreatEvents.WithLabelValues(ev.EventType).Inc()
	s.publish(ctx, ev)
	return nil
}

func (s *ThreatService) publish(ctx context.Context, ev *models.ThreatEvent) {
	if s.feed == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		zlog.Error().Err(err).Msg("ThreatService: failed to marshal event for feed")
		return
	}
	if err := s.feed.PublishThreatEvent(ctx, payload); err != nil {
		zlog.Warn().Err(err).Msg("ThreatService: failed to publish event to feed")
	}
}

// ResolveThreatEvent marks the event resolved. Resolving an already
// resolved event simply overwrites the resolution fields.
func (s *ThreatService) ResolveThreatEvent(ctx context.Context, id, resolvedBy string) (*models.ThreatEvent, error) {
	if resolvedBy == "" {
		return nil, security.InvalidInput("MISSING_ACTOR", "resolved_by is required")
	}
	ev, err := s.events.GetThreatEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, security.NotFound("EVENT_NOT_FOUND", "no threat event with id %s", id)
	}
	now := time.Now().UTC()
	ev.Resolved = true
	ev.ResolvedBy = &resolvedBy
	ev.ResolvedAt = &now
	if err := s.events.UpdateThreatEventResolution(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *ThreatService) GetThreatEvent(ctx context.Context, id string) (*models.ThreatEvent, error) {
	ev, err := s.events.GetThreatEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, security.NotFound("EVENT_NOT_FOUND", "no threat event with id %s", id)
	}
	return ev, nil
}

func (s *ThreatService) GetThreatEvents(ctx context.Context, eventType, severity string, page, size int) (*models.Page[models.ThreatEvent], error) {
	if severity != "" && !validSeverity(severity) {
		return nil, security.InvalidInput("INVALID_SEVERITY", "invalid severity: %q", severity)
	}
	page, size = clampPage(page, size)
	items, total, err := s.events.ListThreatEvents(ctx, eventType, severity, size, (page-1)*size)
	if err != nil {
		return nil, err
	}
	return &models.Page[models.ThreatEvent]{Items: items, Page: page, Size: size, TotalItems: total}, nil
}

func (s *ThreatService) GetThreatRules(ctx context.Context) ([]models.ThreatRule, error) {
	return s.rules.GetThreatRules(ctx)
}

// SaveThreatRule creates the rule when its ID is empty, updates it
// otherwise.
func (s *ThreatService) SaveThreatRule(ctx context.Context, rule *models.ThreatRule) error {
	if rule.Name == "" {
		return security.InvalidInput("MISSING_NAME", "rule name is required")
	}
	if rule.RuleType == "" {
		return security.InvalidInput("MISSING_RULE_TYPE", "rule_type is required")
	}
	if !validSeverity(rule.Severity) {
		return security.InvalidInput("INVALID_SEVERITY", "invalid severity: %q", rule.Severity)
	}
	if rule.Action != models.ActionLog && rule.Action != models.ActionBlock {
		return security.InvalidInput("INVALID_ACTION", "invalid action: %q", rule.Action)
	}
	if rule.Threshold < 1 {
		return security.InvalidInput("INVALID_THRESHOLD", "threshold must be at least 1")
	}
	if rule.WindowMinutes < 1 {
		return security.InvalidInput("INVALID_WINDOW", "window_minutes must be at least 1")
	}
	if rule.AutoBlockDurationHours != nil && *rule.AutoBlockDurationHours < 1 {
		return security.InvalidInput("INVALID_DURATION", "auto_block_duration_hours must be at least 1")
	}
	if err := s.rules.SaveThreatRule(ctx, rule); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return security.Conflict("RULE_EXISTS", "a rule named %q already exists", rule.Name)
		}
		return err
	}
	return nil
}

// Dashboard assembles the threat overview. A failure in any count fails
// the whole call; the overview is not a hot path.
func (s *ThreatService) Dashboard(ctx context.Context) (*models.Dashboard, error) {
	now := time.Now().UTC()
	d := &models.Dashboard{}

	var err error
	if d.ThreatsLast24h, err = s.events.CountEventsSince(ctx, now.Add(-24*time.Hour)); err != nil {
		return nil, err
	}
	if d.ThreatsLast7d, err = s.events.CountEventsSince(ctx, now.Add(-7*24*time.Hour)); err != nil {
		return nil, err
	}
	if d.ThreatsByType, err = s.events.CountByEventTypeSince(ctx, now.Add(-7*24*time.Hour)); err != nil {
		return nil, err
	}
	if d.ThreatsBySeverity, err = s.events.CountBySeveritySince(ctx, now.Add(-7*24*time.Hour)); err != nil {
		return nil, err
	}
	if d.UnresolvedThreats, err = s.events.CountUnresolvedEvents(ctx); err != nil {
		return nil, err
	}
	if d.BlockedIPs, err = s.counters.CountBlockedIPs(ctx); err != nil {
		return nil, err
	}
	if d.ActiveGeoRules, err = s.counters.CountActiveGeoBlockRules(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// CleanupOldEvents drops events older than the retention period.
func (s *ThreatService) CleanupOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	removed, err := s.events.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		zlog.Info().Int64("removed", removed).Time("cutoff", cutoff).
			Msg("ThreatService: old events cleaned up")
	}
	return removed, nil
}

func validSeverity(s string) bool {
	switch s {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		return true
	}
	return false
}
