package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"threatguard/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// ErrDuplicate is returned when an insert violates a uniqueness
// constraint (blocked_ips.ip_address, geo_block_rules.country_code,
// threat_rules.name). Callers decide whether that is a conflict or an
// idempotent success.
var ErrDuplicate = errors.New("duplicate row")

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(url string) (*PostgresRepository, error) {
	db, err := sqlx.Connect("pgx", url)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRepository{db: db}, nil
}

func NewPostgresRepositoryFromDB(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func mapInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

// ===== Threat rules =====

func (p *PostgresRepository) GetThreatRules(ctx context.Context) ([]models.ThreatRule, error) {
	rules := []models.ThreatRule{}
	err := p.db.SelectContext(ctx, &rules,
		`SELECT id, name, description, rule_type, enabled, severity, threshold, window_minutes,
		        action, auto_block_duration_hours, created_at, updated_at
		 FROM threat_rules ORDER BY created_at`)
	return rules, err
}

func (p *PostgresRepository) GetEnabledRulesByType(ctx context.Context, ruleType string) ([]models.ThreatRule, error) {
	rules := []models.ThreatRule{}
	err := p.db.SelectContext(ctx, &rules,
		`SELECT id, name, description, rule_type, enabled, severity, threshold, window_minutes,
		        action, auto_block_duration_hours, created_at, updated_at
		 FROM threat_rules WHERE rule_type = $1 AND enabled = TRUE ORDER BY created_at`, ruleType)
	return rules, err
}

// SaveThreatRule inserts the rule when its ID is empty and updates it
// otherwise. ID and timestamps are written back into rule.
func (p *PostgresRepository) SaveThreatRule(ctx context.Context, rule *models.ThreatRule) error {
	if rule.ID == "" {
		err := p.db.QueryRowxContext(ctx,
			`INSERT INTO threat_rules (name, description, rule_type, enabled, severity, threshold,
			                           window_minutes, action, auto_block_duration_hours)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id, created_at, updated_at`,
			rule.Name, rule.Description, rule.RuleType, rule.Enabled, rule.Severity,
			rule.Threshold, rule.WindowMinutes, rule.Action, rule.AutoBlockDurationHours).
			Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
		return mapInsertErr(err)
	}
	err := p.db.QueryRowxContext(ctx,
		`UPDATE threat_rules
		 SET name = $2, description = $3, rule_type = $4, enabled = $5, severity = $6,
		     threshold = $7, window_minutes = $8, action = $9, auto_block_duration_hours = $10,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING created_at, updated_at`,
		rule.ID, rule.Name, rule.Description, rule.RuleType, rule.Enabled, rule.Severity,
		rule.Threshold, rule.WindowMinutes, rule.Action, rule.AutoBlockDurationHours).
		Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("threat rule %s does not exist", rule.ID)
	}
	return mapInsertErr(err)
}

// ===== Threat events =====

func (p *PostgresRepository) InsertThreatEvent(ctx context.Context, ev *models.ThreatEvent) error {
	return p.db.QueryRowxContext(ctx,
		`INSERT INTO threat_events (event_type, severity, source_ip, user_id, user_email, description, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		ev.EventType, ev.Severity, ev.SourceIP, ev.UserID, ev.UserEmail, ev.Description, ev.Metadata).
		Scan(&ev.ID, &ev.CreatedAt)
}

// GetThreatEvent returns (nil, nil) when the id is unknown.
func (p *PostgresRepository) GetThreatEvent(ctx context.Context, id string) (*models.ThreatEvent, error) {
	var ev models.ThreatEvent
	err := p.db.GetContext(ctx, &ev,
		`SELECT id, event_type, severity, source_ip, user_id, user_email, description, metadata,
		        resolved, resolved_by, resolved_at, created_at
		 FROM threat_events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (p *PostgresRepository) UpdateThreatEventResolution(ctx context.Context, ev *models.ThreatEvent) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE threat_events SET resolved = $2, resolved_by = $3, resolved_at = $4 WHERE id = $1`,
		ev.ID, ev.Resolved, ev.ResolvedBy, ev.ResolvedAt)
	return err
}

func (p *PostgresRepository) CountEventsOfTypeSince(ctx context.Context, sourceIP, eventType string, since time.Time) (int64, error) {
	var count int64
	err := p.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM threat_events WHERE source_ip = $1 AND event_type = $2 AND created_at > $3`,
		sourceIP, eventType, since)
	return count, err
}

func (p *PostgresRepository) ListThreatEvents(ctx context.Context, eventType, severity string, limit, offset int) ([]models.ThreatEvent, int64, error) {
	where := "WHERE 1=1"
	args := []any{}
	if eventType != "" {
		args = append(args, eventType)
		where += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if severity != "" {
		args = append(args, severity)
		where += fmt.Sprintf(" AND severity = $%d", len(args))
	}

	var total int64
	if err := p.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM threat_events "+where, args...); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	events := []models.ThreatEvent{}
	err := p.db.SelectContext(ctx, &events,
		fmt.Sprintf(`SELECT id, event_type, severity, source_ip, user_id, user_email, description, metadata,
		        resolved, resolved_by, resolved_at, created_at
		 FROM threat_events %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)),
		args...)
	return events, total, err
}

func (p *PostgresRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM threat_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresRepository) CountEventsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := p.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM threat_events WHERE created_at > $1`, since)
	return count, err
}

func (p *PostgresRepository) CountByEventTypeSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	return p.countGrouped(ctx, "event_type", since)
}

func (p *PostgresRepository) CountBySeveritySince(ctx context.Context, since time.Time) (map[string]int64, error) {
	return p.countGrouped(ctx, "severity", since)
}

func (p *PostgresRepository) countGrouped(ctx context.Context, column string, since time.Time) (map[string]int64, error) {
	rows := []struct {
		Key   string `db:"key"`
		Count int64  `db:"count"`
	}{}
	query := fmt.Sprintf(
		`SELECT %s AS key, COUNT(*) AS count FROM threat_events WHERE created_at > $1 GROUP BY %s ORDER BY count DESC`,
		column, column)
	if err := p.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Count
	}
	return out, nil
}

func (p *PostgresRepository) CountUnresolvedEvents(ctx context.Context) (int64, error) {
	var count int64
	err := p.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM threat_events WHERE resolved = FALSE`)
	return count, err
}

// ===== Blocked IPs =====

const blockedIPColumns = `id, ip_address, cidr_range, reason, blocked_by, is_permanent, expires_at, created_at`

func (p *PostgresRepository) InsertBlockedIP(ctx context.Context, b *models.BlockedIP) error {
	err := p.db.QueryRowxContext(ctx,
		`INSERT INTO blocked_ips (ip_address, cidr_range, reason, blocked_by, is_permanent, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		b.IPAddress, b.CIDRRange, b.Reason, b.BlockedBy, b.IsPermanent, b.ExpiresAt).
		Scan(&b.ID, &b.CreatedAt)
	return mapInsertErr(err)
}

func (p *PostgresRepository) GetBlockedIPByID(ctx context.Context, id string) (*models.BlockedIP, error) {
	var b models.BlockedIP
	err := p.db.GetContext(ctx, &b,
		`SELECT `+blockedIPColumns+` FROM blocked_ips WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *PostgresRepository) GetBlockedIPByAddress(ctx context.Context, ip string) (*models.BlockedIP, error) {
	var b models.BlockedIP
	err := p.db.GetContext(ctx, &b,
		`SELECT `+blockedIPColumns+` FROM blocked_ips WHERE ip_address = $1`, ip)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *PostgresRepository) DeleteBlockedIP(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM blocked_ips WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// HasActiveExactBlock reports whether a non-expired block exists for the
// literal address.
func (p *PostgresRepository) HasActiveExactBlock(ctx context.Context, ip string, now time.Time) (bool, error) {
	var blocked bool
	err := p.db.GetContext(ctx, &blocked,
		`SELECT EXISTS (
		   SELECT 1 FROM blocked_ips
		   WHERE ip_address = $1 AND (is_permanent = TRUE OR expires_at > $2)
		 )`, ip, now)
	return blocked, err
}

func (p *PostgresRepository) GetCIDRBlocks(ctx context.Context) ([]models.BlockedIP, error) {
	blocks := []models.BlockedIP{}
	err := p.db.SelectContext(ctx, &blocks,
		`SELECT `+blockedIPColumns+` FROM blocked_ips WHERE cidr_range IS NOT NULL`)
	return blocks, err
}

func (p *PostgresRepository) ListBlockedIPs(ctx context.Context, limit, offset int) ([]models.BlockedIP, int64, error) {
	var total int64
	if err := p.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM blocked_ips`); err != nil {
		return nil, 0, err
	}
	blocks := []models.BlockedIP{}
	err := p.db.SelectContext(ctx, &blocks,
		`SELECT `+blockedIPColumns+` FROM blocked_ips ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	return blocks, total, err
}

func (p *PostgresRepository) FindNonPermanentExpired(ctx context.Context, before time.Time) ([]models.BlockedIP, error) {
	blocks := []models.BlockedIP{}
	err := p.db.SelectContext(ctx, &blocks,
		`SELECT `+blockedIPColumns+` FROM blocked_ips WHERE is_permanent = FALSE AND expires_at < $1`,
		before)
	return blocks, err
}

func (p *PostgresRepository) DeleteNonPermanentExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM blocked_ips WHERE is_permanent = FALSE AND expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresRepository) CountBlockedIPs(ctx context.Context) (int64, error) {
	var count int64
	err := p.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM blocked_ips`)
	return count, err
}

// ===== Geo block rules =====

const geoRuleColumns = `id, country_code, country_name, enabled, created_by, created_at`

func (p *PostgresRepository) InsertGeoBlockRule(ctx context.Context, rule *models.GeoBlockRule) error {
	err := p.db.QueryRowxContext(ctx,
		`INSERT INTO geo_block_rules (country_code, country_name, enabled, created_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		rule.CountryCode, rule.CountryName, rule.Enabled, rule.CreatedBy).
		Scan(&rule.ID, &rule.CreatedAt)
	return mapInsertErr(err)
}

func (p *PostgresRepository) GetGeoBlockRules(ctx context.Context) ([]models.GeoBlockRule, error) {
	rules := []models.GeoBlockRule{}
	err := p.db.SelectContext(ctx, &rules,
		`SELECT `+geoRuleColumns+` FROM geo_block_rules ORDER BY country_code`)
	return rules, err
}

func (p *PostgresRepository) GetActiveGeoBlockRules(ctx context.Context) ([]models.GeoBlockRule, error) {
	rules := []models.GeoBlockRule{}
	err := p.db.SelectContext(ctx, &rules,
		`SELECT `+geoRuleColumns+` FROM geo_block_rules WHERE enabled = TRUE ORDER BY country_code`)
	return rules, err
}

func (p *PostgresRepository) GetGeoBlockRuleByID(ctx context.Context, id string) (*models.GeoBlockRule, error) {
	var rule models.GeoBlockRule
	err := p.db.GetContext(ctx, &rule,
		`SELECT `+geoRuleColumns+` FROM geo_block_rules WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (p *PostgresRepository) HasEnabledGeoBlockRule(ctx context.Context, countryCode string) (bool, error) {
	var exists bool
	err := p.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM geo_block_rules WHERE country_code = $1 AND enabled = TRUE)`,
		countryCode)
	return exists, err
}

func (p *PostgresRepository) DeleteGeoBlockRule(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM geo_block_rules WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresRepository) UpdateGeoBlockRuleEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE geo_block_rules SET enabled = $2 WHERE id = $1`, id, enabled)
	return err
}

func (p *PostgresRepository) CountActiveGeoBlockRules(ctx context.Context) (int64, error) {
	var count int64
	err := p.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM geo_block_rules WHERE enabled = TRUE`)
	return count, err
}
