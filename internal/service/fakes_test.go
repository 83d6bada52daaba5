package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"threatguard/internal/models"
	"threatguard/internal/repository"
)

var errStoreDown = errors.New("store unreachable")

// fakeStore is an in-memory stand-in for the Postgres repository. It
// enforces the same uniqueness constraints so the services' duplicate
// handling is exercised for real.
type fakeStore struct {
	mu       sync.Mutex
	rules    []models.ThreatRule
	events   []models.ThreatEvent
	blocks   []models.BlockedIP
	geoRules []models.GeoBlockRule
	nextID   int
	failing  bool
}

func newFakeStore() *fakeStore { return &fakeStore{} }

func (f *fakeStore) newID() string {
	f.nextID++
	return fmt.Sprintf("id-%04d", f.nextID)
}

// ===== ThreatRuleStore =====

func (f *fakeStore) GetThreatRules(ctx context.Context) ([]models.ThreatRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errStoreDown
	}
	return append([]models.ThreatRule(nil), f.rules...), nil
}

func (f *fakeStore) GetEnabledRulesByType(ctx context.Context, ruleType string) ([]models.ThreatRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errStoreDown
	}
	out := []models.ThreatRule{}
	for _, r := range f.rules {
		if r.RuleType == ruleType && r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveThreatRule(ctx context.Context, rule *models.ThreatRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errStoreDown
	}
	if rule.ID == "" {
		for _, r := range f.rules {
			if r.Name == rule.Name {
				return repository.ErrDuplicate
			}
		}
		rule.ID = f.newID()
		rule.CreatedAt = time.Now().UTC()
		rule.UpdatedAt = rule.CreatedAt
		f.rules = append(f.rules, *rule)
		return nil
	}
	for i, r := range f.rules {
		if r.ID == rule.ID {
			rule.UpdatedAt = time.Now().UTC()
			f.rules[i] = *rule
			return nil
		}
	}
	return fmt.Errorf("threat rule %s does not exist", rule.ID)
}

// ===== ThreatEventStore =====

func (f *fakeStore) InsertThreatEvent(ctx context.Context, ev *models.ThreatEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errStoreDown
	}
	ev.ID = f.newID()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeStore) GetThreatEvent(ctx context.Context, id string) (*models.ThreatEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.ID == id {
			out := ev
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateThreatEventResolution(ctx context.Context, ev *models.ThreatEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		if f.events[i].ID == ev.ID {
			f.events[i].Resolved = ev.Resolved
			f.events[i].ResolvedBy = ev.ResolvedBy
			f.events[i].ResolvedAt = ev.ResolvedAt
			return nil
		}
	}
	return nil
}

func (f *fakeStore) CountEventsOfTypeSince(ctx context.Context, sourceIP, eventType string, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return 0, errStoreDown
	}
	var count int64
	for _, ev := range f.events {
		if ev.SourceIP == sourceIP && ev.EventType == eventType && ev.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ListThreatEvents(ctx context.Context, eventType, severity string, limit, offset int) ([]models.ThreatEvent, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := []models.ThreatEvent{}
	for _, ev := range f.events {
		if eventType != "" && ev.EventType != eventType {
			continue
		}
		if severity != "" && ev.Severity != severity {
			continue
		}
		matched = append(matched, ev)
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return []models.ThreatEvent{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (f *fakeStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.events[:0]
	var removed int64
	for _, ev := range f.events {
		if ev.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	f.events = kept
	return removed, nil
}

func (f *fakeStore) CountEventsSince(ctx context.Context, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, ev := range f.events {
		if ev.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) CountByEventTypeSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int64{}
	for _, ev := range f.events {
		if ev.CreatedAt.After(since) {
			out[ev.EventType]++
		}
	}
	return out, nil
}

func (f *fakeStore) CountBySeveritySince(ctx context.Context, since time.Time) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int64{}
	for _, ev := range f.events {
		if ev.CreatedAt.After(since) {
			out[ev.Severity]++
		}
	}
	return out, nil
}

func (f *fakeStore) CountUnresolvedEvents(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, ev := range f.events {
		if !ev.Resolved {
			count++
		}
	}
	return count, nil
}

// backdateEvents moves every stored event's timestamp into the past.
func (f *fakeStore) backdateEvents(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		f.events[i].CreatedAt = f.events[i].CreatedAt.Add(-d)
	}
}

// ===== BlockStore =====

func (f *fakeStore) InsertBlockedIP(ctx context.Context, b *models.BlockedIP) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errStoreDown
	}
	for _, existing := range f.blocks {
		if existing.IPAddress == b.IPAddress {
			return repository.ErrDuplicate
		}
	}
	b.ID = f.newID()
	b.CreatedAt = time.Now().UTC()
	f.blocks = append(f.blocks, *b)
	return nil
}

func (f *fakeStore) GetBlockedIPByID(ctx context.Context, id string) (*models.BlockedIP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.blocks {
		if b.ID == id {
			out := b
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetBlockedIPByAddress(ctx context.Context, ip string) (*models.BlockedIP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.blocks {
		if b.IPAddress == ip {
			out := b
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) DeleteBlockedIP(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range f.blocks {
		if b.ID == id {
			f.blocks = append(f.blocks[:i], f.blocks[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) HasActiveExactBlock(ctx context.Context, ip string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return false, errStoreDown
	}
	for i := range f.blocks {
		if f.blocks[i].IPAddress == ip && f.blocks[i].Active(now) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) GetCIDRBlocks(ctx context.Context) ([]models.BlockedIP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errStoreDown
	}
	out := []models.BlockedIP{}
	for _, b := range f.blocks {
		if b.CIDRRange != nil {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) ListBlockedIPs(ctx context.Context, limit, offset int) ([]models.BlockedIP, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := int64(len(f.blocks))
	if offset >= len(f.blocks) {
		return []models.BlockedIP{}, total, nil
	}
	end := offset + limit
	if end > len(f.blocks) {
		end = len(f.blocks)
	}
	return append([]models.BlockedIP(nil), f.blocks[offset:end]...), total, nil
}

func (f *fakeStore) FindNonPermanentExpired(ctx context.Context, before time.Time) ([]models.BlockedIP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.BlockedIP{}
	for _, b := range f.blocks {
		if !b.IsPermanent && b.ExpiresAt != nil && b.ExpiresAt.Before(before) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteNonPermanentExpired(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.blocks[:0]
	var removed int64
	for _, b := range f.blocks {
		if !b.IsPermanent && b.ExpiresAt != nil && b.ExpiresAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, b)
	}
	f.blocks = kept
	return removed, nil
}

func (f *fakeStore) CountBlockedIPs(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.blocks)), nil
}

// ===== GeoRuleStore =====

func (f *fakeStore) InsertGeoBlockRule(ctx context.Context, rule *models.GeoBlockRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.geoRules {
		if r.CountryCode == rule.CountryCode {
			return repository.ErrDuplicate
		}
	}
	rule.ID = f.newID()
	rule.CreatedAt = time.Now().UTC()
	f.geoRules = append(f.geoRules, *rule)
	return nil
}

func (f *fakeStore) GetGeoBlockRules(ctx context.Context) ([]models.GeoBlockRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.GeoBlockRule(nil), f.geoRules...), nil
}

func (f *fakeStore) GetActiveGeoBlockRules(ctx context.Context) ([]models.GeoBlockRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.GeoBlockRule{}
	for _, r := range f.geoRules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetGeoBlockRuleByID(ctx context.Context, id string) (*models.GeoBlockRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.geoRules {
		if r.ID == id {
			out := r
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) HasEnabledGeoBlockRule(ctx context.Context, countryCode string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.geoRules {
		if r.CountryCode == countryCode && r.Enabled {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeleteGeoBlockRule(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.geoRules {
		if r.ID == id {
			f.geoRules = append(f.geoRules[:i], f.geoRules[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UpdateGeoBlockRuleEnabled(ctx context.Context, id string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.geoRules {
		if f.geoRules[i].ID == id {
			f.geoRules[i].Enabled = enabled
			return nil
		}
	}
	return nil
}

func (f *fakeStore) CountActiveGeoBlockRules(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, r := range f.geoRules {
		if r.Enabled {
			count++
		}
	}
	return count, nil
}

// fakeCache is a VerdictCache holding entries with expiries.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttls    map[string]time.Duration
	failing bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]time.Time{}, ttls: map[string]time.Duration{}}
}

func (c *fakeCache) GetBlockVerdict(ctx context.Context, ip string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return false, errStoreDown
	}
	exp, ok := c.entries[ip]
	if !ok || time.Now().After(exp) {
		return false, nil
	}
	return true, nil
}

func (c *fakeCache) SetBlockVerdict(ctx context.Context, ip string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errStoreDown
	}
	c.entries[ip] = time.Now().Add(ttl)
	c.ttls[ip] = ttl
	return nil
}

func (c *fakeCache) DeleteBlockVerdict(ctx context.Context, ip string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errStoreDown
	}
	delete(c.entries, ip)
	delete(c.ttls, ip)
	return nil
}

func (c *fakeCache) has(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.entries[ip]
	return ok && time.Now().Before(exp)
}

func (c *fakeCache) ttlOf(ip string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttls[ip]
}

// fakeLocker is a Locker backed by a set of held keys.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]bool{}} }

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// fakeResolver maps addresses to country codes.
type fakeResolver struct {
	countries map[string]string
}

func (r *fakeResolver) CountryOf(ip string) (string, error) {
	return r.countries[ip], nil
}

// fakeFeed records published payloads.
type fakeFeed struct {
	mu        sync.Mutex
	published [][]byte
}

func (f *fakeFeed) PublishThreatEvent(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}
