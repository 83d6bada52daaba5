package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"threatguard/internal/config"
	"threatguard/internal/iputil"
	"threatguard/internal/metrics"
	"threatguard/internal/models"
	"threatguard/internal/repository"
	"threatguard/internal/security"

	zlog "github.com/rs/zerolog/log"
)

const MaxPageSize = 1000

// DefaultBlockHours is used when a temporary block is requested without
// an explicit duration.
const DefaultBlockHours = 24

type BlockRequest struct {
	IPAddress     string `json:"ip_address"`
	Reason        string `json:"reason"`
	BlockedBy     string `json:"blocked_by"`
	IsPermanent   bool   `json:"is_permanent"`
	DurationHours int    `json:"duration_hours"`
}

type BlockingService struct {
	blocks      BlockStore
	cache       VerdictCache
	verdictTTL  time.Duration
	primeTTLMax time.Duration
}

func NewBlockingService(cfg *config.Config, blocks BlockStore, cache VerdictCache) *BlockingService {
	return &BlockingService{
		blocks:      blocks,
		cache:       cache,
		verdictTTL:  time.Duration(cfg.VerdictTTLMin) * time.Minute,
		primeTTLMax: time.Duration(cfg.PrimeTTLMaxMin) * time.Minute,
	}
}

// BlockIP creates an enforcement record for a single address or a CIDR
// range. Blocking an address that already has a record is a conflict.
func (s *BlockingService) BlockIP(ctx context.Context, req BlockRequest) (*models.BlockedIP, error) {
	ip := strings.TrimSpace(req.IPAddress)
	if !iputil.IsValidCIDR(ip) {
		return nil, security.InvalidInput("INVALID_IP", "invalid IP address or CIDR range: %q", ip)
	}
	if req.Reason == "" {
		return nil, security.InvalidInput("MISSING_REASON", "a block reason is required")
	}
	if req.BlockedBy == "" {
		return nil, security.InvalidInput("MISSING_ACTOR", "blocked_by is required")
	}

	b := &models.BlockedIP{
		IPAddress:   ip,
		Reason:      req.Reason,
		BlockedBy:   req.BlockedBy,
		IsPermanent: req.IsPermanent,
	}
	if strings.Contains(ip, "/") {
		cidr := ip
		b.CIDRRange = &cidr
	}
	if !req.IsPermanent {
		hours := req.DurationHours
		if hours <= 0 {
			hours = DefaultBlockHours
		}
		exp := time.Now().UTC().Add(time.Duration(hours) * time.Hour)
		b.ExpiresAt = &exp
	}

	if err := s.blocks.InsertBlockedIP(ctx, b); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, security.Conflict("ALREADY_BLOCKED", "%s is already blocked", ip)
		}
		return nil, err
	}

	metrics.MetricBlocksTotal.WithLabelValues("manual").Inc()
	s.primeVerdict(ctx, b)
	zlog.Info().Str("ip", ip).Str("blocked_by", req.BlockedBy).Bool("permanent", b.IsPermanent).
		Msg("BlockingService: IP blocked")
	return b, nil
}

// AutoBlockIP is the detection engine's idempotent block. If an active
// block already covers the exact address, the existing record is
// returned with created=false; a lost insert race is treated the same
// way. Auto-blocks are always temporary; a nil duration falls back to
// DefaultBlockHours.
func (s *BlockingService) AutoBlockIP(ctx context.Context, ip, reason string, durationHours *int) (*models.BlockedIP, bool, error) {
	if !iputil.IsValidIPAddress(ip) {
		return nil, false, security.InvalidInput("INVALID_IP", "invalid IP address: %q", ip)
	}

	now := time.Now().UTC()
	active, err := s.blocks.HasActiveExactBlock(ctx, ip, now)
	if err != nil {
		return nil, false, err
	}
	if active {
		existing, err := s.blocks.GetBlockedIPByAddress(ctx, ip)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	b := &models.BlockedIP{
		IPAddress: ip,
		Reason:    reason,
		BlockedBy: "system",
	}
	hours := DefaultBlockHours
	if durationHours != nil {
		hours = *durationHours
	}
	exp := now.Add(time.Duration(hours) * time.Hour)
	b.ExpiresAt = &exp

	if err := s.blocks.InsertBlockedIP(ctx, b); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Another goroutine or instance won the race.
			existing, gerr := s.blocks.GetBlockedIPByAddress(ctx, ip)
			if gerr != nil {
				return nil, false, gerr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	metrics.MetricBlocksTotal.WithLabelValues("auto").Inc()
	s.primeVerdict(ctx, b)
	zlog.Warn().Str("ip", ip).Str("reason", reason).Msg("BlockingService: IP auto-blocked")
	return b, true, nil
}

// UnblockIP removes the record and evicts any cached verdict so the
// unblock takes effect within one cache round trip, not one TTL.
func (s *BlockingService) UnblockIP(ctx context.Context, id string) error {
	b, err := s.blocks.GetBlockedIPByID(ctx, id)
	if err != nil {
		return err
	}
	if b == nil {
		return security.NotFound("BLOCK_NOT_FOUND", "no block with id %s", id)
	}
	if _, err := s.blocks.DeleteBlockedIP(ctx, id); err != nil {
		return err
	}
	if err := s.cache.DeleteBlockVerdict(ctx, b.IPAddress); err != nil {
		zlog.Warn().Err(err).Str("ip", b.IPAddress).Msg("BlockingService: failed to evict cached verdict")
	}
	metrics.MetricUnblocksTotal.Inc()
	zlog.Info().Str("ip", b.IPAddress).Msg("BlockingService: IP unblocked")
	return nil
}

// IsIPBlocked answers the hot-path enforcement question. Order: cached
// verdict, exact block in the store, then a scan of CIDR blocks. A
// store outage degrades to allow rather than locking everyone out.
func (s *BlockingService) IsIPBlocked(ctx context.Context, ip string) bool {
	if hit, err := s.cache.GetBlockVerdict(ctx, ip); err != nil {
		zlog.Debug().Err(err).Str("ip", ip).Msg("BlockingService: verdict cache unavailable")
	} else if hit {
		metrics.MetricCacheResults.WithLabelValues("hit").Inc()
		metrics.MetricBlockChecksTotal.WithLabelValues("blocked").Inc()
		return true
	} else {
		metrics.MetricCacheResults.WithLabelValues("miss").Inc()
	}

	now := time.Now().UTC()
	blocked, err := s.blocks.HasActiveExactBlock(ctx, ip, now)
	if err != nil {
		return s.failOpen(ip, err)
	}
	if blocked {
		s.cacheVerdict(ctx, ip)
		metrics.MetricBlockChecksTotal.WithLabelValues("blocked").Inc()
		return true
	}

	ranges, err := s.blocks.GetCIDRBlocks(ctx)
	if err != nil {
		return s.failOpen(ip, err)
	}
	for i := range ranges {
		b := &ranges[i]
		if !b.Active(now) || b.CIDRRange == nil {
			continue
		}
		if iputil.IsInCIDRRange(ip, *b.CIDRRange) {
			s.cacheVerdict(ctx, ip)
			metrics.MetricBlockChecksTotal.WithLabelValues("blocked").Inc()
			return true
		}
	}

	// Negative verdicts are never cached; a fresh block must be seen
	// on the next check.
	metrics.MetricBlockChecksTotal.WithLabelValues("allowed").Inc()
	return false
}

func (s *BlockingService) failOpen(ip string, err error) bool {
	metrics.MetricStoreDegraded.Inc()
	metrics.MetricBlockChecksTotal.WithLabelValues("allowed").Inc()
	zlog.Warn().Err(err).Str("ip", ip).Msg("BlockingService: store unreachable, failing open")
	return false
}

func (s *BlockingService) cacheVerdict(ctx context.Context, ip string) {
	if err := s.cache.SetBlockVerdict(ctx, ip, s.verdictTTL); err != nil {
		zlog.Debug().Err(err).Str("ip", ip).Msg("BlockingService: failed to cache verdict")
	}
}

// primeVerdict writes the verdict at block time so the next check is a
// cache hit. The TTL never exceeds the block's remaining lifetime.
func (s *BlockingService) primeVerdict(ctx context.Context, b *models.BlockedIP) {
	if b.CIDRRange != nil {
		// Range blocks are matched by containment, not key lookup.
		return
	}
	ttl := s.primeTTLMax
	if !b.IsPermanent && b.ExpiresAt != nil {
		if remaining := time.Until(*b.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}
	if err := s.cache.SetBlockVerdict(ctx, b.IPAddress, ttl); err != nil {
		zlog.Debug().Err(err).Str("ip", b.IPAddress).Msg("BlockingService: failed to prime verdict")
	}
}

func (s *BlockingService) GetBlockedIP(ctx context.Context, id string) (*models.BlockedIP, error) {
	b, err := s.blocks.GetBlockedIPByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, security.NotFound("BLOCK_NOT_FOUND", "no block with id %s", id)
	}
	return b, nil
}

func (s *BlockingService) GetBlockedIPs(ctx context.Context, page, size int) (*models.Page[models.BlockedIP], error) {
	page, size = clampPage(page, size)
	items, total, err := s.blocks.ListBlockedIPs(ctx, size, (page-1)*size)
	if err != nil {
		return nil, err
	}
	return &models.Page[models.BlockedIP]{Items: items, Page: page, Size: size, TotalItems: total}, nil
}

// CleanupExpiredBlocks removes temporary blocks whose expiry has passed
// and evicts their cached verdicts. Permanent blocks are never touched.
func (s *BlockingService) CleanupExpiredBlocks(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	expired, err := s.blocks.FindNonPermanentExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	for i := range expired {
		if err := s.cache.DeleteBlockVerdict(ctx, expired[i].IPAddress); err != nil {
			zlog.Warn().Err(err).Str("ip", expired[i].IPAddress).
				Msg("BlockingService: failed to evict verdict during cleanup")
		}
	}
	removed, err := s.blocks.DeleteNonPermanentExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	metrics.MetricExpiredBlocksRemoved.Add(float64(removed))
	zlog.Info().Int64("removed", removed).Msg("BlockingService: expired blocks cleaned up")
	return removed, nil
}

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 50
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}
