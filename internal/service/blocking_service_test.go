package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"threatguard/internal/config"
	"threatguard/internal/models"
	"threatguard/internal/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expiredBlock(ip string, exp time.Time) *models.BlockedIP {
	return &models.BlockedIP{IPAddress: ip, Reason: "old", BlockedBy: "admin", ExpiresAt: &exp}
}

func newTestBlockingService() (*BlockingService, *fakeStore, *fakeCache) {
	store := newFakeStore()
	cache := newFakeCache()
	cfg := &config.Config{VerdictTTLMin: 5, PrimeTTLMaxMin: 60}
	return NewBlockingService(cfg, store, cache), store, cache
}

func TestBlockIP_Validation(t *testing.T) {
	svc, _, _ := newTestBlockingService()
	ctx := context.Background()

	_, err := svc.BlockIP(ctx, BlockRequest{IPAddress: "not-an-ip", Reason: "r", BlockedBy: "admin"})
	assert.True(t, security.IsInvalidInput(err))

	_, err = svc.BlockIP(ctx, BlockRequest{IPAddress: "10.0.0.1/33", Reason: "r", BlockedBy: "admin"})
	assert.True(t, security.IsInvalidInput(err))

	_, err = svc.BlockIP(ctx, BlockRequest{IPAddress: "10.0.0.1", BlockedBy: "admin"})
	assert.True(t, security.IsInvalidInput(err))

	_, err = svc.BlockIP(ctx, BlockRequest{IPAddress: "10.0.0.1", Reason: "r"})
	assert.True(t, security.IsInvalidInput(err))
}

func TestBlockIP_Conflict(t *testing.T) {
	svc, _, _ := newTestBlockingService()
	ctx := context.Background()

	_, err := svc.BlockIP(ctx, BlockRequest{IPAddress: "192.0.2.1", Reason: "abuse", BlockedBy: "admin", IsPermanent: true})
	require.NoError(t, err)

	_, err = svc.BlockIP(ctx, BlockRequest{IPAddress: "192.0.2.1", Reason: "again", BlockedBy: "admin"})
	assert.True(t, security.IsConflict(err))
}

func TestBlockIP_TemporaryExpiryAndPrimedVerdict(t *testing.T) {
	svc, _, cache := newTestBlockingService()
	ctx := context.Background()

	b, err := svc.BlockIP(ctx, BlockRequest{IPAddress: "192.0.2.2", Reason: "abuse", BlockedBy: "admin", DurationHours: 2})
	require.NoError(t, err)
	require.NotNil(t, b.ExpiresAt)
	assert.False(t, b.IsPermanent)
	assert.WithinDuration(t, time.Now().UTC().Add(2*time.Hour), *b.ExpiresAt, time.Minute)

	// The verdict is primed for the next check, never past the prime cap.
	assert.True(t, cache.has("192.0.2.2"))
	assert.LessOrEqual(t, cache.ttlOf("192.0.2.2"), 60*time.Minute)
}

func TestBlockIP_ShortBlockPrimesWithRemainingLifetime(t *testing.T) {
	svc, _, cache := newTestBlockingService()
	ctx := context.Background()

	_, err := svc.BlockIP(ctx, BlockRequest{IPAddress: "192.0.2.3", Reason: "abuse", BlockedBy: "admin", DurationHours: 1})
	require.NoError(t, err)
	// A one-hour block must not leave a verdict that outlives it.
	assert.LessOrEqual(t, cache.ttlOf("192.0.2.3"), time.Hour)
}

func TestBlockIP_CIDRDoesNotPrimeVerdict(t *testing.T) {
	svc, _, cache := newTestBlockingService()
	ctx := context.Background()

	b, err := svc.BlockIP(ctx, BlockRequest{IPAddress: "10.0.0.0/8", Reason: "range abuse", BlockedBy: "admin", IsPermanent: true})
	require.NoError(t, err)
	require.NotNil(t, b.CIDRRange)
	assert.Equal(t, "10.0.0.0/8", *b.CIDRRange)
	assert.False(t, cache.has("10.0.0.0/8"))
}

func TestAutoBlockIP_Idempotent(t *testing.T) {
	svc, store, _ := newTestBlockingService()
	ctx := context.Background()
	hours := 24

	first, created, err := svc.AutoBlockIP(ctx, "203.0.113.5", AutoBlockReason, &hours)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, first.IsPermanent)
	assert.Contains(t, first.Reason, "brute force")

	second, created, err := svc.AutoBlockIP(ctx, "203.0.113.5", AutoBlockReason, &hours)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	count, _ := store.CountBlockedIPs(ctx)
	assert.Equal(t, int64(1), count)
}

func TestAutoBlockIP_NilDurationUsesDefault(t *testing.T) {
	svc, _, _ := newTestBlockingService()

	b, created, err := svc.AutoBlockIP(context.Background(), "203.0.113.6", AutoBlockReason, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, b.IsPermanent)
	require.NotNil(t, b.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(DefaultBlockHours*time.Hour), *b.ExpiresAt, time.Minute)
}

func TestAutoBlockIP_ConcurrentCallsCreateOneRow(t *testing.T) {
	svc, store, _ := newTestBlockingService()
	ctx := context.Background()
	hours := 24

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, created, err := svc.AutoBlockIP(ctx, "203.0.113.7", AutoBlockReason, &hours)
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	count, _ := store.CountBlockedIPs(ctx)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, createdCount)
}

func TestIsIPBlocked_ExactBlock(t *testing.T) {
	svc, _, cache := newTestBlockingService()
	ctx := context.Background()

	assert.False(t, svc.IsIPBlocked(ctx, "192.0.2.10"))
	assert.False(t, cache.has("192.0.2.10"), "negative verdicts must not be cached")

	_, err := svc.BlockIP(ctx, BlockRequest{IPAddress: "192.0.2.10", Reason: "abuse", BlockedBy: "admin", IsPermanent: true})
	require.NoError(t, err)
	assert.True(t, svc.IsIPBlocked(ctx, "192.0.2.10"))
}

func TestIsIPBlocked_CIDRContainment(t *testing.T) {
	svc, _, cache := newTestBlockingService()
	ctx := context.Background()

	_, err := svc.BlockIP(ctx, BlockRequest{IPAddress: "10.0.0.0/8", Reason: "range", BlockedBy: "admin", IsPermanent: true})
	require.NoError(t, err)

	assert.True(t, svc.IsIPBlocked(ctx, "10.1.2.3"))
	assert.False(t, svc.IsIPBlocked(ctx, "11.0.0.1"))

	// The contained address gets its own cached verdict.
	assert.True(t, cache.has("10.1.2.3"))
}

func TestIsIPBlocked_ExpiredBlockDoesNotMatch(t *testing.T) {
	svc, store, _ := newTestBlockingService()
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	err := store.InsertBlockedIP(ctx, expiredBlock("192.0.2.20", past))
	require.NoError(t, err)

	assert.False(t, svc.IsIPBlocked(ctx, "192.0.2.20"))
}

func TestIsIPBlocked_CachedVerdictShortCircuits(t *testing.T) {
	svc, store, cache := newTestBlockingService()
	ctx := context.Background()

	require.NoError(t, cache.SetBlockVerdict(ctx, "192.0.2.30", time.Minute))
	store.failing = true

	// The cache answers even with the store down.
	assert.True(t, svc.IsIPBlocked(ctx, "192.0.2.30"))
}

func TestIsIPBlocked_FailsOpenOnStoreOutage(t *testing.T) {
	svc, store, _ := newTestBlockingService()
	ctx := context.Background()

	store.failing = true
	assert.False(t, svc.IsIPBlocked(ctx, "192.0.2.40"))
}

func TestUnblockIP(t *testing.T) {
	svc, store, cache := newTestBlockingService()
	ctx := context.Background()

	b, err := svc.BlockIP(ctx, BlockRequest{IPAddress: "192.0.2.50", Reason: "abuse", BlockedBy: "admin", IsPermanent: true})
	require.NoError(t, err)
	require.True(t, cache.has("192.0.2.50"))

	require.NoError(t, svc.UnblockIP(ctx, b.ID))

	assert.False(t, cache.has("192.0.2.50"), "unblock must evict the cached verdict")
	assert.False(t, svc.IsIPBlocked(ctx, "192.0.2.50"))

	count, _ := store.CountBlockedIPs(ctx)
	assert.Equal(t, int64(0), count)

	err = svc.UnblockIP(ctx, b.ID)
	assert.True(t, security.IsNotFound(err))
}

func TestCleanupExpiredBlocks(t *testing.T) {
	svc, store, cache := newTestBlockingService()
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.InsertBlockedIP(ctx, expiredBlock("192.0.2.60", past)))
	require.NoError(t, cache.SetBlockVerdict(ctx, "192.0.2.60", time.Minute))

	_, err := svc.BlockIP(ctx, BlockRequest{IPAddress: "192.0.2.61", Reason: "forever", BlockedBy: "admin", IsPermanent: true})
	require.NoError(t, err)

	removed, err := svc.CleanupExpiredBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.False(t, cache.has("192.0.2.60"))

	// The permanent block survives.
	count, _ := store.CountBlockedIPs(ctx)
	assert.Equal(t, int64(1), count)

	removed, err = svc.CleanupExpiredBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestGetBlockedIPs_Paging(t *testing.T) {
	svc, _, _ := newTestBlockingService()
	ctx := context.Background()

	for _, ip := range []string{"192.0.2.70", "192.0.2.71", "192.0.2.72"} {
		_, err := svc.BlockIP(ctx, BlockRequest{IPAddress: ip, Reason: "abuse", BlockedBy: "admin", IsPermanent: true})
		require.NoError(t, err)
	}

	page, err := svc.GetBlockedIPs(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(3), page.TotalItems)

	page, err = svc.GetBlockedIPs(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}
