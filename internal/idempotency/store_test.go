package idempotency

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/quote-service/pkg/logger"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, time.Hour, logger.Nop()), mr
}

func TestBeginCompleteReplay(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	existing, err := store.Begin(ctx, "cus_1", "req-1")
	require.NoError(t, err)
	assert.Empty(t, existing)

	_, err = store.Begin(ctx, "cus_1", "req-1")
	assert.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, store.Complete(ctx, "cus_1", "req-1", "quote_1"))

	existing, err = store.Begin(ctx, "cus_1", "req-1")
	require.NoError(t, err)
	assert.Equal(t, "quote_1", existing)
}

func TestKeysAreScoped(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	_, err := store.Begin(ctx, "cus_1", "req-1")
	require.NoError(t, err)

	existing, err := store.Begin(ctx, "cus_2", "req-1")
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestReleaseAllowsRetry(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	_, err := store.Begin(ctx, "admin", "req-1")
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "admin", "req-1"))

	existing, err := store.Begin(ctx, "admin", "req-1")
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestInFlightLockExpires(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	_, err := store.Begin(ctx, "admin", "req-1")
	require.NoError(t, err)

	mr.FastForward(lockTTL + time.Second)

	existing, err := store.Begin(ctx, "admin", "req-1")
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestCompletedKeyExpiresAfterTTL(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Complete(ctx, "admin", "req-1", "quote_1"))
	mr.FastForward(2 * time.Hour)

	existing, err := store.Begin(ctx, "admin", "req-1")
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestKeyTrimsHeader(t *testing.T) {
	r := httptest.NewRequest("POST", "/admin/quotes", nil)
	r.Header.Set(Header, "  abc  ")
	assert.Equal(t, "abc", Key(r))
}
