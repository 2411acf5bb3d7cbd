package redisclient

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis (set REDIS_ADDR)")
	}
	c, err := NewClient(addr, os.Getenv("REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockIsExclusiveUntilReleased(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "test-" + uuid.New().String()

	token, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	second, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, second)

	// a foreign token leaves the lock in place
	require.NoError(t, c.ReleaseLock(ctx, key, "not-the-owner"))
	again, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, c.ReleaseLock(ctx, key, token))
	after, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, after)
	require.NoError(t, c.ReleaseLock(ctx, key, after))
}

func TestIdempotencyKeyClaimedOnce(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := uuid.New().String()

	ok, err := c.SetIdempotencyKey(ctx, key, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetIdempotencyKey(ctx, key, 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// released keys can be claimed again
	require.NoError(t, c.DeleteIdempotencyKey(ctx, key))
	ok, err = c.SetIdempotencyKey(ctx, key, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, c.DeleteIdempotencyKey(ctx, key))
}

func TestJSONCacheRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := uuid.New().String()

	var miss map[string]int
	assert.True(t, errors.Is(c.GetJSON(ctx, key, &miss), ErrCacheMiss))

	require.NoError(t, c.SetJSON(ctx, key, map[string]int{"silver": 5000}, time.Minute))
	var got map[string]int
	require.NoError(t, c.GetJSON(ctx, key, &got))
	assert.Equal(t, 5000, got["silver"])

	require.NoError(t, c.Delete(ctx, key))
	assert.ErrorIs(t, c.GetJSON(ctx, key, &got), ErrCacheMiss)
}
