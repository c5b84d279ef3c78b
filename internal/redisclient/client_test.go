package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis")
	}
	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTryLock(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := "verify:" + uuid.NewString()

	release, ok, err := c.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	release()

	release, ok, err = c.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestClaimBindForget(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := "booking:" + uuid.NewString()

	_, claimed, err := c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	existing, claimed, err := c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Empty(t, existing)

	require.NoError(t, c.Bind(ctx, key, "booking-1", time.Minute))

	existing, claimed, err = c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "booking-1", existing)

	assert.Error(t, c.Bind(ctx, key, "booking-2", time.Minute))

	require.NoError(t, c.Forget(ctx, key))
	_, claimed, err = c.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}
