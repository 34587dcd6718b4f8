package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAllow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemory(MemoryConfig{RequestsPerSecond: 1, Burst: 2})
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "token-a")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
	}

	d, err := l.Allow(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, time.Second, d.RetryAfter, float64(10*time.Millisecond))

	other, err := l.Allow(ctx, "token-b")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys have independent buckets")

	now = now.Add(time.Second)
	d, err = l.Allow(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryUnlimited(t *testing.T) {
	t.Parallel()
	l := NewMemory(MemoryConfig{})
	for i := 0; i < 100; i++ {
		d, err := l.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
}

func TestUnlimited(t *testing.T) {
	t.Parallel()
	d, err := Unlimited{}.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, -1, d.Remaining)
}
