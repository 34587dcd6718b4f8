package proxy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicyBackoff(t *testing.T) {
	p := NewExponentialRetryPolicy(500*time.Millisecond, 5*time.Second, 0)

	assert.Equal(t, 500*time.Millisecond, p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(30))
	assert.Equal(t, 500*time.Millisecond, p.Backoff(-1))
}

func TestExponentialRetryPolicyJitterBounds(t *testing.T) {
	p := NewExponentialRetryPolicy(500*time.Millisecond, 5*time.Second, 100*time.Millisecond)

	for i := 0; i < 50; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, time.Second+100*time.Millisecond)
	}
}

func TestExponentialRetryPolicyDefaults(t *testing.T) {
	p := NewExponentialRetryPolicy(0, 0, -1)

	assert.Equal(t, 500*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 5*time.Second, p.Backoff(10))
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, Sleep(context.Background(), 0))
}

func TestRandomShufflerKeepsElements(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	RandomShuffler{}.Shuffle(items)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, items)
}
