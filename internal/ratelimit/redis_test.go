package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLimiter(t *testing.T, limit int) (*Redis, redismock.ClientMock, time.Time) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	l, err := NewRedis(db, RedisConfig{Limit: limit, Window: time.Minute})
	require.NoError(t, err)
	fixed := time.Date(2025, 1, 1, 0, 0, 30, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	return l, mock, fixed
}

func TestRedisAllow(t *testing.T) {
	t.Parallel()
	l, mock, fixed := newRedisLimiter(t, 2)
	key := "rate_limit:tok:" + itoa(fixed.Unix()/60)

	mock.ExpectIncr(key).SetVal(1)
	mock.ExpectExpire(key, time.Minute).SetVal(true)
	mock.ExpectIncr(key).SetVal(2)
	mock.ExpectExpire(key, time.Minute).SetVal(true)
	mock.ExpectIncr(key).SetVal(3)
	mock.ExpectExpire(key, time.Minute).SetVal(true)

	d, err := l.Allow(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d, err = l.Allow(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = l.Allow(context.Background(), "tok")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisAllowError(t *testing.T) {
	t.Parallel()
	l, mock, fixed := newRedisLimiter(t, 5)
	key := "rate_limit:tok:" + itoa(fixed.Unix()/60)

	mock.ExpectIncr(key).SetErr(errors.New("redis down"))

	_, err := l.Allow(context.Background(), "tok")
	require.Error(t, err)
}

func TestNewRedisValidation(t *testing.T) {
	t.Parallel()
	db, _ := redismock.NewClientMock()

	_, err := NewRedis(nil, RedisConfig{Limit: 1})
	require.Error(t, err)
	_, err = NewRedis(db, RedisConfig{})
	require.Error(t, err)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
