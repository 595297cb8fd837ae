package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to the Redis at SYNCSTORE_REDIS_ADDR, skipping the
// test when it is not set.
func newTestClient(t *testing.T) Client {
	t.Helper()
	addr := os.Getenv("SYNCSTORE_REDIS_ADDR")
	if addr == "" {
		t.Skip("SYNCSTORE_REDIS_ADDR not set, skipping redis tests")
	}
	c, err := NewClient(nil, &Options{Addr: addr, Prefix: "syncstore:test:" + uuid.NewString() + ":", Expiration: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_TouchAndLastRefresh(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.LastRefresh(ctx, "courses")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Unix(1_700_000_000, 123)
	require.NoError(t, c.Touch(ctx, "courses", at))

	got, ok, err := c.LastRefresh(ctx, "courses")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(at))

	stats := c.Stats()
	assert.Equal(t, 2, stats["LastRefresh"])
	assert.Equal(t, 1, stats["LastRefreshMiss"])
	assert.Equal(t, 1, stats["LastRefreshHit"])
	assert.Equal(t, 1, stats["Touch"])
}

func TestNewClient_PingFailure(t *testing.T) {
	_, err := NewClient(nil, &Options{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
