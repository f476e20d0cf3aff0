package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensa/invoice-genie/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestSetNXOnlyWritesOnce(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	key := client.IdempotencyKey("stripe-webhook", "evt_1")

	set, err := client.SetNX(ctx, key, "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, set)

	set, err = client.SetNX(ctx, key, "1", time.Minute)
	require.NoError(t, err)
	assert.False(t, set, "second write must not overwrite")

	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(2 * time.Minute)
	set, err = client.SetNX(ctx, key, "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, set, "key should be writable after expiry")
}

func TestDelReleasesKey(t *testing.T) {
	ctx := context.Background()
	client, mr := newTestClient(t)
	key := client.IdempotencyKey("scope", "id")

	_, err := client.SetNX(ctx, key, "1", 0)
	require.NoError(t, err)
	require.True(t, mr.Exists(key))
	require.NoError(t, client.Del(ctx, key))

	assert.False(t, mr.Exists(key))
}

func TestOptionsPrecedence(t *testing.T) {
	opts, err := Options(config.RedisConfig{
		URL:         "redis://:urlpass@cache.internal:6380/3",
		Password:    "override",
		PoolSize:    25,
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "override", opts.Password)
	assert.Equal(t, 3, opts.DB, "db from url is kept when not configured")
	assert.Equal(t, 25, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)

	opts, err = Options(config.RedisConfig{Address: "localhost:6379", DB: 2})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
}

func TestIdempotencyKeyNamespacing(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "genie:idempotency:stripe-webhook:evt_1", client.IdempotencyKey("stripe-webhook", "evt_1"))
	assert.Equal(t, "genie:idempotency:evt_1", client.IdempotencyKey(" ", "evt_1"))
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{}, nil)
	assert.Error(t, err)
}

func TestNilClientReportsNotInitialized(t *testing.T) {
	var client *Client
	assert.ErrorIs(t, client.Ping(context.Background()), errNotInitialized)
	assert.NoError(t, client.Close())
}

func TestPing(t *testing.T) {
	client, mr := newTestClient(t)
	require.NoError(t, client.Ping(context.Background()))
	mr.Close()
	assert.Error(t, client.Ping(context.Background()))
}
