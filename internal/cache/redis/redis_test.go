package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolbet/internal/cache/redis"
	"github.com/alanyoungcy/poolbet/internal/domain"
)

// newClient connects to POOLBET_TEST_REDIS_ADDR or skips.
func newClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("POOLBET_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POOLBET_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := redis.New(ctx, redis.ClientConfig{Addr: addr, PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLockManager(t *testing.T) {
	c := newClient(t)
	lm := redis.NewLockManager(c)
	ctx := context.Background()
	key := "settle:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, key, 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, key, 10*time.Second)
	require.NoError(t, err)
	again()
}

func TestRateLimiter(t *testing.T) {
	c := newClient(t)
	rl := redis.NewRateLimiter(c)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBus_PatternSubscribe(t *testing.T) {
	c := newClient(t)
	bus := redis.NewSignalBus(c, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := bus.Subscribe(ctx, "pool:*")
	require.NoError(t, err)
	eventID := uuid.NewString()
	require.NoError(t, bus.Publish(ctx, domain.PoolChannel(eventID), []byte(`{"type":"pool_updated"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"type":"pool_updated"}`, string(msg))
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestSignalBus_Stream(t *testing.T) {
	c := newClient(t)
	bus := redis.NewSignalBus(c, 100)
	ctx := context.Background()
	stream := "stream:test:" + uuid.NewString()

	require.NoError(t, bus.StreamAppend(ctx, stream, []byte("one")))
	require.NoError(t, bus.StreamAppend(ctx, stream, []byte("two")))

	msgs, err := bus.StreamRead(ctx, stream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", string(msgs[0].Payload))

	rest, err := bus.StreamRead(ctx, stream, msgs[1].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestReportCache(t *testing.T) {
	c := newClient(t)
	rc := redis.NewReportCache(c, time.Minute)
	ctx := context.Background()
	eventID := uuid.NewString()

	_, err := rc.Get(ctx, eventID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, rc.Set(ctx, domain.SettlementReport{
		EventID:         eventID,
		WinningOptionID: "yes",
		TotalPool:       decimal.RequireFromString("1000"),
		HouseCut:        decimal.RequireFromString("45"),
	}))
	got, err := rc.Get(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, "yes", got.WinningOptionID)
	assert.True(t, got.HouseCut.Equal(decimal.RequireFromString("45")))
}
