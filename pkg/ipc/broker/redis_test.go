//go:build integration

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

// These tests exercise RedisBroker against an in-memory Redis server
// (miniredis) rather than a live one, so they run in CI without external
// infrastructure while still going through the real go-redis wire
// protocol path.
func newTestBroker(t *testing.T) (*RedisBroker, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	b := NewRedisBroker(Config{Host: mr.Host(), Port: mustAtoi(t, mr.Port())})
	return b, func() {
		_ = b.Close()
		mr.Close()
	}
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			t.Fatalf("not a port number: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := b.Subscribe(ctx, "chan-a")
	require.NoError(t, err)
	defer sub.Close()

	// Give the subscription a moment to register before publishing, since
	// Redis pub/sub only delivers to subscribers active at publish time.
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, "chan-a", []byte("hello")))

	payload, ok := sub.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "hello", string(payload))
}

func TestRedisBroker_KVLastWriterWins(t *testing.T) {
	b, cleanup := newTestBroker(t)
	defer cleanup()
	ctx := context.Background()

	_, ok, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, b.Set(ctx, "k", []byte("v1")))
	require.NoError(t, b.Set(ctx, "k", []byte("v2")))

	val, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", string(val))

	require.NoError(t, b.Delete(ctx, "k"))
	_, ok, err = b.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}
