//go:build integration

package presence_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/illmade-knight/go-broadcast/pkg/presence"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ presence.Tracker = (*presence.RedisTracker)(nil)

func TestRedisTracker_Integration(t *testing.T) {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	cfg := &presence.RedisConfig{
		Addr:          redisAddr,
		MembershipTTL: 1 * time.Minute,
	}

	tracker, err := presence.NewRedisTracker(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close() })

	rawClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	t.Cleanup(func() { _ = rawClient.Close() })

	const channelID = "itest-news"
	t.Cleanup(func() {
		_ = rawClient.Del(context.Background(), "broadcast:members:"+channelID).Err()
	})

	t.Run("Attach, Members, and Detach cycle", func(t *testing.T) {
		// Act 1: attach two subscribers.
		require.NoError(t, tracker.Attach(ctx, channelID, "sub-a"))
		require.NoError(t, tracker.Attach(ctx, channelID, "sub-b"))

		// Assert 1: verify directly in Redis that the set and its TTL exist.
		ttl, err := rawClient.TTL(ctx, "broadcast:members:"+channelID).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0), "The membership set should carry a TTL")

		members, err := tracker.Members(ctx, channelID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"sub-a", "sub-b"}, members)

		// Act 2: detach one subscriber.
		require.NoError(t, tracker.Detach(ctx, channelID, "sub-a"))

		// Assert 2
		members, err = tracker.Members(ctx, channelID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"sub-b"}, members)
	})

	t.Run("Unknown channel has no members", func(t *testing.T) {
		members, err := tracker.Members(ctx, "itest-nowhere")
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}
