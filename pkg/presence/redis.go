package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// MembershipTTL bounds how long a channel's membership set may outlive
	// its last attachment change, so sets left behind by a crashed host node
	// eventually disappear. Zero disables the expiry.
	MembershipTTL time.Duration
}

// RedisTracker is a Redis-backed implementation of Tracker for hosts that run
// the transport layer on more than one node. Each channel's attachments live
// in one Redis set.
type RedisTracker struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration
}

// NewRedisTracker creates and connects a new RedisTracker.
func NewRedisTracker(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisTracker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis for presence tracker: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for presence tracking.")

	return &RedisTracker{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisTracker").Logger(),
		ttl:         cfg.MembershipTTL,
	}, nil
}

// Attach adds the subscriber to the channel's membership set and refreshes
// the set's expiry.
func (t *RedisTracker) Attach(ctx context.Context, channelID, subscriberID string) error {
	key := membershipKey(channelID)
	pipe := t.redisClient.TxPipeline()
	pipe.SAdd(ctx, key, subscriberID)
	if t.ttl > 0 {
		pipe.Expire(ctx, key, t.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to attach subscriber %s to channel %s: %w", subscriberID, channelID, err)
	}
	return nil
}

// Detach removes the subscriber from the channel's membership set.
func (t *RedisTracker) Detach(ctx context.Context, channelID, subscriberID string) error {
	if err := t.redisClient.SRem(ctx, membershipKey(channelID), subscriberID).Err(); err != nil {
		return fmt.Errorf("failed to detach subscriber %s from channel %s: %w", subscriberID, channelID, err)
	}
	return nil
}

// Members returns the subscriber IDs attached to the channel.
func (t *RedisTracker) Members(ctx context.Context, channelID string) ([]string, error) {
	members, err := t.redisClient.SMembers(ctx, membershipKey(channelID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read members of channel %s: %w", channelID, err)
	}
	return members, nil
}

// Close closes the Redis client connection.
func (t *RedisTracker) Close() error {
	if t.redisClient != nil {
		return t.redisClient.Close()
	}
	return nil
}

func membershipKey(channelID string) string {
	return "broadcast:members:" + channelID
}
