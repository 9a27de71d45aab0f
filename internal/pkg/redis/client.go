package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/lunchroulette/server/config"
)

const (
	sessionKeyPrefix    = "session:"
	groupChannelFmt     = "group:%d:messages"
	groupChannelPattern = "group:*:messages"
)

type Client struct {
	client *redis.Client
}

// NewClient dials redis and verifies the connection with a ping.
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Client{client: rdb}, nil
}

// Wrap adapts an existing go-redis client.
func Wrap(rdb *redis.Client) *Client {
	return &Client{client: rdb}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) GetClient() *redis.Client {
	return c.client
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

// GroupChannel is the pub/sub channel carrying new messages of one group.
func GroupChannel(groupID uint) string {
	return fmt.Sprintf(groupChannelFmt, groupID)
}

// ParseGroupChannel extracts the group id from a channel built by GroupChannel.
func ParseGroupChannel(channel string) (uint, bool) {
	var id uint
	if _, err := fmt.Sscanf(channel, groupChannelFmt, &id); err != nil {
		return 0, false
	}
	return id, true
}

func (c *Client) SaveSession(ctx context.Context, sessionID string, userID uint, ttl time.Duration) error {
	if err := c.client.Set(ctx, sessionKey(sessionID), userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SessionUser returns the user bound to sessionID. found is false when the
// session never existed, expired, or was revoked.
func (c *Client) SessionUser(ctx context.Context, sessionID string) (uint, bool, error) {
	val, err := c.client.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load session: %w", err)
	}

	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		// A value we did not write; treat it as absent.
		return 0, false, nil
	}
	return uint(id), true, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (c *Client) PublishGroup(ctx context.Context, groupID uint, payload []byte) error {
	channel := GroupChannel(groupID)
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

// SubscribeGroups subscribes to the message channels of every group.
func (c *Client) SubscribeGroups(ctx context.Context) (*redis.PubSub, error) {
	pubsub := c.client.PSubscribe(ctx, groupChannelPattern)
	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to group channels: %w", err)
	}
	return pubsub, nil
}
