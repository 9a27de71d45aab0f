package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lunchroulette/server/config"
)

// Limiter decides whether another request fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (bool, error)
	Remaining(ctx context.Context, key string, rule Rule) (int, error)
	Reset(ctx context.Context, key string, rule Rule) error
}

type Rule struct {
	Limit  int
	Window time.Duration
}

// Endpoint names used as rule keys.
const (
	EndpointLogin  = "login"
	EndpointSignup = "signup"
	EndpointAPI    = "api"
)

// RuleFor returns the configured rule for endpoint; unknown endpoints get the API rule.
func RuleFor(endpoint string, cfg *config.RateLimitConfig) Rule {
	switch endpoint {
	case EndpointLogin:
		return Rule{Limit: cfg.LoginPerMinute, Window: time.Minute}
	case EndpointSignup:
		return Rule{Limit: cfg.SignupPerMinute, Window: time.Minute}
	default:
		return Rule{Limit: cfg.APIPerMinute, Window: time.Minute}
	}
}

// FixedWindowLimiter counts requests per key in fixed windows stored in redis.
type FixedWindowLimiter struct {
	client   *redis.Client
	logger   *zap.Logger
	failOpen bool
	now      func() time.Time
}

// NewFixedWindowLimiter builds a limiter. With failOpen set, a redis failure
// lets the request through instead of rejecting it.
func NewFixedWindowLimiter(client *redis.Client, logger *zap.Logger, failOpen bool) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		client:   client,
		logger:   logger,
		failOpen: failOpen,
		now:      time.Now,
	}
}

func (l *FixedWindowLimiter) bucketKey(key string, window time.Duration) string {
	return fmt.Sprintf("ratelimit:%s:%d", key, l.now().UnixNano()/int64(window))
}

func (l *FixedWindowLimiter) Allow(ctx context.Context, key string, rule Rule) (bool, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return true, nil
	}
	bucket := l.bucketKey(key, rule.Window)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, rule.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Error("rate limit check failed", zap.String("key", bucket), zap.Error(err))
		if l.failOpen {
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	if count > int64(rule.Limit) {
		l.logger.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", rule.Limit))
		return false, nil
	}
	return true, nil
}

func (l *FixedWindowLimiter) Remaining(ctx context.Context, key string, rule Rule) (int, error) {
	count, err := l.client.Get(ctx, l.bucketKey(key, rule.Window)).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read rate limit: %w", err)
	}
	return max(rule.Limit-count, 0), nil
}

func (l *FixedWindowLimiter) Reset(ctx context.Context, key string, rule Rule) error {
	if err := l.client.Del(ctx, l.bucketKey(key, rule.Window)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for %s: %w", key, err)
	}
	return nil
}
