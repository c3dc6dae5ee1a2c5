package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ridecore/dispatch/pkg/config"
	"github.com/ridecore/dispatch/pkg/resilience"
)

// releaseScript deletes a lock key only if its current value still matches
// the value the caller originally set it to — the check-and-delete pattern
// the Acceptance Arbiter and Dispatch Pipeline locks rely on so that a
// lock is never released by anyone other than its owner.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// ClientInterface is the subset of Client operations consumed by the
// dispatch core; defined here so tests can substitute a redismock client
// or a hand-rolled fake without depending on *Client directly.
type ClientInterface interface {
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetString(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	MGetStrings(ctx context.Context, keys ...string) ([]string, error)
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) (bool, error)
	Close() error
}

// Client wraps the Redis client with the dispatch core's cache/lock
// primitives (presence cache, distributed locks, geo index).
type Client struct {
	*goredis.Client
	timeouts config.TimeoutConfig
}

// NewRedisClient creates a new Redis client.
func NewRedisClient(cfg *config.RedisConfig) (*Client, error) {
	return NewRedisClientWithTimeouts(cfg, config.TimeoutConfig{})
}

// NewRedisClientWithTimeouts creates a Redis client with explicit
// per-operation timeout overrides.
func NewRedisClientWithTimeouts(cfg *config.RedisConfig, timeouts config.TimeoutConfig) (*Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return &Client{Client: client, timeouts: timeouts}, nil
}

// SetWithExpiration sets a key-value pair with expiration.
func (c *Client) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout())
	defer cancel()
	return c.Set(ctx, key, value, expiration).Err()
}

// GetString gets a string value by key.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout())
	defer cancel()
	return c.Get(ctx, key).Result()
}

// MGetStrings fetches multiple keys in one round trip, returning "" for
// any key that is absent rather than erroring, so the presence cache's
// read path can fall back to the durable store per-driver.
func (c *Client) MGetStrings(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout())
	defer cancel()

	raw, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[i] = s
		}
	}
	return out, nil
}

// Delete deletes a key.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout())
	defer cancel()
	return c.Del(ctx, keys...).Err()
}

// Exists checks if a key exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout())
	defer cancel()
	result, err := c.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// AcquireLock attempts to set key=value with NX semantics and a TTL. It is
// the primitive behind dispatch_lock:{rideId}, ride_lock:{rideId}, and
// user_active_ride:{userId}.
func (c *Client) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout())
	defer cancel()
	return c.SetNX(ctx, key, value, ttl).Result()
}

// ReleaseLock deletes key only if its value still equals value (check-and-
// delete), so a late-firing TTL expiry followed by another owner's
// acquisition is never torn down by the original owner's release call.
func (c *Client) ReleaseLock(ctx context.Context, key, value string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout())
	defer cancel()
	res, err := c.Eval(ctx, releaseScript, []string{key}, value).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Close closes the Redis client.
func (c *Client) Close() error {
	return c.Client.Close()
}

func (c *Client) readTimeout() time.Duration {
	if c.timeouts.RedisReadTimeout > 0 || c.timeouts.RedisOperationTimeout > 0 {
		return c.timeouts.RedisReadTimeoutDuration()
	}
	return config.DefaultRedisReadTimeoutDuration()
}

func (c *Client) writeTimeout() time.Duration {
	if c.timeouts.RedisWriteTimeout > 0 || c.timeouts.RedisOperationTimeout > 0 {
		return c.timeouts.RedisWriteTimeoutDuration()
	}
	return config.DefaultRedisWriteTimeoutDuration()
}

// nonRetryableRedisKeywords are substrings of Redis error messages that
// indicate a programming or auth error rather than a transient fault;
// matched case-insensitively, checked before the conservative default.
var nonRetryableRedisKeywords = []string{
	"wrongtype",
	"err syntax",
	"syntax error",
	"err invalid",
	"noauth",
	"wrongpass",
	"noperm",
	"unknown command",
	"err unknown",
	"execabort",
}

// isRedisRetryable decides whether a Redis error is worth retrying.
// Unknown errors are treated as retryable (conservative: we'd rather
// retry a non-transient error once than give up on a transient one).
func isRedisRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, goredis.Nil) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range nonRetryableRedisKeywords {
		if strings.Contains(msg, kw) {
			return false
		}
	}
	return true
}

// ConservativeRetryConfig is a slow, few-attempts policy for Redis calls
// on the critical path of a user-facing request.
func ConservativeRetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
		RetryableChecker:  isRedisRetryable,
	}
}

// AggressiveRetryConfig retries Redis calls quickly and often, for
// background work (sweeper, presence refresh) where latency budget is
// generous but staleness is not.
func AggressiveRetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    20 * time.Millisecond,
		MaxBackoff:        500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
		RetryableChecker:  isRedisRetryable,
	}
}

// RetryableOperation runs op through resilience.Retry using
// ConservativeRetryConfig, returning a typed result.
func RetryableOperation[T any](ctx context.Context, op func(context.Context) (T, error), name string) (T, error) {
	var zero T
	result, err := resilience.Retry(ctx, ConservativeRetryConfig(), func(ctx context.Context) (interface{}, error) {
		return op(ctx)
	})
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}

var _ ClientInterface = (*Client)(nil)
