package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is used when Config.RedisKey is empty.
const DefaultRedisKey = "cmdrelay:control_password"

// RedisMirror stores the current credential under a key and publishes each
// rotation on a channel of the same name.
type RedisMirror struct {
	client *redis.Client
	key    string
}

var _ CredentialMirror = (*RedisMirror)(nil)

// NewRedisMirror connects and pings Redis, retrying briefly before giving up.
func NewRedisMirror(ctx context.Context, cfg Config) (*RedisMirror, error) {
	key := cfg.RedisKey
	if key == "" {
		key = DefaultRedisKey
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(time.Second),
		backoff.WithMaxElapsedTime(5*time.Second),
	)
	ping := func() error {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return rdb.Ping(pctx).Err()
	}
	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisMirror{client: rdb, key: key}, nil
}

func (r *RedisMirror) Publish(ctx context.Context, credential string) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key, credential, 0)
	pipe.Publish(ctx, r.key, credential)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (r *RedisMirror) Close() error { return r.client.Close() }
