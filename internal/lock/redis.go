package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisPrefix = "tutor:lock:"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a Locker over SET NX PX with token-checked release. TTL bounds
// how long a crashed holder can block a key.
type Redis struct {
	Client redis.UniversalClient
	TTL    time.Duration
	Wait   time.Duration
	Retry  time.Duration
}

// NewRedis connects to url (redis://...) and verifies the connection.
func NewRedis(ctx context.Context, url string, ttl, wait time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{Client: rdb, TTL: ttl, Wait: wait, Retry: 50 * time.Millisecond}, nil
}

// Lock implements Locker.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := redisPrefix + key
	token := uuid.NewString()

	wctx := ctx
	if r.Wait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, r.Wait)
		defer cancel()
	}
	retry := r.Retry
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	for {
		ok, err := r.Client.SetNX(wctx, k, token, r.TTL).Result()
		if err == nil && ok {
			break
		}
		if err != nil && wctx.Err() == nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		select {
		case <-wctx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, ErrLockTimeout
		case <-time.After(retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release even if the request context is already canceled.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, r.Client, []string{k}, token).Err(); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("release lock")
			}
		})
	}, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error { return r.Client.Close() }
