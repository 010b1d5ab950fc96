package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tartampluch/go-keepintouch/internal/config"
	"github.com/tartampluch/go-keepintouch/internal/engine"
)

// releaseScript deletes the key only if it still holds our token, so a lock that
// expired and was taken by another replica is never released by mistake.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lease-based lock shared by every process using the same server.
// A holder that crashes loses the lock after TTL.
type Redis struct {
	Client redis.UniversalClient
	TTL    time.Duration
	Retry  time.Duration
	Prefix string
}

var _ engine.Locker = (*Redis)(nil)

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{
		Client: client,
		TTL:    config.DefaultLockTTL,
		Retry:  config.LockRetryInterval,
		Prefix: config.LockKeyPrefix,
	}
}

// Dial parses a redis:// URL and checks the server is reachable.
func Dial(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrRedisURL, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", config.ErrAcquireLock, err)
	}
	return client, nil
}

// Lock polls SET NX every Retry until it wins or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.Prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.Client.SetNX(ctx, k, token, r.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.ErrAcquireLock, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.Retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%s: %w", config.ErrAcquireLock, ctx.Err())
		case <-timer.C:
		}
	}

	// The caller's ctx may be cancelled by the time it unlocks.
	releaseCtx := context.WithoutCancel(ctx)
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := releaseScript.Run(releaseCtx, r.Client, []string{k}, token).Err(); err != nil {
				slog.Warn(config.MsgLockReleaseFail,
					config.LogKeyComponent, config.CompLock,
					config.LogKeyKey, k,
					config.LogKeyError, err)
			}
		})
	}, nil
}
