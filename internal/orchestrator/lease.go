package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const leasePrefix = "dealdesk:pipeline:"

// Lease serializes pipeline runs for a deal across processes.
type Lease interface {
	// Acquire takes the lease for key. ok is false when another holder has it.
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	// Extend pushes the expiry out if token still holds the lease.
	Extend(ctx context.Context, key, token string) (bool, error)
	// Release drops the lease if token still holds it.
	Release(ctx context.Context, key, token string) error
	// TTL is the lease expiry.
	TTL() time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLease implements Lease with SET NX PX and token compare-and-delete.
type RedisLease struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLease creates a RedisLease. A non-positive ttl defaults to 15m.
func NewRedisLease(client redis.UniversalClient, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLease{client: client, ttl: ttl}
}

// NewRedisLeaseFromURL parses a redis:// URL and creates a RedisLease.
func NewRedisLeaseFromURL(url string, ttl time.Duration) (*RedisLease, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: parse redis url")
	}
	return NewRedisLease(redis.NewClient(opts), ttl), nil
}

func (l *RedisLease) TTL() time.Duration { return l.ttl }

func (l *RedisLease) Acquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, leasePrefix+key, token, l.ttl).Result()
	if err != nil {
		return "", false, eris.Wrapf(err, "orchestrator: acquire lease %s", key)
	}
	return token, ok, nil
}

func (l *RedisLease) Extend(ctx context.Context, key, token string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{leasePrefix + key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, eris.Wrapf(err, "orchestrator: extend lease %s", key)
	}
	return n == 1, nil
}

func (l *RedisLease) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{leasePrefix + key}, token).Err(); err != nil {
		return eris.Wrapf(err, "orchestrator: release lease %s", key)
	}
	return nil
}

// Close closes the Redis client.
func (l *RedisLease) Close() error {
	return l.client.Close()
}

// hold keeps a lease alive until the returned func is called, which also
// releases it.
func hold(ctx context.Context, l Lease, key, token string) func() {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.TTL() / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := l.Extend(ctx, key, token)
				if err != nil {
					zap.L().Warn("orchestrator: extend lease", zap.String("deal_id", key), zap.Error(err))
					continue
				}
				if !ok {
					zap.L().Warn("orchestrator: lease lost", zap.String("deal_id", key))
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
		if err := l.Release(context.WithoutCancel(ctx), key, token); err != nil {
			zap.L().Warn("orchestrator: release lease", zap.String("deal_id", key), zap.Error(err))
		}
	}
}
