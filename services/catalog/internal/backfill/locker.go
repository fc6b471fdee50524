package backfill

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guards the job across processes. The in-process mutex already
// covers a single instance; a Locker is only needed when several run.
type Locker interface {
	TryLock(ctx context.Context, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context) error
}

const redisLockKey = "catalog:backfill:lock"

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a SET NX lock with a TTL so a crashed holder cannot wedge
// the job forever.
type RedisLocker struct {
	client *redis.Client
	key    string
	token  string
}

// NewRedisLocker accepts a redis:// URL or a bare host:port.
func NewRedisLocker(dsn string) *RedisLocker {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		opts = &redis.Options{Addr: dsn}
	}
	return NewRedisLockerClient(redis.NewClient(opts))
}

func NewRedisLockerClient(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, key: redisLockKey, token: uuid.NewString()}
}

func (l *RedisLocker) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, ttl).Result()
}

func (l *RedisLocker) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}

func (l *RedisLocker) Close() error { return l.client.Close() }
