package lib

import (
	"context"
	"fmt"
	"log"
	"rentals/src/types"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("[redis] Error parsing connection string: %s\n", err.Error())
		return nil, err
	}
	return redis.NewClient(opt), nil
}

const unlockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLocker hands out expiring locks shared by every instance. It backs
// the scheduler's distributed locker and the per-owner payout lock.
type RedisLocker struct {
	client   redis.Cmdable
	prefix   string
	ttl      time.Duration
	newToken func() string
}

func NewRedisLocker(client redis.Cmdable, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		newToken: uuid.NewString,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	k := l.prefix + key
	token := l.newToken()
	ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", k, err)
	}
	if !ok {
		return nil, types.ErrLockNotAcquired
	}
	return &redisLock{client: l.client, key: k, token: token}, nil
}

type redisLock struct {
	client redis.Cmdable
	key    string
	token  string
}

func (r *redisLock) Unlock(ctx context.Context) error {
	n, err := r.client.Eval(ctx, unlockScript, []string{r.key}, r.token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		log.Printf("[redis] Lock %s expired before release\n", r.key)
	}
	return nil
}

// LocalLocker serializes work inside a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]bool{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, types.ErrLockNotAcquired
	}
	l.held[key] = true
	return &localLock{owner: l, key: key}, nil
}

type localLock struct {
	owner *LocalLocker
	key   string
}

func (l *localLock) Unlock(ctx context.Context) error {
	l.owner.mu.Lock()
	defer l.owner.mu.Unlock()
	delete(l.owner.held, l.key)
	return nil
}
