package xredis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 续期/释放都要先确认锁还是自己的
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// LeaderLock 多副本部署时选出唯一的写者
type LeaderLock struct {
	rdb redis.Cmdable
	key string
	id  string
	ttl time.Duration
}

func NewLeaderLock(rdb redis.Cmdable, key string, ttl time.Duration) *LeaderLock {
	return &LeaderLock{rdb: rdb, key: key, id: uuid.NewString(), ttl: ttl}
}

func (l *LeaderLock) ID() string { return l.id }

// TryAcquire 抢锁或给自己的锁续期；返回当前是否持有
func (l *LeaderLock) TryAcquire(ctx context.Context) (bool, error) {
	got, err := l.rdb.SetNX(ctx, l.key, l.id, l.ttl).Result()
	if err != nil || got {
		return got, err
	}
	n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.id, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *LeaderLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.id).Err()
}
