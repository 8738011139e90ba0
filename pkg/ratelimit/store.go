package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"marketstream.com/pkg/safe"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nano
}

// Store 按 key 分桶的令牌桶。
// 状态服务按客户端 IP 限流；协议循环按告警类型做日志采样（丢批、解析失败）
type Store struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	ttl     time.Duration
}

func NewStore(r rate.Limit, burst int, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Store{
		buckets: make(map[string]*bucket, 64),
		rate:    r,
		burst:   burst,
		ttl:     ttl,
	}
}

// Every 每隔 d 放行一次，突发 burst 次
func Every(d time.Duration, burst int) *Store {
	return NewStore(rate.Every(d), burst, 0)
}

func (s *Store) get(key string) *rate.Limiter {
	now := time.Now().UnixNano()

	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.buckets[key] = b
	}
	s.mu.Unlock()

	b.lastSeen.Store(now)
	return b.limiter
}

// Allow 有令牌返回 true
func (s *Store) Allow(key string) bool { return s.get(key).Allow() }

func (s *Store) Wait(ctx context.Context, key string) error { return s.get(key).Wait(ctx) }

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// StartJanitor 定期回收超过 ttl 没访问的桶，ctx 结束后退出
func (s *Store) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	safe.GoCtx(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.cleanup(now)
			}
		}
	})
}

func (s *Store) cleanup(now time.Time) int {
	cut := now.Add(-s.ttl).UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, b := range s.buckets {
		if b.lastSeen.Load() < cut {
			delete(s.buckets, k)
			n++
		}
	}
	return n
}
