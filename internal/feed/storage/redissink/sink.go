package redissink

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketstream.com/internal/feed/event"
	"marketstream.com/pkg/breaker"
	"marketstream.com/pkg/logger"
	"marketstream.com/pkg/ratelimit"
	"marketstream.com/pkg/safe"
	"marketstream.com/pkg/xredis"
)

const breakerName = "redis"

type Config struct {
	Redis     xredis.Config `mapstructure:",squash" yaml:",inline"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// LeaderKey 非空时多副本只有持锁者写
	LeaderKey string        `mapstructure:"leader_key" yaml:"leader_key"`
	LeaderTTL time.Duration `mapstructure:"leader_ttl" yaml:"leader_ttl"`
}

func (c Config) Enabled() bool { return c.Redis.Addr != "" }

// Entry 一个 key 上的最新值
type Entry struct {
	Key    string
	Fields map[string]any
}

// Sink 最新价缓存：每个 symbol 一个 hash，key = {prefix}:{kind}:{symbol}
type Sink struct {
	rdb    redis.Cmdable
	cb     *breaker.Manager
	prefix string
	ttl    time.Duration
	lock   *xredis.LeaderLock
	leader atomic.Bool
	warn   *ratelimit.Store

	written atomic.Uint64
	dropped atomic.Uint64
}

func New(rdb redis.Cmdable, cfg Config, cb *breaker.Manager) *Sink {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "md:last"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cb == nil {
		cb = breaker.NewManager(breaker.Rule{IsSuccessful: breakerSuccess}, nil)
	}
	s := &Sink{
		rdb:    rdb,
		cb:     cb,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		warn:   ratelimit.Every(10*time.Second, 1),
	}
	if cfg.LeaderKey != "" {
		ttl := cfg.LeaderTTL
		if ttl <= 0 {
			ttl = 15 * time.Second
		}
		s.lock = xredis.NewLeaderLock(rdb, cfg.LeaderKey, ttl)
	} else {
		s.leader.Store(true)
	}
	return s
}

// breakerSuccess 只有连接层面的错误计入熔断
func breakerSuccess(err error) bool {
	return !xredis.IsConnError(err)
}

func (s *Sink) Name() string { return "redis" }

// RunLeader 定期抢锁/续期，ctx 结束后释放
func (s *Sink) RunLeader(ctx context.Context, every time.Duration) {
	if s.lock == nil {
		return
	}
	if every <= 0 {
		every = 5 * time.Second
	}
	safe.GoCtx(ctx, func(ctx context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			ok, err := s.lock.TryAcquire(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn(ctx, "redis leader lock failed", zap.Error(err))
			}
			if was := s.leader.Swap(ok); was != ok {
				logger.Info(ctx, "redis sink leadership changed", zap.Bool("leader", ok), zap.String("id", s.lock.ID()))
			}
			select {
			case <-ctx.Done():
				s.leader.Store(false)
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
				_ = s.lock.Release(releaseCtx)
				cancel()
				return
			case <-t.C:
			}
		}
	})
}

func (s *Sink) IsLeader() bool { return s.leader.Load() }

// Write 一批事件合并成每个 key 一次 HSET，用一个 pipeline 写完
func (s *Sink) Write(ctx context.Context, b event.Batch) error {
	if !s.leader.Load() {
		return nil
	}
	entries := Entries(s.prefix, b)
	if len(entries) == 0 {
		return nil
	}

	err := s.cb.Do(ctx, breakerName, func(ctx context.Context) error {
		_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
			for _, e := range entries {
				p.HSet(ctx, e.Key, e.Fields)
				p.Expire(ctx, e.Key, s.ttl)
			}
			return nil
		})
		return err
	})
	if errors.Is(err, breaker.ErrOpen) {
		// 熔断中直接丢，行情缓存只要最新值
		s.dropped.Add(uint64(len(entries)))
		if s.warn.Allow("open") {
			logger.Warn(ctx, "redis breaker open, dropping cache updates", zap.Uint64("dropped_total", s.dropped.Load()))
		}
		return nil
	}
	if err != nil {
		return err
	}
	s.written.Add(uint64(len(entries)))
	return nil
}

func (s *Sink) Written() uint64 { return s.written.Load() }
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

func (s *Sink) Close() error { return nil }

// Last 读某个 symbol 的最新值；没有缓存返回空 map
func (s *Sink) Last(ctx context.Context, kind event.Kind, symbol string) (map[string]string, error) {
	var out map[string]string
	err := s.cb.Do(ctx, breakerName, func(ctx context.Context) error {
		var err error
		out, err = s.rdb.HGetAll(ctx, Key(s.prefix, kind, symbol)).Result()
		return err
	})
	return out, err
}

// Entries 同一批内同一 key 只保留最后一条
func Entries(prefix string, b event.Batch) []Entry {
	idx := make(map[string]int, len(b.Events))
	out := make([]Entry, 0, len(b.Events))
	for _, e := range b.Events {
		fields := fieldsOf(e)
		if fields == nil {
			continue
		}
		fields["recv"] = b.ReceivedAt.UnixMilli()
		key := Key(prefix, e.Kind(), event.SymbolOf(e))
		if i, ok := idx[key]; ok {
			out[i].Fields = fields
			continue
		}
		idx[key] = len(out)
		out = append(out, Entry{Key: key, Fields: fields})
	}
	return out
}

func fieldsOf(e event.Event) map[string]any {
	switch v := e.(type) {
	case event.Trade:
		return map[string]any{"p": v.Price, "s": v.Size, "t": v.Timestamp, "x": v.Exchange}
	case event.Quote:
		return map[string]any{"bp": v.BidPrice, "bs": v.BidSize, "ap": v.AskPrice, "as": v.AskSize, "t": v.Timestamp}
	case event.SecondAggregate:
		return aggFields(v.Aggregate)
	case event.MinuteAggregate:
		return aggFields(v.Aggregate)
	case event.CryptoTrade:
		return map[string]any{"p": v.Price, "s": v.Size, "t": v.Timestamp, "x": v.Exchange}
	case event.CryptoQuote:
		return map[string]any{"bp": v.BidPrice, "bs": v.BidSize, "ap": v.AskPrice, "as": v.AskSize, "t": v.Timestamp}
	case event.ForexQuote:
		return map[string]any{"bp": v.Bid, "ap": v.Ask, "t": v.Timestamp}
	case event.IndexValue:
		return map[string]any{"val": v.Value, "t": v.Timestamp}
	case event.FairMarketValue:
		return map[string]any{"fmv": v.FMV, "t": v.Timestamp}
	case event.LimitUpDown:
		return map[string]any{"high": v.HighPrice, "low": v.LowPrice, "t": v.Timestamp}
	default:
		return nil
	}
}

func aggFields(a event.Aggregate) map[string]any {
	return map[string]any{
		"o": a.Open, "h": a.High, "l": a.Low, "c": a.Close,
		"v": a.Volume, "vw": a.VWAP, "s": a.Start, "e": a.End,
	}
}

// Key 查询用
func Key(prefix string, kind event.Kind, symbol string) string {
	return prefix + ":" + string(kind) + ":" + symbol
}
