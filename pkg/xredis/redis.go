package xredis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"marketstream.com/pkg/metrics"
	"marketstream.com/pkg/safe"
)

type Config struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// NewRedis 建连并 Ping；失败返回错误，由调用方决定是否降级
func NewRedis(ctx context.Context, c Config) (*redis.Client, error) {
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     c.PoolSize,
		MinIdleConns: 2,
	})
	rdb.AddHook(metricsHook{})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", c.Addr, err)
	}
	return rdb, nil
}

// ReportPoolStats 定期把连接池状态写到 gauge，ctx 结束后退出
func ReportPoolStats(ctx context.Context, rdb *redis.Client, every time.Duration) {
	if every <= 0 {
		every = 15 * time.Second
	}
	safe.GoCtx(ctx, func(ctx context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				st := rdb.PoolStats()
				metrics.RedisPoolTotal.Set(float64(st.TotalConns))
				metrics.RedisPoolIdle.Set(float64(st.IdleConns))
				metrics.RedisPoolHits.Set(float64(st.Hits))
				metrics.RedisPoolMisses.Set(float64(st.Misses))
				metrics.RedisPoolTimeouts.Set(float64(st.Timeouts))
			}
		}
	})
}

// metricsHook 记录每条命令（管道按整体记一次）的耗时和错误
type metricsHook struct{}

func (metricsHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		observe(cmd.Name(), start, err)
		return err
	}
}

func (metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		observe("pipeline", start, err)
		return err
	}
}

func observe(cmd string, start time.Time, err error) {
	status := "ok"
	if err != nil && !errors.Is(err, redis.Nil) {
		status = "error"
		metrics.RedisErrors.WithLabelValues(cmd).Inc()
	}
	metrics.RedisCmdDuration.WithLabelValues(cmd, status).Observe(time.Since(start).Seconds())
}

// IsConnError 连接层面的错误（值得计入熔断）
func IsConnError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded)
}
