package influxsink

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"marketstream.com/internal/feed/event"
	"marketstream.com/pkg/logger"
	"marketstream.com/pkg/safe"
)

type Config struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Token  string `mapstructure:"token" yaml:"token"`
	Org    string `mapstructure:"org" yaml:"org"`
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// 写入优化项
	BatchSize     uint          `mapstructure:"batch_size" yaml:"batch_size"`         // 建议从 1000~5000 起步
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"` // 例如 1s
	UseGzip       bool          `mapstructure:"use_gzip" yaml:"use_gzip"`
}

func (cfg Config) Enabled() bool { return cfg.URL != "" }

// Sink 异步批量写 InfluxDB：成交、报价、K 线
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPI

	points  atomic.Uint64
	skipped atomic.Uint64
	errors  atomic.Uint64
}

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())).
		SetUseGZip(cfg.UseGzip)

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	s := &Sink{client: c, write: c.WriteAPI(cfg.Org, cfg.Bucket)}

	// 必须消费 Errors()，否则异步写入会阻塞
	errs := s.write.Errors()
	safe.Go(func() {
		for err := range errs {
			if s.errors.Add(1)%100 == 1 {
				logger.Warn(context.Background(), "influx write failed",
					zap.Error(err),
					zap.Uint64("errors_total", s.errors.Load()),
				)
			}
		}
	})
	logger.Info(context.Background(), "influx sink ready", zap.Stringer("config", cfg))
	return s
}

func (s *Sink) Name() string { return "influx" }

// Write 非阻塞：点进入客户端缓冲，按批次/间隔刷盘
func (s *Sink) Write(_ context.Context, b event.Batch) error {
	for _, e := range b.Events {
		p := Point(e, b.ReceivedAt)
		if p == nil {
			s.skipped.Add(1)
			continue
		}
		s.write.WritePoint(p)
		s.points.Add(1)
	}
	return nil
}

func (s *Sink) Points() uint64 { return s.points.Load() }

// Close 会 flush 缓冲
func (s *Sink) Close() error {
	s.write.Flush()
	s.client.Close()
	return nil
}

// Point 事件转 line protocol 点；不落库的事件类型返回 nil。
// 事件自带时间戳时用事件时间，否则用接收时间
func Point(e event.Event, received time.Time) *write.Point {
	switch v := e.(type) {
	case event.Trade:
		return write.NewPoint("trades",
			map[string]string{"symbol": v.Symbol, "exchange": strconv.Itoa(v.Exchange)},
			map[string]any{
				"price":    v.Price,
				"size":     v.Size,
				"notional": v.Notional().InexactFloat64(),
				"seq":      v.Sequence,
			},
			tsOr(v.Timestamp, received))
	case event.Quote:
		return write.NewPoint("quotes",
			map[string]string{"symbol": v.Symbol},
			map[string]any{
				"bid":      v.BidPrice,
				"bid_size": v.BidSize,
				"ask":      v.AskPrice,
				"ask_size": v.AskSize,
				"spread":   v.Spread(),
			},
			tsOr(v.Timestamp, received))
	case event.SecondAggregate:
		return bar(v.Aggregate, "1s", received)
	case event.MinuteAggregate:
		return bar(v.Aggregate, "1m", received)
	case event.CryptoTrade:
		return write.NewPoint("trades",
			map[string]string{"symbol": v.Pair, "exchange": strconv.Itoa(v.Exchange)},
			map[string]any{"price": v.Price, "size": v.Size, "notional": v.Value()},
			tsOr(v.Timestamp, received))
	case event.CryptoAggregate:
		return write.NewPoint("kline",
			map[string]string{"symbol": v.Pair, "interval": "1m"},
			map[string]any{"o": v.Open, "h": v.High, "l": v.Low, "c": v.Close, "v": v.Volume},
			tsOr(v.Start, received))
	case event.IndexValue:
		return write.NewPoint("index_values",
			map[string]string{"symbol": v.Symbol},
			map[string]any{"value": v.Value},
			tsOr(v.Timestamp, received))
	default:
		return nil
	}
}

// bar measurement：kline；tags：symbol/interval（注意 tag cardinality）
func bar(a event.Aggregate, interval string, received time.Time) *write.Point {
	return write.NewPoint("kline",
		map[string]string{"symbol": a.Symbol, "interval": interval},
		map[string]any{
			"o":  a.Open,
			"h":  a.High,
			"l":  a.Low,
			"c":  a.Close,
			"v":  a.Volume,
			"vw": a.VWAP,
		},
		tsOr(a.Start, received))
}

func tsOr(ms int64, fallback time.Time) time.Time {
	if ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms)
}

func (cfg Config) String() string {
	return fmt.Sprintf("url=%s org=%s bucket=%s batch=%d flush=%s gzip=%v",
		cfg.URL, cfg.Org, cfg.Bucket, cfg.BatchSize, cfg.FlushInterval, cfg.UseGzip)
}
