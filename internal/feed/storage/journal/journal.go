package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"marketstream.com/internal/feed/event"
	"marketstream.com/pkg/logger"
	"marketstream.com/pkg/safe"
	"marketstream.com/pkg/wal"
)

// 每条记录：收到时间 unix nano(8) + 事件 JSON 数组，和线上收到的格式一致
const tsSize = 8

var ErrShortRecord = errors.New("journal: record shorter than timestamp")

type Config struct {
	Path          string        `mapstructure:"path" yaml:"path"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	Fsync         bool          `mapstructure:"fsync" yaml:"fsync"` // 定时刷盘时是否 fsync
}

func (c Config) Enabled() bool { return c.Path != "" }

// Sink 把收到的批次原样落盘，之后可以 Replay 重放
type Sink struct {
	w     *wal.Writer
	fsync bool

	stop     chan struct{}
	stopOnce sync.Once
	flushed  chan struct{}

	records atomic.Uint64
	events  atomic.Uint64
}

func New(cfg Config) (*Sink, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	w, err := wal.OpenWrite(cfg.Path, 0)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", cfg.Path, err)
	}
	s := &Sink{
		w:       w,
		fsync:   cfg.Fsync,
		stop:    make(chan struct{}),
		flushed: make(chan struct{}),
	}
	safe.Go(func() { s.flushLoop(cfg.FlushInterval) })
	logger.Info(context.Background(), "journal sink ready",
		zap.String("path", cfg.Path), zap.Int64("offset", w.Offset()))
	return s, nil
}

func (s *Sink) flushLoop(every time.Duration) {
	defer close(s.flushed)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if err := s.w.Flush(s.fsync); err != nil && !errors.Is(err, wal.ErrWriterClosed) {
				logger.Warn(context.Background(), "journal flush failed", zap.Error(err))
			}
		}
	}
}

func (s *Sink) Name() string { return "journal" }

func (s *Sink) Write(_ context.Context, b event.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	payload, err := Encode(b)
	if err != nil {
		return err
	}
	if _, err := s.w.Append(payload); err != nil {
		return err
	}
	s.records.Add(1)
	s.events.Add(uint64(b.Len()))
	return nil
}

func (s *Sink) Records() uint64 { return s.records.Load() }
func (s *Sink) Events() uint64  { return s.events.Load() }

// Close 停掉定时刷盘并关闭文件，可重复调用
func (s *Sink) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.flushed
	return s.w.Close()
}

// Encode 一批事件编成一条记录
func Encode(b event.Batch) ([]byte, error) {
	out := make([]byte, tsSize, tsSize+64*b.Len())
	binary.LittleEndian.PutUint64(out, uint64(b.ReceivedAt.UnixNano()))
	out = append(out, '[')
	for i, e := range b.Events {
		raw, err := event.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("journal: encode %s: %w", e.Kind(), err)
		}
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, raw...)
	}
	return append(out, ']'), nil
}

func Decode(payload []byte) (event.Batch, error) {
	if len(payload) < tsSize {
		return event.Batch{}, ErrShortRecord
	}
	ts := int64(binary.LittleEndian.Uint64(payload[:tsSize]))
	evs, err := event.Parse(payload[tsSize:])
	if err != nil {
		return event.Batch{}, err
	}
	return event.Batch{Events: evs, ReceivedAt: time.Unix(0, ts)}, nil
}

// Replay 按写入顺序重放；尾部半条记录（崩溃时写了一半）忽略
func Replay(path string, fn func(event.Batch) error) (int, error) {
	st, err := wal.Replay(path, wal.ReplayOptions{AllowTruncatedTail: true}, func(payload []byte) error {
		b, err := Decode(payload)
		if err != nil {
			return err
		}
		return fn(b)
	})
	return st.Records, err
}
