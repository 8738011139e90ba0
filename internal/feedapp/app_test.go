package feedapp

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketstream.com/internal/feed/event"
	appConfig "marketstream.com/internal/feedapp/config"
	"marketstream.com/pkg/xerr"
)

// chanSource 用 chan 模拟事件流，关闭后返回 end
type chanSource struct {
	ch  chan event.Batch
	end error
}

func (s *chanSource) Next(ctx context.Context) (event.Batch, error) {
	select {
	case b, ok := <-s.ch:
		if !ok {
			return event.Batch{}, s.end
		}
		return b, nil
	case <-ctx.Done():
		return event.Batch{}, ctx.Err()
	}
}

type recordSink struct {
	name string
	fail bool

	mu   sync.Mutex
	seen []int
}

func (s *recordSink) Name() string { return s.name }
func (s *recordSink) Close() error { return nil }

func (s *recordSink) Write(_ context.Context, b event.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, b.Len())
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func batchOf(n int) event.Batch {
	evs := make([]event.Event, n)
	for i := range evs {
		evs[i] = event.Trade{Symbol: "AAPL", Sequence: int64(i)}
	}
	return event.Batch{Events: evs, ReceivedAt: time.Now()}
}

func TestDispatch_DeliversInOrderToEverySink(t *testing.T) {
	ok := &recordSink{name: "ok"}
	bad := &recordSink{name: "bad", fail: true}
	app := NewWithConfig(appConfig.Default())
	app.sinks = []Sink{ok, bad}

	src := &chanSource{ch: make(chan event.Batch, 3), end: io.EOF}
	src.ch <- batchOf(1)
	src.ch <- batchOf(2)
	src.ch <- batchOf(3)
	close(src.ch)

	err := app.dispatch(context.Background(), src)
	assert.ErrorIs(t, err, errFeedEnded, "没有主动关闭时流结束要让进程退出")
	assert.Equal(t, []int{1, 2, 3}, ok.seen)
	assert.Equal(t, []int{1, 2, 3}, bad.seen, "一个 sink 出错不影响后续批次")
}

func TestDispatch_TerminalError(t *testing.T) {
	app := NewWithConfig(appConfig.Default())
	src := &chanSource{ch: make(chan event.Batch), end: xerr.New(xerr.BackpressureOverflow, "full")}
	close(src.ch)

	err := app.dispatch(context.Background(), src)
	assert.Equal(t, xerr.BackpressureOverflow, xerr.CodeOf(err))
}

func TestDispatch_CleanEndAfterShutdown(t *testing.T) {
	app := NewWithConfig(appConfig.Default())
	src := &chanSource{ch: make(chan event.Batch), end: io.EOF}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- app.dispatch(ctx, src) }()

	cancel()
	// ctx 结束后仍在等流关闭
	select {
	case <-done:
		t.Fatal("dispatch returned before the stream ended")
	case <-time.After(50 * time.Millisecond):
	}
	close(src.ch)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatch did not return")
	}
}
