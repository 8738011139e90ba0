package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"marketstream.com/internal/feed/protocol"
	"marketstream.com/pkg/xerr"
)

// Handle 命令句柄，可在多个 goroutine 间共享。
// 重连后指向新的连接，调用方无感知
type Handle struct {
	env *loopEnv
	cur atomic.Pointer[session]

	closed    atomic.Bool
	closeOnce sync.Once
	stop      context.CancelFunc // 停止重连监督器，未开启重连时为 nil
}

func (h *Handle) Subscribe(ctx context.Context, topics ...protocol.Topic) error {
	return h.send(ctx, opSubscribe, topics)
}

func (h *Handle) Unsubscribe(ctx context.Context, topics ...protocol.Topic) error {
	return h.send(ctx, opUnsubscribe, topics)
}

func (h *Handle) send(ctx context.Context, op cmdOp, topics []protocol.Topic) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if len(topics) == 0 {
		return xerr.Wrap(protocol.ErrNoTopics, xerr.SubscriptionFailed, op.String())
	}
	return h.cur.Load().request(ctx, newCommand(op, topics))
}

// Close 尽力关闭，可重复调用；连接已断开也不报错。
// 会等事件流结束，最多等到 ctx 到期
func (h *Handle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		if h.stop != nil {
			h.stop()
		}
		s := h.cur.Load()
		err := s.request(ctx, newCommand(opClose, nil))
		if err != nil && !errors.Is(err, ErrClosed) {
			// 命令没送达（队列满或 ctx 到期），直接取消循环
			s.cancel()
		}
	})

	select {
	case <-h.env.stream.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsAuthenticated 当前连接已鉴权且仍存活
func (h *Handle) IsAuthenticated() bool {
	s := h.cur.Load()
	return s.state.IsAuthenticated() && !s.exited()
}

// Subscriptions 当前订阅的排序快照
func (h *Handle) Subscriptions() []protocol.Topic {
	return h.cur.Load().state.Subscriptions()
}

func (h *Handle) State() ConnectionState { return h.env.watch.get() }

// WaitForState 阻塞直到进入目标状态
func (h *Handle) WaitForState(ctx context.Context, target ConnectionState) error {
	return h.env.watch.wait(ctx, target)
}

func (h *Handle) ConnID() string { return h.cur.Load().id }

func (h *Handle) Stats() Stats {
	s := h.cur.Load()
	c := h.env.counters
	st := Stats{
		State:             h.env.watch.get(),
		MessageCount:      c.messages.Load(),
		BytesReceived:     c.bytes.Load(),
		ParseErrors:       c.parseErrors.Load(),
		DroppedBatches:    c.dropped.Load(),
		ReconnectCount:    c.reconnects.Load(),
		SubscriptionCount: s.state.subs.Len(),
	}
	if last := s.state.LastMessageTime(); !last.IsZero() {
		st.LastMessageAge = time.Since(last)
	}
	return st
}
