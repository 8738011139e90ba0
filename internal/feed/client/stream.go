package client

import (
	"context"
	"io"
	"sync"

	"marketstream.com/internal/feed/event"
	"marketstream.com/pkg/xerr"
)

// EventStream 有界事件通道，消费方的唯一出口。
// 结束时通道关闭；之后 Err 返回终止错误（正常结束为 nil）。
type EventStream struct {
	ch     chan event.Batch
	policy OverflowPolicy

	once sync.Once
	done chan struct{}
	err  error
}

func newEventStream(cfg DispatchConfig) *EventStream {
	return &EventStream{
		ch:     make(chan event.Batch, cfg.Capacity),
		policy: cfg.Overflow,
		done:   make(chan struct{}),
	}
}

// C 按到达顺序输出批次；终止后关闭
func (s *EventStream) C() <-chan event.Batch { return s.ch }

// Next 阻塞取下一批；正常结束返回 io.EOF，异常结束返回终止错误
func (s *EventStream) Next(ctx context.Context) (event.Batch, error) {
	select {
	case b, ok := <-s.ch:
		if ok {
			return b, nil
		}
		if s.err != nil {
			return event.Batch{}, s.err
		}
		return event.Batch{}, io.EOF
	case <-ctx.Done():
		return event.Batch{}, ctx.Err()
	}
}

// Err 终止前返回 nil
func (s *EventStream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Done 流终止时关闭
func (s *EventStream) Done() <-chan struct{} { return s.done }

func (s *EventStream) Len() int { return len(s.ch) }
func (s *EventStream) Cap() int { return cap(s.ch) }

// push 非阻塞投递。同一时刻只有一个生产者（当前连接的协议循环），
// 所以 drop_oldest 腾出一个位置后这次发送一定成功。
func (s *EventStream) push(b event.Batch) (dropped int, err error) {
	select {
	case s.ch <- b:
		return 0, nil
	default:
	}

	switch s.policy {
	case DropNewest:
		return 1, nil
	case ErrorAndClose:
		return 0, xerr.New(xerr.BackpressureOverflow, "event channel full")
	default:
		for {
			select {
			case <-s.ch:
				dropped++
			default:
			}
			select {
			case s.ch <- b:
				return dropped, nil
			default:
			}
		}
	}
}

// finish 只在生产者退出后调用一次
func (s *EventStream) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.ch)
		close(s.done)
	})
}
