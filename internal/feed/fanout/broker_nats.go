package fanout

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	"marketstream.com/pkg/safe"
)

const natsSubBuffer = 8192

type NatsBroker struct {
	nc *nats.Conn
}

func NewNatsBroker(url string, opts ...nats.Option) (*NatsBroker, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBroker{nc: nc}, nil
}

// NewNatsBrokerFromConn 复用已有连接，Close 时一并关闭
func NewNatsBrokerFromConn(nc *nats.Conn) *NatsBroker { return &NatsBroker{nc: nc} }

func (b *NatsBroker) Publish(ctx context.Context, subject string, payload []byte) error {
	return b.nc.Publish(subject, payload)
}

func (b *NatsBroker) Subscribe(ctx context.Context, subjects []string) (<-chan Message, error) {
	out := make(chan Message, natsSubBuffer)
	subs := make([]*nats.Subscription, 0, len(subjects))
	// 退订后回调仍可能在执行，关闭 out 前要拿锁
	var mu sync.Mutex
	closed := false

	for _, subj := range subjects {
		sub, err := b.nc.Subscribe(subj, func(m *nats.Msg) {
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return
			}
			// 慢消费者直接丢，避免卡住 NATS 回调
			select {
			case out <- Message{Subject: m.Subject, Payload: m.Data}:
			default:
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}

	safe.GoCtx(ctx, func(ctx context.Context) {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	})
	return out, nil
}

// Flush 等服务端确认已收到缓冲中的消息
func (b *NatsBroker) Flush() error { return b.nc.Flush() }

func (b *NatsBroker) Close() error {
	if b.nc == nil {
		return nil
	}
	err := b.nc.Drain()
	b.nc.Close()
	return err
}
