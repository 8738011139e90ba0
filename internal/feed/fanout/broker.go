package fanout

import "context"

type Message struct {
	Subject string
	Payload []byte
}

// Broker 事件总线。单机用内存实现，多机走 NATS
type Broker interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	// Subscribe 支持 NATS 风格通配：* 匹配一段，> 匹配剩余所有段。ctx 结束后通道关闭
	Subscribe(ctx context.Context, subjects []string) (<-chan Message, error)
	Close() error
}
