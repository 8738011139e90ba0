package wsconn

import (
	"context"
	"errors"
	"sync"
	"time"
)

type FrameType uint8

const (
	FrameText FrameType = iota + 1
	FrameBinary
	FramePing
	FramePong
	FrameClose
)

func (t FrameType) String() string {
	switch t {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

// Frame 读到的一帧。
// ping 由实现当场回 pong，FramePing/FramePong 交给上层只用来记活跃时间。
type Frame struct {
	Type        FrameType
	Data        []byte
	CloseCode   int
	CloseReason string
}

// Conn 一条消息分帧的双工连接。
// 实现内部有自己的读 goroutine，控制帧不依赖上层调用 Read 才被处理。
// Read 只能在一个 goroutine 里调用；WriteText 只能有一个写者；
// WritePing、WriteClose、Close 可以和其它方法并发。
type Conn interface {
	Read(ctx context.Context) (Frame, error)
	WriteText(ctx context.Context, data []byte) error
	// WritePing 不等 pong，pong 到达后以 FramePong 从 Read 交出
	WritePing(ctx context.Context, data []byte) error
	// WriteClose 发送正常关闭帧，尽力而为
	WriteClose(ctx context.Context) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Options 两种实现共用的参数
type Options struct {
	ReadLimit    int64
	WriteTimeout time.Duration
	// PongWait 等一次 pong 的上限，超时只丢弃这次 ping，连接死活由上层的空闲超时判定
	PongWait     time.Duration
	Header       map[string][]string
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 30 * time.Second
	}
	return o
}

var ErrUnknownTransport = errors.New("unknown transport")

const (
	TransportGorilla = "gorilla"
	TransportCoder   = "coder"
)

// NewDialer 按名字选实现，空串用 gorilla
func NewDialer(name string, opts Options) (Dialer, error) {
	switch name {
	case "", TransportGorilla:
		return NewGorillaDialer(opts), nil
	case TransportCoder:
		return NewCoderDialer(opts), nil
	default:
		return nil, ErrUnknownTransport
	}
}

func deadline(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(fallback)
}

const inboxSize = 64

// inbox 读 goroutine 和 Read 之间的缓冲。
// 读 goroutine 先把帧全部放进 ch 再 end，所以 Read 总能先拿完帧再拿到错误。
type inbox struct {
	ch     chan Frame
	ended  chan struct{}
	closed chan struct{}
	err    error
	once   sync.Once
}

func newInbox() *inbox {
	return &inbox{
		ch:     make(chan Frame, inboxSize),
		ended:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// put 读 goroutine 调用，满了就等；连接已关闭返回 false
func (b *inbox) put(f Frame) bool {
	select {
	case b.ch <- f:
		return true
	case <-b.closed:
		return false
	}
}

// offer 非读 goroutine 调用，满了直接丢，反正有数据帧在流动
func (b *inbox) offer(f Frame) {
	select {
	case b.ch <- f:
	default:
	}
}

func (b *inbox) end(err error) {
	b.err = err
	close(b.ended)
}

func (b *inbox) shut() { b.once.Do(func() { close(b.closed) }) }

func (b *inbox) read(ctx context.Context) (Frame, error) {
	select {
	case f := <-b.ch:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-b.ended:
		select {
		case f := <-b.ch:
			return f, nil
		default:
			return Frame{}, b.err
		}
	}
}
