package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"
)

// CoderDialer 基于 coder/websocket。
// 该库在 Read 内部自动回 pong，所以这条实现不会产出 FramePing。
type CoderDialer struct {
	opts Options
}

func NewCoderDialer(opts Options) *CoderDialer {
	return &CoderDialer{opts: opts.withDefaults()}
}

func (d *CoderDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header(d.opts.Header),
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.SetReadLimit(d.opts.ReadLimit)
	return newCoderConn(c, d.opts), nil
}

// coderConn 库的 Ping 要等并发的 Read 收到 pong 才返回，
// 所以读 goroutine 常驻，Ping 也放到单独的 goroutine 里，不占用写者。
type coderConn struct {
	c       *websocket.Conn
	opts    Options
	in      *inbox
	ctx     context.Context
	cancel  context.CancelFunc
	pinging atomic.Bool
}

func newCoderConn(ws *websocket.Conn, opts Options) *coderConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &coderConn{c: ws, opts: opts, in: newInbox(), ctx: ctx, cancel: cancel}
	go c.readLoop()
	return c
}

func (c *coderConn) readLoop() {
	for {
		typ, data, err := c.c.Read(c.ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				c.in.put(Frame{Type: FrameClose, CloseCode: int(ce.Code), CloseReason: ce.Reason})
			}
			c.in.end(err)
			return
		}
		f := Frame{Type: FrameText, Data: data}
		if typ == websocket.MessageBinary {
			f.Type = FrameBinary
		}
		if !c.in.put(f) {
			c.in.end(net.ErrClosed)
			return
		}
	}
}

func (c *coderConn) Read(ctx context.Context) (Frame, error) { return c.in.read(ctx) }

func (c *coderConn) WriteText(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithDeadline(ctx, deadline(ctx, c.opts.WriteTimeout))
	defer cancel()
	return c.c.Write(ctx, websocket.MessageText, data)
}

// WritePing 同一时间只有一个 ping 在等 pong，上一个没回来就跳过
func (c *coderConn) WritePing(context.Context, []byte) error {
	if !c.pinging.CompareAndSwap(false, true) {
		return nil
	}
	go func() {
		defer c.pinging.Store(false)
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.PongWait)
		defer cancel()
		if err := c.c.Ping(ctx); err == nil {
			c.in.offer(Frame{Type: FramePong})
		}
	}()
	return nil
}

// WriteClose 库的 Close 会等对端回关闭帧，这里用 ctx 限住
func (c *coderConn) WriteClose(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- c.c.Close(websocket.StatusNormalClosure, "") }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *coderConn) Close() error {
	c.in.shut()
	c.cancel()
	return c.c.CloseNow()
}

var _ Dialer = (*CoderDialer)(nil)
var _ Conn = (*coderConn)(nil)
