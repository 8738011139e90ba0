package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type GorillaDialer struct {
	Dialer *websocket.Dialer
	opts   Options
}

func NewGorillaDialer(opts Options) *GorillaDialer {
	return &GorillaDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
		opts: opts.withDefaults(),
	}
}

func (d *GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, resp, err := d.Dialer.DialContext(ctx, url, http.Header(d.opts.Header))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newGorillaConn(ws, d.opts), nil
}

// gorillaConn 控制帧 handler 在 ReadMessage 内部被调用，
// 所以由专门的读 goroutine 一直读，ping 在 handler 里当场回 pong。
type gorillaConn struct {
	ws   *websocket.Conn
	opts Options
	in   *inbox
}

func newGorillaConn(ws *websocket.Conn, opts Options) *gorillaConn {
	c := &gorillaConn{ws: ws, opts: opts, in: newInbox()}
	ws.SetReadLimit(opts.ReadLimit)
	ws.SetPingHandler(func(appData string) error {
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(opts.WriteTimeout))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			var ne net.Error
			if !errors.As(err, &ne) || !ne.Timeout() {
				return err
			}
		}
		c.in.put(Frame{Type: FramePing, Data: []byte(appData)})
		return nil
	})
	ws.SetPongHandler(func(appData string) error {
		c.in.put(Frame{Type: FramePong, Data: []byte(appData)})
		return nil
	})
	// 默认 close handler 会自己回写 close 帧，这里禁掉，交给上层决定
	ws.SetCloseHandler(func(int, string) error { return nil })
	go c.readLoop()
	return c
}

func (c *gorillaConn) readLoop() {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.in.put(Frame{Type: FrameClose, CloseCode: ce.Code, CloseReason: ce.Text})
			}
			c.in.end(err)
			return
		}
		f := Frame{Type: FrameText, Data: data}
		if typ == websocket.BinaryMessage {
			f.Type = FrameBinary
		}
		if !c.in.put(f) {
			c.in.end(net.ErrClosed)
			return
		}
	}
}

func (c *gorillaConn) Read(ctx context.Context) (Frame, error) { return c.in.read(ctx) }

func (c *gorillaConn) WriteText(ctx context.Context, data []byte) error {
	_ = c.ws.SetWriteDeadline(deadline(ctx, c.opts.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaConn) WritePing(ctx context.Context, data []byte) error {
	return c.ws.WriteControl(websocket.PingMessage, data, deadline(ctx, c.opts.WriteTimeout))
}

func (c *gorillaConn) WriteClose(ctx context.Context) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return c.ws.WriteControl(websocket.CloseMessage, msg, deadline(ctx, c.opts.WriteTimeout))
}

func (c *gorillaConn) Close() error {
	c.in.shut()
	return c.ws.Close()
}

var _ Dialer = (*GorillaDialer)(nil)
var _ Conn = (*gorillaConn)(nil)
