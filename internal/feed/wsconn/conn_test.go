package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptServer 连上后依次：ping("hi") -> text("hello") -> 读一条客户端消息回显 -> close(1000,"bye")。
// ping 后面紧跟 text，只覆盖帧的顺序；控制帧单独到达的情况见 quietServer。
func scriptServer(t *testing.T, withPing bool) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		deadline := time.Now().Add(time.Second)

		if withPing {
			_ = c.WriteControl(websocket.PingMessage, []byte("hi"), deadline)
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte("hello"))

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		_ = c.WriteMessage(websocket.TextMessage, append([]byte("echo:"), msg...))
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(100 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(t *testing.T, c Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := c.Read(ctx)
	require.NoError(t, err)
	return f
}

func TestGorillaConn_TextAndClose(t *testing.T) {
	url := scriptServer(t, true)
	ctx := context.Background()

	c, err := NewGorillaDialer(Options{}).Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	f := readFrame(t, c)
	assert.Equal(t, FramePing, f.Type)
	assert.Equal(t, []byte("hi"), f.Data)

	f = readFrame(t, c)
	assert.Equal(t, FrameText, f.Type)
	assert.Equal(t, "hello", string(f.Data))

	require.NoError(t, c.WriteText(ctx, []byte("sub")))
	f = readFrame(t, c)
	assert.Equal(t, "echo:sub", string(f.Data))

	f = readFrame(t, c)
	assert.Equal(t, FrameClose, f.Type)
	assert.Equal(t, websocket.CloseNormalClosure, f.CloseCode)
	assert.Equal(t, "bye", f.CloseReason)

	_, err = c.Read(ctx)
	assert.Error(t, err)
}

func TestCoderConn_TextAndClose(t *testing.T) {
	url := scriptServer(t, false)
	ctx := context.Background()

	c, err := NewCoderDialer(Options{}).Dial(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	f := readFrame(t, c)
	assert.Equal(t, FrameText, f.Type)
	assert.Equal(t, "hello", string(f.Data))

	require.NoError(t, c.WriteText(ctx, []byte("sub")))
	f = readFrame(t, c)
	assert.Equal(t, "echo:sub", string(f.Data))

	f = readFrame(t, c)
	assert.Equal(t, FrameClose, f.Type)
	assert.Equal(t, 1000, f.CloseCode)
	assert.Equal(t, "bye", f.CloseReason)
}

func TestNewDialer(t *testing.T) {
	d, err := NewDialer("", Options{})
	require.NoError(t, err)
	assert.IsType(t, &GorillaDialer{}, d)

	d, err = NewDialer(TransportCoder, Options{})
	require.NoError(t, err)
	assert.IsType(t, &CoderDialer{}, d)

	_, err = NewDialer("quic", Options{})
	assert.ErrorIs(t, err, ErrUnknownTransport)
}

func TestDial_Refused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewGorillaDialer(Options{}).Dial(ctx, "ws://127.0.0.1:1/none")
	assert.Error(t, err)
}

var dialers = map[string]func() Dialer{
	TransportGorilla: func() Dialer { return NewGorillaDialer(Options{}) },
	TransportCoder:   func() Dialer { return NewCoderDialer(Options{}) },
}

// quietServer 连上后执行 script，然后一直读直到断开，期间不发任何数据帧。
// 一直读才会让 gorilla 对客户端的 ping 回 pong。
func quietServer(t *testing.T, script func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if script != nil {
			script(ws)
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConn_AnswersServerPingWithoutData(t *testing.T) {
	for name, dialer := range dialers {
		t.Run(name, func(t *testing.T) {
			pong := make(chan string, 1)
			url := quietServer(t, func(ws *websocket.Conn) {
				ws.SetPongHandler(func(data string) error {
					pong <- data
					return nil
				})
				_ = ws.WriteControl(websocket.PingMessage, []byte("hb"), time.Now().Add(time.Second))
			})

			c, err := dialer().Dial(context.Background(), url)
			require.NoError(t, err)
			defer c.Close()

			// 上层不调用 Read 也要回 pong
			select {
			case got := <-pong:
				assert.Equal(t, "hb", got)
			case <-time.After(2 * time.Second):
				t.Fatal("server ping not answered")
			}
		})
	}
}

func TestGorillaConn_SurfacesLonePing(t *testing.T) {
	url := quietServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteControl(websocket.PingMessage, []byte("hb"), time.Now().Add(time.Second))
	})
	c, err := NewGorillaDialer(Options{}).Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	f := readFrame(t, c)
	assert.Equal(t, FramePing, f.Type)
	assert.Equal(t, "hb", string(f.Data))
}

func TestConn_PingSurfacesPongOnQuietConnection(t *testing.T) {
	for name, dialer := range dialers {
		t.Run(name, func(t *testing.T) {
			url := quietServer(t, nil)
			ctx := context.Background()

			c, err := dialer().Dial(ctx, url)
			require.NoError(t, err)
			defer c.Close()

			start := time.Now()
			require.NoError(t, c.WritePing(ctx, nil))
			assert.Less(t, time.Since(start), time.Second, "WritePing 不等 pong")

			f := readFrame(t, c)
			assert.Equal(t, FramePong, f.Type)
		})
	}
}

func TestConn_PingWhileStreaming(t *testing.T) {
	for name, dialer := range dialers {
		t.Run(name, func(t *testing.T) {
			stop := make(chan struct{})
			url := quietServer(t, func(ws *websocket.Conn) {
				go func() {
					for {
						select {
						case <-stop:
							return
						case <-time.After(time.Millisecond):
						}
						if ws.WriteMessage(websocket.TextMessage, []byte("tick")) != nil {
							return
						}
					}
				}()
			})
			defer close(stop)
			ctx := context.Background()

			c, err := dialer().Dial(ctx, url)
			require.NoError(t, err)
			defer c.Close()

			require.Equal(t, FrameText, readFrame(t, c).Type)
			require.NoError(t, c.WritePing(ctx, nil))

			deadline := time.Now().Add(2 * time.Second)
			texts := 0
			for time.Now().Before(deadline) {
				f := readFrame(t, c)
				if f.Type == FramePong {
					return
				}
				texts++
				// 读的同时写者照常能写
				if texts == 10 {
					require.NoError(t, c.WriteText(ctx, []byte("sub")))
				}
			}
			t.Fatal("no pong while data was streaming")
		})
	}
}

func TestCoderConn_WriteCloseBounded(t *testing.T) {
	// 对端收到关闭帧后不回，WriteClose 也要在 ctx 到期时返回
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.SetCloseHandler(func(int, string) error { return nil })
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				time.Sleep(2 * time.Second)
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	c, err := NewCoderDialer(Options{}).Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_ = c.WriteClose(ctx)
	assert.Less(t, time.Since(start), time.Second)
}
