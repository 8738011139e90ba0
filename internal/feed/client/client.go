package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"marketstream.com/internal/feed/protocol"
	"marketstream.com/internal/feed/wsconn"
	"marketstream.com/pkg/logger"
	"marketstream.com/pkg/ratelimit"
	"marketstream.com/pkg/safe"
	"marketstream.com/pkg/xerr"
)

const (
	authPollInterval = 10 * time.Millisecond
	tracerName       = "marketstream.com/internal/feed/client"
)

// Client 行情 websocket 客户端，可以多次 Connect，每次得到独立的一条流
type Client struct {
	cfg     Config
	dialer  wsconn.Dialer
	metrics Metrics
	tracer  trace.Tracer
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithDialer 替换传输实现（测试里注入假连接）
func WithDialer(d wsconn.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithMetrics(m Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:     cfg,
		metrics: NopMetrics{},
		tracer:  otel.Tracer(tracerName),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		d, err := wsconn.NewDialer(cfg.Transport, cfg.wsOptions())
		if err != nil {
			return nil, xerr.Wrapf(err, xerr.InvalidConfig, "new", "transport %q", cfg.Transport)
		}
		c.dialer = d
	}
	return c, nil
}

func (c *Client) Config() Config { return c.cfg }

// Connect 拨号、鉴权，成功后返回命令句柄和事件流。
// 失败时不返回事件流，已启动的协议循环会被回收。
// 开启重连时返回的句柄和事件流在断线重连后继续可用
func (c *Client) Connect(ctx context.Context) (*Handle, *EventStream, error) {
	url := c.cfg.BuildURL()
	ctx, span := c.tracer.Start(ctx, "feed.connect", trace.WithAttributes(
		attribute.String("feed.url", url),
		attribute.String("feed.market", string(c.cfg.Market)),
		attribute.Bool("feed.reconnect", c.cfg.Reconnect.Enabled),
	))
	defer span.End()

	supervised := c.cfg.Reconnect.Enabled
	env := &loopEnv{
		cfg:        c.cfg,
		stream:     newEventStream(c.cfg.Dispatch),
		watch:      newStateWatch(StateConnecting),
		counters:   &counters{},
		metrics:    c.metrics,
		sampler:    ratelimit.Every(5*time.Second, 1),
		ownsStream: !supervised,
	}

	s, err := c.establish(ctx, env)
	if err != nil {
		env.watch.set(StateDisconnected)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	span.SetAttributes(attribute.String("feed.conn_id", s.id))

	h := &Handle{env: env}
	h.cur.Store(s)
	if supervised {
		supCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
		h.stop = stop
		sv := &supervisor{client: c, handle: h, env: env, ctx: supCtx}
		safe.GoCtx(supCtx, func(context.Context) { sv.run(s) })
	}
	return h, env.stream, nil
}

// establish 建立一条物理连接，直到鉴权成功才返回
func (c *Client) establish(ctx context.Context, env *loopEnv) (*session, error) {
	id := uuid.NewString()
	ctx = logger.WithConnID(ctx, id)
	url := c.cfg.BuildURL()
	env.watch.set(StateConnecting)

	dialCtx, cancelDial := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	conn, err := c.dialer.Dial(dialCtx, url)
	cancelDial()
	if err != nil {
		logger.Warn(ctx, "feed dial failed", zap.String("url", url), zap.Error(err))
		return nil, xerr.Wrap(err, xerr.ConnectionError, "dial")
	}

	payload, err := protocol.EncodeAuth(c.cfg.APIKey.Expose())
	if err != nil {
		_ = conn.Close()
		return nil, xerr.Wrap(err, xerr.ConnectionError, "auth")
	}
	if err := conn.WriteText(ctx, payload); err != nil {
		_ = conn.Close()
		return nil, xerr.Wrap(err, xerr.ConnectionError, "auth")
	}
	env.watch.set(StateAuthenticating)
	env.metrics.ConnOpened()
	logger.Info(ctx, "feed connected, waiting for auth", zap.String("url", url))

	// 循环的生命周期不跟随 Connect 的 ctx，只保留其中的 conn_id / trace
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		id:     id,
		ctx:    loopCtx,
		cancel: cancel,
		conn:   conn,
		cmds:   make(chan command, cmdQueueSize),
		state:  newSessionState(),
		opened: time.Now(),
		done:   make(chan struct{}),
	}
	l := &loop{env: env, s: s, frames: make(chan readResult)}
	safe.GoCtx(loopCtx, func(context.Context) { l.run() })

	if err := c.awaitAuth(ctx, s); err != nil {
		s.cancel()
		<-s.done
		return nil, err
	}
	return s, nil
}

func (c *Client) awaitAuth(ctx context.Context, s *session) error {
	timer := time.NewTimer(c.cfg.AuthTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(authPollInterval)
	defer ticker.Stop()

	for {
		if s.state.IsAuthenticated() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-s.done:
			if s.state.IsAuthenticated() {
				// 鉴权后立刻断开：交给事件流/监督器处理
				return nil
			}
			if xerr.CodeOf(s.err) == xerr.AuthFailed {
				return s.err
			}
			err := s.err
			if err == nil {
				err = ErrClosed
			}
			return xerr.Wrapf(err, xerr.ConnectionError, "connect", "connection lost before auth")
		case <-timer.C:
			return xerr.Wrapf(ErrTimeout, xerr.AuthFailed, "connect", "no auth_success within %s", c.cfg.AuthTimeout)
		case <-ctx.Done():
			return xerr.Wrap(ctx.Err(), xerr.ConnectionError, "connect")
		}
	}
}

// isAuthTimeout 鉴权超时和被拒绝同属 AuthFailed，但超时值得重试
func isAuthTimeout(err error) bool {
	return xerr.CodeOf(err) == xerr.AuthFailed && errors.Is(err, ErrTimeout)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) String() string {
	return fmt.Sprintf("Client(%s, transport=%s)", c.cfg.BuildURL(), c.cfg.Transport)
}
