package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"marketstream.com/internal/feed/event"
	"marketstream.com/internal/feed/protocol"
	"marketstream.com/internal/feed/wsconn"
	"marketstream.com/pkg/logger"
	"marketstream.com/pkg/ratelimit"
	"marketstream.com/pkg/safe"
	"marketstream.com/pkg/xerr"
)

const cmdQueueSize = 32

type cmdOp uint8

const (
	opSubscribe cmdOp = iota + 1
	opUnsubscribe
	opClose
)

func (o cmdOp) String() string {
	switch o {
	case opSubscribe:
		return "subscribe"
	case opUnsubscribe:
		return "unsubscribe"
	case opClose:
		return "close"
	default:
		return "unknown"
	}
}

// command 调用方 -> 协议循环。reply 容量为 1，循环回复时不会阻塞
type command struct {
	op     cmdOp
	topics []protocol.Topic
	reply  chan error
}

func newCommand(op cmdOp, topics []protocol.Topic) command {
	return command{op: op, topics: topics, reply: make(chan error, 1)}
}

// phase 协议循环所处阶段
type phase uint32

const (
	phaseAuthenticating phase = iota
	phaseActive
	phaseClosing
	phaseClosed
)

func (p phase) String() string {
	switch p {
	case phaseAuthenticating:
		return "authenticating"
	case phaseActive:
		return "active"
	case phaseClosing:
		return "closing"
	case phaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session 一条物理连接：socket + 协议循环 + 该连接的 SessionState
type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	conn   wsconn.Conn
	cmds   chan command
	state  *SessionState
	phase  atomic.Uint32
	opened time.Time

	done   chan struct{}
	err    error // done 关闭后可读
	reason exitReason
}

func (s *session) Phase() phase { return phase(s.phase.Load()) }

func (s *session) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// request 投递命令并等待唯一的回复。
// 循环已退出返回 ErrClosed；ctx 到期后放弃等待，命令可能仍会被执行
func (s *session) request(ctx context.Context, c command) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.cmds <- c:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-c.reply:
		return err
	case <-s.done:
		// 退出前已回复的以回复为准
		select {
		case err := <-c.reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

type readResult struct {
	frame wsconn.Frame
	err   error
}

// loopEnv 跨连接共享的部分：事件流、统计、状态广播
type loopEnv struct {
	cfg      Config
	stream   *EventStream
	watch    *stateWatch
	counters *counters
	metrics  Metrics
	sampler  *ratelimit.Store
	// ownsStream 为 true 时循环退出即结束事件流；有重连监督器时由监督器负责
	ownsStream bool
}

// loop 协议循环：唯一的写者，唯一修改 SessionState 的地方
type loop struct {
	env    *loopEnv
	s      *session
	frames chan readResult

	lastActivity time.Time
}

func (l *loop) run() {
	s := l.s
	readCtx, stopRead := context.WithCancel(s.ctx)
	safe.GoCtx(readCtx, l.readPump)

	var reason exitReason
	err := safe.Recover(s.ctx, func() error {
		var err error
		reason, err = l.serve(s.ctx)
		return err
	})
	if err != nil && xerr.CodeOf(err) == 0 {
		// 未归类的错误（包括 panic）都按传输错误处理
		err = xerr.Wrap(err, xerr.ConnectionError, "loop")
		reason = exitError
	}

	s.phase.Store(uint32(phaseClosed))
	stopRead()
	_ = s.conn.Close()
	l.drain()

	s.err, s.reason = err, reason
	close(s.done)
	l.env.metrics.ConnClosed(exitLabel(reason, err))

	lg := []zap.Field{zap.Duration("uptime", time.Since(s.opened))}
	if err != nil {
		logger.Warn(s.ctx, "feed connection loop exited", append(lg, zap.Error(err))...)
	} else {
		logger.Info(s.ctx, "feed connection loop exited", lg...)
	}

	if l.env.ownsStream {
		l.env.watch.set(StateDisconnected)
		l.env.stream.finish(terminalError(reason, err))
	}
}

// terminalError 事件流的终止错误：主动关闭、取消、对端正常关闭都算正常结束
func terminalError(reason exitReason, err error) error {
	if reason != exitError || errors.Is(err, ErrDisconnected) {
		return nil
	}
	return err
}

func exitLabel(reason exitReason, err error) string {
	switch reason {
	case exitCloseCalled:
		return "close_called"
	case exitCanceled:
		return "canceled"
	default:
		return xerr.CodeOf(err).String()
	}
}

func (l *loop) readPump(ctx context.Context) {
	for {
		f, err := l.s.conn.Read(ctx)
		select {
		case l.frames <- readResult{frame: f, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil || f.Type == wsconn.FrameClose {
			return
		}
	}
}

// drain 退出前回复排队中的命令，保证每个命令都有且只有一个回复
func (l *loop) drain() {
	for {
		select {
		case c := <-l.s.cmds:
			c.reply <- ErrClosed
		default:
			return
		}
	}
}

func (l *loop) serve(ctx context.Context) (exitReason, error) {
	cfg := l.env.cfg
	l.lastActivity = time.Now()

	var tick <-chan time.Time
	if cfg.PingInterval > 0 {
		t := time.NewTicker(cfg.PingInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			l.s.phase.Store(uint32(phaseClosing))
			l.closeQuietly()
			return exitCanceled, nil

		case r := <-l.frames:
			if r.err != nil {
				if ctx.Err() != nil {
					return exitCanceled, nil
				}
				return exitError, xerr.Wrap(r.err, xerr.ConnectionError, "read")
			}
			if err := l.handleFrame(ctx, r.frame); err != nil {
				return exitError, err
			}

		case c := <-l.s.cmds:
			stop, err := l.handleCommand(ctx, c)
			if err != nil {
				return exitError, err
			}
			if stop {
				return exitCloseCalled, nil
			}

		case now := <-tick:
			if cfg.IdleTimeout > 0 && now.Sub(l.lastActivity) > cfg.IdleTimeout {
				return exitError, xerr.New(xerr.Timeout, fmt.Sprintf("no frame for %s", now.Sub(l.lastActivity).Round(time.Millisecond)))
			}
			err := l.s.conn.WritePing(ctx, nil)
			l.env.metrics.PingSent(err)
			if err != nil {
				return exitError, xerr.Wrap(err, xerr.ConnectionError, "ping")
			}
		}
	}
}

func (l *loop) handleFrame(ctx context.Context, f wsconn.Frame) error {
	now := time.Now()
	l.lastActivity = now

	switch f.Type {
	case wsconn.FrameText:
		return l.handleText(ctx, f.Data, now)
	case wsconn.FramePing:
		// 连接层已经回过 pong
		logger.Debug(ctx, "ping answered")
	case wsconn.FramePong:
		logger.Debug(ctx, "pong received")
	case wsconn.FrameBinary:
		logger.Debug(ctx, "binary frame ignored", zap.Int("size", len(f.Data)))
	case wsconn.FrameClose:
		logger.Info(ctx, "feed closed by server",
			zap.Int("code", f.CloseCode),
			zap.String("reason", f.CloseReason),
		)
		l.s.phase.Store(uint32(phaseClosing))
		l.closeQuietly()
		return xerr.New(xerr.Disconnected, fmt.Sprintf("close code %d %s", f.CloseCode, f.CloseReason))
	}
	return nil
}

func (l *loop) handleText(ctx context.Context, data []byte, now time.Time) error {
	env := l.env
	l.s.state.touch(now)
	env.counters.messages.Add(1)
	env.counters.bytes.Add(uint64(len(data)))
	env.metrics.FrameReceived(len(data))

	events, err := event.Parse(data)
	if err != nil {
		env.counters.parseErrors.Add(1)
		env.metrics.ParseError()
		if env.sampler.Allow("parse_error") {
			logger.Warn(ctx, "drop unparseable message", zap.Error(err))
		}
		return nil
	}
	if len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		st, ok := ev.(event.Status)
		if !ok {
			// 鉴权完成前服务端不该推行情
			if _, unknown := ev.(event.Unknown); !unknown && !l.s.state.IsAuthenticated() {
				return xerr.New(xerr.ProtocolViolation, fmt.Sprintf("%s event before auth_success", ev.Kind()))
			}
			continue
		}
		switch {
		case st.IsAuthSuccess():
			if l.s.state.markAuthenticated() {
				l.s.phase.Store(uint32(phaseActive))
				env.watch.set(StateConnected)
				env.metrics.AuthLatency(now.Sub(l.s.opened))
				logger.Info(ctx, "feed authenticated", zap.Duration("latency", now.Sub(l.s.opened)))
			}
		case st.IsAuthFailed():
			return xerr.Wrapf(nil, xerr.AuthFailed, "auth", "%s", st.Message)
		}
	}

	dropped, err := env.stream.push(event.Batch{Events: events, ReceivedAt: now})
	if dropped > 0 {
		env.counters.dropped.Add(uint64(dropped))
		env.metrics.Dropped(string(env.cfg.Dispatch.Overflow), dropped)
		if env.sampler.Allow("dropped") {
			logger.Warn(ctx, "event channel full, batches dropped",
				zap.String("policy", string(env.cfg.Dispatch.Overflow)),
				zap.Uint64("dropped_total", env.counters.dropped.Load()),
			)
		}
	}
	if err != nil {
		return err
	}
	env.metrics.BatchDelivered(len(events), env.stream.Len())
	return nil
}

// handleCommand stop 为 true 表示调用方要求关闭
func (l *loop) handleCommand(ctx context.Context, c command) (stop bool, err error) {
	if c.op == opClose {
		l.s.phase.Store(uint32(phaseClosing))
		l.closeQuietly()
		c.reply <- nil
		return true, nil
	}

	var payload []byte
	if c.op == opSubscribe {
		payload, err = protocol.EncodeSubscribe(c.topics)
	} else {
		payload, err = protocol.EncodeUnsubscribe(c.topics)
	}
	if err != nil {
		c.reply <- xerr.Wrap(err, xerr.SubscriptionFailed, c.op.String())
		return false, nil
	}

	start := time.Now()
	err = l.s.conn.WriteText(ctx, payload)
	l.env.metrics.ControlWritten(c.op.String(), time.Since(start), err)
	if err != nil {
		c.reply <- xerr.Wrap(err, xerr.SubscriptionFailed, c.op.String())
		// 写失败后 socket 不可再用
		return false, xerr.Wrap(err, xerr.ConnectionError, c.op.String())
	}

	if c.op == opSubscribe {
		l.s.state.subs.add(c.topics)
	} else {
		l.s.state.subs.remove(c.topics)
	}
	logger.Debug(ctx, "control message sent",
		zap.Stringer("op", c.op),
		zap.String("params", protocol.JoinTopics(c.topics)),
	)
	c.reply <- nil
	return false, nil
}

// closeQuietly 尽力发送关闭帧，不等回应
func (l *loop) closeQuietly() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(l.s.ctx), time.Second)
	defer cancel()
	if err := l.s.conn.WriteClose(ctx); err != nil {
		logger.Debug(l.s.ctx, "write close frame failed", zap.Error(err))
	}
}
