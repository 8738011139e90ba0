package client

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"marketstream.com/internal/feed/protocol"
	"marketstream.com/pkg/logger"
	"marketstream.com/pkg/xerr"
)

// errStopped 监督器被 Handle.Close 停止
var errStopped = errors.New("supervisor stopped")

// supervisor 断线重连：等当前连接的循环退出，按退避重新建连并恢复订阅。
// 事件流由它结束，消费方始终只看到一条流
type supervisor struct {
	client *Client
	handle *Handle
	env    *loopEnv
	ctx    context.Context
}

func (sv *supervisor) run(cur *session) {
	for {
		<-cur.done

		if sv.handle.closed.Load() || cur.reason != exitError {
			sv.finish(nil)
			return
		}
		if !xerr.IsRetryable(xerr.CodeOf(cur.err)) {
			logger.Error(cur.ctx, "feed connection failed, not retrying", zap.Error(cur.err))
			sv.finish(cur.err)
			return
		}

		logger.Warn(cur.ctx, "feed connection lost, reconnecting", zap.Error(cur.err))
		next, err := sv.reconnect(cur.state.Subscriptions(), cur.err)
		if errors.Is(err, errStopped) {
			sv.finish(nil)
			return
		}
		if err != nil {
			logger.Error(sv.ctx, "feed reconnect gave up", zap.Error(err))
			sv.finish(err)
			return
		}
		cur = next
	}
}

func (sv *supervisor) reconnect(topics []protocol.Topic, cause error) (*session, error) {
	cfg := sv.env.cfg.Reconnect
	last := cause

	for attempt := 1; ; attempt++ {
		if !cfg.ShouldRetry(attempt) {
			return nil, xerr.Wrapf(last, xerr.ConnectionError, "reconnect", "gave up after %d attempts", attempt-1)
		}
		sv.env.watch.set(StateReconnecting)
		delay := cfg.DelayForAttempt(attempt)
		sv.env.metrics.Reconnect(attempt, delay)
		logger.Info(sv.ctx, "feed reconnect scheduled",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		if err := sv.client.sleep(sv.ctx, delay); err != nil {
			return nil, errStopped
		}

		next, err := sv.client.establish(sv.ctx, sv.env)
		if err != nil {
			if sv.ctx.Err() != nil {
				return nil, errStopped
			}
			if xerr.CodeOf(err) == xerr.AuthFailed && !isAuthTimeout(err) {
				return nil, err
			}
			last = err
			continue
		}

		if len(topics) > 0 {
			if err := next.request(sv.ctx, newCommand(opSubscribe, topics)); err != nil {
				next.cancel()
				<-next.done
				if sv.ctx.Err() != nil {
					return nil, errStopped
				}
				last = err
				continue
			}
		}

		sv.handle.cur.Store(next)
		sv.env.counters.reconnects.Add(1)
		if sv.handle.closed.Load() {
			// Close 发生在切换之前，补发关闭
			next.cancel()
		}
		logger.Info(next.ctx, "feed reconnected",
			zap.Int("attempt", attempt),
			zap.Int("resubscribed", len(topics)),
		)
		return next, nil
	}
}

func (sv *supervisor) finish(err error) {
	sv.env.watch.set(StateDisconnected)
	sv.env.stream.finish(err)
}
