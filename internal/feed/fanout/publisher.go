package fanout

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"marketstream.com/internal/feed/event"
	"marketstream.com/pkg/logger"
	"marketstream.com/pkg/ratelimit"
)

var ErrBrokerClosed = errors.New("broker closed")

const DefaultPrefix = "md"

// Publisher 把行情事件按 subject 发布到 Broker：
//
//	{prefix}.{kind}.{symbol}   例如 md.T.AAPL、md.XT.BTC-USD
//	{prefix}.status            状态消息没有 symbol
type Publisher struct {
	broker Broker
	prefix string
	warn   *ratelimit.Store

	published atomic.Uint64
	failed    atomic.Uint64
}

func NewPublisher(b Broker, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{
		broker: b,
		prefix: prefix,
		warn:   ratelimit.Every(5*time.Second, 1),
	}
}

func (p *Publisher) Name() string { return "fanout" }

// Write 发布一批事件，单条失败不影响其余；返回第一个错误
func (p *Publisher) Write(ctx context.Context, b event.Batch) error {
	var first error
	for _, e := range b.Events {
		payload, err := event.Marshal(e)
		if err == nil {
			err = p.broker.Publish(ctx, Subject(p.prefix, e), payload)
		}
		if err != nil {
			p.failed.Add(1)
			if first == nil {
				first = err
			}
			continue
		}
		p.published.Add(1)
	}
	if first != nil && p.warn.Allow("publish") {
		logger.Warn(ctx, "fanout publish failed",
			zap.Error(first),
			zap.Uint64("failed_total", p.failed.Load()),
		)
	}
	return first
}

func (p *Publisher) Published() uint64 { return p.published.Load() }
func (p *Publisher) Failed() uint64    { return p.failed.Load() }

func (p *Publisher) Close() error { return p.broker.Close() }

// Subject 事件对应的 subject，symbol 里的 . * > 和空白替换成 _
func Subject(prefix string, e event.Event) string {
	kind := sanitize(string(e.Kind()))
	if kind == "" {
		kind = "unknown"
	}
	sym := event.SymbolOf(e)
	if sym == "" {
		return prefix + "." + kind
	}
	return prefix + "." + kind + "." + sanitize(sym)
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func sanitize(s string) string { return subjectReplacer.Replace(s) }
