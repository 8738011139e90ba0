package fanout

import (
	"context"
	"strings"
	"sync"

	"marketstream.com/pkg/safe"
)

const memSubBuffer = 4096

type memSub struct {
	patterns [][]string
	ch       chan Message
}

func (s *memSub) matches(tokens []string) bool {
	for _, p := range s.patterns {
		if matchSubject(p, tokens) {
			return true
		}
	}
	return false
}

// MemBroker 进程内 fanout，at-most-once：慢订阅者直接丢
type MemBroker struct {
	mu     sync.RWMutex
	subs   map[*memSub]struct{}
	closed bool
}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[*memSub]struct{})}
}

func (b *MemBroker) Publish(ctx context.Context, subject string, payload []byte) error {
	tokens := splitSubject(subject)
	msg := Message{Subject: subject, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for s := range b.subs {
		if !s.matches(tokens) {
			continue
		}
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, subjects []string) (<-chan Message, error) {
	s := &memSub{ch: make(chan Message, memSubBuffer)}
	for _, subj := range subjects {
		s.patterns = append(s.patterns, splitSubject(subj))
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	safe.GoCtx(ctx, func(ctx context.Context) {
		<-ctx.Done()
		b.remove(s)
	})
	return s.ch, nil
}

func (b *MemBroker) remove(s *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Close 关闭所有订阅通道
func (b *MemBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
	return nil
}

func splitSubject(s string) []string { return strings.Split(s, ".") }

func matchSubject(pattern, tokens []string) bool {
	for i, p := range pattern {
		if p == ">" {
			return len(tokens) > i
		}
		if i >= len(tokens) {
			return false
		}
		if p != "*" && p != tokens[i] {
			return false
		}
	}
	return len(pattern) == len(tokens)
}
