package client

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"marketstream.com/internal/feed/protocol"
)

type topicSet = map[protocol.Topic]struct{}

// Registry 订阅集合。写时复制：只有协议循环写，读方拿快照，不加锁也不阻塞写方
type Registry struct {
	set atomic.Pointer[topicSet]
}

func newRegistry() *Registry {
	r := &Registry{}
	empty := topicSet{}
	r.set.Store(&empty)
	return r
}

// add/remove 幂等：重复添加、删除不存在的都不算错误
func (r *Registry) add(topics []protocol.Topic) {
	cur := *r.set.Load()
	next := make(topicSet, len(cur)+len(topics))
	for t := range cur {
		next[t] = struct{}{}
	}
	for _, t := range topics {
		next[t] = struct{}{}
	}
	r.set.Store(&next)
}

func (r *Registry) remove(topics []protocol.Topic) {
	cur := *r.set.Load()
	next := make(topicSet, len(cur))
	for t := range cur {
		next[t] = struct{}{}
	}
	for _, t := range topics {
		delete(next, t)
	}
	r.set.Store(&next)
}

func (r *Registry) Contains(t protocol.Topic) bool {
	_, ok := (*r.set.Load())[t]
	return ok
}

func (r *Registry) Len() int { return len(*r.set.Load()) }

// Snapshot 排序后的副本
func (r *Registry) Snapshot() []protocol.Topic {
	cur := *r.set.Load()
	out := make([]protocol.Topic, 0, len(cur))
	for t := range cur {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// SessionState 单条连接的共享状态；重连会新建一个
type SessionState struct {
	authenticated atomic.Bool
	subs          *Registry
	lastMessageMs atomic.Int64
}

func newSessionState() *SessionState {
	return &SessionState{subs: newRegistry()}
}

func (s *SessionState) IsAuthenticated() bool { return s.authenticated.Load() }

// markAuthenticated 只会 false -> true，返回本次是否发生了翻转
func (s *SessionState) markAuthenticated() bool {
	return s.authenticated.CompareAndSwap(false, true)
}

func (s *SessionState) Subscriptions() []protocol.Topic { return s.subs.Snapshot() }

func (s *SessionState) Registry() *Registry { return s.subs }

func (s *SessionState) LastMessageTime() time.Time {
	ms := s.lastMessageMs.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *SessionState) touch(now time.Time) { s.lastMessageMs.Store(now.UnixMilli()) }

type ConnectionState uint8

const (
	StateConnecting ConnectionState = iota
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// stateWatch 当前状态 + 变更广播（关闭旧 chan 通知所有等待者）
type stateWatch struct {
	mu      sync.Mutex
	cur     ConnectionState
	changed chan struct{}
}

func newStateWatch(s ConnectionState) *stateWatch {
	return &stateWatch{cur: s, changed: make(chan struct{})}
}

func (w *stateWatch) set(s ConnectionState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == s {
		return
	}
	w.cur = s
	close(w.changed)
	w.changed = make(chan struct{})
}

func (w *stateWatch) get() ConnectionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cur
}

func (w *stateWatch) wait(ctx context.Context, target ConnectionState) error {
	for {
		w.mu.Lock()
		cur, ch := w.cur, w.changed
		w.mu.Unlock()
		if cur == target {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// counters 跨连接累计的统计，重连不清零
type counters struct {
	messages    atomic.Uint64
	bytes       atomic.Uint64
	parseErrors atomic.Uint64
	dropped     atomic.Uint64
	reconnects  atomic.Uint64
}

type Stats struct {
	State             ConnectionState
	MessageCount      uint64
	BytesReceived     uint64
	ParseErrors       uint64
	DroppedBatches    uint64
	ReconnectCount    uint64
	SubscriptionCount int
	LastMessageAge    time.Duration // 还没收到过消息时为 0
}
