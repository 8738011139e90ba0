package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"marketstream.com/pkg/logger"
	"marketstream.com/pkg/metrics"
)

// ErrOpen 熔断中，调用被直接拒绝
var ErrOpen = errors.New("circuit breaker open")

type Rule struct {
	// Half-Open 状态允许通过的探测请求数
	MaxRequests uint32
	// Closed 状态计数窗口
	Interval time.Duration
	// Open 状态持续时间，到期进入 Half-Open
	Timeout time.Duration

	// 触发熔断条件（满足其一即可）
	TripConsecutiveFailures uint32
	TripFailureRate         float64 // 0~1
	TripMinRequests         uint32  // 失败率计算的最小样本数

	// IsSuccessful 哪些错误不计入失败；nil 时只有 nil 和 context.Canceled 算成功
	IsSuccessful func(err error) bool
}

func (r Rule) withDefaults() Rule {
	if r.MaxRequests == 0 {
		r.MaxRequests = 1
	}
	if r.Timeout <= 0 {
		r.Timeout = 5 * time.Second
	}
	if r.Interval <= 0 {
		r.Interval = 10 * time.Second
	}
	if r.TripConsecutiveFailures == 0 && r.TripFailureRate == 0 {
		r.TripConsecutiveFailures = 5
	}
	if r.TripMinRequests == 0 {
		r.TripMinRequests = 20
	}
	if r.IsSuccessful == nil {
		r.IsSuccessful = defaultIsSuccessful
	}
	return r
}

func defaultIsSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// Manager 按名字懒创建熔断器（每个下游一个）
type Manager struct {
	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[struct{}]

	defaultRule Rule
	rules       map[string]Rule
}

func NewManager(defaultRule Rule, perName map[string]Rule) *Manager {
	return &Manager{
		m:           make(map[string]*gobreaker.CircuitBreaker[struct{}], 8),
		defaultRule: defaultRule.withDefaults(),
		rules:       perName,
	}
}

func (m *Manager) Get(name string) *gobreaker.CircuitBreaker[struct{}] {
	m.mu.RLock()
	cb := m.m[name]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb = m.m[name]; cb != nil {
		return cb
	}

	rule, ok := m.rules[name]
	if ok {
		rule = rule.withDefaults()
	} else {
		rule = m.defaultRule
	}
	cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: rule.MaxRequests,
		Interval:    rule.Interval,
		Timeout:     rule.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				return float64(c.TotalFailures)/float64(c.Requests) >= rule.TripFailureRate
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetCBState(name, to.String())
			logger.Warn(context.Background(), "circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: rule.IsSuccessful,
	})
	metrics.SetCBState(name, gobreaker.StateClosed.String())
	m.m[name] = cb
	return cb
}

// Do 经熔断器执行 fn；熔断拒绝时返回包装了 ErrOpen 的错误
func (m *Manager) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	_, err := m.Get(name).Execute(func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		metrics.CBRejectTotal.WithLabelValues(name, "open").Inc()
		return errors.Join(ErrOpen, err)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CBRejectTotal.WithLabelValues(name, "too_many_requests").Inc()
		return errors.Join(ErrOpen, err)
	}
	return err
}

// State 当前状态名：closed / half-open / open
func (m *Manager) State(name string) string { return m.Get(name).State().String() }
