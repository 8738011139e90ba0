package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketstream"

var (
	CBRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of circuit breaker rejections.",
		},
		[]string{"breaker", "reason"}, // reason: open/too_many_requests
	)

	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"breaker", "state"}, // state: closed/open/half-open
	)

	HTTPRateLimitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_ratelimit_block_total",
			Help:      "Requests rejected by the status server rate limiter.",
		},
		[]string{"path"},
	)

	HTTPPanicTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_panic_total",
			Help:      "Handler panics recovered by the status server.",
		},
		[]string{"path"},
	)

	SinkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Batches handed to each sink, partitioned by result.",
		},
		[]string{"sink", "status"},
	)

	SinkWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_write_duration_seconds",
			Help:      "Time spent in a sink write call.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms -> ~3s
		},
		[]string{"sink"},
	)
)

var registerOnce sync.Once

// MustRegister 注册到默认 registry，重复调用无副作用
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(CBRejectTotal, CBState, HTTPRateLimitTotal, HTTPPanicTotal, SinkWritesTotal, SinkWriteDuration)
	})
}

// SetCBState 只有当前状态为 1，其余置 0
func SetCBState(breaker string, current string) {
	for _, s := range []string{"closed", "half-open", "open"} {
		v := 0.0
		if s == current {
			v = 1
		}
		CBState.WithLabelValues(breaker, s).Set(v)
	}
}
