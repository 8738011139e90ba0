package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RedisPoolTotal    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_total"})
	RedisPoolIdle     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_idle"})
	RedisPoolHits     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_hits"})
	RedisPoolMisses   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_misses"})
	RedisPoolTimeouts = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_timeouts"})

	RedisCmdDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "redis_cmd_duration_seconds",
		Help:      "Redis command latency",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 15), // 0.5ms ~ 8s
	}, []string{"cmd", "status"})
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "redis_errors_total",
		Help:      "Redis errors",
	}, []string{"cmd"})
)
