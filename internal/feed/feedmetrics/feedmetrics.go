package feedmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"marketstream.com/internal/feed/client"
)

const namespace = "feed"

// Prometheus client.Metrics 的 Prometheus 实现
type Prometheus struct {
	Conns          prometheus.Gauge
	ConnOpenTotal  prometheus.Counter
	ConnCloseTotal *prometheus.CounterVec

	FramesInTotal   prometheus.Counter
	BytesInTotal    prometheus.Counter
	EventsTotal     prometheus.Counter
	BatchSize       prometheus.Histogram
	QueueDepth      prometheus.Gauge
	DroppedTotal    *prometheus.CounterVec
	ParseErrorTotal prometheus.Counter

	ControlOpsTotal *prometheus.CounterVec
	ControlDuration prometheus.Histogram
	PingSentTotal   prometheus.Counter
	PingErrorsTotal prometheus.Counter

	AuthDuration   prometheus.Histogram
	ReconnectTotal prometheus.Counter
	ReconnectDelay prometheus.Histogram
}

// New 注册到 reg；传 nil 用默认 registry
func New(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Prometheus{
		Conns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conns",
			Help:      "Open feed websocket connections",
		}),
		ConnOpenTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conn_open_total",
			Help:      "Total feed connections opened",
		}),
		ConnCloseTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conn_close_total",
			Help:      "Total feed connections closed, partitioned by exit reason",
		}, []string{"reason"}),

		FramesInTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_in_total",
			Help:      "Total text frames received",
		}),
		BytesInTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_in_total",
			Help:      "Total payload bytes received",
		}),
		EventsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total events delivered to the event channel",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Events per delivered batch",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512},
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Batches waiting in the event channel",
		}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_batches_total",
			Help:      "Batches dropped by the overflow policy",
		}, []string{"why"}),
		ParseErrorTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Frames that could not be decoded",
		}),

		ControlOpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_ops_total",
			Help:      "Control messages written",
		}, []string{"op", "status"}), // subscribe/unsubscribe, ok/error
		ControlDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "control_write_duration_seconds",
			Help:      "Duration of a control message write",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
		}),
		PingSentTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ping_sent_total",
			Help:      "Total keepalive pings sent",
		}),
		PingErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ping_errors_total",
			Help:      "Total keepalive ping write errors",
		}),

		AuthDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_latency_seconds",
			Help:      "Time from dial to auth_success",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms -> ~10s
		}),
		ReconnectTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total reconnect attempts scheduled",
		}),
		ReconnectDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff before each reconnect attempt",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 60},
		}),
	}
}

func (p *Prometheus) ConnOpened() {
	p.Conns.Inc()
	p.ConnOpenTotal.Inc()
}

func (p *Prometheus) ConnClosed(reason string) {
	p.Conns.Dec()
	p.ConnCloseTotal.WithLabelValues(reason).Inc()
}

func (p *Prometheus) FrameReceived(bytes int) {
	p.FramesInTotal.Inc()
	if bytes > 0 {
		p.BytesInTotal.Add(float64(bytes))
	}
}

func (p *Prometheus) BatchDelivered(events int, queueDepth int) {
	p.EventsTotal.Add(float64(events))
	p.BatchSize.Observe(float64(events))
	p.QueueDepth.Set(float64(queueDepth))
}

func (p *Prometheus) Dropped(why string, n int) {
	p.DroppedTotal.WithLabelValues(why).Add(float64(n))
}

func (p *Prometheus) ParseError() { p.ParseErrorTotal.Inc() }

func (p *Prometheus) ControlWritten(op string, dur time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.ControlOpsTotal.WithLabelValues(op, status).Inc()
	p.ControlDuration.Observe(dur.Seconds())
}

func (p *Prometheus) PingSent(err error) {
	p.PingSentTotal.Inc()
	if err != nil {
		p.PingErrorsTotal.Inc()
	}
}

func (p *Prometheus) AuthLatency(d time.Duration) { p.AuthDuration.Observe(d.Seconds()) }

func (p *Prometheus) Reconnect(attempt int, delay time.Duration) {
	p.ReconnectTotal.Inc()
	p.ReconnectDelay.Observe(delay.Seconds())
}

var _ client.Metrics = (*Prometheus)(nil)
