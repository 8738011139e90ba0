package feedmetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed("disconnected")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conns))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnOpenTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnCloseTotal.WithLabelValues("disconnected")))

	m.FrameReceived(120)
	m.FrameReceived(80)
	m.BatchDelivered(3, 7)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesInTotal))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.BytesInTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))

	m.Dropped("drop_oldest", 4)
	m.ParseError()
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DroppedTotal.WithLabelValues("drop_oldest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrorTotal))

	m.ControlWritten("subscribe", time.Millisecond, nil)
	m.ControlWritten("subscribe", time.Millisecond, errors.New("broken pipe"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ControlOpsTotal.WithLabelValues("subscribe", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ControlOpsTotal.WithLabelValues("subscribe", "error")))

	m.PingSent(nil)
	m.PingSent(errors.New("timeout"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PingSentTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PingErrorsTotal))

	m.Reconnect(1, time.Second)
	m.AuthLatency(30 * time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconnectTotal))
}

func TestPrometheus_SeparateRegistries(t *testing.T) {
	// 每个 registry 各自注册，不会重复注册 panic
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
