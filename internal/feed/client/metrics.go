package client

import "time"

// Metrics 埋点接口。实现必须是即发即忘：不能阻塞，也不能 panic 影响协议循环
type Metrics interface {
	ConnOpened()
	ConnClosed(reason string)
	FrameReceived(bytes int)
	BatchDelivered(events int, queueDepth int)
	Dropped(why string, n int)
	ParseError()
	ControlWritten(op string, dur time.Duration, err error)
	PingSent(err error)
	AuthLatency(d time.Duration)
	Reconnect(attempt int, delay time.Duration)
}

type NopMetrics struct{}

func (NopMetrics) ConnOpened()                                 {}
func (NopMetrics) ConnClosed(string)                           {}
func (NopMetrics) FrameReceived(int)                           {}
func (NopMetrics) BatchDelivered(int, int)                     {}
func (NopMetrics) Dropped(string, int)                         {}
func (NopMetrics) ParseError()                                 {}
func (NopMetrics) ControlWritten(string, time.Duration, error) {}
func (NopMetrics) PingSent(error)                              {}
func (NopMetrics) AuthLatency(time.Duration)                   {}
func (NopMetrics) Reconnect(int, time.Duration)                {}

var _ Metrics = NopMetrics{}
