package influxsink

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketstream.com/internal/feed/event"
)

func line(t *testing.T, p *write.Point) string {
	t.Helper()
	require.NotNil(t, p)
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Millisecond))
}

func TestPoint_Trade(t *testing.T) {
	p := Point(event.Trade{Symbol: "AAPL", Exchange: 4, Price: 10.5, Size: 100, Sequence: 7, Timestamp: 1700000000123}, time.Now())
	assert.Equal(t, "trades,exchange=4,symbol=AAPL notional=1050,price=10.5,seq=7i,size=100i 1700000000123", line(t, p))
}

func TestPoint_MinuteBar(t *testing.T) {
	a := event.Aggregate{Symbol: "MSFT", Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 10, VWAP: 1.5, Start: 1700000000000}
	got := line(t, Point(event.MinuteAggregate{Aggregate: a}, time.Now()))
	assert.Equal(t, "kline,interval=1m,symbol=MSFT c=2,h=3,l=0.5,o=1,v=10i,vw=1.5 1700000000000", got)

	got = line(t, Point(event.SecondAggregate{Aggregate: a}, time.Now()))
	assert.Contains(t, got, "interval=1s")
}

func TestPoint_FallsBackToReceivedTime(t *testing.T) {
	received := time.UnixMilli(1700000000999)
	got := line(t, Point(event.IndexValue{Symbol: "I:SPX", Value: 4500}, received))
	assert.True(t, strings.HasSuffix(got, " 1700000000999"), got)
}

func TestPoint_SkipsOtherEvents(t *testing.T) {
	assert.Nil(t, Point(event.Status{Status: "auth_success"}, time.Now()))
	assert.Nil(t, Point(event.Unknown{Ev: "ZZ"}, time.Now()))
	assert.Nil(t, Point(event.LimitUpDown{Symbol: "AAPL"}, time.Now()))
}

func TestConfig_StringHidesToken(t *testing.T) {
	cfg := Config{URL: "http://influx:8086", Token: "t0ken", Org: "o", Bucket: "b"}
	assert.NotContains(t, cfg.String(), "t0ken")
	assert.True(t, cfg.Enabled())
	assert.False(t, Config{}.Enabled())
}
