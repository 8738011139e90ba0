package redissink

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketstream.com/internal/feed/event"
	"marketstream.com/pkg/breaker"
)

func TestEntries_KeepsLatestPerKey(t *testing.T) {
	recv := time.UnixMilli(1700000000500)
	b := event.Batch{
		Events: []event.Event{
			event.Trade{Symbol: "AAPL", Price: 1, Size: 10, Timestamp: 1},
			event.Quote{Symbol: "AAPL", BidPrice: 0.9, AskPrice: 1.1, Timestamp: 1},
			event.Trade{Symbol: "AAPL", Price: 2, Size: 20, Timestamp: 2},
			event.Status{Status: "connected"},
			event.CryptoTrade{Pair: "BTC-USD", Price: 50000, Size: 0.1},
		},
		ReceivedAt: recv,
	}

	got := Entries("md:last", b)
	require.Len(t, got, 3)
	assert.Equal(t, "md:last:T:AAPL", got[0].Key)
	assert.Equal(t, 2.0, got[0].Fields["p"])
	assert.Equal(t, int64(1700000000500), got[0].Fields["recv"])
	assert.Equal(t, "md:last:Q:AAPL", got[1].Key)
	assert.Equal(t, "md:last:XT:BTC-USD", got[2].Key)
}

func TestEntries_Aggregates(t *testing.T) {
	b := event.Batch{Events: []event.Event{
		event.MinuteAggregate{Aggregate: event.Aggregate{Symbol: "MSFT", Open: 1, Close: 2, Volume: 5}},
	}}
	got := Entries("p", b)
	require.Len(t, got, 1)
	assert.Equal(t, Key("p", event.KindMinuteAggregate, "MSFT"), got[0].Key)
	assert.Equal(t, int64(5), got[0].Fields["v"])
}

func TestSink_BreakerOpensOnConnErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	cb := breaker.NewManager(breaker.Rule{TripConsecutiveFailures: 2, Timeout: time.Hour, IsSuccessful: breakerSuccess}, nil)
	s := New(rdb, Config{}, cb)
	b := event.Batch{Events: []event.Event{event.Trade{Symbol: "AAPL", Price: 1}}, ReceivedAt: time.Now()}
	ctx := context.Background()

	assert.Error(t, s.Write(ctx, b))
	assert.Error(t, s.Write(ctx, b))
	assert.Equal(t, "open", cb.State(breakerName))

	// 熔断后丢弃而不是报错
	assert.NoError(t, s.Write(ctx, b))
	assert.Equal(t, uint64(1), s.Dropped())
	assert.Zero(t, s.Written())
}

func TestSink_FollowerSkipsWrites(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()

	s := New(rdb, Config{LeaderKey: "md:leader"}, nil)
	assert.False(t, s.IsLeader())
	b := event.Batch{Events: []event.Event{event.Trade{Symbol: "AAPL"}}}
	assert.NoError(t, s.Write(context.Background(), b), "非 leader 不写")
}
