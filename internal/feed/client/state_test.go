package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketstream.com/internal/feed/protocol"
)

func TestRegistry_Idempotent(t *testing.T) {
	r := newRegistry()
	aapl, msft := protocol.Trade("AAPL"), protocol.Quote("MSFT")

	r.add([]protocol.Topic{aapl, msft, aapl})
	r.add([]protocol.Topic{aapl})
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []protocol.Topic{msft, aapl}, r.Snapshot(), "按字典序")

	r.remove([]protocol.Topic{protocol.Trade("TSLA")})
	assert.Equal(t, 2, r.Len())

	r.remove([]protocol.Topic{aapl, aapl})
	assert.False(t, r.Contains(aapl))
	assert.True(t, r.Contains(msft))
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := newRegistry()
	r.add([]protocol.Topic{protocol.Trade("AAPL")})
	snap := r.Snapshot()

	r.add([]protocol.Topic{protocol.Trade("MSFT")})
	assert.Len(t, snap, 1)
	assert.Len(t, r.Snapshot(), 2)
}

func TestSessionState(t *testing.T) {
	s := newSessionState()
	assert.False(t, s.IsAuthenticated())
	assert.True(t, s.LastMessageTime().IsZero())

	assert.True(t, s.markAuthenticated())
	assert.False(t, s.markAuthenticated(), "只翻转一次")
	assert.True(t, s.IsAuthenticated())

	now := time.UnixMilli(1_700_000_000_123)
	s.touch(now)
	assert.Equal(t, now, s.LastMessageTime())
}

func TestStateWatch(t *testing.T) {
	w := newStateWatch(StateConnecting)
	assert.Equal(t, StateConnecting, w.get())

	go func() {
		time.Sleep(20 * time.Millisecond)
		w.set(StateAuthenticating)
		w.set(StateConnected)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.wait(ctx, StateConnected))

	short, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, w.wait(short, StateReconnecting), context.DeadlineExceeded)
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}
