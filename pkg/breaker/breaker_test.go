package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("redis down")

func TestManager_TripsOnConsecutiveFailures(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 3, Timeout: time.Hour}, nil)
	ctx := context.Background()
	fail := func(context.Context) error { return errDown }

	for range 3 {
		assert.ErrorIs(t, m.Do(ctx, "redis", fail), errDown)
	}
	assert.Equal(t, "open", m.State("redis"))

	called := false
	err := m.Do(ctx, "redis", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "熔断期间不调用下游")

	// 各下游互不影响
	require.NoError(t, m.Do(ctx, "influx", func(context.Context) error { return nil }))
	assert.Equal(t, "closed", m.State("influx"))
}

func TestManager_CanceledIsNotFailure(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 1}, nil)
	ctx := context.Background()

	err := m.Do(ctx, "redis", func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "closed", m.State("redis"))
}

func TestManager_HalfOpenRecovers(t *testing.T) {
	m := NewManager(Rule{}, map[string]Rule{
		"redis": {TripConsecutiveFailures: 1, Timeout: 20 * time.Millisecond},
	})
	ctx := context.Background()

	_ = m.Do(ctx, "redis", func(context.Context) error { return errDown })
	assert.Equal(t, "open", m.State("redis"))

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, m.Do(ctx, "redis", func(context.Context) error { return nil }))
	assert.Equal(t, "closed", m.State("redis"))
}
