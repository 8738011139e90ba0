package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestStore_AllowPerKey(t *testing.T) {
	s := NewStore(rate.Every(time.Hour), 2, time.Minute)

	assert.True(t, s.Allow("drop"))
	assert.True(t, s.Allow("drop"))
	assert.False(t, s.Allow("drop"), "burst 用完")

	// 不同 key 互不影响
	assert.True(t, s.Allow("parse"))
	assert.Equal(t, 2, s.Len())
}

func TestStore_Cleanup(t *testing.T) {
	s := NewStore(rate.Inf, 1, time.Minute)
	s.Allow("a")
	s.Allow("b")

	assert.Equal(t, 0, s.cleanup(time.Now()))
	assert.Equal(t, 2, s.cleanup(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, s.Len())
}
