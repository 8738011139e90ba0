package xredis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestNewRedis_UnreachableReturnsError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rdb, err := NewRedis(ctx, Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
	assert.Nil(t, rdb)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

func TestIsConnError(t *testing.T) {
	assert.False(t, IsConnError(nil))
	assert.False(t, IsConnError(redis.Nil))
	assert.False(t, IsConnError(errors.New("WRONGTYPE Operation against a key")))
	assert.True(t, IsConnError(redis.ErrClosed))
	assert.True(t, IsConnError(context.DeadlineExceeded))
}

func TestLeaderLock_ID(t *testing.T) {
	a := NewLeaderLock(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "k", time.Second)
	b := NewLeaderLock(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "k", time.Second)
	assert.NotEqual(t, a.ID(), b.ID(), "每个副本一个唯一 id")
}
