package client

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketstream.com/pkg/xerr"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.APIKey = "secret-key"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, FeedRealTime, cfg.Feed)
	assert.Equal(t, MarketStocks, cfg.Market)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.PingInterval)
	assert.Equal(t, 10000, cfg.Dispatch.Capacity)
	assert.Equal(t, DropOldest, cfg.Dispatch.Overflow)

	r := cfg.Reconnect
	assert.True(t, r.Enabled)
	assert.Equal(t, time.Second, r.InitialDelay)
	assert.Equal(t, 60*time.Second, r.MaxDelay)
	assert.Equal(t, 2.0, r.Multiplier)
	assert.Zero(t, r.MaxRetries)
}

func TestWSOptions_PongWaitOutlastsIdle(t *testing.T) {
	cfg := DefaultConfig()
	opts := cfg.wsOptions()
	assert.Equal(t, 45*time.Second, opts.PongWait)
	assert.Greater(t, opts.PongWait, cfg.IdleTimeout)
	assert.Equal(t, cfg.WriteTimeout, opts.WriteTimeout)
}

func TestDefaultConfig_APIKeyFromEnv(t *testing.T) {
	t.Setenv(APIKeyEnv, "from-env")
	assert.Equal(t, "from-env", DefaultConfig().APIKey.Expose())
}

func TestBuildURL(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "wss://socket.massive.com/stocks", cfg.BuildURL())

	cfg.Feed = FeedDelayed
	cfg.Market = MarketCrypto
	assert.Equal(t, "wss://delayed.massive.com/crypto", cfg.BuildURL())

	cfg.URL = "ws://127.0.0.1:9000/stocks"
	assert.Equal(t, "ws://127.0.0.1:9000/stocks", cfg.BuildURL())
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty key", func(c *Config) { c.APIKey = "" }, "API key is empty"},
		{"bad market", func(c *Config) { c.Market = "bonds" }, "unknown market"},
		{"bad feed", func(c *Config) { c.Feed = "fast" }, "unknown feed"},
		{"zero capacity", func(c *Config) { c.Dispatch.Capacity = 0 }, "capacity"},
		{"bad policy", func(c *Config) { c.Dispatch.Overflow = "block" }, "overflow policy"},
		{"zero auth timeout", func(c *Config) { c.AuthTimeout = 0 }, "auth_timeout"},
		{"max below initial", func(c *Config) { c.Reconnect.MaxDelay = time.Millisecond }, "reconnect delays"},
		{"multiplier below one", func(c *Config) { c.Reconnect.Multiplier = 0.5 }, "multiplier"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, xerr.InvalidConfig, xerr.CodeOf(err))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_URLOverrideSkipsMarket(t *testing.T) {
	cfg := validConfig()
	cfg.URL = "ws://localhost/custom"
	cfg.Market = "anything"
	assert.NoError(t, cfg.Validate())
}

func TestDelayForAttempt(t *testing.T) {
	r := DefaultReconnectConfig()
	want := map[int]time.Duration{
		0:  time.Second,
		1:  time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		4:  8 * time.Second,
		6:  32 * time.Second,
		7:  60 * time.Second,
		10: 60 * time.Second,
		80: 60 * time.Second,
	}
	for n, d := range want {
		assert.Equal(t, d, r.DelayForAttempt(n), "attempt %d", n)
	}
}

func TestShouldRetry(t *testing.T) {
	r := DefaultReconnectConfig()
	assert.True(t, r.ShouldRetry(1))
	assert.True(t, r.ShouldRetry(1000), "0 表示不限次数")

	r.MaxRetries = 3
	assert.True(t, r.ShouldRetry(3))
	assert.False(t, r.ShouldRetry(4))

	r.Enabled = false
	assert.False(t, r.ShouldRetry(1))
}

func TestCredential_NeverPrinted(t *testing.T) {
	cfg := validConfig()
	for _, s := range []string{
		fmt.Sprint(cfg.APIKey),
		fmt.Sprintf("%v", cfg),
		fmt.Sprintf("%+v", cfg),
		fmt.Sprintf("%#v", cfg.APIKey),
	} {
		assert.NotContains(t, s, "secret-key")
	}
	b, err := cfg.APIKey.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "***", string(b))
	assert.Equal(t, "secret-key", cfg.APIKey.Expose())
}

func TestSentinels(t *testing.T) {
	err := xerr.Wrapf(ErrTimeout, xerr.AuthFailed, "connect", "no auth_success within %s", time.Second)
	assert.True(t, errors.Is(err, ErrAuthFailed))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrClosed))
	assert.True(t, isAuthTimeout(err))
	assert.False(t, isAuthTimeout(ErrAuthFailed))
}
