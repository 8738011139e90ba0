package client

import (
	"fmt"
	"math"
	"time"

	"marketstream.com/internal/feed/wsconn"
	"marketstream.com/pkg/xerr"
)

type Feed string

const (
	FeedRealTime Feed = "realtime"
	FeedDelayed  Feed = "delayed"
)

type Market string

const (
	MarketStocks  Market = "stocks"
	MarketOptions Market = "options"
	MarketFutures Market = "futures"
	MarketIndices Market = "indices"
	MarketForex   Market = "forex"
	MarketCrypto  Market = "crypto"
)

func (m Market) valid() bool {
	switch m {
	case MarketStocks, MarketOptions, MarketFutures, MarketIndices, MarketForex, MarketCrypto:
		return true
	}
	return false
}

// OverflowPolicy 事件通道满了之后的处理方式
type OverflowPolicy string

const (
	DropOldest    OverflowPolicy = "drop_oldest"
	DropNewest    OverflowPolicy = "drop_newest"
	ErrorAndClose OverflowPolicy = "error_and_close"
)

type Config struct {
	Feed      Feed       `mapstructure:"feed" yaml:"feed"`
	Market    Market     `mapstructure:"market" yaml:"market"`
	URL       string     `mapstructure:"url" yaml:"url"` // 非空时覆盖 feed/market 推导出的地址
	APIKey    Credential `mapstructure:"api_key" yaml:"api_key"`
	Transport string     `mapstructure:"transport" yaml:"transport"` // gorilla | coder

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	AuthTimeout    time.Duration `mapstructure:"auth_timeout" yaml:"auth_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"` // 0 关闭空闲检测
	PingInterval   time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ReadLimit      int64         `mapstructure:"read_limit" yaml:"read_limit"`

	Reconnect ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch" yaml:"dispatch"`
}

type ReconnectConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"` // 0 不限次数
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

type DispatchConfig struct {
	Capacity int            `mapstructure:"capacity" yaml:"capacity"`
	Overflow OverflowPolicy `mapstructure:"overflow" yaml:"overflow"`
}

func DefaultConfig() Config {
	return Config{
		Feed:           FeedRealTime,
		Market:         MarketStocks,
		APIKey:         CredentialFromEnv(),
		Transport:      wsconn.TransportGorilla,
		ConnectTimeout: 10 * time.Second,
		AuthTimeout:    10 * time.Second,
		IdleTimeout:    30 * time.Second,
		PingInterval:   15 * time.Second,
		WriteTimeout:   5 * time.Second,
		ReadLimit:      1 << 20,
		Reconnect:      DefaultReconnectConfig(),
		Dispatch: DispatchConfig{
			Capacity: 10000,
			Overflow: DropOldest,
		},
	}
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:      true,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// BuildURL wss://socket.massive.com/{market}，延迟行情走 delayed 域名
func (c Config) BuildURL() string {
	if c.URL != "" {
		return c.URL
	}
	host := "socket.massive.com"
	if c.Feed == FeedDelayed {
		host = "delayed.massive.com"
	}
	return "wss://" + host + "/" + string(c.Market)
}

func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return xerr.New(xerr.InvalidConfig, fmt.Sprintf(format, args...))
	}
	if c.APIKey.Empty() {
		return invalid("API key is empty")
	}
	if c.URL == "" {
		if c.Feed != FeedRealTime && c.Feed != FeedDelayed {
			return invalid("unknown feed %q", c.Feed)
		}
		if !c.Market.valid() {
			return invalid("unknown market %q", c.Market)
		}
	}
	if c.AuthTimeout <= 0 {
		return invalid("auth_timeout must be positive")
	}
	if c.Dispatch.Capacity <= 0 {
		return invalid("dispatch.capacity must be positive")
	}
	switch c.Dispatch.Overflow {
	case DropOldest, DropNewest, ErrorAndClose:
	default:
		return invalid("unknown overflow policy %q", c.Dispatch.Overflow)
	}
	if c.Reconnect.Enabled {
		r := c.Reconnect
		if r.InitialDelay <= 0 || r.MaxDelay < r.InitialDelay {
			return invalid("reconnect delays must satisfy 0 < initial_delay <= max_delay")
		}
		if r.Multiplier < 1 {
			return invalid("reconnect.multiplier must be >= 1")
		}
		if r.MaxRetries < 0 {
			return invalid("reconnect.max_retries must be >= 0")
		}
	}
	return nil
}

// wsOptions pong 的等待比空闲判定多一个 ping 周期，断线总是先由空闲超时报出
func (c Config) wsOptions() wsconn.Options {
	return wsconn.Options{
		ReadLimit:    c.ReadLimit,
		WriteTimeout: c.WriteTimeout,
		PongWait:     c.IdleTimeout + c.PingInterval,
	}
}

// DelayForAttempt 第 n 次重连前的等待：min(initial × multiplier^(n−1), max)
func (r ReconnectConfig) DelayForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt-1))
	if math.IsNaN(d) || d >= float64(r.MaxDelay) {
		return r.MaxDelay
	}
	return time.Duration(d)
}

// ShouldRetry attempt 从 1 开始；MaxRetries 为 0 时无限重试
func (r ReconnectConfig) ShouldRetry(attempt int) bool {
	return r.Enabled && (r.MaxRetries <= 0 || attempt <= r.MaxRetries)
}
