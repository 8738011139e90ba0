package config

import (
	"marketstream.com/internal/feed/client"
	"marketstream.com/internal/feed/fanout"
	"marketstream.com/internal/feed/storage/influxsink"
	"marketstream.com/internal/feed/storage/journal"
	"marketstream.com/internal/feed/storage/redissink"
	"marketstream.com/pkg/trace"
)

// 总配置
type AppConfig struct {
	Name     string            `mapstructure:"name" yaml:"name"`
	LogLevel string            `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string            `mapstructure:"log_file" yaml:"log_file"`
	Client   client.Config     `mapstructure:"client" yaml:"client"`
	Topics   []string          `mapstructure:"topics" yaml:"topics"` // 启动后自动订阅
	HTTP     HTTPConfig        `mapstructure:"http" yaml:"http"`
	Trace    trace.Config      `mapstructure:"trace" yaml:"trace"`
	NATS     NATSConfig        `mapstructure:"nats" yaml:"nats"`
	Influx   influxsink.Config `mapstructure:"influx" yaml:"influx"`
	Redis    redissink.Config  `mapstructure:"redis" yaml:"redis"`
	Journal  journal.Config    `mapstructure:"journal" yaml:"journal"` // 原始批次落盘，可重放
}

// HTTP 配置
type HTTPConfig struct {
	Addr      string  `mapstructure:"addr" yaml:"addr"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // 每个 ip+路由 每秒请求数
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// NATS URL 为空时事件只在进程内扇出
type NATSConfig struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// Default 未出现在配置文件里的字段保持这里的值
func Default() AppConfig {
	return AppConfig{
		Name:     "feedclient",
		LogLevel: "info",
		Client:   client.DefaultConfig(),
		HTTP: HTTPConfig{
			Addr:      ":8090",
			RateLimit: 50,
			Burst:     100,
		},
		NATS: NATSConfig{Prefix: fanout.DefaultPrefix},
	}
}
