package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"marketstream.com/pkg/logger"
)

// LoadAndWatch 约定 config/{service}.yaml；文件变更后重新解析到 out 并回调 onChange。
// 环境变量覆盖，例如 FEEDCLIENT_CLIENT_MARKET 覆盖 client.market
func LoadAndWatch(service string, out interface{}, onChange func()) (*viper.Viper, error) {
	v := newViper(service)
	v.SetConfigName(service)
	v.AddConfigPath("./config")
	v.AddConfigPath(".") // 兜底，直接放当前目录也行

	if err := load(v, service, out); err != nil {
		return nil, err
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		ctx := context.Background()
		logger.Info(ctx, "config file changed", zap.String("service", service), zap.String("file", e.Name))

		if err := v.Unmarshal(out); err != nil {
			logger.Error(ctx, "reload config error", zap.String("service", service), zap.Error(err))
			return
		}
		if onChange != nil {
			onChange()
		}
	})

	return v, nil
}

// LoadFile 读取指定文件，不监听变更
func LoadFile(path string, envPrefix string, out interface{}) (*viper.Viper, error) {
	v := newViper(envPrefix)
	v.SetConfigFile(path)
	if err := load(v, envPrefix, out); err != nil {
		return nil, err
	}
	return v, nil
}

func newViper(envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(strings.ToUpper(envPrefix))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func load(v *viper.Viper, service string, out interface{}) error {
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	if err := v.Unmarshal(out); err != nil {
		return err
	}
	logger.Info(context.Background(), "config loaded",
		zap.String("service", service), zap.String("file", v.ConfigFileUsed()))
	return nil
}
