package feedapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketstream.com/internal/feed/client"
	"marketstream.com/internal/feed/event"
	"marketstream.com/internal/feed/fanout"
	"marketstream.com/internal/feed/feedmetrics"
	"marketstream.com/internal/feed/protocol"
	"marketstream.com/internal/feed/storage/influxsink"
	"marketstream.com/internal/feed/storage/journal"
	"marketstream.com/internal/feed/storage/redissink"
	appConfig "marketstream.com/internal/feedapp/config"
	"marketstream.com/internal/feedapp/handler"
	ghttp "marketstream.com/internal/feedapp/http"
	vipConfig "marketstream.com/pkg/config"
	"marketstream.com/pkg/logger"
	"marketstream.com/pkg/metrics"
	"marketstream.com/pkg/ratelimit"
	"marketstream.com/pkg/trace"
	"marketstream.com/pkg/xredis"
)

const (
	defaultConfigName = "feedclient"
	shutdownTimeout   = 5 * time.Second
)

// errFeedEnded 事件流正常结束（不重连时对端关闭），整个进程随之退出
var errFeedEnded = errors.New("feed stream ended")

// Sink 事件流的下游消费者
type Sink interface {
	Name() string
	Write(ctx context.Context, b event.Batch) error
	Close() error
}

type App struct {
	cfg   appConfig.AppConfig
	live  *appConfig.AppConfig // 热更新写入这里，只读取日志级别
	sinks []Sink
	rdb   *redis.Client
	warn  *ratelimit.Store

	traceShutdown func(context.Context) error
}

func New(configName string) (*App, error) {
	if configName == "" {
		configName = defaultConfigName
	}
	live := appConfig.Default()
	app := &App{live: &live, warn: ratelimit.Every(10*time.Second, 1)}
	if _, err := vipConfig.LoadAndWatch(configName, app.live, app.onConfigChange); err != nil {
		return nil, fmt.Errorf("load config %s: %w", configName, err)
	}
	app.cfg = *app.live
	return app, nil
}

// NewWithConfig 不读配置文件，测试和嵌入场景用
func NewWithConfig(cfg appConfig.AppConfig) *App {
	return &App{cfg: cfg, warn: ratelimit.Every(10*time.Second, 1)}
}

func (app *App) Config() appConfig.AppConfig { return app.cfg }

// 热更新只调整日志级别，连接参数需要重启
func (app *App) onConfigChange() {
	logger.SetLevel(app.live.LogLevel)
	logger.Info(context.Background(), "log level reloaded", zap.String("level", app.live.LogLevel))
}

// Run 启动到 ctx 结束或事件流终止；返回前完成所有清理
func (app *App) Run(ctx context.Context) error {
	cfg := app.cfg
	logger.InitWithFile(cfg.Name, cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()
	metrics.MustRegister()

	shutdown, err := trace.InitTrace(cfg.Name, cfg.Trace)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	app.traceShutdown = shutdown
	defer app.cleanUp()

	if err := app.startSinks(ctx); err != nil {
		return err
	}

	c, err := client.New(cfg.Client, client.WithMetrics(feedmetrics.New(nil)))
	if err != nil {
		return err
	}
	h, stream, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	logger.Info(ctx, "feed connected", zap.Stringer("client", c), zap.String("conn_id", h.ConnID()))

	if err := app.subscribeConfigured(ctx, h); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = h.Close(closeCtx)
		return err
	}

	var last handler.LastValues
	for _, s := range app.sinks {
		if lv, ok := s.(handler.LastValues); ok {
			last = lv
		}
	}
	srv := ghttp.NewRouter(ctx, cfg.Name, cfg.HTTP, handler.NewFeed(h, last))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.dispatch(gctx, stream) })
	g.Go(func() error {
		logger.Info(gctx, "status server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := h.Close(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "feed close error", zap.Error(err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "status server shutdown error", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	st := h.Stats()
	logger.Info(context.Background(), "feed stopped",
		zap.Uint64("messages", st.MessageCount),
		zap.Uint64("dropped_batches", st.DroppedBatches),
		zap.Uint64("reconnects", st.ReconnectCount),
	)
	if errors.Is(err, errFeedEnded) {
		return nil
	}
	return err
}

func (app *App) subscribeConfigured(ctx context.Context, h *client.Handle) error {
	if len(app.cfg.Topics) == 0 {
		return nil
	}
	topics, err := protocol.ParseTopics(app.cfg.Topics)
	if err != nil {
		return fmt.Errorf("config topics: %w", err)
	}
	if err := h.Subscribe(ctx, topics...); err != nil {
		return err
	}
	logger.Info(ctx, "subscribed", zap.Int("topics", len(topics)))
	return nil
}

// startSinks 按配置启用下游，地址为空的跳过
func (app *App) startSinks(ctx context.Context) error {
	cfg := app.cfg
	if cfg.NATS.URL != "" {
		b, err := fanout.NewNatsBroker(cfg.NATS.URL, nats.Name(cfg.Name))
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", cfg.NATS.URL, err)
		}
		app.sinks = append(app.sinks, fanout.NewPublisher(b, cfg.NATS.Prefix))
	}
	if cfg.Journal.Enabled() {
		j, err := journal.New(cfg.Journal)
		if err != nil {
			return err
		}
		app.sinks = append(app.sinks, j)
	}
	if cfg.Influx.Enabled() {
		app.sinks = append(app.sinks, influxsink.New(cfg.Influx))
	}
	if cfg.Redis.Enabled() {
		rdb, err := xredis.NewRedis(ctx, cfg.Redis.Redis)
		if err != nil {
			return err
		}
		app.rdb = rdb
		xredis.ReportPoolStats(ctx, rdb, 15*time.Second)
		s := redissink.New(rdb, cfg.Redis, nil)
		s.RunLeader(ctx, cfg.Redis.LeaderTTL/3)
		app.sinks = append(app.sinks, s)
	}
	names := make([]string, len(app.sinks))
	for i, s := range app.sinks {
		names[i] = s.Name()
	}
	logger.Info(ctx, "sinks ready", zap.Strings("sinks", names))
	return nil
}

type batchSource interface {
	Next(ctx context.Context) (event.Batch, error)
}

// dispatch 单协程读事件流，按顺序交给每个 sink
func (app *App) dispatch(ctx context.Context, stream batchSource) error {
	// ctx 结束后继续读到事件流关闭，把剩余批次写完；最多再等 shutdownTimeout
	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() { time.AfterFunc(shutdownTimeout, cancel) })
	defer stop()
	for {
		b, err := stream.Next(readCtx)
		if errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				return nil
			}
			return errFeedEnded
		}
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		app.deliver(ctx, b)
	}
}

func (app *App) deliver(ctx context.Context, b event.Batch) {
	writeCtx := context.WithoutCancel(ctx)
	for _, s := range app.sinks {
		start := time.Now()
		err := s.Write(writeCtx, b)
		metrics.SinkWriteDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
			if app.warn.Allow(s.Name()) {
				logger.Warn(ctx, "sink write failed", zap.String("sink", s.Name()), zap.Error(err))
			}
		}
		metrics.SinkWritesTotal.WithLabelValues(s.Name(), status).Inc()
	}
}

func (app *App) cleanUp() {
	ctx := context.Background()
	for _, s := range app.sinks {
		if err := s.Close(); err != nil {
			logger.Warn(ctx, "sink close error", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
	if app.rdb != nil {
		_ = app.rdb.Close()
	}
	if app.traceShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		_ = app.traceShutdown(shutdownCtx)
	}
}
