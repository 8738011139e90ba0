package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"marketstream.com/internal/feedapp/config"
	"marketstream.com/internal/feedapp/handler"
	"marketstream.com/internal/feedapp/router"
	"marketstream.com/pkg/middleware"
	"marketstream.com/pkg/ratelimit"
)

// NewRouter 状态/控制服务；ctx 结束后限流桶回收协程退出
func NewRouter(ctx context.Context, name string, cfg config.HTTPConfig, h *handler.Feed) *http.Server {
	// 限流
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	store := ratelimit.NewStore(limit, cfg.Burst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)
	// 监控
	r := gin.New()
	p := ginprom.NewPrometheus(name)
	r.Use(
		otelgin.Middleware(name),
		p.HandlerFunc(),
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
	)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/", middleware.RateLimit(store))
	router.Feed(api, h)

	return &http.Server{
		Addr:           cfg.Addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}
