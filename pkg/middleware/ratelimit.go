package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketstream.com/pkg/common"
	"marketstream.com/pkg/logger"
	"marketstream.com/pkg/metrics"
	"marketstream.com/pkg/ratelimit"
)

// RateLimit 按 ip + 路由限流
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			// 限流属于可控拒绝，不打堆栈
			logger.Warn(c.Request.Context(), "http rate limited",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			metrics.HTTPRateLimitTotal.WithLabelValues(route).Inc()
			common.Fail(c, http.StatusTooManyRequests, common.BizRateLimited, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
