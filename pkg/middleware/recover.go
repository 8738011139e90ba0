package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketstream.com/pkg/common"
	"marketstream.com/pkg/logger"
	"marketstream.com/pkg/metrics"
)

// Recover handler panic 转成 500，进程继续服务
func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			route := c.FullPath()
			if route == "" {
				route = c.Request.URL.Path
			}
			metrics.HTTPPanicTotal.WithLabelValues(route).Inc()
			logger.Error(c.Request.Context(), "http panic",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("method", c.Request.Method),
				zap.String("route", route),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			if !c.Writer.Written() {
				common.Fail(c, http.StatusInternalServerError, common.BizInternal, "internal error")
			}
			c.Abort()
		}()
		c.Next()
	}
}
