package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketstream.com/pkg/logger"
	"marketstream.com/pkg/xerr"
)

// 业务码
const (
	BizOK           = 200
	BizBadRequest   = 1001001
	BizRateLimited  = 1003001
	BizUnavailable  = 1004001
	BizTimeout      = 1004002
	BizUpstreamAuth = 1005001
	BizInternal     = 5000000
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    BizOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

func FailLogged(c *gin.Context, httpStatus int, code int, msg string, err error) {
	logger.Warn(c.Request.Context(), "http error",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.String("message", msg),
		zap.Error(err),
	)
	Fail(c, httpStatus, code, msg)
}

// FailFromErr 对外只回 biz_code + message，原始错误写日志
func FailFromErr(c *gin.Context, err error) {
	httpStatus, biz, msg := MapErr(err)
	FailLogged(c, httpStatus, biz, msg, err)
}

// MapErr 行情错误码 -> http 状态码 + 业务码
func MapErr(err error) (httpStatus int, biz int, msg string) {
	var ce *xerr.CodeError
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError, BizInternal, "internal error"
	}
	switch ce.Code {
	case xerr.InvalidConfig, xerr.SubscriptionFailed:
		return http.StatusBadRequest, BizBadRequest, ce.Code.String()
	case xerr.AuthFailed:
		return http.StatusBadGateway, BizUpstreamAuth, ce.Code.String()
	case xerr.Closed, xerr.Disconnected, xerr.ConnectionError:
		return http.StatusServiceUnavailable, BizUnavailable, ce.Code.String()
	case xerr.Timeout:
		return http.StatusGatewayTimeout, BizTimeout, ce.Code.String()
	default:
		return http.StatusInternalServerError, BizInternal, "internal error"
	}
}
