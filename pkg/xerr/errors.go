package xerr

import (
	"errors"
	"fmt"
)

type Code int

// 行情连接错误码
const (
	ConnectionError Code = iota + 1
	AuthFailed
	ProtocolViolation
	Disconnected
	BackpressureOverflow
	SubscriptionFailed
	Closed
	Timeout
	InvalidConfig
)

func (c Code) String() string {
	switch c {
	case ConnectionError:
		return "connection_error"
	case AuthFailed:
		return "auth_failed"
	case ProtocolViolation:
		return "protocol_violation"
	case Disconnected:
		return "disconnected"
	case BackpressureOverflow:
		return "backpressure_overflow"
	case SubscriptionFailed:
		return "subscription_failed"
	case Closed:
		return "closed"
	case Timeout:
		return "timeout"
	case InvalidConfig:
		return "invalid_config"
	default:
		return "unknown"
	}
}

// CodeError 带错误码的错误；Op 记录出错的操作（dial/auth/subscribe...）
type CodeError struct {
	Code Code   `json:"code"`
	Op   string `json:"op,omitempty"`
	Msg  string `json:"msg"`
	Err  error  `json:"-"`
}

func (e *CodeError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = MapErrMsg(e.Code)
	}
	s := e.Code.String() + ": " + msg
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *CodeError) Unwrap() error { return e.Err }

// Is 同错误码即视为相等，errors.Is(err, client.ErrClosed) 依赖这里
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Err == nil
}

func New(code Code, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code Code) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

func Wrap(err error, code Code, op string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Op: op, Err: err}
}

func Wrapf(err error, code Code, op string, format string, args ...any) error {
	return &CodeError{Code: code, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf 取错误链上第一个 CodeError 的错误码，没有返回 0
func CodeOf(err error) Code {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

// IsRetryable 重连监督器据此判断是否值得再拨号
func IsRetryable(code Code) bool {
	switch code {
	case ConnectionError, Disconnected, Timeout, ProtocolViolation, SubscriptionFailed:
		return true
	default:
		return false
	}
}

func MapErrMsg(code Code) string {
	switch code {
	case ConnectionError:
		return "transport failure"
	case AuthFailed:
		return "authentication failed"
	case ProtocolViolation:
		return "malformed payload"
	case Disconnected:
		return "remote closed the connection"
	case BackpressureOverflow:
		return "event buffer overflow"
	case SubscriptionFailed:
		return "subscription write failed"
	case Closed:
		return "connection closed"
	case Timeout:
		return "timed out"
	case InvalidConfig:
		return "invalid configuration"
	default:
		return "unknown error"
	}
}
