package client

import "marketstream.com/pkg/xerr"

// 哨兵错误，调用方用 errors.Is 判断类别（按错误码匹配，不要求同一实例）
var (
	ErrConnection           = xerr.NewErrCode(xerr.ConnectionError)
	ErrAuthFailed           = xerr.NewErrCode(xerr.AuthFailed)
	ErrProtocolViolation    = xerr.NewErrCode(xerr.ProtocolViolation)
	ErrDisconnected         = xerr.NewErrCode(xerr.Disconnected)
	ErrBackpressureOverflow = xerr.NewErrCode(xerr.BackpressureOverflow)
	ErrSubscriptionFailed   = xerr.NewErrCode(xerr.SubscriptionFailed)
	ErrClosed               = xerr.NewErrCode(xerr.Closed)
	ErrTimeout              = xerr.NewErrCode(xerr.Timeout)
)

// exitReason 协议循环退出的原因，重连监督器据此决定是否重连
type exitReason uint8

const (
	exitError       exitReason = iota // 出错退出，err 非空
	exitCloseCalled                   // 调用方 Close
	exitCanceled                      // 调用方 ctx 取消
)
