package safe

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"marketstream.com/pkg/logger"
)

// Go 安全启动协程
func Go(fn func()) {
	GoCtx(context.Background(), func(context.Context) { fn() })
}

// GoCtx 安全启动携带 context 的协程，日志里保留 conn_id / trace_id
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logPanic(ctx, r, debug.Stack())
			}
		}()

		fn(ctx)
	}()
}

// Recover 同步执行 fn，panic 转成 error 返回（协议循环用它把 panic 变成终止错误）
func Recover(ctx context.Context, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(ctx, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func logPanic(ctx context.Context, r any, stack []byte) {
	logger.Error(ctx, "🚨 GOROUTINE PANIC RECOVERED",
		zap.Any("panic", r),
		zap.ByteString("stack", stack),
	)
}
