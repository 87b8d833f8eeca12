package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"trafficpulse.com/pkg/logger"
)

// Go 安全启动协程，panic 会被记录而不是打挂整个进程。
func Go(name string, fn func()) {
	go func() {
		defer recoverAndLog(context.Background(), name)
		fn()
	}()
}

// GoCtx 安全启动携带 context 的协程，便于在日志中保留链路信息。
func GoCtx(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer recoverAndLog(ctx, name)
		fn(ctx)
	}()
}

// Call runs fn in the current goroutine and converts a panic into a logged, reported value.
func Call(ctx context.Context, name string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			logger.Error(ctx, "panic recovered",
				zap.String("goroutine", name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
	return false
}

func recoverAndLog(ctx context.Context, name string) {
	if r := recover(); r != nil {
		logger.Error(ctx, "goroutine panic recovered",
			zap.String("goroutine", name),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
