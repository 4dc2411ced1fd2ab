package natsx

import (
	"context"
	"time"

	"go.uber.org/zap"

	"MissionChat/logger"
	"MissionChat/tools/safe"
)

// Message 统一消息对象
type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// Handler 业务处理函数
type Handler func(ctx context.Context, msg Message) error

// Middleware 中间件（日志、恢复等）
type Middleware func(Handler) Handler

// Chain 组合中间件，第一个在最外层
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recover turns a handler panic into an error so the subscription survives.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (err error) {
			if perr := safe.Run(func() { err = next(ctx, msg) }); perr != nil {
				return perr
			}
			return err
		}
	}
}

// Logging 记录失败和慢处理
func Logging(slow time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			start := time.Now()
			err := next(ctx, msg)
			cost := time.Since(start)
			if err != nil {
				logger.Warn("nats handler failed",
					zap.String("subject", msg.Subject), zap.Duration("cost", cost), zap.Error(err))
			} else if slow > 0 && cost > slow {
				logger.Warn("nats handler slow", zap.String("subject", msg.Subject), zap.Duration("cost", cost))
			}
			return err
		}
	}
}
