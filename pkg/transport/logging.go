package transport

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that emits one structured log entry per
// handled message with session ID, request ID, stream mode, duration,
// and outcome.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next MessageHandler) MessageHandler {
		return MessageHandlerFunc(func(ctx context.Context, req *MessageRequest, w EventWriter) error {
			start := time.Now()

			err := next.HandleMessage(ctx, req, w)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("session", req.SessionID),
				slog.Bool("stream", req.Stream),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "message failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "message completed", attrs...)
			}
			return err
		})
	}
}
