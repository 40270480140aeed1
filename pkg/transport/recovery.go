package transport

import (
	"context"
	"fmt"
)

// Recovery returns middleware that converts handler panics into plain
// errors so the server keeps accepting requests.
func Recovery() Middleware {
	return func(next MessageHandler) MessageHandler {
		return MessageHandlerFunc(func(ctx context.Context, req *MessageRequest, w EventWriter) (retErr error) {
			defer func() {
				if r := recover(); r != nil {
					retErr = fmt.Errorf("internal server error: %v", r)
				}
			}()
			return next.HandleMessage(ctx, req, w)
		})
	}
}
