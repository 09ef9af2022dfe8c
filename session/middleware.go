package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/risa-org/cdp/protocol"
)

// Middleware wraps a handler with cross-cutting behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// LoggingMiddleware logs every handled command with its duration, and the
// error if there was one.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (any, error) {
			start := time.Now()
			result, err := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("session_id", req.SessionID),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("command failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("command handled", fields...)
			}
			return result, err
		}
	}
}

// TimeoutMiddleware fails a command with a server error if its handler has
// not returned after d. The handler's context is cancelled at that point;
// its eventual result is discarded.
func TimeoutMiddleware(d time.Duration) Middleware {
	type outcome struct {
		result any
		err    error
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan outcome, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- outcome{err: fmt.Errorf("panic: %v", r)}
					}
				}()
				result, err := next(ctx, req)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, ctx.Err()
				}
				return nil, protocol.NewServerError(req.Method, "request timed out")
			}
		}
	}
}

// RateLimitMiddleware admits commands through a token bucket of rate r and
// size burst, and rejects the excess with a server error.
func RateLimitMiddleware(r rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(r, burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (any, error) {
			if !limiter.Allow() {
				return nil, protocol.NewServerError(req.Method, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
