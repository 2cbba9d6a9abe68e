package rpcserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/next-trace/scg-bank-rpc/contract/rpc"
)

// Reply messages produced by middleware.
const (
	MsgRateLimited    = "rate limit exceeded"
	MsgHandlerTimeout = "request timed out"
)

// Logging records routing key, outcome and duration of every request.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req rpc.Request) (rpc.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			attrs := []any{
				"routing_key", req.RoutingKey,
				"correlation_id", req.CorrelationID,
				"status", resp.Status,
				"duration", time.Since(start),
			}

			switch {
			case err != nil:
				logger.Error("request failed", append(attrs, "err", err)...)
			case !resp.IsOK():
				logger.Info("request rejected", append(attrs, "message", resp.Message)...)
			default:
				logger.Info("request served", attrs...)
			}

			return resp, err
		}
	}
}

// Timeout gives every handler a deadline of d and waits for it to return, so a message
// is finished before the next one is taken. Stores are expected to abort on the expired
// context; a handler that failed after the deadline is answered with MsgHandlerTimeout,
// while one that completed anyway keeps its own reply.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}

		return func(ctx context.Context, req rpc.Request) (rpc.Response, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			resp, err := next(tctx, req)
			if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
				return rpc.Fail(MsgHandlerTimeout), nil
			}

			return resp, err
		}
	}
}

// RateLimit rejects requests beyond r per second with bursts of burst, using a token bucket
// shared by all routing keys.
func RateLimit(r float64, burst int) Middleware {
	if burst <= 0 {
		burst = 1
	}

	limiter := rate.NewLimiter(rate.Limit(r), burst)

	return func(next HandlerFunc) HandlerFunc {
		if r <= 0 {
			return next
		}

		return func(ctx context.Context, req rpc.Request) (rpc.Response, error) {
			if !limiter.Allow() {
				return rpc.Fail(MsgRateLimited), nil
			}

			return next(ctx, req)
		}
	}
}
