package middleware

import (
	"context"
	"log/slog"

	"hermes/application/http/actor/server"
	"hermes/application/http/routing"
	"hermes/application/http/semantic"

	"github.com/benbjohnson/clock"
)

// AccessLog logs one line per request after the rest of the chain returns.
// Server errors are logged at warn level.
func AccessLog(logger *slog.Logger, clock clock.Clock) routing.Middleware {
	return func(ctx context.Context, req *semantic.Request, next routing.Handler) *semantic.Response {
		start := clock.Now()

		res := next(ctx, req)

		attrs := []slog.Attr{
			slog.String("method", string(req.Method())),
			slog.String("path", req.URI().EscapedPath()),
			slog.Uint64("status", uint64(res.StatusCode())),
			slog.Duration("duration", clock.Since(start)),
		}
		if id := RequestIDFrom(ctx); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if addr, ok := server.RemoteAddr(ctx); ok {
			attrs = append(attrs, slog.String("remote", addr.String()))
		}

		level := slog.LevelInfo
		if res.StatusCode() >= 500 {
			level = slog.LevelWarn
		}
		logger.LogAttrs(ctx, level, "request served", attrs...)

		return res
	}
}
