package routing

import (
	"context"

	"hermes/application/http/semantic"
)

// Chain composes middleware into one. The first runs outermost.
func Chain(middleware ...Middleware) Middleware {
	return func(ctx context.Context, req *semantic.Request, next Handler) *semantic.Response {
		return wrap(next, middleware)(ctx, req)
	}
}

// wrap builds the chain ending at h, so that middleware[0] is called first.
func wrap(h Handler, middleware []Middleware) Handler {
	for idx := len(middleware) - 1; idx >= 0; idx-- {
		mw, next := middleware[idx], h
		h = func(ctx context.Context, req *semantic.Request) *semantic.Response {
			return mw(ctx, req, next)
		}
	}
	return h
}
