package container

import (
	"context"

	"hermes/application/http/routing"
	"hermes/application/http/semantic"
)

type containerKey struct{}

func WithContainer(ctx context.Context, c *Container) context.Context {
	return context.WithValue(ctx, containerKey{}, c)
}

func FromContext(ctx context.Context) (*Container, bool) {
	c, ok := ctx.Value(containerKey{}).(*Container)
	return c, ok
}

// Middleware freezes c and puts it into the context of every request.
func Middleware(c *Container) routing.Middleware {
	c.Freeze()

	return func(ctx context.Context, req *semantic.Request, next routing.Handler) *semantic.Response {
		return next(WithContainer(ctx, c), req)
	}
}
