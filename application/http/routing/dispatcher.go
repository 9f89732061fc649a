package routing

import (
	"context"
	"strings"

	"hermes/application/http/semantic"
	"hermes/application/http/semantic/status"
	sliceutil "hermes/lib/slice"
)

type DispatcherOptions struct {
	// Middleware runs before group and route middleware of every matched route.
	Middleware []Middleware

	// NotFound answers requests no route matches. nil means a plain 404.
	NotFound Handler
}

// Dispatcher runs matched routes. Chains are built once, when it is created.
type Dispatcher struct {
	router   *Router
	chains   map[*Route]Handler
	notFound Handler
}

// NewDispatcher freezes router and builds the handler chain of every route.
func NewDispatcher(router *Router, opts DispatcherOptions) *Dispatcher {
	router.Freeze()

	d := &Dispatcher{
		router:   router,
		chains:   make(map[*Route]Handler, len(router.routes)),
		notFound: opts.NotFound,
	}

	for _, route := range router.routes {
		mws := make([]Middleware, 0, len(opts.Middleware)+len(route.middleware))
		mws = append(mws, opts.Middleware...)
		mws = append(mws, route.middleware...)

		d.chains[route] = wrap(route.handler, mws)
	}

	if d.notFound == nil {
		d.notFound = func(context.Context, *semantic.Request) *semantic.Response {
			return textResponse(status.NotFound)
		}
	}

	return d
}

// Dispatch matches req and runs the chain of the matched route.
// Unmatched requests are answered without running any middleware.
func (d *Dispatcher) Dispatch(ctx context.Context, req *semantic.Request) *semantic.Response {
	m := d.router.MatchRequest(req)

	switch m.Outcome {
	case NotFound:
		return d.notFound(ctx, req)

	case MethodNotAllowed:
		allowed := sliceutil.Map(m.Allowed, func(method semantic.Method) string { return string(method) })

		// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.5.6
		return textResponse(status.MethodNotAllowed).
			WithHeader("Allow", strings.Join(allowed, ", "))
	}

	return d.chains[m.Route](withMatch(ctx, m), req)
}

func textResponse(s status.Status) *semantic.Response {
	return semantic.NewResponse(s).
		WithHeader("Content-Type", "text/plain; charset=utf-8").
		WithBodyString(s.String())
}
