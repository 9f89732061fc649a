package routing

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"hermes/application/http/semantic"

	"github.com/pkg/errors"
)

type Handler func(ctx context.Context, req *semantic.Request) *semantic.Response

// Middleware runs around next. It may replace ctx or req before calling next,
// or return a response without calling it.
type Middleware func(ctx context.Context, req *semantic.Request, next Handler) *semantic.Response

type Route struct {
	methods []semantic.Method
	pattern Pattern
	headers semantic.Headers

	// middleware holds group middleware (outer group first), then route middleware.
	middleware []Middleware
	handler    Handler
}

// Methods returns the methods the route accepts. Empty means any.
func (r *Route) Methods() []semantic.Method { return slices.Clone(r.methods) }

func (r *Route) Pattern() Pattern { return r.pattern }

func (r *Route) allows(method semantic.Method) bool {
	return len(r.methods) == 0 || slices.Contains(r.methods, method)
}

func (r *Route) headersMatch(h semantic.Headers) bool {
	for _, name := range r.headers.Names() {
		want := r.headers.Values(name)
		if !slices.Equal(want, h.Values(name)) {
			return false
		}
	}
	return true
}

// RouteConfig describes a route to register.
type RouteConfig struct {
	// Methods the route accepts. Empty means any.
	Methods []semantic.Method
	Pattern string
	Handler Handler

	Middleware []Middleware

	// Headers must be present with exactly these values for the route to match.
	// Otherwise the route is skipped like a path mismatch.
	Headers semantic.Headers
}

var ErrRouterFrozen = errors.New("router is frozen")

type Router struct {
	registrar

	mu     sync.Mutex
	routes []*Route
	frozen atomic.Bool
}

func NewRouter() *Router {
	r := &Router{}
	r.registrar = registrar{router: r}
	return r
}

// Freeze stops further registration. Matching afterwards needs no locking.
func (r *Router) Freeze() { r.frozen.Store(true) }

func (r *Router) Routes() []*Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.routes)
}

func (r *Router) add(cfg RouteConfig) error {
	if r.frozen.Load() {
		return ErrRouterFrozen
	}

	methodNames := make([]string, len(cfg.Methods))
	for idx, m := range cfg.Methods {
		methodNames[idx] = string(m)
	}
	methodText := strings.Join(methodNames, ",")

	if cfg.Handler == nil {
		return &ConfigError{Method: methodText, Pattern: cfg.Pattern, Err: errors.New("nil handler")}
	}

	pattern, err := ParsePattern(cfg.Pattern)
	if err != nil {
		return err
	}

	route := &Route{
		methods:    slices.Clone(cfg.Methods),
		pattern:    pattern,
		headers:    cfg.Headers,
		middleware: slices.Clone(cfg.Middleware),
		handler:    cfg.Handler,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.routes {
		if conflicts(existing, route) {
			return &ConfigError{
				Method:  methodText,
				Pattern: cfg.Pattern,
				Err:     errors.Wrapf(ErrConflict, "already registered as %q", existing.pattern),
			}
		}
	}

	r.routes = append(r.routes, route)
	return nil
}

func conflicts(a, b *Route) bool {
	if a.pattern.shape() != b.pattern.shape() || headerKey(a.headers) != headerKey(b.headers) {
		return false
	}
	if len(a.methods) == 0 || len(b.methods) == 0 {
		return true
	}
	for _, m := range a.methods {
		if slices.Contains(b.methods, m) {
			return true
		}
	}
	return false
}

func headerKey(h semantic.Headers) string {
	lines := make([]string, 0, h.Len())
	for _, name := range h.Names() {
		lines = append(lines, strings.ToLower(name)+":"+strings.Join(h.Values(name), ","))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

type Outcome int

const (
	NotFound Outcome = iota
	Found
	MethodNotAllowed
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case MethodNotAllowed:
		return "method not allowed"
	}
	return "not found"
}

type Match struct {
	Outcome Outcome
	Route   *Route
	Params  Params

	// Allowed lists methods of routes matching the path, when Outcome is MethodNotAllowed.
	Allowed []semantic.Method
}

// Match resolves method and decoded path segments without looking at headers.
// Routes requiring headers never match.
func (r *Router) Match(method semantic.Method, segments []string) Match {
	return r.match(method, segments, semantic.Headers{})
}

func (r *Router) MatchRequest(req *semantic.Request) Match {
	return r.match(req.Method(), req.URI().Segments(), req.Headers())
}

func (r *Router) match(method semantic.Method, segments []string, headers semantic.Headers) Match {
	routes := r.routes
	if !r.frozen.Load() {
		routes = r.Routes()
	}

	segments = trimSegments(segments)

	var (
		fallback *Match
		allowed  []semantic.Method
		anyPath  bool
	)
	for _, route := range routes {
		params, ok := route.pattern.match(segments)
		if !ok || !route.headersMatch(headers) {
			continue
		}
		anyPath = true

		if route.allows(method) {
			return Match{Outcome: Found, Route: route, Params: params}
		}

		// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-9.3.2
		if method == semantic.MethodHead && fallback == nil && route.allows(semantic.MethodGet) {
			fallback = &Match{Outcome: Found, Route: route, Params: params}
		}

		for _, m := range route.methods {
			if !slices.Contains(allowed, m) {
				allowed = append(allowed, m)
			}
		}
	}

	if fallback != nil {
		return *fallback
	}

	if !anyPath {
		return Match{Outcome: NotFound}
	}

	if slices.Contains(allowed, semantic.MethodGet) && !slices.Contains(allowed, semantic.MethodHead) {
		allowed = append(allowed, semantic.MethodHead)
	}
	return Match{Outcome: MethodNotAllowed, Allowed: allowed}
}

// registrar registers routes under a prefix with inherited middleware.
type registrar struct {
	router     *Router
	prefix     string
	middleware []Middleware
}

func (rg registrar) Handle(methods []semantic.Method, pattern string, handler Handler, middleware ...Middleware) error {
	return rg.HandleRoute(RouteConfig{
		Methods:    methods,
		Pattern:    pattern,
		Handler:    handler,
		Middleware: middleware,
	})
}

// HandleRoute registers cfg with the prefix and middleware of the registrar applied.
func (rg registrar) HandleRoute(cfg RouteConfig) error {
	cfg.Pattern = joinPattern(rg.prefix, cfg.Pattern)

	mws := make([]Middleware, 0, len(rg.middleware)+len(cfg.Middleware))
	mws = append(mws, rg.middleware...)
	cfg.Middleware = append(mws, cfg.Middleware...)

	return rg.router.add(cfg)
}

func (rg registrar) Get(pattern string, handler Handler, middleware ...Middleware) error {
	return rg.Handle([]semantic.Method{semantic.MethodGet}, pattern, handler, middleware...)
}

func (rg registrar) Post(pattern string, handler Handler, middleware ...Middleware) error {
	return rg.Handle([]semantic.Method{semantic.MethodPost}, pattern, handler, middleware...)
}

func (rg registrar) Put(pattern string, handler Handler, middleware ...Middleware) error {
	return rg.Handle([]semantic.Method{semantic.MethodPut}, pattern, handler, middleware...)
}

func (rg registrar) Patch(pattern string, handler Handler, middleware ...Middleware) error {
	return rg.Handle([]semantic.Method{semantic.MethodPatch}, pattern, handler, middleware...)
}

func (rg registrar) Delete(pattern string, handler Handler, middleware ...Middleware) error {
	return rg.Handle([]semantic.Method{semantic.MethodDelete}, pattern, handler, middleware...)
}

// Group returns a registrar that prepends prefix and runs middleware
// after the middleware of its parents.
func (rg registrar) Group(prefix string, middleware ...Middleware) *Group {
	mws := make([]Middleware, 0, len(rg.middleware)+len(middleware))
	mws = append(mws, rg.middleware...)
	mws = append(mws, middleware...)

	return &Group{registrar{
		router:     rg.router,
		prefix:     joinPattern(rg.prefix, prefix),
		middleware: mws,
	}}
}

// Group only exists at registration time. Routes registered through it are plain routes.
type Group struct{ registrar }

func (g *Group) Prefix() string { return g.prefix }
