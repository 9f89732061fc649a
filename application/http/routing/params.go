package routing

import "context"

type Param struct {
	Name  string
	Value string
}

// Params are the values captured by a route pattern, in pattern order.
type Params []Param

func (ps Params) Get(name string) (string, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

type paramsKey struct{}
type routeKey struct{}

func withMatch(ctx context.Context, m Match) context.Context {
	ctx = context.WithValue(ctx, paramsKey{}, m.Params)
	return context.WithValue(ctx, routeKey{}, m.Route)
}

// ParamsFrom returns parameters captured for the request being dispatched.
func ParamsFrom(ctx context.Context) Params {
	ps, _ := ctx.Value(paramsKey{}).(Params)
	return ps
}

// ParamValue returns the named parameter captured for the request being dispatched.
func ParamValue(ctx context.Context, name string) (string, bool) {
	return ParamsFrom(ctx).Get(name)
}

// RouteFrom returns the route matched for the request being dispatched.
func RouteFrom(ctx context.Context) (*Route, bool) {
	r, ok := ctx.Value(routeKey{}).(*Route)
	return r, ok && r != nil
}
