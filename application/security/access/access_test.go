package access

import (
	"context"
	"testing"

	"hermes/application/http/routing"
	"hermes/application/http/semantic"
	"hermes/application/http/semantic/status"
	"hermes/application/util/uri"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	read  Permission = "read"
	write Permission = "write"
	admin Permission = "admin"
)

func TestControl(t *testing.T) {
	c := New(read, write)

	assert.True(t, c.Require(read))
	assert.False(t, c.Require(admin))
	assert.True(t, c.RequireAll(read, write))
	assert.False(t, c.RequireAll(read, admin))
	assert.True(t, c.RequireAny(admin, write))
	assert.False(t, c.RequireAny(admin))
	assert.True(t, c.RequireNone(admin))
	assert.False(t, c.RequireNone(admin, read))
	assert.True(t, c.RequireNot(admin))

	assert.Equal(t, []Permission{read, write, admin}, c.With(admin).Permissions())
	assert.Equal(t, []Permission{read, write}, c.With(read).Permissions())
	assert.Equal(t, []Permission{write}, c.Without(read).Permissions())

	// c is unchanged.
	assert.Equal(t, []Permission{read, write}, c.Permissions())
}

func TestIsAuthorized(t *testing.T) {
	testcases := []struct {
		desc     string
		required Control
		actor    HasPermissions
		expected bool
	}{
		{desc: "holds all", required: New(read, write), actor: Grants{write, read, admin}, expected: true},
		{desc: "missing one", required: New(read, write), actor: Grants{read}},
		{desc: "nothing required", required: New(), actor: nil, expected: true},
		{desc: "anonymous", required: New(read), actor: nil},
		{desc: "empty grants", required: New(read), actor: Grants(nil)},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.required.IsAuthorized(tc.actor))
		})
	}
}

type MiddlewareTestSuite struct {
	suite.Suite

	dispatcher *routing.Dispatcher
	calls      []string
}

func TestMiddlewareTestSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareTestSuite))
}

type grantsKey struct{}

func (s *MiddlewareTestSuite) SetupTest() {
	s.calls = nil

	actorOf := func(ctx context.Context, _ *semantic.Request) (HasPermissions, bool) {
		g, ok := ctx.Value(grantsKey{}).(Grants)
		return g, ok
	}
	record := func(name string) routing.Middleware {
		return func(ctx context.Context, req *semantic.Request, next routing.Handler) *semantic.Response {
			s.calls = append(s.calls, name)
			return next(ctx, req)
		}
	}

	router := routing.NewRouter()
	admins := router.Group("/admin", Middleware(New(admin), actorOf), record("after"))
	s.Require().NoError(admins.Get("/", func(context.Context, *semantic.Request) *semantic.Response {
		s.calls = append(s.calls, "handler")
		return semantic.NewResponse(status.OK)
	}))

	s.dispatcher = routing.NewDispatcher(router, routing.DispatcherOptions{})
}

func (s *MiddlewareTestSuite) dispatch(ctx context.Context) *semantic.Response {
	u, err := uri.Parse("/admin")
	s.Require().NoError(err)
	return s.dispatcher.Dispatch(ctx, semantic.NewRequest(semantic.MethodGet, u))
}

func (s *MiddlewareTestSuite) TestAllowed() {
	ctx := context.WithValue(context.Background(), grantsKey{}, Grants{admin})

	res := s.dispatch(ctx)
	s.Equal(status.OK, res.Status())
	s.Equal([]string{"after", "handler"}, s.calls)
}

func (s *MiddlewareTestSuite) TestForbidden() {
	testcases := []struct {
		desc string
		ctx  context.Context
	}{
		{desc: "anonymous", ctx: context.Background()},
		{desc: "lacking permission", ctx: context.WithValue(context.Background(), grantsKey{}, Grants{read})},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			s.calls = nil

			res := s.dispatch(tc.ctx)
			s.Equal(status.Forbidden, res.Status())
			s.Empty(s.calls)
		})
	}
}

func TestMiddlewareWithoutRequirements(t *testing.T) {
	called := false
	mw := Middleware(New(), func(context.Context, *semantic.Request) (HasPermissions, bool) { return nil, false })

	u, err := uri.Parse("/")
	require.NoError(t, err)
	res := mw(context.Background(), semantic.NewRequest(semantic.MethodGet, u), func(context.Context, *semantic.Request) *semantic.Response {
		called = true
		return semantic.NewResponse(status.NoContent)
	})

	assert.True(t, called)
	assert.Equal(t, status.NoContent, res.Status())
}
