package session

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"hermes/application/http/routing"
	"hermes/application/http/semantic"
	"hermes/application/http/semantic/status"
	"hermes/application/util/uri"
	"hermes/lib/value"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

func counter(ctx context.Context, _ *semantic.Request) *semantic.Response {
	s, err := FromContext(ctx)
	if err != nil {
		return semantic.NewResponse(status.InternalServerError)
	}

	var n int64
	if v, ok := s.Get("count"); ok {
		n, _ = v.AsInt()
	}
	n++
	s.Set("count", value.Int(n))

	return semantic.NewResponse(status.OK).WithBodyString(strconv.FormatInt(n, 10))
}

type failingStore struct{ Store }

func (failingStore) Load(context.Context, string) (*Session, error) {
	return nil, errors.Wrap(ErrStore, "disk on fire")
}

type MiddlewareTestSuite struct {
	suite.Suite

	clock *clock.Mock
	store *MemoryStore
	opts  Options
}

func TestMiddlewareTestSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareTestSuite))
}

func (s *MiddlewareTestSuite) SetupTest() {
	s.clock = clock.NewMock()
	s.store = NewMemoryStore(JSONFormatter{}, s.clock)
	s.opts = DefaultOptions()
}

func (s *MiddlewareTestSuite) serve(store Store, sessionID string, h routing.Handler) *semantic.Response {
	u, err := uri.Parse("/")
	s.Require().NoError(err)

	req := semantic.NewRequest(semantic.MethodGet, u)
	if sessionID != "" {
		req = req.WithHeader("Cookie", "theme=dark; "+s.opts.CookieName+"="+sessionID)
	}

	mw := Middleware(store, slog.New(slog.DiscardHandler), s.clock, s.opts)
	return mw(context.Background(), req, h)
}

func (s *MiddlewareTestSuite) body(res *semantic.Response) string {
	b, err := io.ReadAll(res.Body())
	s.Require().NoError(err)
	return string(b)
}

// setCookie returns the session id and attributes of the Set-Cookie header of res.
func (s *MiddlewareTestSuite) setCookie(res *semantic.Response) (id, attrs string, ok bool) {
	values := res.Headers().Values("Set-Cookie")
	if len(values) == 0 {
		return "", "", false
	}
	s.Require().Len(values, 1)

	pair, attrs, _ := strings.Cut(values[0], "; ")
	name, id, _ := strings.Cut(pair, "=")
	s.Require().Equal(s.opts.CookieName, name)
	return id, attrs, true
}

func (s *MiddlewareTestSuite) TestNewSession() {
	res := s.serve(s.store, "", counter)
	s.Equal("1", s.body(res))

	id, attrs, ok := s.setCookie(res)
	s.Require().True(ok)
	s.True(ValidID(id))
	s.Equal("Path=/; HttpOnly; SameSite=Lax", attrs)
	s.Equal(1, s.store.Len())
}

func (s *MiddlewareTestSuite) TestSessionPersists() {
	res := s.serve(s.store, "", counter)
	id, _, ok := s.setCookie(res)
	s.Require().True(ok)

	for i := 2; i <= 3; i++ {
		res = s.serve(s.store, id, counter)
		s.Equal(strconv.Itoa(i), s.body(res))

		_, _, ok = s.setCookie(res)
		s.False(ok, "known session isn't sent again")
	}
	s.Equal(1, s.store.Len())
}

func (s *MiddlewareTestSuite) TestUntouched() {
	res := s.serve(s.store, "", func(context.Context, *semantic.Request) *semantic.Response {
		return semantic.NewResponse(status.NoContent)
	})

	_, _, ok := s.setCookie(res)
	s.False(ok)
	s.Zero(s.store.Len())
}

func (s *MiddlewareTestSuite) TestReadOnly() {
	res := s.serve(s.store, "", func(ctx context.Context, _ *semantic.Request) *semantic.Response {
		sess, err := FromContext(ctx)
		s.Require().NoError(err)
		s.True(sess.IsNew())

		_, ok := sess.Get("count")
		s.False(ok)
		return semantic.NewResponse(status.NoContent)
	})

	_, _, ok := s.setCookie(res)
	s.False(ok, "unmodified new session isn't saved")
	s.Zero(s.store.Len())
}

func (s *MiddlewareTestSuite) TestUnknownSession() {
	unknown, err := NewID()
	s.Require().NoError(err)

	testcases := []struct {
		desc string
		id   string
	}{
		{desc: "unknown id", id: unknown},
		{desc: "malformed id", id: "garbage"},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			res := s.serve(s.store, tc.id, counter)
			s.Equal("1", s.body(res))

			id, _, ok := s.setCookie(res)
			s.Require().True(ok)
			s.NotEqual(tc.id, id)
		})
	}
}

func (s *MiddlewareTestSuite) TestDestroy() {
	res := s.serve(s.store, "", counter)
	id, _, ok := s.setCookie(res)
	s.Require().True(ok)

	res = s.serve(s.store, id, func(ctx context.Context, _ *semantic.Request) *semantic.Response {
		sess, err := FromContext(ctx)
		s.Require().NoError(err)
		sess.Destroy()
		return semantic.NewResponse(status.NoContent)
	})

	gotID, attrs, ok := s.setCookie(res)
	s.Require().True(ok)
	s.Equal(id, gotID)
	s.Contains(attrs, "Max-Age=0")
	s.Zero(s.store.Len())
}

func (s *MiddlewareTestSuite) TestMaxAge() {
	s.opts.MaxAge = time.Hour

	res := s.serve(s.store, "", counter)
	id, attrs, ok := s.setCookie(res)
	s.Require().True(ok)
	s.Contains(attrs, "Max-Age=3600")

	// Every save slides the expiry.
	s.clock.Add(30 * time.Minute)
	res = s.serve(s.store, id, counter)
	s.Equal("2", s.body(res))
	_, _, ok = s.setCookie(res)
	s.True(ok)

	s.clock.Add(time.Hour)
	res = s.serve(s.store, id, counter)
	s.Equal("1", s.body(res), "expired session starts over")
}

func (s *MiddlewareTestSuite) TestLoadError() {
	res := s.serve(failingStore{s.store}, "garbage", counter)
	s.Equal(status.InternalServerError, res.Status())

	_, _, ok := s.setCookie(res)
	s.False(ok)
}

func (s *MiddlewareTestSuite) TestFileStore() {
	fs, err := NewFileStore(s.T().TempDir(), YAMLFormatter{}, s.clock)
	s.Require().NoError(err)

	res := s.serve(fs, "", counter)
	id, _, ok := s.setCookie(res)
	s.Require().True(ok)

	res = s.serve(fs, id, counter)
	s.Equal("2", s.body(res))
}

func TestFromContextWithoutMiddleware(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}
