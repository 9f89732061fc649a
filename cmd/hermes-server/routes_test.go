package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"hermes/application/config"
	"hermes/application/http/routing"
	"hermes/application/http/semantic"
	"hermes/application/http/semantic/status"
	"hermes/application/observability"
	"hermes/application/util/uri"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
)

type RoutesTestSuite struct {
	suite.Suite

	cfg        config.Config
	dispatcher *routing.Dispatcher
}

func TestRoutesTestSuite(t *testing.T) {
	suite.Run(t, new(RoutesTestSuite))
}

func (s *RoutesTestSuite) SetupTest() {
	s.cfg = config.Defaults()
	s.build()
}

func (s *RoutesTestSuite) build() {
	clk := clock.NewMock()
	reg := prometheus.NewRegistry()

	metrics, err := observability.NewMetrics(reg, clk)
	s.Require().NoError(err)

	s.dispatcher, err = newDispatcher(&s.cfg, slog.New(slog.DiscardHandler), clk, metrics, reg)
	s.Require().NoError(err)
}

func (s *RoutesTestSuite) do(method semantic.Method, target, cookie, body string) (*semantic.Response, string) {
	u, err := uri.Parse("http://localhost" + target)
	s.Require().NoError(err)

	req := semantic.NewRequest(method, u)
	if cookie != "" {
		req = req.WithHeader("Cookie", cookie)
	}
	if body != "" {
		req = req.WithBodyString(body)
	}

	res := s.dispatcher.Dispatch(context.Background(), req)
	b, err := io.ReadAll(res.Body())
	s.Require().NoError(err)
	return res, string(b)
}

func (s *RoutesTestSuite) TestStaticRoutes() {
	testcases := []struct {
		desc   string
		method semantic.Method
		target string
		status status.Status
		body   string
	}{
		{desc: "index", method: semantic.MethodGet, target: "/", status: status.OK, body: "hermes\n"},
		{desc: "health", method: semantic.MethodGet, target: "/health", status: status.OK, body: "ok\n"},
		{desc: "hello", method: semantic.MethodGet, target: "/hello/ada", status: status.OK, body: "Hello, ada!\n"},
		{desc: "decoded param", method: semantic.MethodGet, target: "/hello/grace%20hopper", status: status.OK, body: "Hello, grace hopper!\n"},
		{desc: "unknown path", method: semantic.MethodGet, target: "/nope", status: status.NotFound},
		{desc: "wrong method", method: semantic.MethodPost, target: "/health", status: status.MethodNotAllowed},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			res, body := s.do(tc.method, tc.target, "", "")
			s.Equal(tc.status, res.Status())
			if tc.body != "" {
				s.Equal(tc.body, body)
			}

			// Unmatched requests skip middleware.
			_, ok := res.Header("X-Request-Id")
			s.Equal(tc.status == status.OK, ok)
		})
	}
}

func (s *RoutesTestSuite) TestMetrics() {
	s.do(semantic.MethodGet, "/health", "", "")

	res, body := s.do(semantic.MethodGet, "/metrics", "", "")
	s.Equal(status.OK, res.Status())
	s.Contains(body, `hermes_requests_total{method="GET",status="2xx"} 1`)
}

func (s *RoutesTestSuite) TestMetricsDisabled() {
	s.cfg.Metrics.Enabled = false
	s.build()

	res, _ := s.do(semantic.MethodGet, "/metrics", "", "")
	s.Equal(status.NotFound, res.Status())
}

func (s *RoutesTestSuite) TestSession() {
	res, _ := s.do(semantic.MethodPost, "/session/color", "", "blue")
	s.Require().Equal(status.NoContent, res.Status())

	setCookie, ok := res.Header("Set-Cookie")
	s.Require().True(ok)
	cookie, _, _ := strings.Cut(setCookie, ";")

	res, body := s.do(semantic.MethodGet, "/session/color", cookie, "")
	s.Equal(status.OK, res.Status())
	s.Equal("blue\n", body)

	res, _ = s.do(semantic.MethodGet, "/session/size", cookie, "")
	s.Equal(status.NotFound, res.Status())

	res, _ = s.do(semantic.MethodDelete, "/session/color", cookie, "")
	s.Equal(status.NoContent, res.Status())

	res, _ = s.do(semantic.MethodGet, "/session/color", cookie, "")
	s.Equal(status.NotFound, res.Status())

	res, _ = s.do(semantic.MethodDelete, "/session", cookie, "")
	s.Equal(status.NoContent, res.Status())
	setCookie, ok = res.Header("Set-Cookie")
	s.True(ok)
	s.Contains(setCookie, "Max-Age=0")
}

func (s *RoutesTestSuite) TestSessionIsolation() {
	res, _ := s.do(semantic.MethodPost, "/session/color", "", "blue")
	s.Require().Equal(status.NoContent, res.Status())

	res, _ = s.do(semantic.MethodGet, "/session/color", "", "")
	s.Equal(status.NotFound, res.Status(), "no cookie means a fresh session")
}

func (s *RoutesTestSuite) TestSessionDisabled() {
	s.cfg.Session.Enabled = false
	s.build()

	res, _ := s.do(semantic.MethodGet, "/session/color", "", "")
	s.Equal(status.NotFound, res.Status())
}
