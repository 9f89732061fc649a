package client

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/netip"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hermes/application/http"
	"hermes/application/http/actor/server"
	"hermes/application/http/semantic"
	"hermes/application/http/semantic/status"
	"hermes/application/util/domain"
	"hermes/application/util/uri"
	"hermes/transport"
	"hermes/transport/pipe"
	"hermes/transport/tcp"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func mustParseURI(t *testing.T, raw string) uri.URI {
	t.Helper()
	u, err := uri.Parse(raw)
	if err != nil {
		t.Fatalf("parsing %q: %v", raw, err)
	}
	return u
}

type countingDialer struct {
	transport.ConnDialer
	dials atomic.Int64
}

func (d *countingDialer) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	d.dials.Add(1)
	return d.ConnDialer.Dial(ctx, addr)
}

type countingMetrics struct {
	opened, closed atomic.Int64
}

func (m *countingMetrics) ConnOpened()   { m.opened.Add(1) }
func (m *countingMetrics) ConnClosed()   { m.closed.Add(1) }
func (m *countingMetrics) AcceptFailed() {}

func pipeAddr(netip.Addr, uint16) transport.Addr { return pipe.Addr{Name: "origin"} }

type ClientTestSuite struct {
	suite.Suite

	clock    *clock.Mock
	listener transport.ConnListener
	dialer   *countingDialer
	metrics  *countingMetrics

	server *server.Server
	client *Client

	handle atomic.Pointer[server.HandleFunc]
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (s *ClientTestSuite) SetupTest() {
	s.clock = clock.NewMock()

	pt := pipe.NewPipeTransport(s.clock)
	lis, err := pt.Listen(pipe.Addr{Name: "origin"})
	s.Require().NoError(err)
	s.listener = lis

	s.dialer = &countingDialer{ConnDialer: pt}
	s.metrics = new(countingMetrics)
	s.setHandler(echo)

	logger := slog.New(slog.DiscardHandler)

	serverOpts := server.DefaultOptions()
	serverOpts.Metrics = s.metrics
	s.server = server.New(lis, logger, s.clock, func(ctx context.Context, req *semantic.Request) *semantic.Response {
		return (*s.handle.Load())(ctx, req)
	}, serverOpts)
	s.server.Start()

	s.client = s.newClient(DefaultOptions())
}

func (s *ClientTestSuite) TearDownTest() {
	s.client.CloseIdle()
	s.NoError(s.server.Close())
	_ = s.listener.Close()
}

func (s *ClientTestSuite) newClient(opts Options) *Client {
	opts.CombineAddr = pipeAddr
	lookuper := domain.NewMapLookuper(map[string][]netip.Addr{
		"origin.test": {netip.MustParseAddr("10.0.0.1")},
	})
	return New(s.dialer, lookuper, slog.New(slog.DiscardHandler), s.clock, opts)
}

func (s *ClientTestSuite) setHandler(h server.HandleFunc) { s.handle.Store(&h) }

// echo answers with the request body and reports how the request was framed.
func echo(_ context.Context, req *semantic.Request) *semantic.Response {
	res := semantic.NewResponse(status.OK).
		WithHeader("X-Method", string(req.Method())).
		WithHeader("X-Path", req.URI().Path())

	if cl, ok := req.Header("Content-Length"); ok {
		res = res.WithHeader("X-Content-Length", cl)
	}
	if req.IsChunked() {
		res = res.WithHeader("X-Chunked", "true")
	}

	if !req.HasBody() {
		return res.WithBodyString("")
	}

	body, _ := io.ReadAll(req.Body())
	return res.WithBodyBytes(body)
}

func (s *ClientTestSuite) get(path string) *semantic.Response {
	res, err := s.client.Do(context.Background(), semantic.NewRequest(semantic.MethodGet, mustParseURI(s.T(), "http://origin.test"+path)))
	s.Require().NoError(err)
	return res
}

func readBody(s *suite.Suite, res *semantic.Response) string {
	b, err := io.ReadAll(res.Body())
	s.Require().NoError(err)
	return string(b)
}

func (s *ClientTestSuite) TestDo() {
	res := s.get("/hello")

	s.Equal(status.OK, res.Status())
	s.Equal(http.Version11, res.Version())

	method, _ := res.Header("X-Method")
	s.Equal("GET", method)
	path, _ := res.Header("X-Path")
	s.Equal("/hello", path)

	_, ok := res.Date()
	s.True(ok)
}

func (s *ClientTestSuite) TestIPLiteralHost() {
	req := semantic.NewRequest(semantic.MethodGet, mustParseURI(s.T(), "http://127.0.0.1:8080/ip"))

	res, err := s.client.Do(context.Background(), req)
	s.Require().NoError(err)
	s.Equal(status.OK, res.Status())
}

func (s *ClientTestSuite) TestReusesConnection() {
	for range 3 {
		s.get("/")
	}

	s.Equal(int64(1), s.dialer.dials.Load())
	s.Equal(uint(1), s.client.connPool.len(pipe.Addr{Name: "origin"}))
}

func (s *ClientTestSuite) TestServerClosesConnection() {
	s.setHandler(func(ctx context.Context, req *semantic.Request) *semantic.Response {
		return echo(ctx, req).WithHeader("Connection", "close")
	})

	s.get("/")
	s.get("/")

	s.Equal(int64(2), s.dialer.dials.Load())
	s.Zero(s.client.connPool.len(pipe.Addr{Name: "origin"}))
}

func (s *ClientTestSuite) TestClientClosesConnection() {
	req := semantic.NewRequest(semantic.MethodGet, mustParseURI(s.T(), "http://origin.test/")).
		WithHeader("Connection", "close")

	_, err := s.client.Do(context.Background(), req)
	s.Require().NoError(err)

	s.Zero(s.client.connPool.len(pipe.Addr{Name: "origin"}))
	s.Eventually(func() bool { return s.metrics.closed.Load() == 1 }, time.Second, time.Millisecond)
}

func (s *ClientTestSuite) TestIdleConnectionExpires() {
	opts := DefaultOptions()
	opts.Timeout.IdleTimeout = 10 * time.Second
	s.client = s.newClient(opts)

	s.get("/")
	s.clock.Add(10 * time.Second)
	s.get("/")

	s.Equal(int64(2), s.dialer.dials.Load())
}

func (s *ClientTestSuite) TestRetriesStaleConnection() {
	opts := DefaultOptions()
	opts.Timeout.IdleTimeout = 24 * time.Hour
	s.client = s.newClient(opts)

	s.get("/")

	// Let the server drop the idle connection.
	s.Eventually(func() bool {
		s.clock.Add(time.Minute)
		return s.metrics.closed.Load() == 1
	}, time.Second, 5*time.Millisecond)

	res := s.get("/again")
	path, _ := res.Header("X-Path")
	s.Equal("/again", path)
	s.Equal(int64(2), s.dialer.dials.Load())
}

func (s *ClientTestSuite) TestStaleConnectionNotReplayable() {
	opts := DefaultOptions()
	opts.Timeout.IdleTimeout = 24 * time.Hour
	s.client = s.newClient(opts)

	s.get("/")

	s.Eventually(func() bool {
		s.clock.Add(time.Minute)
		return s.metrics.closed.Load() == 1
	}, time.Second, 5*time.Millisecond)

	req := semantic.NewRequest(semantic.MethodPost, mustParseURI(s.T(), "http://origin.test/")).
		WithBodyString("payload")

	_, err := s.client.Do(context.Background(), req)
	s.ErrorIs(err, ErrServerClosed)
	s.Equal(int64(1), s.dialer.dials.Load())
}

func (s *ClientTestSuite) TestRequestFraming() {
	testcases := []struct {
		desc          string
		body          func() io.Reader
		contentLength string
		chunked       bool
	}{
		{
			desc:          "known length",
			body:          func() io.Reader { return bytes.NewReader([]byte("hello world")) },
			contentLength: "11",
		},
		{
			desc:          "string reader",
			body:          func() io.Reader { return strings.NewReader("hello world") },
			contentLength: "11",
		},
		{
			desc:    "unknown length",
			body:    func() io.Reader { return io.MultiReader(strings.NewReader("hello "), strings.NewReader("world")) },
			chunked: true,
		},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			req := semantic.NewRequest(semantic.MethodPost, mustParseURI(s.T(), "http://origin.test/echo")).
				WithBody(tc.body())

			res, err := s.client.Do(context.Background(), req)
			s.Require().NoError(err)
			s.Equal("hello world", readBody(&s.Suite, res))

			cl, _ := res.Header("X-Content-Length")
			s.Equal(tc.contentLength, cl)
			_, chunked := res.Header("X-Chunked")
			s.Equal(tc.chunked, chunked)
		})
	}
}

func (s *ClientTestSuite) TestChunkedResponse() {
	s.setHandler(func(context.Context, *semantic.Request) *semantic.Response {
		return semantic.NewResponse(status.OK).
			WithHeader("Transfer-Encoding", "chunked").
			WithBody(strings.NewReader("streamed body")).
			WithTrailers(semantic.NewHeaders().With("Checksum", "abc"))
	})

	res := s.get("/")

	s.True(res.IsChunked())
	s.Equal("streamed body", readBody(&s.Suite, res))

	trailers, ok := res.Trailers()
	s.Require().True(ok)
	v, _ := trailers.Get("Checksum")
	s.Equal("abc", v)

	// Chunked framing keeps the connection usable.
	s.get("/")
	s.Equal(int64(1), s.dialer.dials.Load())
}

func (s *ClientTestSuite) TestHead() {
	s.setHandler(func(context.Context, *semantic.Request) *semantic.Response {
		return semantic.NewResponse(status.OK).WithBodyString("hello")
	})

	req := semantic.NewRequest(semantic.MethodHead, mustParseURI(s.T(), "http://origin.test/"))
	res, err := s.client.Do(context.Background(), req)
	s.Require().NoError(err)

	cl, _ := res.ContentLength()
	s.Equal(uint(5), cl)
	s.False(res.HasBody())

	s.get("/")
	s.Equal(int64(1), s.dialer.dials.Load())
}

func (s *ClientTestSuite) TestContentTooLarge() {
	opts := DefaultOptions()
	opts.Receive.MaxContentLength = 4
	s.client = s.newClient(opts)

	req := semantic.NewRequest(semantic.MethodPost, mustParseURI(s.T(), "http://origin.test/")).
		WithBodyString("hello")

	_, err := s.client.Do(context.Background(), req)
	s.ErrorIs(err, ErrContentTooLarge)
	s.Zero(s.client.connPool.len(pipe.Addr{Name: "origin"}))
}

func (s *ClientTestSuite) TestInvalidRequest() {
	testcases := []struct {
		desc    string
		uri     uri.URI
		wantErr error
	}{
		{desc: "https", uri: mustParseURI(s.T(), "https://origin.test/"), wantErr: ErrUnsupportedScheme},
		{desc: "relative", uri: mustParseURI(s.T(), "/path"), wantErr: ErrUnsupportedScheme},
		{desc: "no host", uri: mustParseURI(s.T(), "http://origin.test/").WithAuthority(nil), wantErr: ErrMissingHost},
		{desc: "unknown host", uri: mustParseURI(s.T(), "http://nowhere.test/"), wantErr: domain.ErrDomainNotFound},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			_, err := s.client.Do(context.Background(), semantic.NewRequest(semantic.MethodGet, tc.uri))
			s.ErrorIs(err, tc.wantErr)
		})
	}

	s.Zero(s.dialer.dials.Load())
}

func (s *ClientTestSuite) TestConnRefused() {
	s.client = New(s.dialer, domain.NewMapLookuper(nil), slog.New(slog.DiscardHandler), s.clock, Options{
		CombineAddr: func(netip.Addr, uint16) transport.Addr { return pipe.Addr{Name: "nobody"} },
	})

	_, err := s.client.Do(context.Background(), semantic.NewRequest(semantic.MethodGet, mustParseURI(s.T(), "http://127.0.0.1/")))
	s.ErrorIs(err, transport.ErrConnRefused)
}

func (s *ClientTestSuite) TestContextCancel() {
	release := make(chan struct{})
	entered := make(chan struct{})
	s.setHandler(func(ctx context.Context, req *semantic.Request) *semantic.Response {
		close(entered)
		<-release
		return echo(ctx, req)
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.client.Do(ctx, semantic.NewRequest(semantic.MethodGet, mustParseURI(s.T(), "http://origin.test/")))
		errc <- err
	}()

	<-entered
	cancel()

	s.ErrorIs(<-errc, context.Canceled)
	s.Zero(s.client.connPool.len(pipe.Addr{Name: "origin"}))
}

func TestConvertToAddr(t *testing.T) {
	lookuper := domain.NewMapLookuper(map[string][]netip.Addr{
		"origin.test": {netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2")},
	})
	c := New(nil, lookuper, slog.New(slog.DiscardHandler), clock.NewMock(), DefaultOptions())

	testcases := []struct {
		desc     string
		uri      string
		expected transport.Addr
		wantErr  error
	}{
		{desc: "ipv4 default port", uri: "http://192.0.2.1/", expected: tcp.NewAddr(netip.MustParseAddr("192.0.2.1"), 80)},
		{desc: "ipv4 with port", uri: "http://192.0.2.1:8080/", expected: tcp.NewAddr(netip.MustParseAddr("192.0.2.1"), 8080)},
		{desc: "ipv6", uri: "http://[2001:db8::1]:8080/", expected: tcp.NewAddr(netip.MustParseAddr("2001:db8::1"), 8080)},
		{desc: "domain uses first address", uri: "http://origin.test:81/", expected: tcp.NewAddr(netip.MustParseAddr("10.0.0.1"), 81)},
		{desc: "unknown domain", uri: "http://nowhere.test/", wantErr: domain.ErrDomainNotFound},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			addr, err := c.convertToAddr(context.Background(), mustParseURI(t, tc.uri))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, addr)
		})
	}
}

func TestPrepareRequest(t *testing.T) {
	u := mustParseURI(t, "http://origin.test/")

	testcases := []struct {
		desc     string
		request  *semantic.Request
		header   string
		expected string
	}{
		{
			desc:    "no body",
			request: semantic.NewRequest(semantic.MethodGet, u),
		},
		{
			desc:     "known length",
			request:  semantic.NewRequest(semantic.MethodPost, u).WithBody(bytes.NewBufferString("abc")),
			header:   "Content-Length",
			expected: "3",
		},
		{
			desc:     "unknown length",
			request:  semantic.NewRequest(semantic.MethodPost, u).WithBody(io.LimitReader(strings.NewReader("abc"), 2)),
			header:   "Transfer-Encoding",
			expected: "chunked",
		},
		{
			desc: "framed by caller",
			request: semantic.NewRequest(semantic.MethodPost, u).
				WithHeader("Content-Length", "2").
				WithBody(io.LimitReader(strings.NewReader("abc"), 2)),
			header:   "Content-Length",
			expected: "2",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			prepared := prepareRequest(tc.request)
			if tc.header == "" {
				assert.False(t, prepared.Headers().Has("Content-Length"))
				assert.False(t, prepared.Headers().Has("Transfer-Encoding"))
				return
			}

			v, ok := prepared.Header(tc.header)
			assert.True(t, ok)
			assert.Equal(t, tc.expected, v)
		})
	}
}

func TestIsReplayable(t *testing.T) {
	u := mustParseURI(t, "http://origin.test/")

	assert.True(t, isReplayable(semantic.NewRequest(semantic.MethodGet, u)))
	assert.True(t, isReplayable(semantic.NewRequest(semantic.MethodDelete, u)))
	assert.False(t, isReplayable(semantic.NewRequest(semantic.MethodPost, u)))
	assert.False(t, isReplayable(semantic.NewRequest(semantic.MethodPut, u).WithBodyString("x")))
}

// RawServerTestSuite talks to hand-written responses.
type RawServerTestSuite struct {
	suite.Suite

	clock    *clock.Mock
	listener transport.ConnListener
	client   *Client

	done chan struct{}
}

func TestRawServerTestSuite(t *testing.T) {
	suite.Run(t, new(RawServerTestSuite))
}

func (s *RawServerTestSuite) SetupTest() {
	s.clock = clock.NewMock()

	pt := pipe.NewPipeTransport(s.clock)
	lis, err := pt.Listen(pipe.Addr{Name: "origin"})
	s.Require().NoError(err)
	s.listener = lis

	s.client = s.newClient(DefaultOptions(), pt)
}

func (s *RawServerTestSuite) newClient(opts Options, d transport.ConnDialer) *Client {
	opts.CombineAddr = pipeAddr
	return New(d, domain.NewMapLookuper(nil), slog.New(slog.DiscardHandler), s.clock, opts)
}

func (s *RawServerTestSuite) TearDownTest() {
	s.client.CloseIdle()
	_ = s.listener.Close()
	if s.done != nil {
		<-s.done
	}
}

// reply accepts one connection, reads a request head and writes raw back before closing.
func (s *RawServerTestSuite) reply(raw string) {
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)

		con, err := s.listener.Accept(context.Background())
		if err != nil {
			return
		}
		defer con.Close()

		var req http.Request
		if err := http.NewRequestDecoder(bufio.NewReader(con), http.DefaultDecodeOptions).Decode(&req); err != nil {
			return
		}
		if raw != "" {
			_, _ = io.WriteString(con, raw)
		}
	}()
}

func (s *RawServerTestSuite) do() (*semantic.Response, error) {
	return s.client.Do(context.Background(), semantic.NewRequest(semantic.MethodGet, mustParseURI(s.T(), "http://127.0.0.1/")))
}

func (s *RawServerTestSuite) TestInterimResponses() {
	s.reply("" +
		"HTTP/1.1 100 Continue\r\n\r\n" +
		"HTTP/1.1 103 Early Hints\r\nLink: </style.css>\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok",
	)

	res, err := s.do()
	s.Require().NoError(err)
	s.Equal(status.OK, res.Status())
	s.Equal("ok", readBody(&s.Suite, res))

	_, ok := res.Header("Link")
	s.False(ok)
}

func (s *RawServerTestSuite) TestReasonPhrase() {
	testcases := []struct {
		desc     string
		options  func(*Options)
		expected string
	}{
		{desc: "received by default", options: func(*Options) {}, expected: "Fine"},
		{
			desc:     "canonical phrase",
			options:  func(o *Options) { o.Receive.UseReceivedReasonPhrase = false },
			expected: "OK",
		},
	}

	for _, tc := range testcases {
		s.Run(tc.desc, func() {
			opts := DefaultOptions()
			tc.options(&opts)
			s.client = s.newClient(opts, s.client.connDialer)

			s.reply("HTTP/1.1 200 Fine\r\nContent-Length: 0\r\n\r\n")

			res, err := s.do()
			s.Require().NoError(err)
			s.Equal(uint(200), res.StatusCode())
			s.Equal(tc.expected, res.Status().ReasonPhrase)

			s.client.CloseIdle()
			<-s.done
		})
	}
}

func (s *RawServerTestSuite) TestUntilCloseBody() {
	s.reply("HTTP/1.1 200 OK\r\n\r\nuntil the end")

	res, err := s.do()
	s.Require().NoError(err)
	s.Equal("until the end", readBody(&s.Suite, res))
	s.Zero(s.client.connPool.len(pipe.Addr{Name: "origin"}))
}

func (s *RawServerTestSuite) TestSwitchingProtocols() {
	s.reply("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: upgrade\r\n\r\n")

	_, err := s.do()
	s.ErrorIs(err, ErrUnexpectedUpgrade)
}

func (s *RawServerTestSuite) TestIncompleteBody() {
	s.reply("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nshort")

	_, err := s.do()
	s.ErrorIs(err, http.ErrIncompleteBody)
}

func (s *RawServerTestSuite) TestMalformedResponse() {
	s.reply("NOT HTTP AT ALL\r\n\r\n")

	_, err := s.do()
	s.Error(err)
	s.NotErrorIs(err, ErrServerClosed)
}

func (s *RawServerTestSuite) TestClosedBeforeResponding() {
	s.reply("")

	_, err := s.do()
	s.ErrorIs(err, ErrServerClosed)
}
