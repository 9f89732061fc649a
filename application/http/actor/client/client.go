package client

import (
	"context"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"

	"hermes/application/http/semantic"
	"hermes/application/http/transfer"
	"hermes/application/util/domain"
	"hermes/application/util/uri"
	"hermes/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrMissingHost       = errors.New("request has no host")
)

type Client struct {
	connPool *connPool

	opts Options

	logger *slog.Logger
	clock  clock.Clock

	transfer    *transfer.CodingApplier
	lookuper    domain.Lookuper
	connDialer  transport.ConnDialer
	combineAddr CombineAddrFunc
}

func New(
	d transport.ConnDialer,
	lookuper domain.Lookuper,
	logger *slog.Logger,
	clock clock.Clock,
	opts Options,
) *Client {
	client := &Client{
		connDialer:  d,
		lookuper:    lookuper,
		logger:      logger,
		opts:        opts,
		clock:       clock,
		combineAddr: opts.CombineAddr,
		transfer:    transfer.NewCodingApplier(opts.ExtraTransferCoders),
		connPool:    newConnPool(opts.Conn.MaxIdleConnsPerHost, opts.Timeout.IdleTimeout, clock),
	}

	if client.combineAddr == nil {
		client.combineAddr = defaultCombineAddr
	}

	return client
}

// Do sends request to the origin named by its URI and returns the complete response.
// Connections are reused while both sides keep them alive.
func (c *Client) Do(ctx context.Context, request *semantic.Request) (*semantic.Response, error) {
	if err := validateRequest(request); err != nil {
		return nil, errors.Wrap(err, "validating request")
	}
	request = prepareRequest(request)

	addr, err := c.convertToAddr(ctx, request.URI())
	if err != nil {
		return nil, errors.Wrap(err, "converting authority to addr")
	}

	conn, err := c.getConn(ctx, addr, true)
	if err != nil {
		return nil, errors.Wrap(err, "getting connection")
	}

	response, keepAlive, err := conn.roundtrip(ctx, request)
	if err != nil && conn.reused && errors.Is(err, ErrServerClosed) && isReplayable(request) {
		// The server dropped the idle connection meanwhile.
		c.logger.Debug("retrying on a new connection", "addr", addr.String(), "error", err)

		conn, err = c.getConn(ctx, addr, false)
		if err != nil {
			return nil, errors.Wrap(err, "getting connection")
		}
		response, keepAlive, err = conn.roundtrip(ctx, request)
	}
	if err != nil {
		return nil, errors.Wrap(err, "error while request-response roundtrip")
	}

	if keepAlive {
		c.connPool.put(conn)
	}

	return response, nil
}

// CloseIdle closes connections kept for reuse.
func (c *Client) CloseIdle() { c.connPool.closeIdle() }

func validateRequest(request *semantic.Request) error {
	u := request.URI()
	if u.Scheme() != "http" {
		return errors.Wrapf(ErrUnsupportedScheme, "%q", u.Scheme())
	}
	if u.Host() == "" {
		return ErrMissingHost
	}
	return nil
}

// prepareRequest frames a body the caller left unframed.
// Bodies of known length get Content-Length, others are chunked.
func prepareRequest(request *semantic.Request) *semantic.Request {
	headers := request.Headers()
	if !request.HasBody() || headers.Has("Content-Length") || headers.Has("Transfer-Encoding") {
		return request
	}

	if l, ok := request.Body().(interface{ Len() int }); ok {
		return request.WithHeader("Content-Length", strconv.Itoa(l.Len()))
	}
	return request.WithHeader("Transfer-Encoding", string(transfer.CodingChunked))
}

// isReplayable reports whether request can be sent again without side effects.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-9.2.2
func isReplayable(request *semantic.Request) bool {
	if request.HasBody() {
		return false
	}

	switch request.Method() {
	case semantic.MethodGet, semantic.MethodHead, semantic.MethodOptions,
		semantic.MethodTrace, semantic.MethodPut, semantic.MethodDelete:
		return true
	}
	return false
}

func (c *Client) convertToAddr(ctx context.Context, u uri.URI) (transport.Addr, error) {
	port, ok := u.Port()
	if !ok {
		port = semantic.DefaultPort(u.Scheme())
	}

	host := u.Host()
	if ip, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return c.combineAddr(ip, port), nil
	}

	// Host is a domain name. Resolve it to the ip address.
	ips, err := c.lookuper.LookupIP(ctx, host)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup for host(%s) failed", host)
	}
	if len(ips) == 0 {
		return nil, errors.Wrap(domain.ErrDomainNotFound, host)
	}

	// Lets simply use the first address.
	return c.combineAddr(ips[0], port), nil
}

// getConn takes an idle connection to addr when pooled is set, or dials a new one.
func (c *Client) getConn(ctx context.Context, addr transport.Addr, pooled bool) (*conn, error) {
	if pooled {
		if conn, ok := c.connPool.get(addr); ok {
			return conn, nil
		}
	}

	tConn, err := c.connDialer.Dial(ctx, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", addr.String())
	}

	return newConn(addr, tConn, c.transfer, c.logger.With("addr", addr.String()), c.opts), nil
}
