package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"hermes/application/http"
	"hermes/application/http/semantic"
	"hermes/application/http/semantic/status"
	"hermes/application/http/transfer"
	iolib "hermes/lib/io"
	"hermes/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

var ErrIdleTimeoutExceeded = errors.New("idle timeout exceeded")

type conn struct {
	con transport.Conn
	br  *bufio.Reader

	handle  HandleFunc
	codings *transfer.CodingApplier
	clock   clock.Clock

	logger *slog.Logger

	opts Options
}

func newConn(
	con transport.Conn,
	handle HandleFunc,
	codings *transfer.CodingApplier,
	clock clock.Clock,
	logger *slog.Logger,
	opts Options,
) *conn {
	return &conn{
		con:     con,
		br:      bufio.NewReader(con),
		handle:  handle,
		codings: codings,
		clock:   clock,
		logger:  logger,
		opts:    opts,
	}
}

// start serves c until it is done, then closes it.
// Cancelling ctx closes the connection, aborting blocked reads and writes.
func (c *conn) start(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { _ = c.con.Close() })
	defer stop()

	defer func() {
		c.logger.Debug("closing connection")
		if err := c.con.Close(); err != nil && !errors.Is(err, transport.ErrConnClosed) {
			c.logger.Error("error when closing connection", "error", err)
		}
	}()

	err := c.serve(ctx)

	switch {
	case ctx.Err() != nil:
		// Shutting down.
	case errors.Is(err, ErrIdleTimeoutExceeded):
		c.logger.Debug("idle timeout exceeded")
	case errors.Is(err, http.ErrIncompleteBody):
		c.logger.Warn("message body is incomplete", "error", err)
	case errors.Is(err, transport.ErrConnClosed):
		c.logger.Debug("connection closed by peer")
	case err != nil:
		c.logger.Error("unknown error occured", "error", err)
	}
}

// serve handles requests one after another until the connection should be closed.
// It returns nil when the connection ends gracefully.
func (c *conn) serve(ctx context.Context) error {
	dec := http.NewRequestDecoder(c.br, c.opts.Serve.Decode)
	enc := http.NewResponseEncoder(c.con, c.opts.Serve.Encode)

	ctx = withRemoteAddr(ctx, c.con.RemoteAddr())

	for {
		if err := c.waitForRequest(); err != nil {
			return errors.Wrap(err, "waiting for request")
		}

		request, err := c.readRequest(dec)
		if err != nil {
			if peerGone(err) {
				return err
			}

			// No resynchronization after a malformed request.
			// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-9
			se := toStatusError(err)
			c.logger.Debug("rejecting request", "error", err, "status", se.Status.Code)

			response := c.prepareResponse(statusErrToResponse(se), nil)
			if err := c.writeResponse(enc, response, ""); err != nil {
				return errors.Wrap(err, "writing error response")
			}
			return nil
		}

		response, err := doHandle(ctx, c.handle, request)
		if err != nil {
			return errors.Wrap(err, "handling request")
		}

		response = c.prepareResponse(response, request)
		if err := c.writeResponse(enc, response, request.Method()); err != nil {
			return errors.Wrap(err, "writing response")
		}

		if !response.KeepAlive() || semantic.IsUntilClose(response, request.Method()) {
			return nil
		}
	}
}

// peerGone reports whether err means the peer can no longer receive a response.
func peerGone(err error) bool {
	return errors.Is(err, transport.ErrConnClosed) ||
		errors.Is(err, http.ErrIncompleteBody) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// waitForRequest blocks until the first byte of the next request arrives.
func (c *conn) waitForRequest() error {
	c.setReadDeadline(c.opts.Serve.Timeout.IdleTimeout)

	if _, err := c.br.Peek(1); err != nil {
		if errors.Is(err, transport.ErrDeadLineExceeded) {
			return ErrIdleTimeoutExceeded
		}
		return err
	}

	return nil
}

// readRequest reads a request with its whole body.
func (c *conn) readRequest(dec *http.RequestDecoder) (*semantic.Request, error) {
	c.setReadDeadline(c.opts.Serve.Timeout.ReadTimeout)

	var raw http.Request
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	opts := c.opts.Serve.Parse
	opts.Codings = c.codings

	request, err := semantic.RequestFrom(&raw, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create a semantic request")
	}

	if !request.HasBody() {
		return request, nil
	}

	limit := c.opts.Serve.MaxContentLength
	if l, ok := request.ContentLength(); ok && limit > 0 && l > limit {
		return nil, errors.Wrapf(ErrContentTooLarge, "content length %d", l)
	}

	content, err := iolib.ReadAtMost(request.Body(), limit)
	if errors.Is(err, iolib.ErrLimitExceeded) {
		return nil, errors.Wrapf(ErrContentTooLarge, "more than %d bytes", limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading body")
	}

	return request.WithBody(bytes.NewReader(content)), nil
}

// prepareResponse sets what the connection is responsible for:
// version, Date, default framing and connection persistence.
// request is nil when the request could not be read.
func (c *conn) prepareResponse(response *semantic.Response, request *semantic.Request) *semantic.Response {
	response = response.WithVersion(http.Version11)

	if _, ok := response.Header("Date"); !ok {
		// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-6.6.1-6
		response = response.WithDate(c.clock.Now())
	}

	keepAlive := request != nil && request.KeepAlive() && response.KeepAlive()

	headers := response.Headers()
	if !headers.Has("Content-Length") && !headers.Has("Transfer-Encoding") && mayHaveContent(response.Status()) {
		switch {
		case !response.HasBody():
			response = response.WithHeader("Content-Length", "0")
		case request != nil && !request.Version().Before(http.Version11):
			response = response.WithHeader("Transfer-Encoding", string(transfer.CodingChunked))
		default:
			// HTTP/1.0 peers only understand a body delimited by closing.
			// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.8
			keepAlive = false
		}
	}

	switch {
	case !keepAlive:
		response = response.WithHeader("Connection", "close")
	case request.Version().Before(http.Version11):
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#appendix-C.2.2
		response = response.WithHeader("Connection", "keep-alive")
	}

	return response
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.6-8
func mayHaveContent(s status.Status) bool {
	return s.Code >= 200 && s.Code != 204 && s.Code != 304
}

func (c *conn) writeResponse(enc *http.ResponseEncoder, response *semantic.Response, requestMethod semantic.Method) error {
	c.setWriteDeadline(c.opts.Serve.Timeout.WriteTimeout)

	raw, err := response.RawResponse(requestMethod, c.codings)
	if err != nil {
		// Could be [transfer.ErrUnsupportedCoding] set by the handler.
		return errors.Wrap(err, "applying transfer coding to response")
	}

	return enc.Encode(*raw)
}

func (c *conn) setReadDeadline(timeout time.Duration) {
	if timeout > 0 {
		c.con.SetReadDeadLine(c.clock.Now().Add(timeout))
		return
	}
	c.con.SetReadDeadLine(time.Time{})
}

func (c *conn) setWriteDeadline(timeout time.Duration) {
	if timeout > 0 {
		c.con.SetWriteDeadLine(c.clock.Now().Add(timeout))
		return
	}
	c.con.SetWriteDeadLine(time.Time{})
}
