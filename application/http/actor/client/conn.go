package client

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"time"

	"hermes/application/http"
	"hermes/application/http/semantic"
	"hermes/application/http/semantic/status"
	"hermes/application/http/transfer"
	iolib "hermes/lib/io"
	"hermes/transport"

	"github.com/pkg/errors"
)

var (
	// ErrServerClosed means the connection ended before any byte of a response.
	ErrServerClosed      = errors.New("server closed connection before responding")
	ErrContentTooLarge   = errors.New("response content too large")
	ErrUnexpectedUpgrade = errors.New("server switched protocols")
)

type conn struct {
	addr transport.Addr
	con  transport.Conn
	br   *bufio.Reader

	transfer *transfer.CodingApplier
	logger   *slog.Logger
	opts     Options

	// idleAt is when conn was put back into the pool.
	idleAt time.Time
	reused bool
}

func newConn(
	addr transport.Addr,
	con transport.Conn,
	codings *transfer.CodingApplier,
	logger *slog.Logger,
	opts Options,
) *conn {
	return &conn{
		addr:     addr,
		con:      con,
		br:       bufio.NewReader(con),
		transfer: codings,
		logger:   logger,
		opts:     opts,
	}
}

func (c *conn) close() {
	if err := c.con.Close(); err != nil && !errors.Is(err, transport.ErrConnClosed) {
		c.logger.Debug("error when closing connection", "error", err)
	}
}

// roundtrip sends request and reads the whole response.
// keepAlive reports whether c can carry another request.
// Cancelling ctx closes c.
func (c *conn) roundtrip(ctx context.Context, request *semantic.Request) (_ *semantic.Response, keepAlive bool, _ error) {
	stop := context.AfterFunc(ctx, c.close)

	// The writer runs on its own so a server answering early isn't blocked on us.
	written := make(chan error, 1)
	go func() { written <- c.writeRequest(request) }()

	response, err := c.readResponse(request.Method())
	if err != nil {
		c.close()
		<-written
		stop()

		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, false, err
	}

	keepAlive = request.KeepAlive() &&
		response.KeepAlive() &&
		!semantic.IsUntilClose(response, request.Method())
	if !keepAlive {
		// Unblocks a writer the server stopped reading from.
		c.close()
	}

	if err := <-written; err != nil && keepAlive {
		c.logger.Debug("request not fully sent", "error", err)
		c.close()
		keepAlive = false
	}

	if !stop() {
		// ctx closed c after the response was complete.
		keepAlive = false
	}

	return response, keepAlive, nil
}

func (c *conn) writeRequest(request *semantic.Request) error {
	raw, err := request.RawRequest(c.transfer)
	if err != nil {
		return errors.Wrap(err, "applying transfer coding to request")
	}

	if err := http.NewRequestEncoder(c.con, c.opts.Send.Encode).Encode(*raw); err != nil {
		return errors.Wrap(err, "encoding request")
	}
	return nil
}

// readResponse reads the final response with its whole body.
func (c *conn) readResponse(requestMethod semantic.Method) (*semantic.Response, error) {
	if _, err := c.br.Peek(1); err != nil {
		return nil, errors.WithMessage(ErrServerClosed, err.Error())
	}

	dec := http.NewResponseDecoder(c.br, c.opts.Receive.Decode)
	for {
		var raw http.Response
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.Wrap(err, "decoding response")
		}

		response, err := semantic.ResponseFrom(&raw, semantic.ParseResponseOptions{
			RequestMethod: requestMethod,
			Codings:       c.transfer,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create a semantic response")
		}

		code := response.StatusCode()
		if code == 101 {
			return nil, ErrUnexpectedUpgrade
		}
		if code >= 100 && code < 200 {
			// Interim responses come before the final one.
			// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.2
			c.logger.Debug("skipping interim response", "status", code)
			continue
		}

		if !c.opts.Receive.UseReceivedReasonPhrase {
			if s, ok := status.FromCode(code); ok {
				response = response.WithStatus(s)
			}
		}

		return c.readBody(response)
	}
}

func (c *conn) readBody(response *semantic.Response) (*semantic.Response, error) {
	if !response.HasBody() {
		return response, nil
	}

	limit := c.opts.Receive.MaxContentLength
	if l, ok := response.ContentLength(); ok && limit > 0 && l > limit {
		return nil, errors.Wrapf(ErrContentTooLarge, "content length %d", l)
	}

	content, err := iolib.ReadAtMost(response.Body(), limit)
	if errors.Is(err, iolib.ErrLimitExceeded) {
		return nil, errors.Wrapf(ErrContentTooLarge, "more than %d bytes", limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading body")
	}

	return response.WithBody(bytes.NewReader(content)), nil
}
