package server

import (
	"context"

	"hermes/application/http"
	"hermes/application/http/semantic"
	"hermes/application/http/semantic/status"
	"hermes/application/http/transfer"
	"hermes/transport"

	"github.com/pkg/errors"
)

// HandleFunc answers a request. The request body is fully read beforehand.
// Returning nil is a fatal error for the connection.
type HandleFunc func(ctx context.Context, request *semantic.Request) *semantic.Response

var (
	ErrNilResponse     = errors.New("nil response is forbidden")
	ErrHandlerPanicked = errors.New("handler panicked")
	ErrContentTooLarge = errors.New("content too large")
)

type remoteAddrKey struct{}

// RemoteAddr returns the address of the peer whose request is being handled.
func RemoteAddr(ctx context.Context) (transport.Addr, bool) {
	addr, ok := ctx.Value(remoteAddrKey{}).(transport.Addr)
	return addr, ok
}

func withRemoteAddr(ctx context.Context, addr transport.Addr) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

func doHandle(ctx context.Context, handle HandleFunc, request *semantic.Request) (res *semantic.Response, err error) {
	defer func() {
		if e := recover(); e != nil {
			res, err = nil, errors.Wrapf(ErrHandlerPanicked, "%v", e)
		}
	}()

	res = handle(ctx, request)
	if res == nil {
		return nil, ErrNilResponse
	}

	return res, nil
}

// toStatusError converts error into [status.Error].
// It assumes that error is returned when reading request,
// so if it isn't any specific error, it will return error with [status.BadRequest].
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-9
func toStatusError(err error) status.Error {
	switch {
	case errors.Is(err, transport.ErrDeadLineExceeded):
		return status.NewError(err, status.RequestTimeout)

	case errors.Is(err, semantic.ErrURITooLong), errors.Is(err, http.ErrRequestLineTooLong):
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-4
		return status.NewError(err, status.URITooLong)

	case errors.Is(err, http.ErrHeadTooLarge), errors.Is(err, http.ErrFieldLineTooLong):
		// Reference: https://datatracker.ietf.org/doc/html/rfc6585#section-5
		return status.NewError(err, status.RequestHeaderFieldsTooLarge)

	case errors.Is(err, ErrContentTooLarge):
		return status.NewError(err, status.ContentTooLarge)

	case errors.Is(err, transfer.ErrUnsupportedCoding):
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.1-11
		return status.NewError(err, status.NotImplemented)

	case errors.Is(err, semantic.ErrUnsupportedVersion):
		return status.NewError(err, status.HTTPVersionNotSupported)
	}

	return status.NewError(err, status.BadRequest)
}

// statusErrToResponse builds the response sent before closing the connection.
// The cause is not exposed to the peer.
func statusErrToResponse(se status.Error) *semantic.Response {
	return semantic.NewResponse(se.Status).
		WithHeader("Content-Type", "text/plain; charset=utf-8").
		WithHeader("Connection", "close").
		WithBodyString(se.Status.String())
}
