// Package middleware holds routing middleware shared by hermes binaries.
package middleware

import (
	"context"

	"hermes/application/http/routing"
	"hermes/application/http/semantic"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-Id"

// maxRequestIDLen bounds ids taken from requests.
const maxRequestIDLen = 128

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the id set by [RequestID], or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID tags every request with an id and echoes it on the response.
// An incoming X-Request-Id is reused, otherwise a random UUID is generated.
func RequestID() routing.Middleware {
	return func(ctx context.Context, req *semantic.Request, next routing.Handler) *semantic.Response {
		id, ok := req.Header(RequestIDHeader)
		if !ok || id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		res := next(WithRequestID(ctx, id), req)
		return res.WithHeader(RequestIDHeader, id)
	}
}
