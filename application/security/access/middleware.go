package access

import (
	"context"

	"hermes/application/http/routing"
	"hermes/application/http/semantic"
	"hermes/application/http/semantic/status"
)

// ActorFunc finds who is making the request. ok is false for anonymous requests.
type ActorFunc func(ctx context.Context, req *semantic.Request) (actor HasPermissions, ok bool)

// Middleware answers 403 Forbidden unless the actor holds every permission of required.
// The rest of the chain is skipped for rejected requests.
func Middleware(required Control, actorOf ActorFunc) routing.Middleware {
	return func(ctx context.Context, req *semantic.Request, next routing.Handler) *semantic.Response {
		actor, ok := actorOf(ctx, req)
		if !ok {
			actor = nil
		}
		if !required.IsAuthorized(actor) {
			return semantic.NewResponse(status.Forbidden).
				WithHeader("Content-Type", "text/plain; charset=utf-8").
				WithBodyString(status.Forbidden.String())
		}
		return next(ctx, req)
	}
}
