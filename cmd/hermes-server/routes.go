package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"hermes/application/config"
	"hermes/application/container"
	"hermes/application/http/middleware"
	"hermes/application/http/routing"
	"hermes/application/http/semantic"
	"hermes/application/http/semantic/status"
	"hermes/application/http/session"
	"hermes/application/observability"
	"hermes/lib/value"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

const greetingKey = "greeting"

func newDispatcher(
	cfg *config.Config,
	logger *slog.Logger,
	clk clock.Clock,
	metrics *observability.Metrics,
	gatherer prometheus.Gatherer,
) (*routing.Dispatcher, error) {
	c := container.New()
	if err := container.Register(c, greetingKey, "Hello"); err != nil {
		return nil, err
	}
	if err := container.RegisterDefault(c, logger); err != nil {
		return nil, err
	}

	router := routing.NewRouter()

	for _, err := range []error{
		router.Get("/", index),
		router.Get("/hello/{name}", hello),
		router.Get("/health", health),
	} {
		if err != nil {
			return nil, err
		}
	}
	if cfg.Metrics.Enabled {
		if err := router.Get(cfg.Metrics.Path, observability.Handler(gatherer)); err != nil {
			return nil, err
		}
	}

	if cfg.Session.Enabled {
		store, err := cfg.Session.NewStore(clk)
		if err != nil {
			return nil, err
		}

		sessions := router.Group("/session", session.Middleware(store, logger, clk, cfg.Session.Options()))
		for _, err := range []error{
			sessions.Delete("/", destroySession),
			sessions.Get("/{key}", getSessionValue),
			sessions.Post("/{key}", setSessionValue),
			sessions.Delete("/{key}", deleteSessionValue),
		} {
			if err != nil {
				return nil, err
			}
		}
	}

	mws := []routing.Middleware{middleware.RequestID(), middleware.AccessLog(logger, clk)}
	if cfg.Metrics.Enabled {
		mws = append(mws, metrics.Middleware())
	}
	mws = append(mws, container.Middleware(c))

	return routing.NewDispatcher(router, routing.DispatcherOptions{Middleware: mws}), nil
}

func text(s status.Status, body string) *semantic.Response {
	return semantic.NewResponse(s).
		WithHeader("Content-Type", "text/plain; charset=utf-8").
		WithBodyString(body)
}

func index(context.Context, *semantic.Request) *semantic.Response {
	return text(status.OK, "hermes\n")
}

func health(context.Context, *semantic.Request) *semantic.Response {
	return text(status.OK, "ok\n")
}

func hello(ctx context.Context, _ *semantic.Request) *semantic.Response {
	name, _ := routing.ParamValue(ctx, "name")

	c, ok := container.FromContext(ctx)
	if !ok {
		return text(status.InternalServerError, "no container\n")
	}
	greeting, err := container.Resolve[string](c, greetingKey)
	if err != nil {
		return text(status.InternalServerError, err.Error()+"\n")
	}

	return text(status.OK, fmt.Sprintf("%s, %s!\n", greeting, name))
}

// withSession answers 500 when the session can't be loaded.
func withSession(ctx context.Context, f func(s *session.Session, key string) *semantic.Response) *semantic.Response {
	s, err := session.FromContext(ctx)
	if err != nil {
		if logger, lerr := resolveLogger(ctx); lerr == nil {
			logger.ErrorContext(ctx, "session unavailable", slog.Any("error", err))
		}
		return text(status.InternalServerError, "session unavailable\n")
	}

	key, _ := routing.ParamValue(ctx, "key")
	return f(s, key)
}

func resolveLogger(ctx context.Context) (*slog.Logger, error) {
	c, ok := container.FromContext(ctx)
	if !ok {
		return nil, container.ErrNotFound
	}
	return container.ResolveDefault[*slog.Logger](c)
}

func getSessionValue(ctx context.Context, _ *semantic.Request) *semantic.Response {
	return withSession(ctx, func(s *session.Session, key string) *semantic.Response {
		v, ok := s.Get(key)
		if !ok {
			return text(status.NotFound, "no such key\n")
		}
		if str, ok := v.AsString(); ok {
			return text(status.OK, str+"\n")
		}
		return text(status.OK, v.String()+"\n")
	})
}

func setSessionValue(ctx context.Context, req *semantic.Request) *semantic.Response {
	body, err := io.ReadAll(req.Body())
	if err != nil {
		return text(status.BadRequest, "unreadable body\n")
	}

	return withSession(ctx, func(s *session.Session, key string) *semantic.Response {
		s.Set(key, value.String(string(body)))
		return semantic.NewResponse(status.NoContent)
	})
}

func deleteSessionValue(ctx context.Context, _ *semantic.Request) *semantic.Response {
	return withSession(ctx, func(s *session.Session, key string) *semantic.Response {
		s.Delete(key)
		return semantic.NewResponse(status.NoContent)
	})
}

func destroySession(ctx context.Context, _ *semantic.Request) *semantic.Response {
	return withSession(ctx, func(s *session.Session, _ string) *semantic.Response {
		s.Destroy()
		return semantic.NewResponse(status.NoContent)
	})
}
