package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hermes/application/http/cookie"
	"hermes/application/http/routing"
	"hermes/application/http/semantic"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

var ErrNoSession = errors.New("no session middleware")

type Options struct {
	CookieName string
	Path       string
	Secure     bool
	HttpOnly   bool
	SameSite   cookie.SameSite

	// MaxAge expires sessions this long after their last save. 0 keeps them
	// until destroyed, and the cookie lives until the user agent closes.
	MaxAge time.Duration
}

func DefaultOptions() Options {
	return Options{
		CookieName: "hermes_session",
		Path:       "/",
		HttpOnly:   true,
		SameSite:   cookie.SameSiteLax,
	}
}

type sessionKey struct{}

// lazySession defers loading until a handler asks for the session.
type lazySession struct {
	load func() (*Session, error)

	once sync.Once
	sess *Session
	err  error
}

func (l *lazySession) get() (*Session, error) {
	l.once.Do(func() { l.sess, l.err = l.load() })
	return l.sess, l.err
}

// loaded returns the session if a handler asked for it. Later calls to get
// won't load anymore.
func (l *lazySession) loaded() (*Session, bool) {
	l.once.Do(func() {})
	return l.sess, l.sess != nil
}

// FromContext returns the session of the request, loading or creating it on first call.
func FromContext(ctx context.Context) (*Session, error) {
	l, ok := ctx.Value(sessionKey{}).(*lazySession)
	if !ok {
		return nil, ErrNoSession
	}
	return l.get()
}

// Middleware binds a session to each request through the cookie named in opts.
// Modified sessions are saved after the handler returns, and new ones get a Set-Cookie.
// Store failures are logged and never fail the request on their own.
func Middleware(store Store, logger *slog.Logger, clock clock.Clock, opts Options) routing.Middleware {
	return func(ctx context.Context, req *semantic.Request, next routing.Handler) *semantic.Response {
		id, hasCookie := cookie.FromRequest(req).Get(opts.CookieName)

		l := &lazySession{load: func() (*Session, error) {
			if hasCookie {
				s, err := store.Load(ctx, id)
				if err == nil {
					return s, nil
				}
				if !errors.Is(err, ErrNotFound) {
					logger.WarnContext(ctx, "failed to load session", slog.Any("error", err))
					return nil, err
				}
			}

			newID, err := NewID()
			if err != nil {
				return nil, errors.Wrap(err, "creating session id")
			}
			return New(newID), nil
		}}

		res := next(context.WithValue(ctx, sessionKey{}, l), req)

		s, ok := l.loaded()
		if !ok {
			return res
		}
		return finish(ctx, store, logger, clock, opts, s, res)
	}
}

func finish(
	ctx context.Context,
	store Store,
	logger *slog.Logger,
	clock clock.Clock,
	opts Options,
	s *Session,
	res *semantic.Response,
) *semantic.Response {
	c := cookie.Cookie{
		Name:     opts.CookieName,
		Value:    s.ID(),
		Path:     opts.Path,
		Secure:   opts.Secure,
		HttpOnly: opts.HttpOnly,
		SameSite: opts.SameSite,
	}

	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()

	if destroyed {
		if err := store.Destroy(ctx, s.ID()); err != nil {
			logger.WarnContext(ctx, "failed to destroy session", slog.Any("error", err))
		}
		if s.IsNew() {
			return res
		}
		c.MaxAge = -1
		return setCookie(res, c, logger)
	}

	if !s.Modified() {
		return res
	}

	if opts.MaxAge > 0 {
		s.mu.Lock()
		s.expiresAt = clock.Now().Add(opts.MaxAge)
		s.mu.Unlock()
		c.MaxAge = int(opts.MaxAge / time.Second)
	}

	if err := store.Save(ctx, s); err != nil {
		logger.WarnContext(ctx, "failed to save session", slog.Any("error", err))
		return res
	}

	if s.IsNew() || opts.MaxAge > 0 {
		return setCookie(res, c, logger)
	}
	return res
}

func setCookie(res *semantic.Response, c cookie.Cookie, logger *slog.Logger) *semantic.Response {
	withCookie, err := cookie.SetCookie(res, c)
	if err != nil {
		logger.Warn("failed to set session cookie", slog.Any("error", err))
		return res
	}
	return withCookie
}
