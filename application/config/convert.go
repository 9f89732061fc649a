package config

import (
	"io"
	"log/slog"
	"net/netip"

	"hermes/application/http/actor/client"
	"hermes/application/http/actor/server"
	"hermes/application/http/session"
	"hermes/transport/tcp"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// Addr is where the server listens.
func (c ServerConfig) Addr() (tcp.Addr, error) {
	ip, err := netip.ParseAddr(c.Address)
	if err != nil {
		return tcp.Addr{}, errors.Wrap(err, "parsing server address")
	}
	return tcp.NewAddr(ip, uint16(c.Port)), nil
}

func (c ServerConfig) Options() server.Options {
	opts := server.DefaultOptions()
	opts.MaxConns = c.MaxConns
	opts.Serve.MaxContentLength = c.MaxContentLength
	opts.Serve.Decode.MaxHeadBytes = c.MaxHeadBytes
	opts.Serve.Timeout = server.TimeoutOptions{
		IdleTimeout:  c.IdleTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
	return opts
}

func (c ClientConfig) Options() client.Options {
	opts := client.DefaultOptions()
	opts.Conn.MaxIdleConnsPerHost = c.MaxIdleConnsPerHost
	opts.Timeout.IdleTimeout = c.IdleTimeout
	opts.Receive.MaxContentLength = c.MaxContentLength
	return opts
}

func (c SessionConfig) Options() session.Options {
	opts := session.DefaultOptions()
	opts.CookieName = c.CookieName
	opts.MaxAge = c.MaxAge
	opts.Secure = c.Secure
	return opts
}

func (c SessionConfig) NewStore(clock clock.Clock) (session.Store, error) {
	f, err := session.FormatterFor(c.Format)
	if err != nil {
		return nil, err
	}

	switch c.Store {
	case "memory":
		return session.NewMemoryStore(f, clock), nil
	case "file":
		return session.NewFileStore(c.Dir, f, clock)
	default:
		return nil, errors.Errorf("unknown session store %q", c.Store)
	}
}

// NewLogger writes to w in the configured format, at the configured level.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, errors.Wrap(err, "parsing log level")
	}

	opts := &slog.HandlerOptions{Level: level}
	switch c.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, errors.Errorf("unknown log format %q", c.Format)
	}
}
