package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"
)

// Validate reports every invalid field, each with its path.
func (c *Config) Validate() error {
	var errs []error

	if _, err := netip.ParseAddr(c.Server.Address); err != nil {
		errs = append(errs, fmt.Errorf("server.address must be an IP address, got %q", c.Server.Address))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"client.idle_timeout", c.Client.IdleTimeout},
		{"session.max_age", c.Session.MaxAge},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", d.name, d.value))
		}
	}

	if c.Session.Enabled {
		switch c.Session.Store {
		case "memory":
		case "file":
			if c.Session.Dir == "" {
				errs = append(errs, fmt.Errorf("session.dir is required when session.store is \"file\""))
			}
		default:
			errs = append(errs, fmt.Errorf("session.store must be \"memory\" or \"file\", got %q", c.Session.Store))
		}

		switch c.Session.Format {
		case "json", "yaml":
		default:
			errs = append(errs, fmt.Errorf("session.format must be \"json\" or \"yaml\", got %q", c.Session.Format))
		}

		if c.Session.CookieName == "" {
			errs = append(errs, fmt.Errorf("session.cookie_name is required"))
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		errs = append(errs, fmt.Errorf("metrics.path must start with \"/\", got %q", c.Metrics.Path))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
