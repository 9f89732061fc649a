package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, the YAML file at path and the
// environment. An empty path falls back to HERMES_CONFIG, then to no file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("HERMES_CONFIG")
	}
	if path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, errors.Wrapf(err, "loading config file %s", path)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, errors.Wrap(err, "reading environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation")
	}

	return &cfg, nil
}

// loadYAMLFile keeps the current value of fields absent from the file.
// Unknown fields are rejected.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type envVar struct {
	name  string
	apply func(v string) error
}

func envVars(cfg *Config) []envVar {
	return []envVar{
		{"HERMES_ADDRESS", setString(&cfg.Server.Address)},
		{"HERMES_PORT", setInt(&cfg.Server.Port)},
		{"HERMES_IDLE_TIMEOUT", setDuration(&cfg.Server.IdleTimeout)},
		{"HERMES_MAX_CONNS", setUint(&cfg.Server.MaxConns)},
		{"HERMES_SESSION_ENABLED", setBool(&cfg.Session.Enabled)},
		{"HERMES_SESSION_STORE", setString(&cfg.Session.Store)},
		{"HERMES_SESSION_DIR", setString(&cfg.Session.Dir)},
		{"HERMES_SESSION_FORMAT", setString(&cfg.Session.Format)},
		{"HERMES_METRICS_ENABLED", setBool(&cfg.Metrics.Enabled)},
		{"HERMES_LOG_LEVEL", setString(&cfg.Log.Level)},
		{"HERMES_LOG_FORMAT", setString(&cfg.Log.Format)},
	}
}

func applyEnvOverrides(cfg *Config) error {
	for _, ev := range envVars(cfg) {
		v, ok := os.LookupEnv(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.apply(v); err != nil {
			return errors.Wrapf(err, "%s=%q", ev.name, v)
		}
	}
	return nil
}

func setString(p *string) func(string) error {
	return func(v string) error {
		*p = v
		return nil
	}
}

func setInt(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func setUint(p *uint) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseUint(v, 10, 0)
		if err != nil {
			return err
		}
		*p = uint(n)
		return nil
	}
}

func setBool(p *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p = b
		return nil
	}
}

func setDuration(p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p = d
		return nil
	}
}
