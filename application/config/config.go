// Package config loads hermes binaries' settings.
//
// Sources are applied in order: built-in defaults, a YAML file, HERMES_*
// environment variables. The result is validated as a whole.
package config

import "time"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
	Client  ClientConfig  `yaml:"client"`
}

type ServerConfig struct {
	Address string `yaml:"address"` // IP literal, default: 127.0.0.1
	Port    int    `yaml:"port"`    // default: 8080

	IdleTimeout  time.Duration `yaml:"idle_timeout"`  // default: 1m
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 30s

	MaxContentLength uint `yaml:"max_content_length"` // default: 10MiB
	MaxHeadBytes     uint `yaml:"max_head_bytes"`     // default: 1MiB
	MaxConns         uint `yaml:"max_conns"`          // 0 is unbounded
}

type SessionConfig struct {
	Enabled    bool          `yaml:"enabled"`     // default: true
	Store      string        `yaml:"store"`       // "memory" or "file"
	Dir        string        `yaml:"dir"`         // required for the file store
	Format     string        `yaml:"format"`      // "json" or "yaml"
	CookieName string        `yaml:"cookie_name"` // default: hermes_session
	MaxAge     time.Duration `yaml:"max_age"`     // 0 never expires
	Secure     bool          `yaml:"secure"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: /metrics
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // "text" or "json"
}

type ClientConfig struct {
	IdleTimeout         time.Duration `yaml:"idle_timeout"`            // default: 90s
	MaxIdleConnsPerHost uint          `yaml:"max_idle_conns_per_host"` // default: 2
	MaxContentLength    uint          `yaml:"max_content_length"`      // default: 10MiB
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Address:          "127.0.0.1",
			Port:             8080,
			IdleTimeout:      time.Minute,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
			MaxContentLength: 10 << 20,
			MaxHeadBytes:     1 << 20,
		},
		Session: SessionConfig{
			Enabled:    true,
			Store:      "memory",
			Format:     "json",
			CookieName: "hermes_session",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Client: ClientConfig{
			IdleTimeout:         90 * time.Second,
			MaxIdleConnsPerHost: 2,
			MaxContentLength:    10 << 20,
		},
	}
}
