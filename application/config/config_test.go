package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hermes/application/http/session"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("HERMES_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
}

func TestLoadFromYAML(t *testing.T) {
	t.Setenv("HERMES_CONFIG", "")

	path := writeTemp(t, `
server:
  address: 0.0.0.0
  port: 9090
  idle_timeout: 2m
  max_conns: 64
session:
  store: file
  dir: /var/lib/hermes
  format: yaml
  max_age: 24h
log:
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Address)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Server.IdleTimeout)
	assert.Equal(t, uint(64), cfg.Server.MaxConns)
	assert.Equal(t, "file", cfg.Session.Store)
	assert.Equal(t, 24*time.Hour, cfg.Session.MaxAge)
	assert.Equal(t, "json", cfg.Log.Format)

	// Untouched fields keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "hermes_session", cfg.Session.CookieName)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromEnvPath(t *testing.T) {
	t.Setenv("HERMES_CONFIG", writeTemp(t, "server:\n  port: 7070\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeTemp(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
}

func TestLoadErrors(t *testing.T) {
	testcases := []struct {
		desc    string
		content string
	}{
		{desc: "unknown field", content: "server:\n  prot: 1\n"},
		{desc: "malformed yaml", content: "server: [\n"},
		{desc: "bad duration", content: "server:\n  idle_timeout: soon\n"},
		{desc: "invalid value", content: "server:\n  port: 0\n"},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Load(writeTemp(t, tc.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvOverrides(t *testing.T) {
	path := writeTemp(t, "server:\n  port: 9090\nlog:\n  level: debug\n")

	t.Setenv("HERMES_PORT", "9191")
	t.Setenv("HERMES_MAX_CONNS", "8")
	t.Setenv("HERMES_IDLE_TIMEOUT", "5s")
	t.Setenv("HERMES_SESSION_ENABLED", "false")
	t.Setenv("HERMES_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port, "environment wins over file")
	assert.Equal(t, uint(8), cfg.Server.MaxConns)
	assert.Equal(t, 5*time.Second, cfg.Server.IdleTimeout)
	assert.False(t, cfg.Session.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level, "file value kept")
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("HERMES_CONFIG", "")
	t.Setenv("HERMES_PORT", "eighty")

	_, err := Load("")
	assert.ErrorContains(t, err, "HERMES_PORT")
}

func TestValidate(t *testing.T) {
	testcases := []struct {
		desc   string
		modify func(c *Config)
		field  string
	}{
		{desc: "hostname address", modify: func(c *Config) { c.Server.Address = "localhost" }, field: "server.address"},
		{desc: "port too large", modify: func(c *Config) { c.Server.Port = 70000 }, field: "server.port"},
		{desc: "negative timeout", modify: func(c *Config) { c.Server.ReadTimeout = -time.Second }, field: "server.read_timeout"},
		{desc: "unknown store", modify: func(c *Config) { c.Session.Store = "redis" }, field: "session.store"},
		{desc: "file store without dir", modify: func(c *Config) { c.Session.Store = "file" }, field: "session.dir"},
		{desc: "unknown format", modify: func(c *Config) { c.Session.Format = "xml" }, field: "session.format"},
		{desc: "no cookie name", modify: func(c *Config) { c.Session.CookieName = "" }, field: "session.cookie_name"},
		{desc: "relative metrics path", modify: func(c *Config) { c.Metrics.Path = "metrics" }, field: "metrics.path"},
		{desc: "unknown level", modify: func(c *Config) { c.Log.Level = "loud" }, field: "log.level"},
		{desc: "unknown log format", modify: func(c *Config) { c.Log.Format = "xml" }, field: "log.format"},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := Defaults()
			tc.modify(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.field)
		})
	}
}

func TestValidateDisabledSession(t *testing.T) {
	cfg := Defaults()
	cfg.Session.Enabled = false
	cfg.Session.Store = "redis"
	assert.NoError(t, cfg.Validate())
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	assert.ErrorContains(t, err, "server.port")
	assert.ErrorContains(t, err, "log.format")
}

func TestServerOptions(t *testing.T) {
	cfg := Defaults().Server
	cfg.MaxConns = 3
	cfg.MaxHeadBytes = 4096

	opts := cfg.Options()
	assert.Equal(t, uint(3), opts.MaxConns)
	assert.Equal(t, uint(4096), opts.Serve.Decode.MaxHeadBytes)
	assert.Equal(t, cfg.IdleTimeout, opts.Serve.Timeout.IdleTimeout)
	assert.Equal(t, cfg.MaxContentLength, opts.Serve.MaxContentLength)

	addr, err := cfg.Addr()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", addr.String())
}

func TestClientOptions(t *testing.T) {
	cfg := Defaults().Client
	cfg.MaxIdleConnsPerHost = 0

	opts := cfg.Options()
	assert.Zero(t, opts.Conn.MaxIdleConnsPerHost)
	assert.Equal(t, 90*time.Second, opts.Timeout.IdleTimeout)
	assert.True(t, opts.Receive.UseReceivedReasonPhrase)
}

func TestSessionStore(t *testing.T) {
	cfg := Defaults().Session

	store, err := cfg.NewStore(clock.NewMock())
	require.NoError(t, err)
	assert.IsType(t, &session.MemoryStore{}, store)

	cfg.Store = "file"
	cfg.Dir = t.TempDir()
	store, err = cfg.NewStore(clock.NewMock())
	require.NoError(t, err)
	assert.IsType(t, &session.FileStore{}, store)

	opts := cfg.Options()
	assert.Equal(t, "hermes_session", opts.CookieName)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "k", "v")

	assert.JSONEq(t, `{"level":"WARN","msg":"kept","k":"v"}`, withoutTime(t, buf.Bytes()))
}

// withoutTime removes the time key the JSON handler always adds.
func withoutTime(t *testing.T, line []byte) string {
	t.Helper()

	var m map[string]any
	require.NoError(t, json.Unmarshal(line, &m))
	delete(m, "time")

	b, err := json.Marshal(m)
	require.NoError(t, err)
	return string(b)
}
