// Command hermes-server serves a small demo application over TCP.
//
// Settings come from a YAML file and HERMES_* environment variables,
// see package config. Flags override both.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"hermes/application/config"
	"hermes/application/http/actor/server"
	"hermes/application/observability"
	"hermes/transport/tcp"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("hermes-server", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "YAML config file (default $HERMES_CONFIG)")
	port := flags.IntP("port", "p", 0, "listen port, overrides server.port")
	logLevel := flags.String("log-level", "", "debug, info, warn or error, overrides log.level")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if flags.Changed("port") {
		cfg.Server.Port = *port
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "applying flags")
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	clk := clock.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewMetrics(reg, clk)
	if err != nil {
		return err
	}

	dispatcher, err := newDispatcher(cfg, logger, clk, metrics, reg)
	if err != nil {
		return errors.Wrap(err, "building routes")
	}

	addr, err := cfg.Server.Addr()
	if err != nil {
		return err
	}
	l, err := tcp.Listen(addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	defer l.Close()

	opts := cfg.Server.Options()
	if cfg.Metrics.Enabled {
		opts.Metrics = metrics
	}

	srv := server.New(l, logger, clk, dispatcher.Dispatch, opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("server started", "addr", l.Addr().String(), "session", cfg.Session.Enabled, "metrics", cfg.Metrics.Enabled)
	return serve(ctx, srv, logger)
}

// serve blocks until ctx is done or the listener fails.
// Only the listener failure is returned.
func serve(ctx context.Context, srv *server.Server, logger *slog.Logger) error {
	if err := srv.Serve(ctx); err != nil {
		return errors.Wrap(err, "serving")
	}
	logger.Info("server stopped")
	return nil
}
