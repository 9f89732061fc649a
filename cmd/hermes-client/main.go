// Command hermes-client sends one request and prints the response.
//
//	hermes-client [-H 'Name: value']... [-L] <method> <url> [<body>]
//
// Repeated Cookie headers are merged into one. With -L, redirects are
// followed and relative Location values are resolved against the request URI.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hermes/application/config"
	"hermes/application/http/actor/client"
	"hermes/application/http/cookie"
	"hermes/application/http/semantic"
	"hermes/application/http/semantic/status"
	"hermes/application/util/domain"
	"hermes/application/util/rule"
	"hermes/application/util/uri"
	"hermes/transport"
	"hermes/transport/tcp"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

var (
	errUsage       = errors.New("usage: hermes-client [-H 'Name: value']... [-L] <method> <url> [<body>]")
	errTooManyHops = errors.New("too many redirects")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, tcp.Dialer{}, domain.NewResolverLookuper(nil)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, dialer transport.ConnDialer, lookuper domain.Lookuper) error {
	flags := pflag.NewFlagSet("hermes-client", pflag.ContinueOnError)
	headers := flags.StringArrayP("header", "H", nil, "request header 'Name: value', repeatable")
	timeout := flags.DurationP("timeout", "t", 30*time.Second, "time limit for the whole exchange, 0 for none")
	configPath := flags.StringP("config", "c", "", "YAML config file (default $HERMES_CONFIG)")
	verbose := flags.BoolP("verbose", "v", false, "log connection events to stderr")
	location := flags.BoolP("location", "L", false, "follow redirects")
	maxRedirects := flags.Int("max-redirects", 10, "redirects followed with -L before giving up")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() < 2 || flags.NArg() > 3 {
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.DiscardHandler)
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	req, err := buildRequest(flags.Arg(0), flags.Arg(1), *headers)
	if err != nil {
		return err
	}
	var body []byte
	if flags.NArg() == 3 {
		body = []byte(flags.Arg(2))
		req = req.WithBodyBytes(body)
	}

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	c := client.New(dialer, lookuper, logger, clock.New(), cfg.Client.Options())
	defer c.CloseIdle()

	hops := 0
	if *location {
		hops = *maxRedirects
	}
	res, err := send(ctx, c, req, body, hops)
	if err != nil {
		return err
	}

	return printResponse(stdout, res)
}

// send runs req and follows at most hops redirects.
func send(ctx context.Context, c *client.Client, req *semantic.Request, body []byte, hops int) (*semantic.Response, error) {
	for hop := 0; ; hop++ {
		res, err := c.Do(ctx, req)
		if err != nil {
			return nil, errors.Wrapf(err, "%s %s", req.Method(), req.URI())
		}

		if hops == 0 {
			return res, nil
		}

		next, ok, err := redirect(req, res, body)
		if err != nil {
			return nil, err
		}
		if !ok {
			return res, nil
		}
		if hop == hops {
			return nil, errors.Wrapf(errTooManyHops, "after %d", hops)
		}
		req = next
	}
}

// redirect builds the request following res. ok is false when res is not a redirect.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.4
func redirect(req *semantic.Request, res *semantic.Response, body []byte) (next *semantic.Request, ok bool, err error) {
	code := res.StatusCode()
	switch code {
	case status.MovedPermanently.Code, status.Found.Code, status.SeeOther.Code,
		status.TemporaryRedirect.Code, status.PermanentRedirect.Code:
	default:
		return nil, false, nil
	}

	loc, ok := res.Header("Location")
	if !ok {
		return nil, false, nil
	}
	ref, err := uri.Parse(loc)
	if err != nil {
		return nil, false, errors.Wrapf(err, "parsing Location %q", loc)
	}
	resolver, err := uri.NewRefResolver(req.URI())
	if err != nil {
		return nil, false, err
	}
	target := resolver.Resolve(ref)

	from, _ := req.URI().Authority()
	to, _ := target.Authority()
	next = req.WithURI(target, from.HostPort() == to.HostPort())

	method := req.Method()
	toGet := (code == status.SeeOther.Code && method != semantic.MethodHead) ||
		((code == status.MovedPermanently.Code || code == status.Found.Code) && method == semantic.MethodPost)
	switch {
	case toGet:
		next = next.WithMethod(semantic.MethodGet).
			WithBody(nil).
			WithoutHeader("Content-Length").
			WithoutHeader("Content-Type")
	case body != nil:
		// The previous body reader is spent.
		next = next.WithBodyBytes(body)
	}

	return next, true, nil
}

func buildRequest(method, rawURL string, headers []string) (*semantic.Request, error) {
	if !rule.IsValidToken(method) {
		return nil, errors.Errorf("invalid method %q", method)
	}

	u, err := uri.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	req := semantic.NewRequest(semantic.Method(strings.ToUpper(method)), u)

	jar := make(cookie.Jar, 0)
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || !rule.IsValidToken(name) {
			return nil, errors.Errorf("invalid header %q, want 'Name: value'", h)
		}
		value = strings.TrimSpace(value)

		switch {
		case strings.EqualFold(name, "Cookie"):
			for _, p := range cookie.Parse(value) {
				jar = jar.With(p.Name, p.Value)
			}
		case strings.EqualFold(name, "Host"):
			req = req.WithHeader(name, value)
		default:
			req = req.WithHeaderAdded(name, value)
		}
	}

	if len(jar) > 0 {
		req = req.WithHeader("Cookie", jar.String())
	}

	return req, nil
}

func printResponse(w io.Writer, res *semantic.Response) error {
	if _, err := fmt.Fprintf(w, "%s %s\n", res.Version(), res.Status()); err != nil {
		return err
	}
	if err := printHeaders(w, res.Headers()); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}

	if _, err := io.Copy(w, res.Body()); err != nil {
		return errors.Wrap(err, "reading body")
	}

	if trailers, ok := res.Trailers(); ok && trailers.Len() > 0 {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		return printHeaders(w, trailers)
	}
	return nil
}

func printHeaders(w io.Writer, h semantic.Headers) error {
	for _, name := range h.Names() {
		for _, v := range h.Values(name) {
			if _, err := fmt.Fprintf(w, "%s: %s\n", name, v); err != nil {
				return err
			}
		}
	}
	return nil
}
