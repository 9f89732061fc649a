package observability

import (
	"bytes"
	"context"

	"hermes/application/http/routing"
	"hermes/application/http/semantic"
	"hermes/application/http/semantic/status"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Middleware counts requests by method and status class, and times the rest of the chain.
func (m *Metrics) Middleware() routing.Middleware {
	return func(ctx context.Context, req *semantic.Request, next routing.Handler) *semantic.Response {
		start := m.clock.Now()

		res := next(ctx, req)

		method := string(req.Method())
		m.requests.WithLabelValues(method, res.Status().Class()).Inc()
		m.duration.WithLabelValues(method).Observe(m.clock.Since(start).Seconds())

		return res
	}
}

// Handler serves what g gathers in the Prometheus text format.
func Handler(g prometheus.Gatherer) routing.Handler {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)

	return func(context.Context, *semantic.Request) *semantic.Response {
		families, err := g.Gather()
		if err != nil {
			return semantic.NewResponse(status.InternalServerError).
				WithHeader("Content-Type", "text/plain; charset=utf-8").
				WithBodyString(err.Error())
		}

		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, format)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				return semantic.NewResponse(status.InternalServerError).
					WithHeader("Content-Type", "text/plain; charset=utf-8").
					WithBodyString(err.Error())
			}
		}

		return semantic.NewResponse(status.OK).
			WithHeader("Content-Type", string(format)).
			WithBodyBytes(buf.Bytes())
	}
}
