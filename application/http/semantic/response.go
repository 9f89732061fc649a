package semantic

import (
	"bytes"
	"io"
	"time"

	"hermes/application/http"
	"hermes/application/http/semantic/status"
	"hermes/application/http/transfer"

	"github.com/pkg/errors"
)

type Response struct {
	Message

	status status.Status
}

// NewResponse creates an HTTP/1.1 response without a body.
func NewResponse(s status.Status) *Response {
	return &Response{
		Message: Message{version: http.Version11},
		status:  s,
	}
}

func (r *Response) Status() status.Status { return r.status }

func (r *Response) StatusCode() uint { return r.status.Code }

// Date returns the Date header, if it exists and is valid.
func (r *Response) Date() (time.Time, bool) {
	v, ok := r.headers.Get("Date")
	if !ok {
		return time.Time{}, false
	}
	t, err := ParseDate(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (r *Response) WithStatus(s status.Status) *Response {
	next := *r
	next.status = s
	return &next
}

func (r *Response) WithVersion(ver http.Version) *Response {
	next := *r
	next.version = ver
	return &next
}

func (r *Response) WithHeaders(h Headers) *Response {
	next := *r
	next.headers = h
	return &next
}

// WithHeader replaces every value of name.
func (r *Response) WithHeader(name, value string) *Response {
	return r.WithHeaders(r.headers.With(name, value))
}

func (r *Response) WithHeaderAdded(name, value string) *Response {
	return r.WithHeaders(r.headers.WithAdded(name, value))
}

func (r *Response) WithoutHeader(name string) *Response {
	return r.WithHeaders(r.headers.Without(name))
}

// WithDate sets the Date header in IMF-fixdate.
func (r *Response) WithDate(t time.Time) *Response {
	return r.WithHeader("Date", FormatDate(t))
}

// WithBody replaces the body. Framing headers are left to the caller.
func (r *Response) WithBody(body io.Reader) *Response {
	next := *r
	next.Message = next.withBody(body)
	return &next
}

// WithBodyBytes replaces the body and sets Content-Length.
func (r *Response) WithBodyBytes(b []byte) *Response {
	next := *r
	next.Message = next.withBodyBytes(b)
	return &next
}

func (r *Response) WithBodyString(s string) *Response {
	return r.WithBodyBytes([]byte(s))
}

// WithTrailers sets trailers sent after a chunked body.
func (r *Response) WithTrailers(h Headers) *Response {
	next := *r
	next.Message = next.withTrailers(h)
	return &next
}

// RawResponse converts r into a wire message whose body is framed as its headers declare.
// requestMethod is the method of the request r answers.
// ca nil means only chunked coding is available.
func (r *Response) RawResponse(requestMethod Method, ca *transfer.CodingApplier) (*http.Response, error) {
	fields := r.headers.Fields()

	framing, err := transfer.ResponseFraming(fields, r.status.Code, string(requestMethod))
	if err != nil {
		return nil, errors.Wrap(err, "determining framing")
	}

	var body io.Reader = bytes.NewReader(nil)
	if framing.HasBody() {
		body, err = codingsOrDefault(ca).EncodeBody(r.body, framing, r.sendTrailers)
		if err != nil {
			return nil, errors.Wrap(err, "encoding body")
		}
	}

	return &http.Response{
		StatusLine: http.StatusLine{
			Version:      r.version,
			StatusCode:   r.status.Code,
			ReasonPhrase: r.status.ReasonPhrase,
		},
		Headers: fields,
		Body:    body,
	}, nil
}

type ParseResponseOptions struct {
	// RequestMethod is the method of the request the response answers.
	RequestMethod Method

	// Codings decodes transfer codings. nil means only chunked.
	Codings *transfer.CodingApplier
}

// ResponseFrom builds a response from a decoded head.
// raw.Body is the stream right after the head. The returned body is framed
// and stops at the end of this message, or at connection close.
func ResponseFrom(raw *http.Response, opts ParseResponseOptions) (*Response, error) {
	if raw.Version[0] != 1 {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "%s", raw.Version)
	}

	s, ok := status.FromCode(raw.StatusCode)
	if !ok || raw.ReasonPhrase != "" {
		// Keep what the peer sent.
		s = status.Status{Code: raw.StatusCode, ReasonPhrase: raw.ReasonPhrase}
	}

	response := &Response{
		Message: Message{
			version:  raw.Version,
			headers:  HeadersFrom(raw.Headers),
			trailers: new(trailerSlot),
		},
		status: s,
	}

	framing, err := transfer.ResponseFraming(raw.Headers, raw.StatusCode, string(opts.RequestMethod))
	if err != nil {
		return nil, errors.Wrap(err, "determining framing")
	}

	body := raw.Body
	if body == nil {
		body = bytes.NewReader(nil)
	}

	if framing.HasBody() {
		response.body, err = codingsOrDefault(opts.Codings).DecodeBody(body, framing, response.trailers.set)
		if err != nil {
			return nil, errors.Wrap(err, "decoding body")
		}
	}

	return response, nil
}

// IsUntilClose reports whether the body of a response with these headers ends at connection close.
func IsUntilClose(res *Response, requestMethod Method) bool {
	framing, err := transfer.ResponseFraming(res.headers.Fields(), res.status.Code, string(requestMethod))
	return err == nil && framing.UntilClose
}
