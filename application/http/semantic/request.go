package semantic

import (
	"bytes"
	"io"
	"strings"

	"hermes/application/http"
	"hermes/application/http/transfer"
	"hermes/application/util/uri"

	"github.com/pkg/errors"
)

type Request struct {
	Message

	method Method
	uri    uri.URI
}

// NewRequest creates an HTTP/1.1 request without a body. Host is taken from u.
func NewRequest(method Method, u uri.URI) *Request {
	r := &Request{
		Message: Message{version: http.Version11},
		method:  method,
	}
	return r.WithURI(u, false)
}

func (r *Request) Method() Method { return r.method }

// URI returns the target URI. For origin-form targets it carries the authority from Host.
func (r *Request) URI() uri.URI { return r.uri }

// Host returns the Host header value.
func (r *Request) Host() string {
	host, _ := r.headers.Get("Host")
	return host
}

func (r *Request) WithMethod(method Method) *Request {
	next := *r
	next.method = method
	return &next
}

// WithURI replaces the target URI.
// Unless preserveHost is set, Host follows the authority of u.
// With preserveHost, an existing Host is kept and an absent one is filled from u.
func (r *Request) WithURI(u uri.URI, preserveHost bool) *Request {
	next := *r
	next.uri = u

	a, ok := u.Authority()
	if !ok || a.Host == "" {
		return &next
	}

	if preserveHost && next.headers.Has("Host") {
		return &next
	}

	a.UserInfo = ""
	next.headers = next.headers.With("Host", a.HostPort())
	return &next
}

func (r *Request) WithVersion(ver http.Version) *Request {
	next := *r
	next.version = ver
	return &next
}

// WithHeaders replaces every header. Host is kept in sync with the URI the next time it changes.
func (r *Request) WithHeaders(h Headers) *Request {
	next := *r
	next.headers = h
	return &next
}

// WithHeader replaces every value of name.
func (r *Request) WithHeader(name, value string) *Request {
	return r.WithHeaders(r.headers.With(name, value))
}

func (r *Request) WithHeaderAdded(name, value string) *Request {
	return r.WithHeaders(r.headers.WithAdded(name, value))
}

func (r *Request) WithoutHeader(name string) *Request {
	return r.WithHeaders(r.headers.Without(name))
}

// WithBody replaces the body. Framing headers are left to the caller.
func (r *Request) WithBody(body io.Reader) *Request {
	next := *r
	next.Message = next.withBody(body)
	return &next
}

// WithBodyBytes replaces the body and sets Content-Length.
func (r *Request) WithBodyBytes(b []byte) *Request {
	next := *r
	next.Message = next.withBodyBytes(b)
	return &next
}

func (r *Request) WithBodyString(s string) *Request {
	return r.WithBodyBytes([]byte(s))
}

// WithTrailers sets trailers sent after a chunked body.
func (r *Request) WithTrailers(h Headers) *Request {
	next := *r
	next.Message = next.withTrailers(h)
	return &next
}

// RawRequest converts r into a wire message whose body is framed as its headers declare.
// ca nil means only chunked coding is available.
func (r *Request) RawRequest(ca *transfer.CodingApplier) (*http.Request, error) {
	fields := r.headers.Fields()

	framing, err := transfer.RequestFraming(fields)
	if err != nil {
		return nil, errors.Wrap(err, "determining framing")
	}

	body, err := codingsOrDefault(ca).EncodeBody(r.body, framing, r.sendTrailers)
	if err != nil {
		return nil, errors.Wrap(err, "encoding body")
	}

	return &http.Request{
		RequestLine: http.RequestLine{
			Method:  string(r.method),
			Target:  r.uri.RequestTarget(),
			Version: r.version,
		},
		Headers: fields,
		Body:    body,
	}, nil
}

type ParseRequestOptions struct {
	// IsForwardProxy only allows absolute-form targets.
	IsForwardProxy bool
	// MaxURILen limits the length of the request target. 0 means unlimited.
	MaxURILen uint

	// Codings decodes transfer codings. nil means only chunked.
	Codings *transfer.CodingApplier
}

var (
	ErrURITooLong         = errors.New("uri too long")
	ErrUnsupportedVersion = errors.New("http version is not supported")
	ErrInvalidHost        = errors.New("host header is invalid")
)

// RequestFrom builds a request from a decoded head.
// raw.Body is the stream right after the head. The returned body is framed
// and stops at the end of this message.
func RequestFrom(raw *http.Request, opts ParseRequestOptions) (*Request, error) {
	if raw.Version[0] != 1 {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "%s", raw.Version)
	}

	request := &Request{
		Message: Message{
			version:  raw.Version,
			headers:  HeadersFrom(raw.Headers),
			trailers: new(trailerSlot),
		},
		method: Method(raw.Method),
	}

	u, err := parseAndValidateURI(
		raw.Target, request.method, opts.IsForwardProxy, opts.MaxURILen,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse URI")
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2-6
	hosts := request.headers.Values("Host")
	if len(hosts) > 1 {
		return nil, errors.Wrap(ErrInvalidHost, "multiple Host fields")
	}

	switch {
	case u.IsAbsoluteURI():
		// Reference:
		// - https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.2-7
		// - https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.2-8
		request = request.WithURI(normalizeURI(u), false)

	case u.IsAuthorityForm(), u.IsAsterisk():
		request.uri = u

	default:
		// origin-form. Target URI is reconstructed from Host.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.3
		if len(hosts) == 0 {
			if !raw.Version.Before(http.Version11) {
				return nil, errors.Wrap(ErrInvalidHost, "HTTP/1.1 request without Host")
			}
		} else if hosts[0] != "" {
			a, err := uri.ParseHost(hosts[0])
			if err != nil {
				return nil, errors.Wrap(ErrInvalidHost, err.Error())
			}

			u, err = u.WithScheme("http")
			if err != nil {
				return nil, err
			}
			u = u.WithAuthority(&a)
		}

		request.uri = normalizeURI(u)
	}

	framing, err := transfer.RequestFraming(raw.Headers)
	if err != nil {
		return nil, errors.Wrap(err, "determining framing")
	}

	body := raw.Body
	if body == nil {
		body = bytes.NewReader(nil)
	}

	if framing.HasBody() {
		request.body, err = codingsOrDefault(opts.Codings).DecodeBody(body, framing, request.trailers.set)
		if err != nil {
			return nil, errors.Wrap(err, "decoding body")
		}
	}

	return request, nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2
func parseAndValidateURI(
	raw string, method Method, isForwardProxy bool, maxLen uint,
) (uri.URI, error) {
	if maxLen > 0 && uint(len(raw)) > maxLen {
		return uri.URI{}, ErrURITooLong
	}

	switch method {
	case MethodConnect:
		// authority-form.
		// It doesn't follow uri rule, so it won't be parsed properly.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.3
		u, err := uri.ParseAuthorityForm(raw)
		if err != nil {
			return uri.URI{}, errors.Wrap(err, "failed to parse authority-form")
		}
		return u, nil
	case MethodOptions:
		if raw == "*" {
			// asterisk-form
			// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.4
			return uri.URI{}.WithSegments("*"), nil
		}
	}

	u, err := uri.Parse(raw)
	if err != nil {
		return uri.URI{}, err
	}

	if u.IsAbsoluteURI() {
		// absolute-form
		// These assertions below aren't explicitly described in the RFC.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.2
		if !(u.Scheme() == "http" || u.Scheme() == "https") {
			return uri.URI{}, errors.New("scheme is invalid. allowed schemes are: http, https")
		}
		if u.Host() == "" {
			return uri.URI{}, errors.New("absolute-form needs authority")
		}
		return u, nil
	}

	if isForwardProxy {
		return uri.URI{}, errors.New("forward-proxy only allows absolute-uri")
	}

	// origin-form
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.1
	if _, hasAuthority := u.Authority(); hasAuthority || !strings.HasPrefix(raw, "/") {
		return uri.URI{}, errors.New("origin-form uri's path should start with /")
	}
	if _, hasFragment := u.Fragment(); hasFragment {
		return uri.URI{}, errors.New("request target can't have a fragment")
	}

	return u, nil
}

// normalizeURI normalizes given URI based on scheme-based normalization.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-4.2.3
func normalizeURI(u uri.URI) uri.URI {
	u = u.Normalize()

	if port, ok := u.Port(); ok && port == DefaultPort(u.Scheme()) {
		// If the port is equal to the default port for a scheme,
		// the normal form is to omit the port subcomponent.
		u = u.WithoutPort()
	}

	if len(u.Segments()) == 0 {
		// When not being used as the target of an OPTIONS request,
		// an empty path component is equivalent to an absolute path of "/",
		// so the normal form is to provide a path of "/" instead
		u = u.WithSegments("", "")
	}

	return u
}
