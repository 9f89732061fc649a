package transfer

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"hermes/application/http"
	iolib "hermes/lib/io"
	"hermes/lib/types/pointer"
	"hermes/transport"

	"github.com/pkg/errors"
)

// Framing tells where a message body ends.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
type Framing struct {
	// Codings are transfer codings in the order they were applied.
	Codings []Coding

	// ContentLength is the exact body length when no coding is applied.
	ContentLength *uint

	// UntilClose means the body is delimited by the connection closure.
	UntilClose bool
}

func (f Framing) IsChunked() bool {
	return len(f.Codings) > 0 && f.Codings[len(f.Codings)-1] == CodingChunked
}

// HasBody reports whether f can carry any content.
func (f Framing) HasBody() bool {
	return len(f.Codings) > 0 || f.UntilClose || (f.ContentLength != nil && *f.ContentLength > 0)
}

var (
	ErrInvalidContentLength = errors.New("content length is invalid")
	ErrInvalidFraming       = errors.New("message body length cannot be determined")
)

// RequestFraming determines the framing of a request body from its head.
func RequestFraming(fields []http.Field) (Framing, error) {
	f, err := framingFrom(fields)
	if err != nil {
		return Framing{}, err
	}

	if len(f.Codings) > 0 && !f.IsChunked() {
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.4.3
		return Framing{}, errors.Wrap(ErrInvalidFraming, "chunked is not the final coding")
	}

	if len(f.Codings) == 0 && f.ContentLength == nil {
		// Neither transfer-encoding nor content-length exists. So it has no body.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.7
		f.ContentLength = pointer.To[uint](0)
	}

	return f, nil
}

// ResponseFraming determines the framing of a response body
// from its head, its status code and the method of the request it answers.
func ResponseFraming(fields []http.Field, statusCode uint, requestMethod string) (Framing, error) {
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.1
	if requestMethod == "HEAD" ||
		(100 <= statusCode && statusCode < 200) ||
		statusCode == 204 || statusCode == 304 {
		return Framing{ContentLength: pointer.To[uint](0)}, nil
	}

	f, err := framingFrom(fields)
	if err != nil {
		return Framing{}, err
	}

	if len(f.Codings) > 0 && !f.IsChunked() {
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.4.2
		f.UntilClose = true
	}

	if len(f.Codings) == 0 && f.ContentLength == nil {
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.8
		f.UntilClose = true
	}

	return f, nil
}

func framingFrom(fields []http.Field) (Framing, error) {
	var f Framing

	var contentLength *uint
	for _, field := range fields {
		switch {
		case bytes.EqualFold(field.Name, []byte("Transfer-Encoding")):
			for _, coding := range strings.Split(string(field.Value), ",") {
				coding = strings.ToLower(strings.TrimSpace(coding))
				if coding == "" {
					continue
				}
				f.Codings = append(f.Codings, Coding(coding))
			}

		case bytes.EqualFold(field.Name, []byte("Content-Length")):
			// A list of identical values is accepted.
			// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-8.6-10
			for _, v := range strings.Split(string(field.Value), ",") {
				l, err := parseContentLength(strings.TrimSpace(v))
				if err != nil {
					return Framing{}, err
				}
				if contentLength != nil && *contentLength != l {
					return Framing{}, errors.Wrap(ErrInvalidContentLength, "conflicting values")
				}
				contentLength = &l
			}
		}
	}

	if len(f.Codings) == 0 {
		// Transfer-Encoding overrides Content-Length.
		// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.3
		f.ContentLength = contentLength
	}

	return f, nil
}

func parseContentLength(v string) (uint, error) {
	if v == "" || strings.TrimLeft(v, "0123456789") != "" {
		return 0, errors.Wrapf(ErrInvalidContentLength, "%q", v)
	}

	l, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidContentLength, "%q", v)
	}

	return uint(l), nil
}

// DecodeBody returns the body of a message framed by f, read from r.
// The returned reader never reads past the end of the body.
func (ca *CodingApplier) DecodeBody(r io.Reader, f Framing, onTrailer func([]http.Field)) (io.Reader, error) {
	switch {
	case len(f.Codings) > 0:
		if f.UntilClose {
			r = untilCloseReader{r}
		}
		return ca.Decode(r, f.Codings, onTrailer)

	case f.ContentLength != nil:
		return NewLengthReader(r, *f.ContentLength), nil

	case f.UntilClose:
		return untilCloseReader{r}, nil
	}

	return bytes.NewReader(nil), nil
}

// EncodeBody returns a reader yielding body as framed by f.
// A body shorter than f.ContentLength fails with [http.ErrIncompleteBody].
func (ca *CodingApplier) EncodeBody(body io.Reader, f Framing, sendTrailers func() []http.Field) (io.Reader, error) {
	if body == nil {
		body = bytes.NewReader(nil)
	}

	switch {
	case len(f.Codings) > 0:
		if !ca.Supports(f.Codings) {
			return nil, ErrUnsupportedCoding
		}

		return iolib.NewMiddlewareReader(body, func(wc io.WriteCloser) io.WriteCloser {
			// Every coding is supported, so it won't fail.
			w, _ := ca.Encode(wc, f.Codings, sendTrailers)
			return w
		}), nil

	case f.ContentLength != nil:
		return NewLengthReader(body, *f.ContentLength), nil
	}

	return body, nil
}

// LengthReader reads exactly N bytes. An earlier end of stream is [http.ErrIncompleteBody].
type LengthReader struct {
	iolib.LimitedReader
}

func NewLengthReader(r io.Reader, n uint) *LengthReader {
	return &LengthReader{iolib.LimitedReader{R: r, N: n}}
}

func (lr *LengthReader) Read(p []byte) (int, error) {
	if lr.N == 0 {
		return 0, io.EOF
	}

	n, err := lr.LimitedReader.Read(p)
	if err != nil {
		if lr.N == 0 && errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		return n, incomplete(err)
	}

	return n, nil
}

// untilCloseReader treats the connection closure as the end of body.
type untilCloseReader struct{ r io.Reader }

func (ur untilCloseReader) Read(p []byte) (int, error) {
	n, err := ur.r.Read(p)
	if errors.Is(err, transport.ErrConnClosed) {
		err = io.EOF
	}
	return n, err
}
