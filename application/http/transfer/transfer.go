// Package transfer implements transfer codings and message body framing.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6
package transfer

import (
	"io"

	"hermes/application/http"
	"hermes/transport"

	"github.com/pkg/errors"
)

type Coding string

const (
	CodingChunked Coding = "chunked"
)

type Coder interface {
	Coding() Coding
	NewReader(r io.Reader) io.Reader
	NewWriter(w io.WriteCloser) io.WriteCloser
}

// CodingApplier stacks registered codings on bodies. chunked is always registered.
type CodingApplier struct{ coders map[Coding]Coder }

func NewCodingApplier(customs []Coder) *CodingApplier {
	ca := &CodingApplier{}
	ca.coders = map[Coding]Coder{
		CodingChunked: NewChunkedCoder(),
	}

	for _, coder := range customs {
		ca.coders[coder.Coding()] = coder
	}

	return ca
}

var ErrUnsupportedCoding = errors.New("coding is unsupported")

// Supports reports whether every coding is registered.
func (ca *CodingApplier) Supports(codings []Coding) bool {
	for _, coding := range codings {
		if _, ok := ca.coders[coding]; !ok {
			return false
		}
	}
	return true
}

// Decode undoes codings in reverse order of application.
func (ca *CodingApplier) Decode(r io.Reader, codings []Coding, onTrailer func(f []http.Field)) (io.Reader, error) {
	for idx := len(codings) - 1; idx >= 0; idx-- {
		coding := codings[idx]
		coder, ok := ca.coders[coding]
		if !ok {
			return nil, errors.Wrapf(ErrUnsupportedCoding, "decoding %q", coding)
		}

		r = coder.NewReader(r)
		if cr, ok := r.(*ChunkedReader); ok && onTrailer != nil {
			cr.SetOnTrailerReceived(onTrailer)
		}
	}

	return r, nil
}

// Encode applies codings in order. Closing the returned writer finishes every coding.
func (ca *CodingApplier) Encode(w io.WriteCloser, codings []Coding, sendTrailers func() []http.Field) (io.WriteCloser, error) {
	for idx := len(codings) - 1; idx >= 0; idx-- {
		coding := codings[idx]
		coder, ok := ca.coders[coding]
		if !ok {
			return nil, errors.Wrapf(ErrUnsupportedCoding, "encoding %q", coding)
		}

		w = coder.NewWriter(w)
		if cw, ok := w.(*ChunkedWriter); ok && sendTrailers != nil {
			cw.SetSendTrailers(sendTrailers)
		}
	}

	return w, nil
}

// incomplete converts an early end of stream into [http.ErrIncompleteBody].
func incomplete(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, transport.ErrConnClosed) {
		return errors.WithMessage(http.ErrIncompleteBody, err.Error())
	}
	return err
}
