package http

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// MessageDecoder drives a push parser from a buffered stream.
// Bytes past the head stay in the buffer for the body and the next message.
type MessageDecoder struct {
	br *bufio.Reader
}

func (md *MessageDecoder) decode(feed func(p []byte) (n int, done bool, err error)) error {
	for consumed := 0; ; {
		if md.br.Buffered() == 0 {
			if _, err := md.br.Peek(1); err != nil {
				if consumed > 0 && errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return err
			}
		}

		b, _ := md.br.Peek(md.br.Buffered())
		n, done, err := feed(b)
		_, _ = md.br.Discard(n)
		consumed += n

		if err != nil || done {
			return err
		}
	}
}

// newBufReader reuses r when it is already buffered.
func newBufReader(r io.Reader) *bufio.Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return br
	}
	return bufio.NewReader(r)
}

type RequestDecoder struct {
	MessageDecoder
	parser *RequestParser
}

// NewRequestDecoder creates a decoder reading from r.
// If r is a [bufio.Reader], it is used directly.
func NewRequestDecoder(r io.Reader, opts DecodeOptions) *RequestDecoder {
	return &RequestDecoder{
		MessageDecoder: MessageDecoder{br: newBufReader(r)},
		parser:         NewRequestParser(opts),
	}
}

// Decode reads one request head. r.Body is the unframed stream that follows it.
// r MUST be a non-nil pointer.
func (rd *RequestDecoder) Decode(r *Request) error {
	rd.parser.Reset()
	if err := rd.decode(rd.parser.Feed); err != nil {
		return errors.Wrap(err, "decoding request head")
	}

	*r = rd.parser.Request()
	r.Body = rd.br

	return nil
}

type ResponseDecoder struct {
	MessageDecoder
	parser *ResponseParser
}

func NewResponseDecoder(r io.Reader, opts DecodeOptions) *ResponseDecoder {
	return &ResponseDecoder{
		MessageDecoder: MessageDecoder{br: newBufReader(r)},
		parser:         NewResponseParser(opts),
	}
}

// Decode reads one response head. r.Body is the unframed stream that follows it.
// r MUST be a non-nil pointer.
func (rd *ResponseDecoder) Decode(r *Response) error {
	rd.parser.Reset()
	if err := rd.decode(rd.parser.Feed); err != nil {
		return errors.Wrap(err, "decoding response head")
	}

	*r = rd.parser.Response()
	r.Body = rd.br

	return nil
}
