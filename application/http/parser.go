package http

import (
	"bytes"

	"hermes/application/util/rule"

	"github.com/pkg/errors"
)

type DecodeOptions struct {
	// AllowSoleLF specifies wheter a single LF character should be recognized as a valid line terminator.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-3
	AllowSoleLF bool

	// LenientWhitespace replaces all [rule.Whitespaces] into [rule.SP].
	// And also trims preceding and trailinig whitespace.
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-3
	LenientWhitespace bool

	// MaxFieldLineLength sets the limit of field line length on headers.
	MaxFieldLineLength uint

	// MaxRequestLineLength sets the limit of request line length.
	// Recommended: >= 8000
	//
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3-5
	MaxRequestLineLength uint

	// MaxStatusLineLength sets the limit of status line length.
	MaxStatusLineLength uint

	// MaxHeadBytes sets the limit of the whole head, start line included.
	MaxHeadBytes uint
}

var DefaultDecodeOptions = DecodeOptions{
	AllowSoleLF:          false,
	LenientWhitespace:    false,
	MaxFieldLineLength:   0,
	MaxRequestLineLength: 8000,
	MaxStatusLineLength:  0,
	MaxHeadBytes:         1 << 20,
}

var (
	ErrMalformedRequestLine = errors.New("request line is malformed")
	ErrMalformedStatusLine  = errors.New("status line is malformed")
	ErrMalformedHeader      = errors.New("field line is malformed")
	ErrMissingCRBeforeLF    = errors.New("missing CR before LF")

	ErrRequestLineTooLong = errors.New("request line length exceeds limit")
	ErrStatusLineTooLong  = errors.New("status line length exceeds limit")
	ErrFieldLineTooLong   = errors.New("field line length exceeds limit")
	ErrHeadTooLarge       = errors.New("head size exceeds limit")

	// ErrIncompleteBody is returned when the stream ends before the framing says the body does.
	ErrIncompleteBody = errors.New("body ended before its declared end")
)

// headParser accumulates a message head from arbitrarily fragmented input.
// Once it fails, the error sticks until reset.
type headParser struct {
	opts DecodeOptions

	line      []byte // unterminated line carried over between feeds
	headBytes uint
	started   bool
	done      bool
	err       error

	fields []Field
}

func (hp *headParser) feed(
	p []byte,
	startLineLimit uint,
	errStartLineTooLong error,
	parseStartLine func(line []byte) error,
) (n int, done bool, err error) {
	if hp.err != nil {
		return 0, false, hp.err
	}
	if hp.done {
		return 0, true, nil
	}

	for n < len(p) {
		idx := bytes.IndexByte(p[n:], rule.LF)
		terminated := idx >= 0
		end := len(p)
		if terminated {
			end = n + idx + 1
		}

		hp.line = append(hp.line, p[n:end]...)
		hp.headBytes += uint(end - n)
		n = end

		limit, errTooLong := hp.opts.MaxFieldLineLength, ErrFieldLineTooLong
		if !hp.started {
			limit, errTooLong = startLineLimit, errStartLineTooLong
		}
		if limit > 0 && uint(len(hp.line)) > limit {
			return n, false, hp.fail(errTooLong)
		}
		if maxHead := hp.opts.MaxHeadBytes; maxHead > 0 && hp.headBytes > maxHead {
			return n, false, hp.fail(ErrHeadTooLarge)
		}

		if !terminated {
			break
		}

		line, err := hp.trimLine(hp.line)
		hp.line = nil
		if err != nil {
			return n, false, hp.fail(err)
		}

		if !hp.started {
			// An empty line can be received before message.
			// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-6
			if len(line) == 0 {
				continue
			}
			if err := parseStartLine(line); err != nil {
				return n, false, hp.fail(err)
			}
			hp.started = true
			continue
		}

		if len(line) == 0 {
			// An empty line. This means that there are no more headers.
			hp.done = true
			return n, true, nil
		}

		field, err := ParseField(line)
		if err != nil {
			return n, false, hp.fail(errors.WithMessage(ErrMalformedHeader, err.Error()))
		}
		hp.fields = append(hp.fields, field)
	}

	return n, false, nil
}

func (hp *headParser) fail(err error) error {
	hp.err = err
	return err
}

// trimLine removes the line terminator from b.
func (hp *headParser) trimLine(b []byte) ([]byte, error) {
	b = b[:len(b)-1] // Remove LF.

	if len(b) > 0 && b[len(b)-1] == rule.CR {
		b = b[:len(b)-1] // Remove CR.
	} else if !hp.opts.AllowSoleLF {
		return nil, ErrMissingCRBeforeLF
	}

	if hp.opts.LenientWhitespace {
		for _, c := range rule.Whitespaces {
			b = bytes.ReplaceAll(b, []byte{c}, []byte{rule.SP})
		}
		return bytes.Trim(b, string([]byte{rule.SP})), nil
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.2-4
	return bytes.ReplaceAll(b, []byte{rule.CR}, []byte{rule.SP}), nil
}

// RequestParser is a push parser for request heads.
type RequestParser struct {
	headParser
	requestLine RequestLine
}

func NewRequestParser(opts DecodeOptions) *RequestParser {
	return &RequestParser{headParser: headParser{opts: opts}}
}

// Feed consumes p and reports how many bytes belong to the head.
// Bytes after p[:n] are the body or the next message once done is true.
func (rp *RequestParser) Feed(p []byte) (n int, done bool, err error) {
	return rp.feed(p, rp.opts.MaxRequestLineLength, ErrRequestLineTooLong, rp.parseStartLine)
}

// Request returns the parsed head once [RequestParser.Feed] is done.
func (rp *RequestParser) Request() Request {
	return Request{RequestLine: rp.requestLine, Headers: rp.fields}
}

func (rp *RequestParser) Reset() {
	*rp = RequestParser{headParser: headParser{opts: rp.opts}}
}

func (rp *RequestParser) parseStartLine(line []byte) error {
	parsed, err := parseRequestLine(line)
	if err != nil {
		return errors.WithMessage(ErrMalformedRequestLine, err.Error())
	}

	rp.requestLine = parsed
	return nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3
func parseRequestLine(line []byte) (RequestLine, error) {
	parts := bytes.Split(line, []byte{rule.SP})
	if len(parts) != 3 {
		return RequestLine{}, errors.New("request line should have three parts")
	}

	method := string(parts[0])
	if !rule.IsValidToken(method) {
		return RequestLine{}, errors.New("method is not a valid token")
	}

	target := string(parts[1])
	if len(target) == 0 {
		return RequestLine{}, errors.New("request target should not be empty")
	}

	ver, err := ParseVersion(parts[2])
	if err != nil {
		return RequestLine{}, errors.Wrap(err, "parsing version")
	}

	return RequestLine{Method: method, Target: target, Version: ver}, nil
}

// ResponseParser is a push parser for response heads.
type ResponseParser struct {
	headParser
	statusLine StatusLine
}

func NewResponseParser(opts DecodeOptions) *ResponseParser {
	return &ResponseParser{headParser: headParser{opts: opts}}
}

// Feed consumes p and reports how many bytes belong to the head.
func (rp *ResponseParser) Feed(p []byte) (n int, done bool, err error) {
	return rp.feed(p, rp.opts.MaxStatusLineLength, ErrStatusLineTooLong, rp.parseStartLine)
}

// Response returns the parsed head once [ResponseParser.Feed] is done.
func (rp *ResponseParser) Response() Response {
	return Response{StatusLine: rp.statusLine, Headers: rp.fields}
}

func (rp *ResponseParser) Reset() {
	*rp = ResponseParser{headParser: headParser{opts: rp.opts}}
}

func (rp *ResponseParser) parseStartLine(line []byte) error {
	parsed, err := parseStatusLine(line)
	if err != nil {
		return errors.WithMessage(ErrMalformedStatusLine, err.Error())
	}

	rp.statusLine = parsed
	return nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-4
func parseStatusLine(line []byte) (StatusLine, error) {
	parts := bytes.SplitN(line, []byte{rule.SP}, 3)
	if len(parts) < 2 {
		return StatusLine{}, errors.New("status line is malformed")
	}

	ver, err := ParseVersion(parts[0])
	if err != nil {
		return StatusLine{}, errors.Wrap(err, "parsing version")
	}

	statusCodeStr := string(parts[1])
	if len(statusCodeStr) != 3 {
		return StatusLine{}, errors.Errorf("status code is malformed: %q", statusCodeStr)
	}
	for _, c := range statusCodeStr {
		if !rule.IsDigit(c) {
			return StatusLine{}, errors.Errorf("status code is malformed: %q", statusCodeStr)
		}
	}
	statusCode := (uint(statusCodeStr[0]-'0') * 100) + (uint(statusCodeStr[1]-'0') * 10) + uint(statusCodeStr[2]-'0')

	// reason-phrase is optional.
	reasonPhrase := ""
	if len(parts) == 3 {
		reasonPhrase = string(parts[2])
	}

	return StatusLine{Version: ver, StatusCode: statusCode, ReasonPhrase: reasonPhrase}, nil
}
