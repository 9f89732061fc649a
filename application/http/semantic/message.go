package semantic

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"sync"

	"hermes/application/http"
	"hermes/application/http/transfer"
)

// Message holds what requests and responses share.
// It is never modified after creation. Builders on [Request] and [Response] return copies.
type Message struct {
	version http.Version
	headers Headers

	// body is nil when the message has no content.
	body io.Reader

	trailers *trailerSlot
}

// trailerSlot is filled once the last chunk of a received body is read,
// or set upfront on an outgoing message.
type trailerSlot struct {
	mu      sync.Mutex
	headers Headers
	ok      bool
}

func (ts *trailerSlot) set(fields []http.Field) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.headers = HeadersFrom(fields)
	ts.ok = true
}

func (ts *trailerSlot) get() (Headers, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.headers, ts.ok
}

func (m Message) Version() http.Version { return m.version }

func (m Message) Headers() Headers { return m.headers }

// Header returns the first value of name.
func (m Message) Header(name string) (string, bool) { return m.headers.Get(name) }

// Body returns the content. It is never nil.
func (m Message) Body() io.Reader {
	if m.body == nil {
		return bytes.NewReader(nil)
	}
	return m.body
}

func (m Message) HasBody() bool { return m.body != nil }

// Trailers returns the trailer section. For a received message it is only
// available after the body has been read to the end.
func (m Message) Trailers() (Headers, bool) {
	if m.trailers == nil {
		return Headers{}, false
	}
	return m.trailers.get()
}

// ContentLength returns the Content-Length header value when it is a valid length.
func (m Message) ContentLength() (uint, bool) {
	v, ok := m.headers.Get("Content-Length")
	if !ok {
		return 0, false
	}
	l, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(l), true
}

// TransferCodings returns the transfer codings in the order they were applied.
func (m Message) TransferCodings() []transfer.Coding {
	var codings []transfer.Coding
	for _, token := range m.headers.Tokens("Transfer-Encoding") {
		codings = append(codings, transfer.Coding(strings.ToLower(token)))
	}
	return codings
}

func (m Message) IsChunked() bool {
	codings := m.TransferCodings()
	return len(codings) > 0 && codings[len(codings)-1] == transfer.CodingChunked
}

// KeepAlive reports whether the sender of m wants the connection kept open.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-9.3
func (m Message) KeepAlive() bool {
	if m.headers.HasToken("Connection", "close") {
		return false
	}
	if m.version.Before(http.Version11) {
		return m.headers.HasToken("Connection", "keep-alive")
	}
	return true
}

func (m Message) withBody(body io.Reader) Message {
	m.body = body
	return m
}

func (m Message) withBodyBytes(b []byte) Message {
	m.headers = m.headers.
		Without("Transfer-Encoding").
		With("Content-Length", strconv.Itoa(len(b)))
	m.body = bytes.NewReader(b)
	return m
}

func (m Message) withTrailers(h Headers) Message {
	m.trailers = &trailerSlot{headers: h, ok: true}
	return m
}

func (m Message) sendTrailers() []http.Field {
	h, ok := m.Trailers()
	if !ok {
		return nil
	}
	return h.Fields()
}

func codingsOrDefault(ca *transfer.CodingApplier) *transfer.CodingApplier {
	if ca == nil {
		return defaultCodings
	}
	return ca
}

var defaultCodings = transfer.NewCodingApplier(nil)
