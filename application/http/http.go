package http

import (
	"bytes"
	"io"
	"strconv"

	"hermes/application/util/rule"

	"github.com/pkg/errors"
)

type RequestLine struct {
	Method  string
	Target  string
	Version Version
}

type Request struct {
	RequestLine
	Headers []Field

	// Body is the stream following the head. nil means no body.
	Body io.Reader
}

type StatusLine struct {
	Version      Version
	StatusCode   uint
	ReasonPhrase string
}

type Response struct {
	StatusLine
	Headers []Field

	// Body is the stream following the head. nil means no body.
	Body io.Reader
}

// [Major, Minor]
type Version [2]uint

var (
	Version10 = Version{1, 0}
	Version11 = Version{1, 1}
)

// ParseVersion parses http version text(e.g. "HTTP/1.1") into [Version].
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-2.3
func ParseVersion(b []byte) (Version, error) {
	prefix := []byte("HTTP/")
	if !bytes.HasPrefix(b, prefix) {
		return Version{}, errors.Errorf("http version prefix not found: %s", b)
	}

	// Get major and minor version.
	first, second, found := bytes.Cut(b[len(prefix):], []byte{'.'})
	if !found {
		return Version{}, errors.Errorf("dot seperator not found on version: %s", b)
	}

	if len(first) != 1 || len(second) != 1 || !rule.IsDigit(rune(first[0])) || !rule.IsDigit(rune(second[0])) {
		return Version{}, errors.Errorf("http version is not a single digit pair: %s", b)
	}

	return Version{uint(first[0] - '0'), uint(second[0] - '0')}, nil
}

func (ver Version) Text() []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write([]byte("HTTP/"))
	buf.Write([]byte(strconv.FormatUint(uint64(ver[0]), 10)))
	buf.Write([]byte{'.'})
	buf.Write([]byte(strconv.FormatUint(uint64(ver[1]), 10)))
	return buf.Bytes()
}

func (ver Version) String() string { return string(ver.Text()) }

// Before reports whether ver is older than other.
func (ver Version) Before(other Version) bool {
	if ver[0] != other[0] {
		return ver[0] < other[0]
	}
	return ver[1] < other[1]
}

type Field struct{ Name, Value []byte }

func ParseField(fieldLine []byte) (Field, error) {
	name, value, found := bytes.Cut(fieldLine, []byte{':'})
	if !found {
		return Field{}, errors.Errorf("colon seperator not found on header: %q", string(fieldLine))
	}

	// No whitespace is allowed between field name and colon.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-2
	if !rule.IsValidToken(string(name)) {
		return Field{}, errors.Errorf("field name is not a valid token: %q", string(name))
	}

	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-5.1-3
	value = bytes.Trim(value, string(rule.OWS))

	return Field{Name: name, Value: value}, nil
}

func (f Field) Text() []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(f.Name)
	buf.Write([]byte(": "))
	buf.Write(f.Value)
	return buf.Bytes()
}
