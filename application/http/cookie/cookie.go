// Package cookie reads Cookie request headers and writes Set-Cookie response headers.
// Reference: https://datatracker.ietf.org/doc/html/rfc6265
package cookie

import (
	"strconv"
	"strings"
	"time"

	"hermes/application/http/semantic"
	"hermes/application/util/rule"

	"github.com/pkg/errors"
)

var ErrInvalidCookie = errors.New("invalid cookie")

type Pair struct{ Name, Value string }

// Jar is the ordered content of Cookie headers.
type Jar []Pair

// Parse reads a Cookie header value. Malformed pairs are skipped.
// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-5.4
func Parse(header string) Jar {
	jar := make(Jar, 0)
	for part := range strings.SplitSeq(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}

		name = strings.TrimSpace(name)
		if !rule.IsValidToken(name) {
			continue
		}

		value = strings.TrimSpace(value)
		if len(value) > 1 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		jar = append(jar, Pair{Name: name, Value: value})
	}
	return jar
}

// FromRequest parses every Cookie header of req in order.
func FromRequest(req *semantic.Request) Jar {
	jar := make(Jar, 0)
	for _, h := range req.Headers().Values("Cookie") {
		jar = append(jar, Parse(h)...)
	}
	return jar
}

// Get returns the first value named name.
func (j Jar) Get(name string) (string, bool) {
	for _, p := range j {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// With replaces the first pair named name, or appends one.
func (j Jar) With(name, value string) Jar {
	next := make(Jar, len(j), len(j)+1)
	copy(next, j)

	for i := range next {
		if next[i].Name == name {
			next[i].Value = value
			return next
		}
	}
	return append(next, Pair{Name: name, Value: value})
}

func (j Jar) Without(name string) Jar {
	next := make(Jar, 0, len(j))
	for _, p := range j {
		if p.Name != name {
			next = append(next, p)
		}
	}
	return next
}

// String renders j as a Cookie header value.
func (j Jar) String() string {
	var sb strings.Builder
	for i, p := range j {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(p.Name)
		sb.WriteByte('=')
		sb.WriteString(p.Value)
	}
	return sb.String()
}

type SameSite uint8

const (
	SameSiteDefault SameSite = iota
	SameSiteLax
	SameSiteStrict
	SameSiteNone
)

// Cookie is what a server asks the user agent to store.
// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-4.1
type Cookie struct {
	Name  string
	Value string

	Path   string
	Domain string

	// Expires is omitted when zero.
	Expires time.Time
	// MaxAge is omitted when 0. Negative means delete now.
	MaxAge int

	Secure   bool
	HttpOnly bool
	SameSite SameSite
}

// Validate checks that c can be sent as is.
func (c Cookie) Validate() error {
	if !rule.IsValidToken(c.Name) {
		return errors.Wrapf(ErrInvalidCookie, "name %q", c.Name)
	}
	for i := 0; i < len(c.Value); i++ {
		if !isCookieOctet(c.Value[i]) {
			return errors.Wrapf(ErrInvalidCookie, "value of %s", c.Name)
		}
	}
	for _, attr := range []string{c.Path, c.Domain} {
		if strings.ContainsAny(attr, ";\r\n") {
			return errors.Wrapf(ErrInvalidCookie, "attribute of %s", c.Name)
		}
	}
	return nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc6265#section-4.1.1
func isCookieOctet(c byte) bool {
	return c == 0x21 ||
		(0x23 <= c && c <= 0x2B) ||
		(0x2D <= c && c <= 0x3A) ||
		(0x3C <= c && c <= 0x5B) ||
		(0x5D <= c && c <= 0x7E)
}

// String renders c as a Set-Cookie header value.
func (c Cookie) String() string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	sb.WriteByte('=')
	sb.WriteString(c.Value)

	if c.Path != "" {
		sb.WriteString("; Path=" + c.Path)
	}
	if c.Domain != "" {
		sb.WriteString("; Domain=" + strings.TrimPrefix(c.Domain, "."))
	}
	if !c.Expires.IsZero() {
		sb.WriteString("; Expires=" + semantic.FormatDate(c.Expires))
	}
	switch {
	case c.MaxAge > 0:
		sb.WriteString("; Max-Age=" + strconv.Itoa(c.MaxAge))
	case c.MaxAge < 0:
		sb.WriteString("; Max-Age=0")
	}
	if c.Secure {
		sb.WriteString("; Secure")
	}
	if c.HttpOnly {
		sb.WriteString("; HttpOnly")
	}
	switch c.SameSite {
	case SameSiteLax:
		sb.WriteString("; SameSite=Lax")
	case SameSiteStrict:
		sb.WriteString("; SameSite=Strict")
	case SameSiteNone:
		sb.WriteString("; SameSite=None")
	}

	return sb.String()
}

// SetCookie returns res with a Set-Cookie header added for c.
func SetCookie(res *semantic.Response, c Cookie) (*semantic.Response, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return res.WithHeaderAdded("Set-Cookie", c.String()), nil
}
