package uri

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseError is returned when a string violates URI grammar.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid uri %q: %s", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type Authority struct {
	UserInfo string
	Host     string

	// NOTE: Port can be digits of any length. But practically it is in range of 0 ~ 65535.
	// Reference: datatracker.ietf.org/doc/html/rfc3986#section-3.2.3
	Port *uint16
}

// HostPort returns host with optional port. It is suitable for the Host header.
func (a Authority) HostPort() string {
	if a.Port == nil {
		return escape(a.Host, encodeHost)
	}
	return escape(a.Host, encodeHost) + ":" + strconv.FormatUint(uint64(*a.Port), 10)
}

func (a Authority) clone() *Authority {
	if a.Port != nil {
		port := *a.Port
		a.Port = &port
	}
	return &a
}

func (a Authority) equal(other Authority) bool {
	if a.UserInfo != other.UserInfo || a.Host != other.Host {
		return false
	}
	if a.Port == nil || other.Port == nil {
		return a.Port == nil && other.Port == nil
	}
	return *a.Port == *other.Port
}

type QueryPair struct{ Key, Value string }

// URI is an immutable URI reference.
// Every component is stored decoded. Builders return a new URI.
type URI struct {
	scheme    string
	authority *Authority

	// segments holds decoded path segments. An absolute path starts with an empty segment.
	segments []string
	query    []QueryPair
	fragment *string
}

func (u URI) Scheme() string { return u.scheme }

func (u URI) Authority() (Authority, bool) {
	if u.authority == nil {
		return Authority{}, false
	}
	return *u.authority.clone(), true
}

func (u URI) Host() string {
	if u.authority == nil {
		return ""
	}
	return u.authority.Host
}

func (u URI) Port() (uint16, bool) {
	if u.authority == nil || u.authority.Port == nil {
		return 0, false
	}
	return *u.authority.Port, true
}

func (u URI) Segments() []string { return slices.Clone(u.segments) }

// Path returns the decoded path. Segments containing '/' can't be told apart here,
// use [URI.Segments] when that matters.
func (u URI) Path() string { return strings.Join(u.segments, "/") }

func (u URI) EscapedPath() string {
	escaped := make([]string, len(u.segments))
	for idx, seg := range u.segments {
		escaped[idx] = escape(seg, encodeSegment)
	}

	if u.scheme == "" && u.authority == nil && len(escaped) > 0 {
		// First segment of relative-path reference can't have a colon.
		// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-4.2
		escaped[0] = strings.ReplaceAll(escaped[0], ":", "%3A")
	}

	return strings.Join(escaped, "/")
}

func (u URI) Query() []QueryPair { return slices.Clone(u.query) }

// QueryValue returns the first value for key.
func (u URI) QueryValue(key string) (string, bool) {
	for _, pair := range u.query {
		if pair.Key == key {
			return pair.Value, true
		}
	}
	return "", false
}

func (u URI) RawQuery() string {
	b := new(strings.Builder)
	for idx, pair := range u.query {
		if idx > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(pair.Key, encodeQueryComponent))
		// A bare "=" keeps an empty pair from vanishing.
		if pair.Value != "" || pair.Key == "" {
			b.WriteByte('=')
			b.WriteString(escape(pair.Value, encodeQueryComponent))
		}
	}
	return b.String()
}

func (u URI) Fragment() (string, bool) {
	if u.fragment == nil {
		return "", false
	}
	return *u.fragment, true
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-4.2
func (u URI) IsRelativeRef() bool { return u.scheme == "" }

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-4.3
func (u URI) IsAbsoluteURI() bool { return u.scheme != "" && u.fragment == nil }

// IsAuthorityForm reports whether u only consists of authority.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.3
func (u URI) IsAuthorityForm() bool {
	return u.scheme == "" && u.authority != nil && len(u.segments) == 0 && len(u.query) == 0 && u.fragment == nil
}

// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.4
func (u URI) IsAsterisk() bool {
	return u.scheme == "" && u.authority == nil && len(u.query) == 0 && slices.Equal(u.segments, []string{"*"})
}

func (u URI) Equal(other URI) bool {
	if u.scheme != other.scheme {
		return false
	}
	if (u.authority == nil) != (other.authority == nil) {
		return false
	}
	if u.authority != nil && !u.authority.equal(*other.authority) {
		return false
	}
	if !slices.Equal(u.segments, other.segments) || !slices.Equal(u.query, other.query) {
		return false
	}
	if (u.fragment == nil) != (other.fragment == nil) {
		return false
	}
	return u.fragment == nil || *u.fragment == *other.fragment
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.3
func (u URI) String() string {
	b := new(strings.Builder)
	if u.scheme != "" {
		b.WriteString(u.scheme)
		b.WriteByte(':')
	}

	if u.authority != nil {
		b.WriteString("//")
		if u.authority.UserInfo != "" {
			b.WriteString(escape(u.authority.UserInfo, encodeUserInfo))
			b.WriteByte('@')
		}
		b.WriteString(u.authority.HostPort())
	}

	b.WriteString(u.EscapedPath())

	if len(u.query) > 0 {
		b.WriteByte('?')
		b.WriteString(u.RawQuery())
	}

	if u.fragment != nil {
		b.WriteByte('#')
		b.WriteString(escape(*u.fragment, encodeFragment))
	}

	return b.String()
}

// RequestTarget renders u as the request-target of a request line.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2
func (u URI) RequestTarget() string {
	switch {
	case u.IsAsterisk():
		return "*"
	case u.IsAuthorityForm():
		return u.authority.HostPort()
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if len(u.query) > 0 {
		return path + "?" + u.RawQuery()
	}
	return path
}

func (u URI) WithScheme(scheme string) (URI, error) {
	if scheme != "" {
		if err := assertValidScheme(scheme); err != nil {
			return URI{}, errors.Wrap(err, "scheme is not valid")
		}
	}
	u.scheme = strings.ToLower(scheme)
	return u, nil
}

// WithAuthority replaces authority. nil removes it.
func (u URI) WithAuthority(a *Authority) URI {
	if a == nil {
		u.authority = nil
		return u
	}
	u.authority = a.clone()
	u.authority.Host = strings.ToLower(u.authority.Host)
	u.segments = absolutePath(u.segments)
	return u
}

func (u URI) WithHost(host string) (URI, error) {
	if err := assertValidHost(host); err != nil {
		return URI{}, errors.Wrap(err, "host is not valid")
	}

	a := Authority{}
	if u.authority != nil {
		a = *u.authority
	}
	a.Host = host
	return u.WithAuthority(&a), nil
}

func (u URI) WithPort(port uint16) URI {
	a := Authority{}
	if u.authority != nil {
		a = *u.authority
	}
	a.Port = &port
	return u.WithAuthority(&a)
}

func (u URI) WithoutPort() URI {
	if u.authority == nil {
		return u
	}
	a := *u.authority
	a.Port = nil
	return u.WithAuthority(&a)
}

// WithPath replaces path with decoded path, split on '/'.
func (u URI) WithPath(path string) URI {
	if path == "" {
		return u.WithSegments()
	}
	return u.WithSegments(strings.Split(path, "/")...)
}

func (u URI) WithSegments(segments ...string) URI {
	u.segments = slices.Clone(segments)
	if len(u.segments) == 0 {
		u.segments = nil
	}
	if u.authority != nil {
		u.segments = absolutePath(u.segments)
	}
	return u
}

func (u URI) WithQuery(pairs ...QueryPair) URI {
	u.query = slices.Clone(pairs)
	if len(u.query) == 0 {
		u.query = nil
	}
	return u
}

// WithQueryAdded appends a pair. Existing pairs with the same key are kept.
func (u URI) WithQueryAdded(key, value string) URI {
	return u.WithQuery(append(u.Query(), QueryPair{Key: key, Value: value})...)
}

func (u URI) WithFragment(fragment string) URI {
	u.fragment = &fragment
	return u
}

func (u URI) WithoutFragment() URI {
	u.fragment = nil
	return u
}

// Normalize performs syntax-based normalization.
// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-6.2.2
func (u URI) Normalize() URI {
	u.scheme = strings.ToLower(u.scheme)
	if u.authority != nil {
		u.authority = u.authority.clone()
		u.authority.Host = strings.ToLower(u.authority.Host)
	}
	u.segments = removeDotSegments(u.segments)
	return u
}

// URI with authority must either have an empty path or start with '/'.
func absolutePath(segments []string) []string {
	if len(segments) == 0 || segments[0] == "" {
		return segments
	}
	return append([]string{""}, segments...)
}

func Parse(rawURI string) (URI, error) {
	u, err := parse(rawURI)
	if err != nil {
		return URI{}, &ParseError{Input: rawURI, Err: err}
	}
	return u, nil
}

// ParseAuthorityForm parses "host:port" used by CONNECT.
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.3
func ParseAuthorityForm(raw string) (URI, error) {
	host, portPart, err := getHostPort(raw)
	if err != nil {
		return URI{}, &ParseError{Input: raw, Err: err}
	}

	port, hasPort, err := parsePort(portPart)
	if err != nil {
		return URI{}, &ParseError{Input: raw, Err: err}
	}
	if !hasPort {
		return URI{}, &ParseError{Input: raw, Err: errors.New("port in authority-form is required")}
	}

	if host, err = unescape(host); err != nil {
		return URI{}, &ParseError{Input: raw, Err: err}
	}

	return URI{authority: &Authority{Host: strings.ToLower(host), Port: &port}}, nil
}

// ParseHost parses "host[:port]" as found in the Host header.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-7.2
func ParseHost(raw string) (Authority, error) {
	host, portPart, err := getHostPort(raw)
	if err != nil {
		return Authority{}, &ParseError{Input: raw, Err: err}
	}

	port, hasPort, err := parsePort(portPart)
	if err != nil {
		return Authority{}, &ParseError{Input: raw, Err: err}
	}

	if host, err = unescape(host); err != nil {
		return Authority{}, &ParseError{Input: raw, Err: err}
	}

	a := Authority{Host: strings.ToLower(host)}
	if hasPort {
		a.Port = &port
	}
	return a, nil
}

func parse(rawURI string) (URI, error) {
	if containsCTL(rawURI) {
		return URI{}, errors.New("URI should not contain CTL bytes")
	}

	var uri URI

	scheme, rest, err := cutScheme(rawURI)
	if err != nil {
		return URI{}, errors.Wrap(err, "getting scheme")
	}
	// Scheme is recommended to be lowercase.
	uri.scheme = strings.ToLower(scheme)

	if strings.HasPrefix(rest, "//") {
		var authorityRaw string
		authorityRaw, rest = rest[2:], ""
		if i := strings.IndexAny(authorityRaw, "/?#"); i >= 0 {
			authorityRaw, rest = authorityRaw[:i], authorityRaw[i:]
		}

		authority, err := parseAuthority(authorityRaw)
		if err != nil {
			return URI{}, errors.Wrap(err, "parsing authority")
		}

		uri.authority = &authority
	}

	path, query, frag := splitPathQueryFrag(rest)

	hasAuthority := uri.authority != nil
	if err := assertValidPath(path, hasAuthority, uri.IsRelativeRef()); err != nil {
		return URI{}, errors.Wrap(err, "path is not valid")
	}
	if uri.segments, err = parseSegments(path); err != nil {
		return URI{}, errors.Wrap(err, "unescaping path")
	}

	if len(query) > 0 {
		// Strip '?' from query.
		query = query[1:]
		if !isQueryFragValid(query) {
			return URI{}, errors.New("query is not valid")
		}

		if uri.query, err = parseQuery(query); err != nil {
			return URI{}, errors.Wrap(err, "unescaping query")
		}
	}

	if len(frag) > 0 {
		// Strip '#' from fragment.
		frag = frag[1:]
		if !isQueryFragValid(frag) {
			return URI{}, errors.New("fragment is not valid")
		}

		if frag, err = unescape(frag); err != nil {
			return URI{}, errors.Wrap(err, "unescaping fragment")
		}
		uri.fragment = &frag
	}

	return uri, nil
}

// cutScheme cuts scheme from rawURI. If scheme is not valid, it returns an error.
func cutScheme(rawURI string) (scheme, rest string, err error) {
	idx := strings.IndexAny(rawURI, ":/?#")
	if idx < 0 || rawURI[idx] != ':' {
		// Colon after '/', '?' or '#' belongs to the rest.
		return "", rawURI, nil
	}

	scheme, rest = rawURI[:idx], rawURI[idx+1:]
	if err := assertValidScheme(scheme); err != nil {
		return "", "", err
	}

	return scheme, rest, nil
}

func parseAuthority(raw string) (authority Authority, err error) {
	var userInfo, host string
	if i := strings.LastIndex(raw, "@"); i >= 0 {
		userInfo, host = raw[:i], raw[i+1:]
		if !isValidUserInfo(userInfo) {
			return Authority{}, errors.New("user information is not valid")
		}
		if authority.UserInfo, err = unescape(userInfo); err != nil {
			return Authority{}, errors.Wrap(err, "unescaping user information")
		}
	} else {
		host = raw
	}

	host, portPart, err := getHostPort(host)
	if err != nil {
		return Authority{}, errors.Wrap(err, "parsing host")
	}

	port, hasPort, err := parsePort(portPart)
	if err != nil {
		return Authority{}, errors.Wrap(err, "parsing port")
	}

	if hasPort {
		authority.Port = &port
	}

	if authority.Host, err = unescape(host); err != nil {
		return Authority{}, errors.Wrap(err, "unescaping host")
	}
	authority.Host = strings.ToLower(authority.Host)

	return authority, nil
}

func getHostPort(raw string) (host string, portPart string, err error) {
	if strings.HasPrefix(raw, "[") {
		// This is IP Literal.
		idx := strings.LastIndex(raw, "]")
		if idx < 0 {
			return "", "", errors.New("missing ']' in IP Literal")
		}

		host = raw[:idx+1]
		portPart = raw[idx+1:]
	} else {
		// ipv4 or reg-name.
		host = raw
		if idx := strings.LastIndex(raw, ":"); idx >= 0 {
			host = raw[:idx]
			portPart = raw[idx:]
		}
	}

	if err := assertValidHost(host); err != nil {
		return "", "", errors.Wrap(err, "host is not valid")
	}

	return host, portPart, nil
}

// This is not the same rule as RFC. See [Authority].
func parsePort(s string) (port uint16, hasPort bool, err error) {
	if s == "" {
		return 0, false, nil
	}

	if s[0] != ':' {
		return 0, false, errors.New("colon delimiter not found on port")
	}

	s = s[1:]
	if s == "" {
		// Empty port is allowed. It is the same as omitting it.
		// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-6.2.3
		return 0, false, nil
	}

	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to parse uint")
	}

	if s[0] == '0' && !(n == 0 && len(s) == 1) {
		return 0, false, errors.New("port has leading zero")
	}

	return uint16(n), true, nil
}

func splitPathQueryFrag(raw string) (path, query, frag string) {
	if idx := strings.IndexByte(raw, '#'); idx >= 0 {
		frag = raw[idx:]
		raw = raw[:idx]
	}

	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		query = raw[idx:]
		raw = raw[:idx]
	}

	path = raw
	return
}

func parseSegments(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	segments := strings.Split(path, "/")
	for idx, seg := range segments {
		decoded, err := unescape(seg)
		if err != nil {
			return nil, err
		}
		segments[idx] = decoded
	}

	return segments, nil
}

func parseQuery(raw string) ([]QueryPair, error) {
	var pairs []QueryPair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}

		k, v, _ := strings.Cut(part, "=")

		key, err := unescape(k)
		if err != nil {
			return nil, err
		}
		value, err := unescape(v)
		if err != nil {
			return nil, err
		}

		pairs = append(pairs, QueryPair{Key: key, Value: value})
	}

	return pairs, nil
}
