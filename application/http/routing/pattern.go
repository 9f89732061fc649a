package routing

import (
	"fmt"
	"strings"

	"hermes/application/util/uri"

	"github.com/pkg/errors"
)

// ConfigError reports an invalid or conflicting route registration.
type ConfigError struct {
	Method  string
	Pattern string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("route %q: %s", e.Pattern, e.Err)
	}
	return fmt.Sprintf("route %s %q: %s", e.Method, e.Pattern, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

var (
	ErrInvalidPattern = errors.New("invalid pattern")
	ErrConflict       = errors.New("conflicting route")
)

type segment struct {
	literal string
	param   string // empty for literal segments
}

// Pattern is a parsed route pattern.
type Pattern struct {
	raw      string
	segments []segment
}

func ParsePattern(raw string) (Pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return Pattern{}, &ConfigError{Pattern: raw, Err: errors.Wrap(ErrInvalidPattern, "pattern should start with /")}
	}

	p := Pattern{raw: raw}
	seen := make(map[string]bool)
	for _, part := range splitPath(raw) {
		opening, closing := strings.Count(part, "{"), strings.Count(part, "}")
		if opening == 0 && closing == 0 {
			// Request paths are matched decoded, so literals are too.
			literal, err := uri.Unescape(part)
			if err != nil {
				return Pattern{}, &ConfigError{Pattern: raw, Err: errors.Wrapf(ErrInvalidPattern, "bad escape in %q", part)}
			}
			p.segments = append(p.segments, segment{literal: literal})
			continue
		}

		if opening != 1 || closing != 1 || !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
			return Pattern{}, &ConfigError{Pattern: raw, Err: errors.Wrapf(ErrInvalidPattern, "unbalanced braces in %q", part)}
		}

		name := part[1 : len(part)-1]
		if name == "" {
			return Pattern{}, &ConfigError{Pattern: raw, Err: errors.Wrap(ErrInvalidPattern, "empty parameter name")}
		}
		if seen[name] {
			return Pattern{}, &ConfigError{Pattern: raw, Err: errors.Wrapf(ErrInvalidPattern, "duplicate parameter %q", name)}
		}
		seen[name] = true

		p.segments = append(p.segments, segment{param: name})
	}

	return p, nil
}

func (p Pattern) String() string { return p.raw }

// ParamNames returns parameter names in order.
func (p Pattern) ParamNames() []string {
	var names []string
	for _, seg := range p.segments {
		if seg.param != "" {
			names = append(names, seg.param)
		}
	}
	return names
}

// shapeEscaper keeps a decoded slash inside a literal from looking like a separator.
var shapeEscaper = strings.NewReplacer("%", "%25", "/", "%2F")

// shape renders p with parameter names erased. Patterns of the same shape match the same paths.
func (p Pattern) shape() string {
	b := new(strings.Builder)
	for _, seg := range p.segments {
		b.WriteByte('/')
		if seg.param != "" {
			b.WriteString("{}")
			continue
		}
		b.WriteString(shapeEscaper.Replace(seg.literal))
	}
	return b.String()
}

func (p Pattern) match(segments []string) (Params, bool) {
	if len(segments) != len(p.segments) {
		return nil, false
	}

	var params Params
	for idx, seg := range p.segments {
		if seg.param == "" {
			if seg.literal != segments[idx] {
				return nil, false
			}
			continue
		}

		if segments[idx] == "" {
			return nil, false
		}
		params = append(params, Param{Name: seg.param, Value: segments[idx]})
	}

	return params, true
}

// splitPath splits a slash-separated path, ignoring the leading and one trailing slash.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// trimSegments does the same as splitPath for decoded segments of an absolute path.
func trimSegments(segments []string) []string {
	if len(segments) > 0 && segments[0] == "" {
		segments = segments[1:]
	}
	if len(segments) > 0 && segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}
	return segments
}

func joinPattern(prefix, pattern string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if pattern == "/" || pattern == "" {
		if prefix == "" {
			return "/"
		}
		return prefix
	}
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	return prefix + pattern
}
