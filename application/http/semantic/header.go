package semantic

import (
	"bytes"
	"slices"
	"strings"

	"hermes/application/http"
	"hermes/application/util/rule"
)

type headerEntry struct {
	// name keeps the spelling it was first seen with.
	name   string
	values []string
}

// Headers is an immutable, ordered multimap of header fields.
// Names are compared case-insensitively. Every method returning Headers returns a new value.
type Headers struct{ entries []headerEntry }

// NewHeaders creates headers from name-value pairs.
// A trailing name without a value is ignored.
func NewHeaders(pairs ...string) Headers {
	var h Headers
	for i := 0; i+1 < len(pairs); i += 2 {
		h = h.WithAdded(pairs[i], pairs[i+1])
	}
	return h
}

// HeadersFrom creates headers from raw fields.
// Multiple lines with the same name append values in order.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.3-1
func HeadersFrom(fields []http.Field) Headers {
	var h Headers
	for _, field := range fields {
		name := string(field.Name)
		value := sanitizeValue(string(field.Value))

		if idx := h.index(name); idx >= 0 {
			h.entries[idx].values = append(h.entries[idx].values, value)
			continue
		}
		h.entries = append(h.entries, headerEntry{name: name, values: []string{value}})
	}

	return h
}

func (h Headers) index(name string) int {
	for idx, e := range h.entries {
		if strings.EqualFold(e.name, name) {
			return idx
		}
	}
	return -1
}

// Len returns the number of distinct names.
func (h Headers) Len() int { return len(h.entries) }

func (h Headers) Names() []string {
	names := make([]string, len(h.entries))
	for idx, e := range h.entries {
		names[idx] = e.name
	}
	return names
}

func (h Headers) Has(name string) bool { return h.index(name) >= 0 }

// Get assumes the field is a singleton field.
// Even if key has multiple values, it will only return the first element of values.
// For list-based field, use [Headers.Values] or [Headers.Tokens].
func (h Headers) Get(name string) (value string, ok bool) {
	idx := h.index(name)
	if idx < 0 || len(h.entries[idx].values) == 0 {
		return "", false
	}
	return h.entries[idx].values[0], true
}

// Values returns every line's value of name in order.
func (h Headers) Values(name string) []string {
	idx := h.index(name)
	if idx < 0 {
		return nil
	}
	return slices.Clone(h.entries[idx].values)
}

// Tokens splits every value of name as a comma-separated list.
// Quoted strings are unquoted and commas inside them are kept.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.1
func (h Headers) Tokens(name string) []string {
	var tokens []string
	for _, v := range h.Values(name) {
		tokens = append(tokens, tokenizeFieldValues([]byte(v))...)
	}
	return tokens
}

// HasToken reports whether the list-based field name contains token, case-insensitively.
func (h Headers) HasToken(name, token string) bool {
	for _, t := range h.Tokens(name) {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}

// With replaces every value of name with value.
// An existing name keeps its position and spelling.
func (h Headers) With(name, value string) Headers {
	value = sanitizeValue(value)

	idx := h.index(name)
	if idx < 0 {
		return h.appendEntry(name, value)
	}

	entries := slices.Clone(h.entries)
	entries[idx].values = []string{value}
	return Headers{entries: entries}
}

// WithAdded appends value to name.
func (h Headers) WithAdded(name, value string) Headers {
	value = sanitizeValue(value)

	idx := h.index(name)
	if idx < 0 {
		return h.appendEntry(name, value)
	}

	entries := slices.Clone(h.entries)
	values := make([]string, 0, len(entries[idx].values)+1)
	entries[idx].values = append(append(values, entries[idx].values...), value)
	return Headers{entries: entries}
}

// Without removes every value of name.
func (h Headers) Without(name string) Headers {
	idx := h.index(name)
	if idx < 0 {
		return h
	}

	entries := make([]headerEntry, 0, len(h.entries)-1)
	entries = append(entries, h.entries[:idx]...)
	entries = append(entries, h.entries[idx+1:]...)
	return Headers{entries: entries}
}

func (h Headers) appendEntry(name, value string) Headers {
	entries := make([]headerEntry, 0, len(h.entries)+1)
	entries = append(entries, h.entries...)
	entries = append(entries, headerEntry{name: name, values: []string{value}})
	return Headers{entries: entries}
}

// Fields returns one raw field per value, grouped by name in first-seen order.
func (h Headers) Fields() []http.Field {
	fields := make([]http.Field, 0, len(h.entries))
	for _, e := range h.entries {
		for _, v := range e.values {
			fields = append(fields, http.Field{Name: []byte(e.name), Value: []byte(v)})
		}
	}
	return fields
}

// Equal reports whether both have the same names (case-insensitive) and values in order.
func (h Headers) Equal(other Headers) bool {
	if len(h.entries) != len(other.entries) {
		return false
	}
	for idx, e := range h.entries {
		o := other.entries[idx]
		if !strings.EqualFold(e.name, o.name) || !slices.Equal(e.values, o.values) {
			return false
		}
	}
	return true
}

// sanitizeValue replaces CR, LF and NUL with SP and trims surrounding whitespace.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.5-5
func sanitizeValue(v string) string {
	if strings.ContainsAny(v, "\r\n\x00") {
		v = strings.Map(func(r rune) rune {
			switch r {
			case '\r', '\n', 0:
				return ' '
			}
			return r
		}, v)
	}
	return strings.TrimFunc(v, func(r rune) bool { return r == ' ' || r == '\t' })
}

func tokenizeFieldValues(fieldValue []byte) []string {
	tokens := make([]string, 0)
	buf := bytes.NewBuffer(nil)

	parts := bytes.Split(fieldValue, []byte{','})

	// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.4-1
	quoted := false

	for _, part := range parts {
		if quoted {
			// Comma inside quote, let's write it again.
			buf.WriteByte(',')
		}

		for idx := 0; idx < len(part); idx++ {
			c := part[idx]
			if c == '"' {
				quoted = !quoted
			}

			buf.WriteByte(c)
		}

		if !quoted {
			tokens = addToken(tokens, buf.Bytes())
			buf.Reset()
		}
	}

	if buf.Len() > 0 {
		// Quote didn't end properly.
		// At least write the raw token.
		tokens = addToken(tokens, buf.Bytes())
	}

	return tokens
}

func addToken(tokens []string, token []byte) []string {
	token = bytes.TrimFunc(token, rule.IsWhitespace)
	token = rule.Unquote(token)
	if len(token) == 0 {
		// Don't append if it's empty.
		return tokens
	}
	return append(tokens, string(token))
}
