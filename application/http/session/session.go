// Package session keeps per-client state across requests, keyed by a cookie.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"maps"
	"slices"
	"sync"
	"time"

	"hermes/lib/value"

	"github.com/pkg/errors"
)

const idLen = 32

// NewID returns a random session id in base64url without padding.
func NewID() (string, error) {
	var b [idLen]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.Wrap(err, "reading random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// ValidID reports whether id looks like one made by [NewID].
func ValidID(id string) bool {
	if len(id) != base64.RawURLEncoding.EncodedLen(idLen) {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

type Session struct {
	id     string
	values map[string]value.Value

	// zero means no expiry.
	expiresAt time.Time

	isNew     bool
	modified  bool
	destroyed bool

	mu sync.Mutex
}

// New returns an empty session that has never been saved.
func New(id string) *Session {
	return &Session{
		id:     id,
		values: make(map[string]value.Value),
		isNew:  true,
	}
}

func (s *Session) ID() string { return s.id }

// IsNew reports whether s was created during this request.
func (s *Session) IsNew() bool { return s.isNew }

func (s *Session) Get(key string) (value.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key string, v value.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = v
	s.modified = true
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.modified = true
	}
}

func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.values))
}

func (s *Session) Modified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.modified
}

// Destroy marks s to be removed from its store once the request is done.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.destroyed = true
}

func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

const (
	recordValues  = "values"
	recordExpires = "expires_at"
)

func (s *Session) record() value.Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := map[string]value.Value{recordValues: value.Map(s.values)}
	if !s.expiresAt.IsZero() {
		rec[recordExpires] = value.Int(s.expiresAt.Unix())
	}
	return value.Map(rec)
}

func fromRecord(id string, rec value.Value) (*Session, error) {
	values, ok := rec.Get(recordValues)
	if !ok {
		return nil, errors.Wrap(ErrFormat, "record has no values")
	}
	m, ok := values.AsMap()
	if !ok {
		return nil, errors.Wrapf(ErrFormat, "values is a %s", values.Kind())
	}

	if m == nil {
		m = make(map[string]value.Value)
	}

	s := &Session{id: id, values: m}
	if exp, ok := rec.Get(recordExpires); ok {
		unix, ok := exp.AsInt()
		if !ok {
			return nil, errors.Wrapf(ErrFormat, "bad expiry %s", exp)
		}
		s.expiresAt = time.Unix(unix, 0)
	}
	return s, nil
}

func (s *Session) expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && !now.Before(s.expiresAt)
}
