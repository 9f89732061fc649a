package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrStore    = errors.New("session store error")
)

// storeError is an [ErrStore] that keeps its cause.
type storeError struct {
	msg   string
	cause error
}

func storeErr(cause error, format string, args ...any) error {
	return &storeError{msg: fmt.Sprintf(format, args...), cause: cause}
}

func (e *storeError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.msg, ErrStore, e.cause)
}

func (e *storeError) Unwrap() []error { return []error{ErrStore, e.cause} }

// Store loads and persists sessions by id.
type Store interface {
	// Load returns [ErrNotFound] for unknown, expired or malformed ids.
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	// Destroy removing an unknown id is not an error.
	Destroy(ctx context.Context, id string) error
}

// MemoryStore keeps encoded sessions in a map.
type MemoryStore struct {
	records   map[string][]byte
	formatter Formatter
	clock     clock.Clock

	mu sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(f Formatter, clock clock.Clock) *MemoryStore {
	return &MemoryStore{
		records:   make(map[string][]byte),
		formatter: f,
		clock:     clock,
	}
}

func (ms *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	if !ValidID(id) {
		return nil, errors.Wrapf(ErrNotFound, "invalid id %q", id)
	}

	ms.mu.Lock()
	b, ok := ms.records[id]
	ms.mu.Unlock()

	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}

	s, err := decode(ms.formatter, id, b)
	if err != nil {
		return nil, storeErr(err, "id %s", id)
	}

	if s.expired(ms.clock.Now()) {
		ms.mu.Lock()
		delete(ms.records, id)
		ms.mu.Unlock()
		return nil, errors.Wrapf(ErrNotFound, "id %s expired", id)
	}
	return s, nil
}

func (ms *MemoryStore) Save(_ context.Context, s *Session) error {
	if !ValidID(s.ID()) {
		return errors.Wrapf(ErrStore, "invalid id %q", s.ID())
	}

	b, err := ms.formatter.Encode(s.record())
	if err != nil {
		return storeErr(err, "id %s", s.ID())
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.records[s.ID()] = b
	return nil
}

func (ms *MemoryStore) Destroy(_ context.Context, id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.records, id)
	return nil
}

func (ms *MemoryStore) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return len(ms.records)
}

// FileStore saves each session in its own file under a directory.
// Files are replaced atomically, so readers never see a partial write.
type FileStore struct {
	dir       string
	formatter Formatter
	clock     clock.Clock
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if it doesn't exist.
func NewFileStore(dir string, f Formatter, clock clock.Clock) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, storeErr(err, "creating %s", dir)
	}
	return &FileStore{dir: dir, formatter: f, clock: clock}, nil
}

// path must only see ids accepted by [ValidID], which can't escape dir.
func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.dir, id+"."+fs.formatter.Name())
}

func (fs *FileStore) Load(_ context.Context, id string) (*Session, error) {
	if !ValidID(id) {
		return nil, errors.Wrapf(ErrNotFound, "invalid id %q", id)
	}

	b, err := os.ReadFile(fs.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "id %s", id)
		}
		return nil, storeErr(err, "reading %s", id)
	}

	s, err := decode(fs.formatter, id, b)
	if err != nil {
		return nil, storeErr(err, "id %s", id)
	}

	if s.expired(fs.clock.Now()) {
		_ = os.Remove(fs.path(id))
		return nil, errors.Wrapf(ErrNotFound, "id %s expired", id)
	}
	return s, nil
}

func (fs *FileStore) Save(_ context.Context, s *Session) error {
	if !ValidID(s.ID()) {
		return errors.Wrapf(ErrStore, "invalid id %q", s.ID())
	}

	b, err := fs.formatter.Encode(s.record())
	if err != nil {
		return storeErr(err, "id %s", s.ID())
	}

	if err := fs.writeFile(fs.path(s.ID()), b); err != nil {
		return storeErr(err, "writing %s", s.ID())
	}
	return nil
}

func (fs *FileStore) writeFile(path string, b []byte) error {
	tmp, err := os.CreateTemp(fs.dir, ".session-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (fs *FileStore) Destroy(_ context.Context, id string) error {
	if !ValidID(id) {
		return nil
	}

	if err := os.Remove(fs.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storeErr(err, "removing %s", id)
	}
	return nil
}

func decode(f Formatter, id string, b []byte) (*Session, error) {
	rec, err := f.Decode(b)
	if err != nil {
		return nil, err
	}
	return fromRecord(id, rec)
}
