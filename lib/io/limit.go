package iolib

import (
	"io"

	"github.com/pkg/errors"
)

var ErrLimitExceeded = errors.New("read limit exceeded")

// LimitReader creates new [LimitedReader]
func LimitReader(r io.Reader, n uint) io.Reader { return &LimitedReader{r, n} }

// LimitedReader is uint port of [io.LimitedReader]
type LimitedReader struct {
	R io.Reader // underlying reader
	N uint      // max bytes remaining
}

func (l *LimitedReader) Read(p []byte) (n int, err error) {
	if l.N == 0 {
		return 0, io.EOF
	}
	if uint(len(p)) > l.N {
		p = p[:l.N]
	}
	n, err = l.R.Read(p)
	l.N -= uint(n)
	return
}

// ReadAtMost reads r to the end. Streams longer than limit fail with
// [ErrLimitExceeded]. A limit of 0 reads without bound.
func ReadAtMost(r io.Reader, limit uint) ([]byte, error) {
	if limit == 0 {
		return io.ReadAll(r)
	}

	// One more byte tells an oversized stream apart.
	b, err := io.ReadAll(LimitReader(r, limit+1))
	if err != nil {
		return b, err
	}
	if uint(len(b)) > limit {
		return b[:limit], ErrLimitExceeded
	}
	return b, nil
}
