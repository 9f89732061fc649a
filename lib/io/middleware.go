package iolib

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// MiddlewareReader reads src through a writer middleware (e.g. an encoder).
// The middleware is closed once src reaches EOF, so trailing output is also read.
type MiddlewareReader struct {
	src  io.Reader
	buf  *bytes.Buffer
	bufw io.WriteCloser
	eof  bool
}

func NewMiddlewareReader(
	src io.Reader, middleware func(io.WriteCloser) io.WriteCloser,
) *MiddlewareReader {
	mr := &MiddlewareReader{
		src: src,
		buf: bytes.NewBuffer(nil),
	}
	mr.bufw = middleware(NopWriteCloser(mr.buf))
	return mr
}

func (mr *MiddlewareReader) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	for mr.buf.Len() == 0 {
		if mr.eof {
			return 0, io.EOF
		}

		n, err := mr.src.Read(p)
		if _, werr := WriteFull(mr.bufw, p[:n]); werr != nil {
			return 0, errors.Wrap(werr, "failed to write")
		}

		if err == io.EOF {
			mr.eof = true
			if err := mr.bufw.Close(); err != nil {
				return 0, errors.Wrap(err, "failed to close middleware")
			}
		} else if err != nil {
			return 0, errors.Wrap(err, "reading from source")
		}
	}

	return mr.buf.Read(p)
}
