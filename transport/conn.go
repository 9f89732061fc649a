package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrConnClosed         = errors.New("connection is closed")
	ErrConnListenerClosed = errors.New("conn listener is closed")
	ErrDeadLineExceeded   = errors.New("deadline exceeded")

	ErrNetUnreachable   = errors.New("network is unreachable")
	ErrConnRefused      = errors.New("connection refused")
	ErrAddrAlreadyInUse = errors.New("address already in use")
)

type Conn interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error

	LocalAddr() Addr
	RemoteAddr() Addr

	// Zero value of t means no deadline.
	SetReadDeadLine(t time.Time)
	SetWriteDeadLine(t time.Time)
}

// BufferedConn is a [Conn] whose writes complete without a reader
// as long as its counterpart's buffer has room.
type BufferedConn interface {
	Conn
	ReadBufSize() uint
	WriteBufSize() uint
}

type ConnListener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() Addr
	Close() error
}

type ConnDialer interface {
	Dial(ctx context.Context, addr Addr) (Conn, error)
}
