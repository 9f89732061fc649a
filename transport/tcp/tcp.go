// Package tcp adapts the operating system's TCP sockets to [transport.Conn].
package tcp

import (
	"context"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"syscall"
	"time"

	"hermes/transport"

	"github.com/pkg/errors"
)

type Addr struct {
	ip   netip.Addr
	port uint16
}

var _ transport.Addr = Addr{}

func NewAddr(ip netip.Addr, port uint16) Addr {
	return Addr{ip: ip.Unmap(), port: port}
}

// ParseAddr parses "host:port" where host is an IP literal.
func ParseAddr(s string) (Addr, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Addr{}, errors.Wrap(err, "parsing tcp address")
	}
	return NewAddr(ap.Addr(), ap.Port()), nil
}

func (a Addr) IP() netip.Addr              { return a.ip }
func (a Addr) Port() uint16                { return a.port }
func (a Addr) Network() transport.Protocol { return transport.TCP }

func (a Addr) String() string {
	return netip.AddrPortFrom(a.ip, a.port).String()
}

func (a Addr) tcpAddr() *net.TCPAddr {
	return net.TCPAddrFromAddrPort(netip.AddrPortFrom(a.ip, a.port))
}

func fromNetAddr(addr net.Addr) Addr {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		ap := tcpAddr.AddrPort()
		return NewAddr(ap.Addr(), ap.Port())
	}
	return Addr{}
}

type conn struct {
	inner *net.TCPConn

	local, remote Addr

	closeOnce sync.Once
}

var _ transport.Conn = (*conn)(nil)

func newConn(c *net.TCPConn) *conn {
	return &conn{
		inner:  c,
		local:  fromNetAddr(c.LocalAddr()),
		remote: fromNetAddr(c.RemoteAddr()),
	}
}

func (c *conn) Read(p []byte) (int, error) {
	n, err := c.inner.Read(p)
	return n, mapErr(err)
}

func (c *conn) Write(p []byte) (int, error) {
	n, err := c.inner.Write(p)
	return n, mapErr(err)
}

// Close is idempotent.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = mapErr(c.inner.Close()) })
	return err
}

func (c *conn) LocalAddr() transport.Addr  { return c.local }
func (c *conn) RemoteAddr() transport.Addr { return c.remote }

func (c *conn) SetReadDeadLine(t time.Time)  { _ = c.inner.SetReadDeadline(t) }
func (c *conn) SetWriteDeadLine(t time.Time) { _ = c.inner.SetWriteDeadline(t) }

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return transport.ErrConnClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		return transport.ErrDeadLineExceeded
	case errors.Is(err, syscall.ECONNREFUSED):
		return transport.ErrConnRefused
	case errors.Is(err, syscall.EADDRINUSE):
		return transport.ErrAddrAlreadyInUse
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return transport.ErrNetUnreachable
	}
	return err
}

type listener struct {
	inner *net.TCPListener
	addr  Addr
}

var _ transport.ConnListener = (*listener)(nil)

// Listen binds addr. Port 0 picks an ephemeral port; see [transport.ConnListener.Addr].
func Listen(addr Addr) (transport.ConnListener, error) {
	l, err := net.ListenTCP("tcp", addr.tcpAddr())
	if err != nil {
		return nil, mapErr(err)
	}

	return &listener{inner: l, addr: fromNetAddr(l.Addr())}, nil
}

func (l *listener) Addr() transport.Addr { return l.addr }

// Accept unblocks with ctx.Err() when ctx is done.
func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_ = l.inner.SetDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() {
		_ = l.inner.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	c, err := l.inner.AcceptTCP()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, transport.ErrConnListenerClosed
		}
		return nil, mapErr(err)
	}

	return newConn(c), nil
}

func (l *listener) Close() error {
	if err := l.inner.Close(); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return transport.ErrConnListenerClosed
		}
		return err
	}
	return nil
}

// Dialer dials [Addr]s.
type Dialer struct {
	// Timeout bounds connection establishment. Zero means no timeout.
	Timeout time.Duration
}

var _ transport.ConnDialer = Dialer{}

func (d Dialer) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	tcpAddr, ok := addr.(Addr)
	if !ok {
		return nil, transport.ErrNetUnreachable
	}

	nd := net.Dialer{Timeout: d.Timeout}
	c, err := nd.DialContext(ctx, "tcp", tcpAddr.String())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, mapErr(err)
	}

	return newConn(c.(*net.TCPConn)), nil
}
