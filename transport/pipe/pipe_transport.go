package pipe

import (
	"context"
	"sync"

	"hermes/transport"

	"github.com/benbjohnson/clock"
)

type pipeRequest struct {
	conn     transport.Conn
	accepted chan struct{}
}

// PipeTransport connects dialers and listeners by [Addr] name, all in memory.
type PipeTransport struct {
	listeners map[transport.Addr]*pipeListener
	clock     clock.Clock

	// BufferSize makes dialed pipes buffered when greater than 0.
	BufferSize uint

	mu sync.Mutex
}

func NewPipeTransport(clock clock.Clock) *PipeTransport {
	return &PipeTransport{
		listeners: make(map[transport.Addr]*pipeListener),
		clock:     clock,
	}
}

var _ transport.ConnDialer = (*PipeTransport)(nil)

func (pt *PipeTransport) Dial(ctx context.Context, addr transport.Addr) (transport.Conn, error) {
	pipeAddr, ok := addr.(Addr)
	if !ok {
		return nil, transport.ErrNetUnreachable
	}

	pt.mu.Lock()
	listener, ok := pt.listeners[pipeAddr]
	pt.mu.Unlock()

	if !ok {
		return nil, transport.ErrConnRefused
	}

	local, remote := pt.newPair(pipeAddr)

	req := pipeRequest{
		conn:     remote,
		accepted: make(chan struct{}, 1),
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-listener.closed:
		return nil, transport.ErrConnRefused
	case listener.requests <- req:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-listener.closed:
		return nil, transport.ErrConnRefused
	case <-req.accepted:
	}

	return local, nil
}

func (pt *PipeTransport) newPair(addr Addr) (local, remote transport.Conn) {
	if pt.BufferSize > 0 {
		return BufferedPipe("dialer", addr.Name, pt.clock, pt.BufferSize)
	}
	return NewPair("dialer", addr.Name, pt.clock)
}

func (pt *PipeTransport) Listen(addr Addr) (*pipeListener, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if _, ok := pt.listeners[addr]; ok {
		return nil, transport.ErrAddrAlreadyInUse
	}

	pl := &pipeListener{
		addr:      addr,
		transport: pt,
		requests:  make(chan pipeRequest),
		closed:    make(chan struct{}),
	}
	pt.listeners[addr] = pl

	return pl, nil
}

type pipeListener struct {
	addr transport.Addr

	transport *PipeTransport

	requests chan pipeRequest
	closed   chan struct{}

	mu sync.Mutex
}

var _ transport.ConnListener = (*pipeListener)(nil)

func (pl *pipeListener) Addr() transport.Addr { return pl.addr }

func (pl *pipeListener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-pl.closed:
		return nil, transport.ErrConnListenerClosed
	case request := <-pl.requests:
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case request.accepted <- struct{}{}:
		}

		return request.conn, nil
	}
}

// Close stops accepting. Dialers waiting on this listener get [transport.ErrConnRefused].
func (pl *pipeListener) Close() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	select {
	case <-pl.closed:
		return transport.ErrConnListenerClosed
	default:
	}

	close(pl.closed)

	pl.transport.mu.Lock()
	delete(pl.transport.listeners, pl.addr)
	pl.transport.mu.Unlock()

	return nil
}
