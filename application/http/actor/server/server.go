package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hermes/application/http/transfer"
	"hermes/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

type Server struct {
	l transport.ConnListener

	logger *slog.Logger
	opts   Options

	handle   HandleFunc
	transfer *transfer.CodingApplier
	clock    clock.Clock

	// slots is nil when connections are unbounded.
	slots chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func New(
	l transport.ConnListener,
	logger *slog.Logger,
	clock clock.Clock,
	handle HandleFunc,
	opts Options,
) *Server {
	s := &Server{
		l:        l,
		logger:   logger,
		opts:     opts,
		handle:   handle,
		clock:    clock,
		transfer: transfer.NewCodingApplier(opts.ExtraTransferCoders),
	}

	if opts.MaxConns > 0 {
		s.slots = make(chan struct{}, opts.MaxConns)
	}

	return s
}

func (s *Server) Addr() transport.Addr { return s.l.Addr() }

// Serve accepts connections and serves each of them on its own goroutine,
// until ctx is done or the listener is closed.
// Every connection is closed and waited for before Serve returns.
// It returns nil when stopped by ctx.
func (s *Server) Serve(ctx context.Context) error {
	connCtx, cancelConns := context.WithCancel(ctx)

	var wg sync.WaitGroup
	defer func() {
		cancelConns()
		wg.Wait()
	}()

	var backoff time.Duration
	for {
		if !s.acquire(ctx) {
			return nil
		}

		con, err := s.l.Accept(ctx)
		if err != nil {
			s.release()

			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, transport.ErrConnListenerClosed):
				return errors.Wrap(err, "accepting connection")
			}

			if s.opts.Metrics != nil {
				s.opts.Metrics.AcceptFailed()
			}

			backoff = nextBackoff(backoff)
			s.logger.Warn("failed to accept connection, retrying",
				"error", err, "backoff", backoff)

			select {
			case <-ctx.Done():
				return nil
			case <-s.clock.After(backoff):
			}
			continue
		}
		backoff = 0

		c := newConn(con, s.handle, s.transfer, s.clock,
			s.logger.With("conn", con.RemoteAddr()), s.opts)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.release()

			if s.opts.Metrics != nil {
				s.opts.Metrics.ConnOpened()
				defer s.opts.Metrics.ConnClosed()
			}

			c.start(connCtx)
		}()
	}
}

func nextBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptBackoff
	}
	return min(prev*2, maxAcceptBackoff)
}

func (s *Server) acquire(ctx context.Context) bool {
	if s.slots == nil {
		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		return false
	case s.slots <- struct{}{}:
		return true
	}
}

func (s *Server) release() {
	if s.slots != nil {
		<-s.slots
	}
}

// Start runs [Server.Serve] in the background until [Server.Close].
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		if err := s.Serve(ctx); err != nil {
			s.logger.Error("server stopped", "error", err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
}

// Close stops the server started by [Server.Start] and closes every connection.
// The listener stays open. It returns the error that stopped serving, if any.
func (s *Server) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
