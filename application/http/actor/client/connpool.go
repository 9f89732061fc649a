package client

import (
	"sync"
	"time"

	"hermes/lib/ds/queue"
	"hermes/transport"

	"github.com/benbjohnson/clock"
)

// connPool keeps idle connections by address, oldest first.
type connPool struct {
	idle map[transport.Addr]*queue.Ring[*conn]

	maxIdlePerAddr uint
	idleTimeout    time.Duration
	clock          clock.Clock

	mu sync.Mutex
}

func newConnPool(maxIdlePerAddr uint, idleTimeout time.Duration, clock clock.Clock) *connPool {
	return &connPool{
		idle:           make(map[transport.Addr]*queue.Ring[*conn]),
		maxIdlePerAddr: maxIdlePerAddr,
		idleTimeout:    idleTimeout,
		clock:          clock,
	}
}

// get takes an idle connection to addr. Expired ones found on the way are closed.
func (p *connPool) get(addr transport.Addr) (*conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q, ok := p.idle[addr]
	if !ok {
		return nil, false
	}

	for q.Len() > 0 {
		c, _ := q.Dequeue()
		if p.expired(c) {
			c.close()
			continue
		}

		c.reused = true
		return c, true
	}

	delete(p.idle, addr)
	return nil, false
}

// put makes c available for reuse. When the address already has enough idle
// connections the oldest one is closed.
func (p *connPool) put(c *conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxIdlePerAddr == 0 {
		c.close()
		return
	}

	q, ok := p.idle[c.addr]
	if !ok {
		q = queue.NewCircular[*conn](p.maxIdlePerAddr)
		p.idle[c.addr] = q
	}

	c.idleAt = p.clock.Now()
	if old, evicted := q.Push(c); evicted {
		old.close()
	}
}

func (p *connPool) expired(c *conn) bool {
	return p.idleTimeout > 0 && p.clock.Since(c.idleAt) >= p.idleTimeout
}

func (p *connPool) len(addr transport.Addr) uint {
	p.mu.Lock()
	defer p.mu.Unlock()

	if q, ok := p.idle[addr]; ok {
		return q.Len()
	}
	return 0
}

// closeIdle closes every idle connection.
func (p *connPool) closeIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for addr, q := range p.idle {
		for _, c := range q.Drain() {
			c.close()
		}
		delete(p.idle, addr)
	}
}
