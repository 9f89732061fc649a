// Package transport defines the byte-stream abstractions HTTP runs on.
// Implementations live in subpackages: [hermes/transport/tcp] for real sockets
// and [hermes/transport/pipe] for in-memory connections.
package transport

type Protocol string

const (
	TCP  Protocol = "tcp"
	Pipe Protocol = "pipe"
)

type Addr interface {
	Network() Protocol
	String() string
}
