package client

import (
	"net/netip"
	"time"

	"hermes/application/http"
	"hermes/application/http/transfer"
	"hermes/transport"
	"hermes/transport/tcp"
)

type Options struct {
	Send    SendOptions
	Receive ReceiveOptions
	Conn    ConnOptions
	Timeout TimeoutOptions

	ExtraTransferCoders []transfer.Coder

	// CombineAddr builds the address to dial. nil dials TCP.
	CombineAddr CombineAddrFunc
}

type CombineAddrFunc func(ip netip.Addr, port uint16) transport.Addr

func defaultCombineAddr(ip netip.Addr, port uint16) transport.Addr {
	return tcp.NewAddr(ip, port)
}

type SendOptions struct {
	Encode http.EncodeOptions
}

type ReceiveOptions struct {
	Decode http.DecodeOptions

	// UseReceivedReasonPhrase keeps the reason phrase from the response. It is on by default.
	// If false, the reason phrase will instead be filled with default value for the status code.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-4-9
	UseReceivedReasonPhrase bool

	// MaxContentLength limits response bodies. 0 means unlimited.
	MaxContentLength uint
}

type ConnOptions struct {
	// MaxIdleConnsPerHost is how many idle connections are kept for each address.
	// 0 disables reuse.
	MaxIdleConnsPerHost uint
}

// Zero value of a timeout means no timeout.
type TimeoutOptions struct {
	// IdleTimeout retires pooled connections idle for this long.
	IdleTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Send: SendOptions{Encode: http.DefaultEncodeOptions},
		Receive: ReceiveOptions{
			Decode:                  http.DefaultDecodeOptions,
			UseReceivedReasonPhrase: true,
			MaxContentLength:        10 << 20,
		},
		Conn:    ConnOptions{MaxIdleConnsPerHost: 2},
		Timeout: TimeoutOptions{IdleTimeout: 90 * time.Second},
	}
}
