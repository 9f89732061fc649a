package server

import (
	"time"

	"hermes/application/http"
	"hermes/application/http/semantic"
	"hermes/application/http/transfer"
)

type Options struct {
	Serve ServeOptions

	// MaxConns bounds the number of connections served at once.
	// Accepting waits for a free slot. 0 means unbounded.
	MaxConns uint

	ExtraTransferCoders []transfer.Coder

	// Metrics is notified of connection events. nil disables it.
	Metrics Metrics
}

type ServeOptions struct {
	Encode http.EncodeOptions
	Decode http.DecodeOptions

	Parse semantic.ParseRequestOptions

	Timeout TimeoutOptions

	// MaxContentLength limits request bodies. 0 means unlimited.
	MaxContentLength uint
}

// Zero value of a timeout means no timeout.
type TimeoutOptions struct {
	IdleTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultOptions returns options with the default codec limits.
func DefaultOptions() Options {
	return Options{
		Serve: ServeOptions{
			Encode: http.DefaultEncodeOptions,
			Decode: http.DefaultDecodeOptions,
			Timeout: TimeoutOptions{
				IdleTimeout:  time.Minute,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			},
			MaxContentLength: 10 << 20,
		},
	}
}

// Metrics observes connections of a [Server].
type Metrics interface {
	ConnOpened()
	ConnClosed()
	AcceptFailed()
}
