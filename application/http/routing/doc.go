// Package routing maps requests to handlers through a middleware chain.
//
// Routes are tried in registration order and the first structural match wins.
// Patterns consist of literal segments and {name} parameter segments,
// each parameter matching exactly one non-empty path segment.
//
// A [Router] is built once. [NewDispatcher] freezes it, after which
// matching is safe for concurrent use without locking.
package routing
