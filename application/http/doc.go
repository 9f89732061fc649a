// Package http implements the HTTP/1.1 message syntax.
//
// It converts between bytes and raw messages ([Request], [Response]) whose heads are kept as
// they appeared on the wire. Interpreting fields and framing bodies is left to
// [hermes/application/http/semantic] and [hermes/application/http/transfer].
//
// Reference:
//
// - https://datatracker.ietf.org/doc/html/rfc9110
//
// - https://datatracker.ietf.org/doc/html/rfc9112
package http
