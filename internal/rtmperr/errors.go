// Package rtmperr defines the typed error taxonomy used across the
// ingest/egress pipeline so callers can classify a failure with
// errors.Is instead of matching on strings.
package rtmperr

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("%w: detail", Kind) at the call site.
var (
	// ProtocolViolation covers malformed handshake bytes, unknown chunk
	// fmt codes, a fmt 1/2/3 chunk with no prior csid context, and
	// undecodable AMF0. Terminal for the connection.
	ProtocolViolation = errors.New("protocol violation")

	// Unsupported covers AMF3, the complex handshake, and codecs other
	// than H.264/AAC. Terminal.
	Unsupported = errors.New("unsupported")

	// ResourceExhausted covers a declared message length above the
	// configured ceiling. Terminal.
	ResourceExhausted = errors.New("resource exhausted")

	// PeerGone covers a zero-length read or a broken-pipe/reset write.
	// Terminal for the connection, non-fatal for the server.
	PeerGone = errors.New("peer gone")

	// NotFound covers play on an absent stream.
	NotFound = errors.New("not found")

	// Conflict covers publish on a name already held.
	Conflict = errors.New("conflict")

	// Transient covers an individual subscriber send failure; the
	// subscriber is removed but the publisher continues.
	Transient = errors.New("transient")
)

// Is reports whether err ultimately wraps kind.
func Is(err error, kind error) bool {
	return errors.Is(err, kind)
}
