package xstream

import (
	"context"
	"io"
)

// Session abstracts the generic peer-to-peer connection multiplexer that
// XStream is layered on top of: the caller hands XStream already-opened
// substreams and never touches the underlying connection directly. A
// Session manages many independent substreams over one underlying
// connection.
type Session interface {
	// OpenStream creates a new substream within the session.
	OpenStream(ctx context.Context) (Substream, error)
	// AcceptStream blocks until the remote peer initiates a substream,
	// or ctx is canceled.
	AcceptStream(ctx context.Context) (Substream, error)
	// Close terminates the session and all of its substreams.
	Close() error
}

// Substream abstracts a single byte-oriented, bidirectional substream
// multiplexed over a Session. The pairing manager and the XStream I/O
// core are written against this one abstraction rather than against any
// particular multiplexer's concrete stream type, so a new transport
// backend only has to satisfy this interface to slot in.
//
// CloseWrite half-closes the write direction without tearing down reads,
// used when a caller wants to signal end-of-output while still reading
// the peer's remaining data. Implementations for transports that lack a
// native half-close (e.g. the yamux binding) approximate it.
type Substream interface {
	io.Reader
	io.Writer
	io.Closer
	// CloseWrite signals EOF to the peer's reads without closing the
	// read half locally.
	CloseWrite() error
}
