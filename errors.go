package xstream

import (
	"errors"
	"fmt"
)

// Sentinel errors for the XStream core, following the convention of
// portal/corev2/common/consts.go: a flat block of package-level Err*
// values rather than an error-code enum.
var (
	// ErrBadHeader is returned by ReadHeader on a short read.
	ErrBadHeader = errors.New("xstream: malformed header")
	// ErrUnknownRole is returned by ReadHeader when the role byte is
	// outside the {Main, Error} range.
	ErrUnknownRole = errors.New("xstream: unknown role byte")

	// ErrSameRole is emitted when two substreams with an identical
	// PairingKey and identical Role arrive.
	ErrSameRole = errors.New("xstream: same-role collision on pairing key")
	// ErrPairingTimeout is emitted when a pending substream is not paired
	// within the configured pairing timeout.
	ErrPairingTimeout = errors.New("xstream: pairing timeout")
	// ErrTooManyPairings is emitted when a connection exceeds
	// Config.MaxInFlightPairingsPerConn.
	ErrTooManyPairings = errors.New("xstream: too many in-flight pairings for connection")
	// ErrOpenTimeout is returned to an outbound opener when opening its
	// Main and Error substreams runs past the context deadline
	// (Config.PairingTimeout when the caller sets none).
	ErrOpenTimeout = errors.New("xstream: open timed out waiting for pairing")

	// ErrAbruptClose is cached when the error substream closes without
	// ever delivering the graceful-close sentinel or a payload.
	ErrAbruptClose = errors.New("xstream: peer closed abruptly without sentinel")
	// ErrTransport wraps an underlying substream I/O failure.
	ErrTransport = errors.New("xstream: transport error")
	// ErrInvalidState is returned when an operation is attempted in a
	// state that forbids it (e.g. write after EOF, ErrorWrite on an
	// Outbound stream).
	ErrInvalidState = errors.New("xstream: invalid operation for current state")
	// ErrClosed is returned by Read once the stream is FullyClosed, and by
	// Session implementations used after Close.
	ErrClosed = errors.New("xstream: stream closed")
	// ErrErrorPayloadTooLarge is returned when a peer's error-substream
	// payload exceeds Config.MaxErrorPayloadSize.
	ErrErrorPayloadTooLarge = errors.New("xstream: error payload exceeds configured maximum")
)

// StreamError is the terminal error cached when the error substream
// delivers a non-sentinel payload. It is also used to synthesize an
// abrupt close into the same shape so callers can type-assert
// uniformly.
type StreamError struct {
	// Payload is the application-defined error bytes. Empty for an
	// AbruptClose synthesized error (use errors.Is(err, ErrAbruptClose)
	// to distinguish that case).
	Payload []byte
	// Abrupt is true when the error substream closed without the
	// graceful sentinel and without a payload.
	Abrupt bool
	// oversized is true when the peer's error payload exceeded
	// Config.MaxErrorPayloadSize; use errors.Is(err, ErrErrorPayloadTooLarge)
	// to distinguish that case rather than reading this field directly.
	oversized bool
}

func (e *StreamError) Error() string {
	switch {
	case e.Abrupt:
		return "xstream: abrupt close (no sentinel, no payload)"
	case e.oversized:
		return "xstream: error payload exceeded configured maximum"
	default:
		return fmt.Sprintf("xstream: stream error received: %q", e.Payload)
	}
}

func (e *StreamError) Unwrap() error {
	switch {
	case e.Abrupt:
		return ErrAbruptClose
	case e.oversized:
		return ErrErrorPayloadTooLarge
	default:
		return nil
	}
}

// PairingErrorKind enumerates the ways a pairing attempt can fail.
type PairingErrorKind int

const (
	PairingSameRole PairingErrorKind = iota
	PairingTimedOut
	PairingHeaderError
	PairingDroppedBecauseClosed
	PairingTooMany
)

func (k PairingErrorKind) String() string {
	switch k {
	case PairingSameRole:
		return "same_role"
	case PairingTimedOut:
		return "timeout"
	case PairingHeaderError:
		return "header_error"
	case PairingDroppedBecauseClosed:
		return "dropped_because_closed"
	case PairingTooMany:
		return "too_many_pairings"
	default:
		return "unknown"
	}
}
