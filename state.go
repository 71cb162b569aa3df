package xstream

import "sync/atomic"

// State is the logical position of an XStream in its lifecycle lattice:
// it only ever moves forward, from Open toward a closed or errored end
// state, never back.
type State int32

const (
	StateOpen State = iota
	StateLocalClosed
	StateRemoteClosed
	StateFullyClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateLocalClosed:
		return "local_closed"
	case StateRemoteClosed:
		return "remote_closed"
	case StateFullyClosed:
		return "fully_closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// bit flags backing the atomic state register. Flags only ever get set,
// never cleared, which is what makes the register monotonic: State,
// derived from the flags in Load, can only move forward through the
// lattice as more bits accumulate.
const (
	flagLocalClosed  uint32 = 1 << 0
	flagRemoteClosed uint32 = 1 << 1
	flagError        uint32 = 1 << 2
)

// Register is the single atomic value that encodes one XStream's state.
// It is safe for concurrent use without an external lock.
type Register struct {
	bits atomic.Uint32
}

// deriveState turns a flag word into the externally visible State.
// Error is absorbing and outranks both half-closed states, checked first
// regardless of how the other bits were set, so the lattice is monotonic
// no matter what order CloseLocal/CloseRemote/SetError are called in.
func deriveState(bits uint32) State {
	if bits&flagError != 0 {
		return StateError
	}
	const bothClosed = flagLocalClosed | flagRemoteClosed
	if bits&bothClosed == bothClosed {
		return StateFullyClosed
	}
	if bits&flagLocalClosed != 0 {
		return StateLocalClosed
	}
	if bits&flagRemoteClosed != 0 {
		return StateRemoteClosed
	}
	return StateOpen
}

// Load returns the current state.
func (r *Register) Load() State {
	return deriveState(r.bits.Load())
}

// CloseLocal records that the local side has finished writing/closed its
// half, and returns the resulting state. LocalClosed + RemoteClosed
// collapse to FullyClosed regardless of call order.
func (r *Register) CloseLocal() State {
	return deriveState(r.bits.Or(flagLocalClosed))
}

// CloseRemote records that the remote side has been observed to close
// (EOF on the main substream with no error), and returns the resulting
// state.
func (r *Register) CloseRemote() State {
	return deriveState(r.bits.Or(flagRemoteClosed))
}

// SetError jumps the register to the absorbing Error state. Once set it
// can never be un-set, and it outranks FullyClosed even if both close
// flags are also set.
func (r *Register) SetError() State {
	return deriveState(r.bits.Or(flagError))
}

// CanReadMain reports whether a read on the main substream is permitted
// in the current state: Open, LocalClosed (WriteEOF only stops local
// writes, not reads), or RemoteClosed (to drain and observe EOF/error).
func (r *Register) CanReadMain() bool {
	switch r.Load() {
	case StateOpen, StateLocalClosed, StateRemoteClosed:
		return true
	default:
		return false
	}
}

// CanWriteMain reports whether a write to the main substream is
// permitted: only in Open.
func (r *Register) CanWriteMain() bool {
	return r.Load() == StateOpen
}

// CanWriteError reports whether a write to the error substream is
// permitted: only from the Inbound side, and only in Open or
// RemoteClosed.
func (r *Register) CanWriteError(dir Direction) bool {
	if dir != Inbound {
		return false
	}
	switch r.Load() {
	case StateOpen, StateRemoteClosed:
		return true
	default:
		return false
	}
}
