package xstream

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// XStreamID is a 128-bit identifier chosen by the side that opens an
// XStream. It is present identically in both substreams of a pair and is
// globally unique per origin peer.
type XStreamID [16]byte

// NewXStreamID generates a fresh, random XStreamID backed by a v4 UUID.
func NewXStreamID() XStreamID {
	return XStreamID(uuid.New())
}

// String renders the ID as a hex string (not the dashed UUID form — the
// wire format is a flat 16-byte array, and the hex rendering reflects that).
func (id XStreamID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id XStreamID) IsZero() bool {
	return id == XStreamID{}
}

// Role identifies which half of a pair a substream is.
type Role uint8

const (
	// RoleMain carries application payload bytes.
	RoleMain Role = 0x00
	// RoleError carries the out-of-band error/sentinel payload.
	RoleError Role = 0x01
)

func (r Role) String() string {
	switch r {
	case RoleMain:
		return "main"
	case RoleError:
		return "error"
	default:
		return "unknown"
	}
}

// Valid reports whether r is a recognized role byte.
func (r Role) Valid() bool {
	return r == RoleMain || r == RoleError
}

// Direction records which side opened a substream (and, by extension,
// an entire XStream — both substreams of a pair share one direction).
type Direction uint8

const (
	// Inbound means the remote peer opened the substream.
	Inbound Direction = iota
	// Outbound means the local side opened the substream.
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// PeerID identifies the remote peer of an XStream. It is opaque to the
// core: whoever constructs an Adapter chooses it (cmd/xstreamd uses the
// TCP address of the other end).
type PeerID string

// ConnID identifies the underlying connection a substream arrived on,
// scoping pairing so that two XStreamIDs reused across different
// connections never collide. Also opaque to the core.
type ConnID string

// PairingKey is the tuple that two substreams must agree on to be
// considered part of the same pair. Two substreams belong to the same
// pair exactly when their keys match and their roles differ.
type PairingKey struct {
	Direction Direction
	Peer      PeerID
	Conn      ConnID
	ID        XStreamID
}
