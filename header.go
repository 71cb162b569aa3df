package xstream

import (
	"io"

	"github.com/valyala/bytebufferpool"
)

// HeaderSize is the fixed size, in octets, of the per-substream wire
// prefix: a 128-bit XStreamID followed by a single role byte.
const HeaderSize = 17

// WriteHeader serializes (id, role) as the 17-octet big-endian prefix
// and writes it to w in a single Write call. The buffer is built in a
// pooled scratch buffer (ground: portal/helper.go's writePacket, which
// assembles a length-prefixed frame in a bytebufferpool.ByteBuffer before
// issuing one Write) so a short write never leaves a torn header visible
// to the caller as a partial success.
func WriteHeader(w io.Writer, id XStreamID, role Role) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.Reset()
	if _, err := buf.Write(id[:]); err != nil {
		return err
	}
	if err := buf.WriteByte(byte(role)); err != nil {
		return err
	}
	_, err := w.Write(buf.B)
	return err
}

// ReadHeader reads and validates the 17-octet wire prefix from r.
// It fails with ErrBadHeader on a short read and ErrUnknownRole when the
// role byte is outside {RoleMain, RoleError}. No framing beyond the fixed
// prefix is interpreted; payload bytes are left untouched in r.
func ReadHeader(r io.Reader) (XStreamID, Role, error) {
	var raw [HeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return XStreamID{}, 0, ErrBadHeader
	}

	role := Role(raw[16])
	if !role.Valid() {
		return XStreamID{}, 0, ErrUnknownRole
	}

	var id XStreamID
	copy(id[:], raw[:16])
	return id, role, nil
}
