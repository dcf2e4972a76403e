package wire

import (
	"encoding/binary"

	"github.com/mysqlwire/client/internal/mysqlerr"
)

// PayloadReader decodes fixed-width and length-encoded fields out of a
// packet payload, tracking a read cursor. Every read that would run past
// the end of buf fails with a MalformedPacket error instead of panicking —
// the contract spec §4.1 requires.
type PayloadReader struct {
	buf []byte
	pos int
}

// NewPayloadReader wraps buf for sequential decoding from position 0.
func NewPayloadReader(buf []byte) *PayloadReader {
	return &PayloadReader{buf: buf}
}

// Pos returns the current read cursor.
func (r *PayloadReader) Pos() int { return r.pos }

// Seek moves the cursor to an absolute position within the payload.
func (r *PayloadReader) Seek(pos int) { r.pos = pos }

// HasRemaining reports whether at least one unread byte remains.
func (r *PayloadReader) HasRemaining() bool { return r.pos < len(r.buf) }

// Remaining returns the number of unread bytes.
func (r *PayloadReader) Remaining() int { return len(r.buf) - r.pos }

// PeekByte returns the next unread byte without consuming it, or 0 if the
// cursor is already at the end of the payload.
func (r *PayloadReader) PeekByte() byte {
	if r.pos >= len(r.buf) {
		return 0
	}
	return r.buf[r.pos]
}

func (r *PayloadReader) require(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return mysqlerr.MalformedPacket("payload read past end of buffer")
	}
	return nil
}

// FixedLengthInt reads an n-byte (1..8) little-endian unsigned integer. An
// 8-byte read whose high bit is set is rejected to stay within signed
// int64 range, per spec §4.1.
func (r *PayloadReader) FixedLengthInt(n int) (uint64, error) {
	if n < 1 || n > 8 {
		return 0, mysqlerr.MalformedPacket("fixed-length int width out of range")
	}
	if err := r.require(n); err != nil {
		return 0, err
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(r.buf[r.pos+i])
	}
	r.pos += n
	if n == 8 && v&(1<<63) != 0 {
		return 0, mysqlerr.MalformedPacket("8-byte integer exceeds signed 64-bit range")
	}
	return v, nil
}

// LengthEncodedInt reads a MySQL length-encoded integer. The NULL sentinel
// byte (0xFB) is rejected here — callers that need to distinguish SQL NULL
// from an integer must check for it themselves before calling this method.
func (r *PayloadReader) LengthEncodedInt() (uint64, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}
	first := r.buf[r.pos]
	switch {
	case first < NullLenEncSentinel:
		r.pos++
		return uint64(first), nil
	case first == NullLenEncSentinel:
		return 0, mysqlerr.MalformedPacket("length-encoded integer read a NULL sentinel")
	case first == 0xfc:
		r.pos++
		return r.FixedLengthInt(2)
	case first == 0xfd:
		r.pos++
		return r.FixedLengthInt(3)
	case first == 0xfe:
		r.pos++
		return r.FixedLengthInt(8)
	default:
		return 0, mysqlerr.MalformedPacket("unreachable length-encoded integer prefix")
	}
}

// IsNextNull reports whether the next length-encoded field is the NULL
// sentinel, without consuming it.
func (r *PayloadReader) IsNextNull() bool {
	return r.pos < len(r.buf) && r.buf[r.pos] == NullLenEncSentinel
}

// SkipNull consumes the one-byte NULL sentinel.
func (r *PayloadReader) SkipNull() error {
	if err := r.require(1); err != nil {
		return err
	}
	if r.buf[r.pos] != NullLenEncSentinel {
		return mysqlerr.MalformedPacket("expected NULL sentinel")
	}
	r.pos++
	return nil
}

// FixedLengthBytes reads exactly n raw bytes.
func (r *PayloadReader) FixedLengthBytes(n int) ([]byte, error) {
	if err := r.require(n); err != nil {
		return nil, err
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// NullTerminatedString reads bytes up to and past the next 0x00 byte,
// returning everything before it.
func (r *PayloadReader) NullTerminatedString() (string, error) {
	end := r.pos
	for end < len(r.buf) && r.buf[end] != 0 {
		end++
	}
	if end >= len(r.buf) {
		return "", mysqlerr.MalformedPacket("null-terminated string missing terminator")
	}
	s := string(r.buf[r.pos:end])
	r.pos = end + 1
	return s, nil
}

// LengthEncodedString reads a length-encoded integer followed by that many bytes.
func (r *PayloadReader) LengthEncodedString() (string, error) {
	n, err := r.LengthEncodedInt()
	if err != nil {
		return "", err
	}
	b, err := r.FixedLengthBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RestOfPacketString returns every remaining byte as a string.
func (r *PayloadReader) RestOfPacketString() string {
	s := string(r.buf[r.pos:])
	r.pos = len(r.buf)
	return s
}

// PayloadWriter builds a packet payload, pre-sizing its buffer when a
// capacity hint is known (the codec "never allocates beyond the decoded
// item's size" contract applies symmetrically to writes).
type PayloadWriter struct {
	buf []byte
}

// NewPayloadWriter creates a writer with capacity hint sizeHint.
func NewPayloadWriter(sizeHint int) *PayloadWriter {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &PayloadWriter{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the built payload.
func (w *PayloadWriter) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *PayloadWriter) Len() int { return len(w.buf) }

// WriteByte appends a single byte. Implements io.ByteWriter.
func (w *PayloadWriter) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

// FixedLengthInt appends an n-byte (1..8) little-endian unsigned integer.
func (w *PayloadWriter) FixedLengthInt(v uint64, n int) {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, v)
	w.buf = append(w.buf, tmp[:n]...)
}

// LengthEncodedInt appends v using the minimal length-encoded-integer scheme.
func (w *PayloadWriter) LengthEncodedInt(v uint64) {
	switch {
	case v < uint64(NullLenEncSentinel):
		w.buf = append(w.buf, byte(v))
	case v <= 0xffff:
		w.buf = append(w.buf, 0xfc)
		w.FixedLengthInt(v, 2)
	case v <= 0xffffff:
		w.buf = append(w.buf, 0xfd)
		w.FixedLengthInt(v, 3)
	default:
		w.buf = append(w.buf, 0xfe)
		w.FixedLengthInt(v, 8)
	}
}

// RawBytes appends b verbatim.
func (w *PayloadWriter) RawBytes(b []byte) { w.buf = append(w.buf, b...) }

// NullTerminatedString appends s followed by a 0x00 byte.
func (w *PayloadWriter) NullTerminatedString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// LengthEncodedString appends a length-encoded integer then the bytes of s.
func (w *PayloadWriter) LengthEncodedString(s string) {
	w.LengthEncodedInt(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// LengthEncodedBytes appends a length-encoded integer then b verbatim.
func (w *PayloadWriter) LengthEncodedBytes(b []byte) {
	w.LengthEncodedInt(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// Zeroes appends n zero bytes, used for reserved/filler fields.
func (w *PayloadWriter) Zeroes(n int) {
	w.buf = append(w.buf, make([]byte, n)...)
}
