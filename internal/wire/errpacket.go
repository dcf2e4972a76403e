package wire

import (
	"strings"

	"github.com/mysqlwire/client/internal/mysqlerr"
)

// ErrPacket is a parsed ERR_Packet: error code, optional SQLSTATE marker
// (present once the server has sent the initial greeting), and message.
type ErrPacket struct {
	Code     uint16
	SQLState string
	Message  string
}

// ParseErrPacket decodes payload, which must begin with ErrPacketHeader.
// The '#' + 5-byte SQLSTATE is only present once the server has sent its
// initial greeting (so the handshake's own ERR reply carries it); hasSQLState
// tells the parser whether to expect it, matching the protocol's own
// context-dependence.
func ParseErrPacket(payload []byte, hasSQLState bool) (*ErrPacket, error) {
	r := NewPayloadReader(payload)
	header, err := r.FixedLengthBytes(1)
	if err != nil {
		return nil, err
	}
	if header[0] != ErrPacketHeader {
		return nil, mysqlerr.MalformedPacket("not an ERR_Packet")
	}
	code, err := r.FixedLengthInt(2)
	if err != nil {
		return nil, err
	}
	pkt := &ErrPacket{Code: uint16(code)}
	if hasSQLState && r.PeekByte() == '#' {
		if _, err := r.FixedLengthBytes(1); err != nil {
			return nil, err
		}
		state, err := r.FixedLengthBytes(5)
		if err != nil {
			return nil, err
		}
		pkt.SQLState = string(state)
	}
	pkt.Message = r.RestOfPacketString()
	return pkt, nil
}

// Charset collation ids this driver recognizes by name, per spec §6.
const (
	charsetUTF8MB4 uint8 = 45
	charsetUTF8    uint8 = 33
	charsetLatin1  uint8 = 8
)

// DecodeErrorMessage decodes raw server error-message bytes using the
// connection's negotiated character set. utf8mb4 and utf8 pass through
// unchanged since Go strings are already UTF-8; latin1 (ISO-8859-1) maps
// one byte to one Unicode codepoint directly, so it needs no decoding
// table. Any other advertised charset falls back to raw passthrough,
// which is never worse than leaving the bytes undecoded.
func DecodeErrorMessage(raw []byte, characterSet uint8) string {
	switch characterSet {
	case charsetLatin1:
		var b strings.Builder
		b.Grow(len(raw))
		for _, c := range raw {
			b.WriteRune(rune(c))
		}
		return b.String()
	default:
		return string(raw)
	}
}
