package wire

import (
	"io"

	"github.com/mysqlwire/client/internal/mysqlerr"
)

// Packet is one logical MySQL protocol packet: the sequence id of its
// first wire fragment and its reassembled payload. A payload longer than
// MaxPayloadLength is split across multiple wire fragments by
// WritePacket/ReadPacket transparently; callers never see the
// fragmentation, only the next sequence id to use for the packet that follows.
type Packet struct {
	SequenceID byte
	Payload    []byte
}

// headerLen is the size of a packet's 3-byte length + 1-byte sequence id header.
const headerLen = 4

// ReadPacket reads one logical packet from r, reassembling split fragments.
// The sequence id increments with every wire fragment, including
// continuations of the same logical packet — per the protocol, not just
// between logical packets. A fragment chain ends at the first fragment
// whose payload length is less than MaxPayloadLength; a chain whose last
// full fragment is exactly MaxPayloadLength bytes long ends with a trailing
// zero-length fragment. nextSeq is the sequence id the next packet on this
// connection must carry.
func ReadPacket(r io.Reader, seq byte) (pkt *Packet, nextSeq byte, err error) {
	var (
		payload  []byte
		firstSeq = seq
		first    = true
	)
	for {
		header := make([]byte, headerLen)
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF && first {
				return nil, seq, io.EOF
			}
			return nil, seq, mysqlerr.Unexpected("reading packet header", err)
		}
		length := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
		if header[3] != seq {
			return nil, seq, mysqlerr.MalformedPacket("packet sequence id out of order")
		}
		if first {
			firstSeq = seq
			first = false
		}
		seq++
		if length > 0 {
			frag := make([]byte, length)
			if _, err := io.ReadFull(r, frag); err != nil {
				return nil, seq, mysqlerr.Unexpected("reading packet payload", err)
			}
			payload = append(payload, frag...)
		}
		if length < MaxPayloadLength {
			break
		}
	}
	return &Packet{SequenceID: firstSeq, Payload: payload}, seq, nil
}

// WritePacket writes payload to w starting at sequence id seq, splitting
// it into MaxPayloadLength fragments and terminating with a zero-length
// fragment whenever the payload length is an exact multiple of
// MaxPayloadLength (including the empty-payload case). Each wire fragment
// carries the next sequence id in order. It returns the sequence id the
// next packet on this connection must carry.
func WritePacket(w io.Writer, seq byte, payload []byte) (nextSeq byte, err error) {
	remaining := payload
	for {
		n := len(remaining)
		if n > MaxPayloadLength {
			n = MaxPayloadLength
		}
		header := []byte{
			byte(n),
			byte(n >> 8),
			byte(n >> 16),
			seq,
		}
		if _, err := w.Write(header); err != nil {
			return seq, mysqlerr.Unexpected("writing packet header", err)
		}
		if n > 0 {
			if _, err := w.Write(remaining[:n]); err != nil {
				return seq, mysqlerr.Unexpected("writing packet payload", err)
			}
		}
		seq++
		remaining = remaining[n:]
		if n < MaxPayloadLength {
			break
		}
		if len(remaining) == 0 {
			header = []byte{0, 0, 0, seq}
			if _, err := w.Write(header); err != nil {
				return seq, mysqlerr.Unexpected("writing packet terminator", err)
			}
			seq++
			break
		}
	}
	return seq, nil
}
