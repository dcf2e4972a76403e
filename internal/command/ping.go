package command

import (
	"github.com/mysqlwire/client/internal/mysqlerr"
	"github.com/mysqlwire/client/internal/wire"
)

// Ping is COM_PING: an empty request body, terminated by a single OK
// packet. Used both as an explicit liveness probe and synthesized by the
// channel's I/O worker when the submission queue goes idle past the
// heartbeat period.
type Ping struct {
	*Base
}

// NewPing constructs a ready-to-submit Ping command.
func NewPing() *Ping {
	return &Ping{Base: NewBase()}
}

func (*Ping) RequestBytes() []byte    { return []byte{wire.ComPing} }
func (*Ping) ExpectsResponse() bool   { return true }
func (*Ping) Name() string            { return "ping" }

func (p *Ping) Feed(pkt *wire.Packet) (bool, error) {
	if len(pkt.Payload) > 0 && pkt.Payload[0] == wire.ErrPacketHeader {
		errPkt, err := wire.ParseErrPacket(pkt.Payload, true)
		if err != nil {
			p.MarkComplete(err)
			return true, err
		}
		srvErr := &mysqlerr.ServerError{Code: errPkt.Code, SQLState: errPkt.SQLState, Message: errPkt.Message}
		p.MarkComplete(srvErr)
		return true, nil
	}
	p.MarkComplete(nil)
	return true, nil
}
