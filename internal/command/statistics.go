package command

import "github.com/mysqlwire/client/internal/wire"

// Statistics is the supplemented COM_STATISTICS command: no request body
// beyond the opcode, and the server answers with a single human-readable
// string packet (no OK/ERR header byte, unlike every other command here).
type Statistics struct {
	*Base
	Result string
}

// NewStatistics constructs a ready-to-submit Statistics command.
func NewStatistics() *Statistics {
	return &Statistics{Base: NewBase()}
}

func (*Statistics) RequestBytes() []byte  { return []byte{wire.ComStatistics} }
func (*Statistics) ExpectsResponse() bool { return true }
func (*Statistics) Name() string          { return "statistics" }

func (s *Statistics) Feed(pkt *wire.Packet) (bool, error) {
	s.Result = string(pkt.Payload)
	s.MarkComplete(nil)
	return true, nil
}
