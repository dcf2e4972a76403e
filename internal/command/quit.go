package command

import "github.com/mysqlwire/client/internal/wire"

// Quit is COM_QUIT: fire-and-forget, no response expected. The I/O worker
// writes the request and immediately marks it complete.
type Quit struct {
	*Base
}

// NewQuit constructs a ready-to-submit Quit command.
func NewQuit() *Quit {
	return &Quit{Base: NewBase()}
}

func (*Quit) RequestBytes() []byte  { return []byte{wire.ComQuit} }
func (*Quit) ExpectsResponse() bool { return false }
func (*Quit) Name() string          { return "quit" }

func (q *Quit) Feed(*wire.Packet) (bool, error) {
	q.MarkComplete(nil)
	return true, nil
}
