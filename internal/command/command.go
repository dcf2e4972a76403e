// Package command models the requests a Channel can carry: a serialized
// request and the logic that recognizes when the server's response
// sequence is complete.
package command

import (
	"sync"
	"time"

	"github.com/mysqlwire/client/internal/mysqlerr"
	"github.com/mysqlwire/client/internal/wire"
)

// Feeder is implemented by every command. The I/O worker calls Feed once
// per response packet until it reports done; it never calls Feed again
// after that, and never calls it at all for a command that does not
// expect a response (Quit).
type Feeder interface {
	// Name identifies the command for metrics labeling.
	Name() string
	// RequestBytes returns the pre-serialized request packet payload
	// (excluding the 4-byte packet header, which the channel's writer adds).
	RequestBytes() []byte
	// ExpectsResponse reports whether the I/O worker should wait for any
	// response packets at all.
	ExpectsResponse() bool
	// Feed hands the command one response packet. It returns true once the
	// command is complete (success or error) and should be popped off the
	// waiting queue.
	Feed(pkt *wire.Packet) (done bool, err error)
}

// Base implements the completion-signal and close bookkeeping every
// concrete command shares; each command type embeds it.
type Base struct {
	complete chan struct{}
	once     sync.Once
	closed   bool
	err      error
}

// NewBase constructs a fresh, incomplete Base.
func NewBase() *Base {
	return &Base{complete: make(chan struct{})}
}

// MarkComplete signals completion exactly once; subsequent calls are no-ops.
// err, if non-nil, is what Await returns.
func (b *Base) MarkComplete(err error) {
	b.once.Do(func() {
		b.err = err
		close(b.complete)
	})
}

// Await blocks until MarkComplete is called or timeout elapses, whichever
// comes first. A zero timeout means wait forever.
func (b *Base) Await(timeout time.Duration) error {
	if timeout <= 0 {
		<-b.complete
		return b.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-b.complete:
		return b.err
	case <-timer.C:
		return mysqlerr.Timeout("command did not complete before timeout")
	}
}

// Close marks the command unusable, completing it with a closed-state
// error if it had not already completed. Idempotent.
func (b *Base) Close() {
	if b.closed {
		return
	}
	b.closed = true
	b.MarkComplete(mysqlerr.ClosedState("command closed before completion"))
}

// Closed reports whether Close has been called.
func (b *Base) Closed() bool { return b.closed }
