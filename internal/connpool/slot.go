// Package connpool implements a fixed-size pool of wire-protocol channels:
// checkout/return, acquisition timeouts, maximum-occupancy leak detection,
// and a rescue task that rebuilds broken slots in the background.
package connpool

import (
	"sync"
	"time"

	"github.com/mysqlwire/client/internal/channel"
)

// PooledConnection wraps a Channel with the bookkeeping the Pool needs to
// hand it out safely: which slot it occupies, when it was acquired, and
// the deadline past which it counts as leaked.
type PooledConnection struct {
	channel   *channel.Channel
	slotIndex int

	mu            sync.Mutex
	acquired      bool
	removed       bool
	acquiredAt    time.Time
	occupyDeadline time.Time

	onRelease        func(*PooledConnection)
	removeUnavailable func(*PooledConnection)
}

func newPooledConnection(ch *channel.Channel, slotIndex int, removeUnavailable, onRelease func(*PooledConnection)) *PooledConnection {
	return &PooledConnection{
		channel:           ch,
		slotIndex:         slotIndex,
		onRelease:         onRelease,
		removeUnavailable: removeUnavailable,
	}
}

// Channel returns the underlying wire-protocol channel.
func (p *PooledConnection) Channel() *channel.Channel { return p.channel }

// SlotIndex returns the pool slot this connection occupies.
func (p *PooledConnection) SlotIndex() int { return p.slotIndex }

// tryAcquire marks the connection acquired with the given max-occupancy
// deadline. It fails if the connection is already acquired or its
// underlying channel is no longer usable.
func (p *PooledConnection) tryAcquire(maxOccupy time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquired {
		return false
	}
	if p.channel.State() != channel.StateNormal {
		return false
	}
	p.acquired = true
	p.acquiredAt = time.Now()
	if maxOccupy > 0 {
		p.occupyDeadline = p.acquiredAt.Add(maxOccupy)
	} else {
		p.occupyDeadline = time.Time{}
	}
	return true
}

// Release returns the connection to the pool's available queue via the
// on-release callback. Safe to call more than once; only the first call
// after an acquisition has any effect. A no-op once the slot has been
// force-removed (leaked past max occupancy, or closed by a channel fault).
func (p *PooledConnection) Release() {
	p.mu.Lock()
	if !p.acquired || p.removed {
		p.mu.Unlock()
		return
	}
	p.acquired = false
	p.mu.Unlock()
	if p.onRelease != nil {
		p.onRelease(p)
	}
}

// IsLeaked reports whether the connection is currently acquired and past
// its max-occupancy deadline.
func (p *PooledConnection) IsLeaked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.acquired || p.occupyDeadline.IsZero() {
		return false
	}
	return time.Now().After(p.occupyDeadline)
}

// markRemoved flags the slot as gone, returning true the first time it is
// called for this connection. Used both by Close and by the pool's own
// fault-path removal so the two never drive removeUnavailable twice for the
// same slot.
func (p *PooledConnection) markRemoved() bool {
	p.mu.Lock()
	already := p.removed
	p.removed = true
	p.mu.Unlock()
	return !already
}

// Close physically closes the underlying channel and, unless this slot has
// already been removed by a channel fault, drives it through the pool's
// removal and rescue path. Used by the leak detector to reclaim a
// connection held past its max-occupancy deadline.
func (p *PooledConnection) Close() {
	first := p.markRemoved()
	p.channel.Close()
	if first && p.removeUnavailable != nil {
		p.removeUnavailable(p)
	}
}
