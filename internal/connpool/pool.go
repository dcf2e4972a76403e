package connpool

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mysqlwire/client/internal/channel"
	"github.com/mysqlwire/client/internal/metrics"
	"github.com/mysqlwire/client/internal/mysqlerr"
)

// Config configures a Pool's shape and timing. ChannelParams is passed
// through verbatim to channel.Dial for every slot. If Metrics is set and
// ChannelParams.Metrics is not, Metrics is propagated onto ChannelParams so
// every channel records against the same Collector as the pool.
type Config struct {
	Size            int
	CheckoutTimeout time.Duration // 0 = infinite
	MaxOccupyTime   time.Duration // 0 = no leak enforcement
	AcquireRetries  int
	ChannelParams   channel.Params
	Logger          *slog.Logger
	Listeners       []Listener
	Metrics         *metrics.Collector
}

// Pool is a fixed-size array of channel slots plus a bounded queue of
// indices whose slot is currently idle and ready for acquisition.
type Pool struct {
	cfg    Config
	logger *slog.Logger
	listeners *listenerSet
	metrics *metrics.Collector
	dial   func(onUnusable func(*channel.Channel)) (*channel.Channel, error)

	mu    sync.Mutex
	slots []*PooledConnection // nil entry = tombstone awaiting rescue
	available chan int

	rescueMu      sync.Mutex
	rescueRunning bool

	closed bool
}

// New constructs a Pool, eagerly filling every slot. Construction fails
// only if every slot failed to dial; any slot that failed is left a
// tombstone and the rescue task is started for it.
func New(cfg Config) (*Pool, error) {
	if cfg.Metrics != nil && cfg.ChannelParams.Metrics == nil {
		cfg.ChannelParams.Metrics = cfg.Metrics
	}
	return newPoolWithDialer(cfg, func(onUnusable func(*channel.Channel)) (*channel.Channel, error) {
		return channel.Dial(cfg.ChannelParams, onUnusable)
	})
}

// newPoolWithDialer is the test seam: it lets tests substitute an in-memory
// dial function in place of channel.Dial's real TCP dialer.
func newPoolWithDialer(cfg Config, dial func(onUnusable func(*channel.Channel)) (*channel.Channel, error)) (*Pool, error) {
	if cfg.Size <= 0 {
		return nil, mysqlerr.InvalidArgument("pool size must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		cfg:       cfg,
		logger:    logger,
		listeners: newListenerSet(logger, cfg.Listeners),
		metrics:   cfg.Metrics,
		dial:      dial,
		slots:     make([]*PooledConnection, cfg.Size),
		available: make(chan int, cfg.Size),
	}

	succeeded := 0
	for i := 0; i < cfg.Size; i++ {
		if p.createSlot(i) {
			succeeded++
		}
	}
	if succeeded == 0 {
		return nil, mysqlerr.SocketBuild("every pool slot failed to dial", nil)
	}
	registerWithLeakDetector(p)
	if succeeded < cfg.Size {
		p.startRescue()
	}
	return p, nil
}

// createSlot dials a fresh channel for slot i. On success it populates the
// slot, enqueues it as available, and fires onCreated. On failure it
// leaves the slot a tombstone and fires onClosed.
func (p *Pool) createSlot(i int) bool {
	ch, err := p.dial(p.onChannelUnusable)
	if err != nil {
		p.logger.Warn("pool slot dial failed", "slot", i, "error", err)
		p.mu.Lock()
		p.slots[i] = nil
		p.mu.Unlock()
		p.listeners.fireClosed(p.cfg.ChannelParams.Host, p.cfg.ChannelParams.Database)
		p.reportGauges()
		return false
	}
	pc := newPooledConnection(ch, i, p.removeSlot, p.release)
	p.mu.Lock()
	p.slots[i] = pc
	p.mu.Unlock()
	p.available <- i
	p.listeners.fireCreated(p.cfg.ChannelParams.Host, p.cfg.ChannelParams.Database)
	p.reportGauges()
	return true
}

// Acquire checks out a ready connection, retrying up to AcquireRetries
// times within CheckoutTimeout's budget.
func (p *Pool) Acquire() (*PooledConnection, error) {
	start := time.Now()
	retries := p.cfg.AcquireRetries
	if retries <= 0 {
		retries = 3
	}
	deadline := time.Time{}
	if p.cfg.CheckoutTimeout > 0 {
		deadline = time.Now().Add(p.cfg.CheckoutTimeout)
	}

	for attempt := 0; attempt < retries; attempt++ {
		idx, ok := p.takeAvailable(deadline)
		if !ok {
			break
		}
		p.mu.Lock()
		pc := p.slots[idx]
		p.mu.Unlock()
		if pc == nil {
			p.startRescue()
			continue
		}
		if pc.tryAcquire(p.cfg.MaxOccupyTime) {
			if p.metrics != nil {
				p.metrics.AcquireWait(time.Since(start))
			}
			return pc, nil
		}
		// stale or closed: fall through and retry with a fresh index
	}
	if p.metrics != nil {
		p.metrics.PoolExhausted()
	}
	return nil, mysqlerr.Unexpected("connection pool exhausted", nil)
}

func (p *Pool) takeAvailable(deadline time.Time) (int, bool) {
	if deadline.IsZero() {
		idx, ok := <-p.available
		return idx, ok
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		select {
		case idx, ok := <-p.available:
			return idx, ok
		default:
			return 0, false
		}
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case idx, ok := <-p.available:
		return idx, ok
	case <-timer.C:
		return 0, false
	}
}

// release is the PooledConnection's onRelease callback: it re-enqueues the
// slot index as available.
func (p *Pool) release(pc *PooledConnection) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.available <- pc.slotIndex
	p.reportGauges()
}

// tombstone nulls slot idx, notifies listeners, updates gauges, and starts
// the rescue task — the single path both a channel fault and a leak-forced
// close drive the slot array through. A no-op if the slot is already gone.
func (p *Pool) tombstone(idx int) {
	p.mu.Lock()
	if p.slots[idx] == nil {
		p.mu.Unlock()
		return
	}
	p.slots[idx] = nil
	closed := p.closed
	p.mu.Unlock()

	p.listeners.fireClosed(p.cfg.ChannelParams.Host, p.cfg.ChannelParams.Database)
	p.reportGauges()
	if !closed {
		p.startRescue()
	}
}

// removeSlot is the PooledConnection's removeUnavailable callback: it
// drives the leak detector's forced Close() through the same tombstone and
// rescue path a channel fault takes, instead of leaving the slot acquired
// and permanently unreachable.
func (p *Pool) removeSlot(pc *PooledConnection) {
	p.tombstone(pc.slotIndex)
}

// onChannelUnusable is the removal callback a channel invokes on itself
// when it self-closes due to a fault. It finds the matching slot by
// identity and tombstones it.
func (p *Pool) onChannelUnusable(ch *channel.Channel) {
	p.mu.Lock()
	idx := -1
	var pc *PooledConnection
	for i, slot := range p.slots {
		if slot != nil && slot.channel == ch {
			idx, pc = i, slot
			break
		}
	}
	p.mu.Unlock()

	if idx < 0 {
		return
	}
	pc.markRemoved()
	p.tombstone(idx)
}

// reportGauges recomputes and publishes the pool's slot gauges. A no-op
// when no Collector was configured.
func (p *Pool) reportGauges() {
	if p.metrics == nil {
		return
	}
	p.mu.Lock()
	total := len(p.slots)
	tombstoned := 0
	for _, pc := range p.slots {
		if pc == nil {
			tombstoned++
		}
	}
	p.mu.Unlock()
	p.metrics.SetPoolGauges(total, len(p.available), tombstoned)
}

// Close closes every live channel and marks the pool closed; subsequent
// Release calls on already-checked-out connections are no-ops.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	slots := append([]*PooledConnection(nil), p.slots...)
	p.mu.Unlock()

	unregisterFromLeakDetector(p)
	for _, pc := range slots {
		if pc != nil {
			pc.channel.Close()
		}
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return len(p.slots) }

// AvailableCount returns the number of slots currently queued as ready for
// acquisition. Approximate: a slot can be claimed between this read and a
// caller's next Acquire.
func (p *Pool) AvailableCount() int { return len(p.available) }

// snapshotSlots returns a defensive copy of the current slot array, used
// by the rescue task and the leak detector.
func (p *Pool) snapshotSlots() []*PooledConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*PooledConnection(nil), p.slots...)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
