package connpool

import (
	"sync"
	"time"
)

const leakCheckInterval = 5 * time.Second

// leakDetector is a process-wide daemon that periodically scans every
// registered pool for connections held past their max-occupancy deadline
// and force-closes them, driving removal and rescue.
type leakDetector struct {
	mu       sync.Mutex
	pools    map[*Pool]struct{}
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var detector = &leakDetector{pools: make(map[*Pool]struct{})}

func registerWithLeakDetector(p *Pool) {
	detector.register(p)
}

func unregisterFromLeakDetector(p *Pool) {
	detector.unregister(p)
}

func (d *leakDetector) register(p *Pool) {
	d.mu.Lock()
	d.pools[p] = struct{}{}
	needStart := !d.started
	if needStart {
		d.started = true
		d.stopCh = make(chan struct{})
	}
	d.mu.Unlock()

	if needStart {
		d.wg.Add(1)
		go d.run()
	}
}

func (d *leakDetector) unregister(p *Pool) {
	d.mu.Lock()
	delete(d.pools, p)
	empty := len(d.pools) == 0
	d.mu.Unlock()

	if empty {
		d.Stop()
	}
}

// Stop halts the daemon goroutine. Safe to call when not running or more
// than once; it restarts automatically on the next registration.
func (d *leakDetector) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	stopCh := d.stopCh
	d.mu.Unlock()

	d.stopOnce.Do(func() { close(stopCh) })
	d.wg.Wait()

	// Reset for the next registration burst.
	d.mu.Lock()
	d.stopOnce = sync.Once{}
	d.mu.Unlock()
}

func (d *leakDetector) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(leakCheckInterval)
	defer ticker.Stop()

	d.mu.Lock()
	stopCh := d.stopCh
	d.mu.Unlock()

	for {
		select {
		case <-ticker.C:
			d.sweep()
		case <-stopCh:
			return
		}
	}
}

func (d *leakDetector) sweep() {
	d.mu.Lock()
	pools := make([]*Pool, 0, len(d.pools))
	for p := range d.pools {
		pools = append(pools, p)
	}
	d.mu.Unlock()

	for _, p := range pools {
		d.sweepPool(p)
	}
}

func (d *leakDetector) sweepPool(p *Pool) {
	for _, pc := range p.snapshotSlots() {
		if pc == nil || !pc.IsLeaked() {
			continue
		}
		p.logger.Warn("leaked connection detected, closing",
			"slot", pc.SlotIndex(), "acquired_at", pc.acquiredAt)
		if p.metrics != nil {
			p.metrics.LeakDetected()
		}
		pc.Close()
	}
}
