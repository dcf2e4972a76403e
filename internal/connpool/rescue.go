package connpool

import "time"

const rescueRetryInterval = 500 * time.Millisecond

// startRescue ensures a single background task is walking the slot array
// looking for tombstones to refill. It is a no-op if a rescue task is
// already running for this pool.
func (p *Pool) startRescue() {
	p.rescueMu.Lock()
	if p.rescueRunning || p.isClosed() {
		p.rescueMu.Unlock()
		return
	}
	p.rescueRunning = true
	p.rescueMu.Unlock()

	go p.runRescue()
}

// runRescue repeatedly sweeps the slot array, redialing any tombstoned
// slot, until every slot is live or the pool closes.
func (p *Pool) runRescue() {
	defer func() {
		p.rescueMu.Lock()
		p.rescueRunning = false
		p.rescueMu.Unlock()
	}()

	for {
		if p.isClosed() {
			return
		}
		if p.rescuePass() {
			return
		}
		time.Sleep(rescueRetryInterval)
	}
}

// rescuePass attempts to refill every tombstoned slot once and reports
// whether the slot array is now fully live.
func (p *Pool) rescuePass() bool {
	slots := p.snapshotSlots()
	allLive := true
	for i, pc := range slots {
		if pc != nil {
			continue
		}
		if p.isClosed() {
			return true
		}
		if p.createSlot(i) {
			p.listeners.fireRecovered(p.cfg.ChannelParams.Host, p.cfg.ChannelParams.Database)
			if p.metrics != nil {
				p.metrics.SlotRescued()
			}
		} else {
			allLive = false
		}
	}
	return allLive
}
