package channel

import (
	"io"
	"time"

	"github.com/mysqlwire/client/internal/command"
	"github.com/mysqlwire/client/internal/mysqlerr"
	"github.com/mysqlwire/client/internal/wire"
)

const watcherBound = 5 * time.Second

// runWorker is the channel's single dedicated I/O goroutine. It owns the
// socket and the waiting queue exclusively; nothing else touches either.
func (c *Channel) runWorker() {
	for {
		sub, ok := c.dequeue()
		if !ok {
			c.failAll()
			return
		}
		if err := c.writeRequest(sub.cmd); err != nil {
			c.closeOnFault(err)
			if closer, ok := sub.cmd.(interface{ Close() }); ok {
				closer.Close()
			}
			c.failAll()
			return
		}
		if !sub.cmd.ExpectsResponse() {
			if completer, ok := sub.cmd.(interface{ MarkComplete(error) }); ok {
				completer.MarkComplete(nil)
			}
			continue
		}
		c.waiting = append(c.waiting, sub.cmd)
		if c.drainWaiting() {
			return
		}
	}
}

// dequeue waits for the next submission, bounded by the heartbeat period.
// If it times out, it synthesizes a Ping, spawns a watcher task for it, and
// returns the ping as the submission, so it flows through the normal
// write-and-wait path like any caller's command.
func (c *Channel) dequeue() (submission, bool) {
	if c.params.HeartbeatInterval <= 0 {
		select {
		case sub := <-c.submissions:
			return sub, true
		case <-c.stopCh:
			return submission{}, false
		}
	}
	select {
	case sub := <-c.submissions:
		return sub, true
	case <-c.stopCh:
		return submission{}, false
	case <-time.After(c.params.HeartbeatInterval):
		ping := command.NewPing()
		c.spawnHeartbeatWatcher(ping)
		return submission{cmd: ping}, true
	}
}

// spawnHeartbeatWatcher closes the channel if ping does not complete
// within watcherBound — a hung server would otherwise leave the worker
// permanently blocked on the read that follows the ping write.
func (c *Channel) spawnHeartbeatWatcher(ping *command.Ping) {
	go func() {
		if err := ping.Await(watcherBound); err != nil {
			c.closeOnFault(mysqlerr.Timeout("heartbeat ping did not complete"))
		}
	}()
}

func (c *Channel) writeRequest(cmd command.Feeder) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.params.WriteTimeout))
	payload := cmd.RequestBytes()
	seq, err := wire.WritePacket(c.writer, 0, payload)
	if err != nil {
		return err
	}
	c.seq = seq
	if c.metrics != nil {
		c.metrics.BytesSent(len(payload))
		c.metrics.PacketSent()
	}
	if c.params.Debug {
		wire.DebugDump(c.logger, "request."+c.id, payload)
	}
	return nil
}

// drainWaiting reads packets and feeds the head-of-queue command until the
// waiting queue is empty. It returns true if the channel closed itself
// while draining (end-of-stream, or a fatal decode error), signalling the
// caller to stop the worker loop.
func (c *Channel) drainWaiting() bool {
	for len(c.waiting) > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.params.ReadTimeout))
		pkt, seq, err := wire.ReadPacket(c.reader, c.seq)
		if err != nil {
			if err == io.EOF {
				c.closeOnFault(mysqlerr.ClosedState("connection closed by peer"))
			} else {
				c.closeOnFault(err)
			}
			c.failAll()
			return true
		}
		c.seq = seq
		if c.metrics != nil {
			c.metrics.BytesReceived(len(pkt.Payload))
			c.metrics.PacketReceived()
		}
		if c.params.Debug {
			wire.DebugDump(c.logger, "response."+c.id, pkt.Payload)
		}

		head := c.waiting[0]
		done, feedErr := head.Feed(pkt)
		if feedErr != nil {
			c.closeOnFault(feedErr)
			c.failAll()
			return true
		}
		if done {
			c.waiting = c.waiting[1:]
		}
	}
	return false
}

// failAll completes every command still in the waiting and submission
// queues with a closed-state error, per the Channel's teardown contract.
func (c *Channel) failAll() {
	for _, cmd := range c.waiting {
		if closer, ok := cmd.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	c.waiting = nil
	for {
		select {
		case sub := <-c.submissions:
			if closer, ok := sub.cmd.(interface{ Close() }); ok {
				closer.Close()
			}
		default:
			return
		}
	}
}
