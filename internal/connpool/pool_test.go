package connpool

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mysqlwire/client/internal/channel"
	"github.com/mysqlwire/client/internal/mysqlerr"
	"github.com/mysqlwire/client/internal/wire"
)

// fakeMySQLServer drives the server side of a net.Pipe well enough to
// satisfy channel.Dial's handshake and then answers any number of Pings.
func fakeMySQLServer(conn net.Conn) {
	go func() {
		w := wire.NewPayloadWriter(0)
		w.WriteByte(wire.ProtocolVersion10)
		w.NullTerminatedString("8.0.36-demo")
		w.FixedLengthInt(1, 4)
		challenge := []byte("0123456789abcdefghij")
		w.RawBytes(challenge[:8])
		w.WriteByte(0)
		w.FixedLengthInt(uint64(wire.BaselineCapabilities&0xffff), 2)
		w.WriteByte(wire.DefaultCharacterSet)
		w.FixedLengthInt(uint64(wire.StatusAutocommit), 2)
		w.FixedLengthInt(uint64(wire.BaselineCapabilities>>16), 2)
		w.WriteByte(byte(len(challenge) + 1))
		w.Zeroes(10)
		rest := append(append([]byte{}, challenge[8:]...), 0)
		w.RawBytes(rest)
		w.NullTerminatedString("mysql_native_password")

		next, err := wire.WritePacket(conn, 0, w.Bytes())
		if err != nil {
			return
		}
		_, next, err = wire.ReadPacket(conn, next)
		if err != nil {
			return
		}
		next, err = wire.WritePacket(conn, next, []byte{wire.OKPacketHeader, 0, 0, 0, 0})
		if err != nil {
			return
		}

		for {
			pkt, seq, err := wire.ReadPacket(conn, 0)
			if err != nil {
				return
			}
			next = seq
			if len(pkt.Payload) == 1 && pkt.Payload[0] == wire.ComPing {
				next, err = wire.WritePacket(conn, next, []byte{wire.OKPacketHeader, 0, 0, 0, 0})
				if err != nil {
					return
				}
			} else if len(pkt.Payload) > 0 && pkt.Payload[0] == wire.ComQuit {
				return
			}
		}
	}()
}

// pipeDialer returns a dial function that hands every call a fresh
// in-memory net.Pipe connected to a fakeMySQLServer, standing in for
// channel.Dial's real TCP dialer in tests.
func pipeDialer(failFrom int) func(onUnusable func(*channel.Channel)) (*channel.Channel, error) {
	var mu sync.Mutex
	calls := 0
	return func(onUnusable func(*channel.Channel)) (*channel.Channel, error) {
		mu.Lock()
		calls++
		attempt := calls
		mu.Unlock()
		if failFrom > 0 && attempt >= failFrom {
			return nil, mysqlerr.SocketBuild("simulated dial failure", nil)
		}
		clientConn, serverConn := net.Pipe()
		fakeMySQLServer(serverConn)
		return channel.DialOverConn(clientConn, channel.Params{
			Host:            "fake",
			Username:        "root",
			CharacterSet:    wire.DefaultCharacterSet,
			CapabilityFlags: wire.BaselineCapabilities,
			ReadTimeout:     2 * time.Second,
			WriteTimeout:    2 * time.Second,
		}, onUnusable)
	}
}

func TestPoolAcquireAndRelease(t *testing.T) {
	p, err := newPoolWithDialer(Config{Size: 2, AcquireRetries: 3}, pipeDialer(0))
	if err != nil {
		t.Fatalf("unexpected pool construction error: %v", err)
	}
	defer p.Close()

	pc, err := p.Acquire()
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	if pc.Channel() == nil {
		t.Fatal("expected a non-nil channel")
	}
	pc.Release()

	pc2, err := p.Acquire()
	if err != nil {
		t.Fatalf("unexpected second acquire error: %v", err)
	}
	pc2.Release()
}

func TestPoolAcquireExhaustsAndTimesOut(t *testing.T) {
	p, err := newPoolWithDialer(Config{Size: 1, AcquireRetries: 1, CheckoutTimeout: 50 * time.Millisecond}, pipeDialer(0))
	if err != nil {
		t.Fatalf("unexpected pool construction error: %v", err)
	}
	defer p.Close()

	pc, err := p.Acquire()
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}
	defer pc.Release()

	if _, err := p.Acquire(); err == nil {
		t.Fatal("expected acquire to fail while the only slot is checked out")
	}
}

func TestPoolConstructionFailsWhenEverySlotFails(t *testing.T) {
	_, err := newPoolWithDialer(Config{Size: 2}, pipeDialer(1))
	if err == nil {
		t.Fatal("expected construction to fail when every slot fails to dial")
	}
}

func TestPoolPartialConstructionSucceedsAndStartsRescue(t *testing.T) {
	p, err := newPoolWithDialer(Config{Size: 2}, pipeDialer(2))
	if err != nil {
		t.Fatalf("unexpected pool construction error: %v", err)
	}
	defer p.Close()

	slots := p.snapshotSlots()
	nilCount := 0
	for _, s := range slots {
		if s == nil {
			nilCount++
		}
	}
	if nilCount != 1 {
		t.Fatalf("expected exactly one tombstoned slot, got %d", nilCount)
	}

	p.rescueMu.Lock()
	running := p.rescueRunning
	p.rescueMu.Unlock()
	if !running {
		t.Fatal("expected the rescue task to be running for the tombstoned slot")
	}
}

func TestPoolListenerFiresOnCreated(t *testing.T) {
	created := make(chan string, 4)
	listener := &recordingListener{created: created}

	p, err := newPoolWithDialer(Config{
		Size:      2,
		Listeners: []Listener{listener},
		ChannelParams: channel.Params{Host: "fake", Database: "widgets"},
	}, pipeDialer(0))
	if err != nil {
		t.Fatalf("unexpected pool construction error: %v", err)
	}
	defer p.Close()

	for i := 0; i < 2; i++ {
		select {
		case host := <-created:
			if host != "fake" {
				t.Fatalf("expected OnCreated host %q, got %q", "fake", host)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for OnCreated notifications")
		}
	}
}

func TestLeakedConnectionIsTombstonedAndRescued(t *testing.T) {
	p, err := newPoolWithDialer(Config{Size: 1, MaxOccupyTime: 20 * time.Millisecond}, pipeDialer(0))
	if err != nil {
		t.Fatalf("unexpected pool construction error: %v", err)
	}
	defer p.Close()

	pc, err := p.Acquire()
	if err != nil {
		t.Fatalf("unexpected acquire error: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if !pc.IsLeaked() {
		t.Fatal("expected connection to be reported as leaked")
	}

	detector.sweepPool(p)

	if p.snapshotSlots()[0] != nil {
		t.Fatal("expected the leaked slot to be tombstoned immediately after the sweep")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && p.snapshotSlots()[0] == nil {
		time.Sleep(10 * time.Millisecond)
	}
	if p.snapshotSlots()[0] == nil {
		t.Fatal("expected the rescue task to refill the tombstoned slot")
	}

	// A stale Release from the caller that held the leaked connection must
	// not re-enqueue a slot index the rescue task has already replaced.
	pc.Release()
	if got := p.AvailableCount(); got != 1 {
		t.Fatalf("expected exactly 1 available slot after rescue, got %d", got)
	}
}

type recordingListener struct {
	created chan string
}

func (l *recordingListener) OnCreated(host, db string)   { l.created <- host }
func (l *recordingListener) OnRecovered(host, db string) {}
func (l *recordingListener) OnClosed(host, db string)    {}
