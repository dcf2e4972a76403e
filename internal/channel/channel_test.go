package channel

import (
	"net"
	"testing"
	"time"

	"github.com/mysqlwire/client/internal/command"
	"github.com/mysqlwire/client/internal/metrics"
	"github.com/mysqlwire/client/internal/wire"
)

// fakeServer drives the server side of a net.Pipe: sends a greeting, reads
// the handshake response, acks it, then answers every Ping with an OK. It
// never touches t (it runs past the end of most tests' lifetimes), so
// failures surface only as the client-side call timing out or erroring.
func fakeServer(conn net.Conn, done chan<- struct{}) {
	go func() {
		defer close(done)
		w := wire.NewPayloadWriter(0)
		w.WriteByte(wire.ProtocolVersion10)
		w.NullTerminatedString("8.0.36-demo")
		w.FixedLengthInt(99, 4)
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

func TestDialAndSendPing(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	fakeServer(serverConn, done)

	ch, err := newChannelOverConn(clientConn, Params{
		Host:            "fake",
		Username:        "root",
		CharacterSet:    wire.DefaultCharacterSet,
		CapabilityFlags: wire.BaselineCapabilities,
		ReadTimeout:     2 * time.Second,
		WriteTimeout:    2 * time.Second,
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	if ch.Info().ConnectionID != 99 {
		t.Fatalf("got connection id %d", ch.Info().ConnectionID)
	}

	ping := command.NewPing()
	if err := ch.Send(ping, time.Second); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	ch.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fake server did not observe channel close")
	}
}

// fakeCompressedServer is fakeServer's counterpart for a session that
// negotiates CLIENT_COMPRESS: it advertises the capability in its greeting
// and, once the handshake OK is written, speaks every further packet
// through the CLIENT_COMPRESS envelope.
func fakeCompressedServer(conn net.Conn, done chan<- struct{}) {
	go func() {
		defer close(done)
		serverCaps := wire.BaselineCapabilities | wire.ClientCompress

		w := wire.NewPayloadWriter(0)
		w.WriteByte(wire.ProtocolVersion10)
		w.NullTerminatedString("8.0.36-demo")
		w.FixedLengthInt(100, 4)
		challenge := []byte("0123456789abcdefghij")
		w.RawBytes(challenge[:8])
		w.WriteByte(0)
		w.FixedLengthInt(uint64(serverCaps&0xffff), 2)
		w.WriteByte(wire.DefaultCharacterSet)
		w.FixedLengthInt(uint64(wire.StatusAutocommit), 2)
		w.FixedLengthInt(uint64(serverCaps>>16), 2)
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

		cr := wire.NewCompressedReader(conn)
		cw := wire.NewCompressedWriter(conn)
		for {
			pkt, seq, err := wire.ReadPacket(cr, 0)
			if err != nil {
				return
			}
			next = seq
			if len(pkt.Payload) == 1 && pkt.Payload[0] == wire.ComPing {
				next, err = wire.WritePacket(cw, next, []byte{wire.OKPacketHeader, 0, 0, 0, 0})
				if err != nil {
					return
				}
			} else if len(pkt.Payload) > 0 && pkt.Payload[0] == wire.ComQuit {
				return
			}
		}
	}()
}

func TestDialNegotiatesCompressionAndSendsOverEnvelope(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	fakeCompressedServer(serverConn, done)

	ch, err := newChannelOverConn(clientConn, Params{
		Host:            "fake",
		Username:        "root",
		CharacterSet:    wire.DefaultCharacterSet,
		CapabilityFlags: wire.BaselineCapabilities | wire.ClientCompress,
		ReadTimeout:     2 * time.Second,
		WriteTimeout:    2 * time.Second,
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	if ch.Info().Capabilities&wire.ClientCompress == 0 {
		t.Fatal("expected CLIENT_COMPRESS to be negotiated")
	}

	if err := ch.Send(command.NewPing(), time.Second); err != nil {
		t.Fatalf("unexpected send error over compressed channel: %v", err)
	}

	ch.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fake server did not observe channel close")
	}
}

func TestSendRecordsMetrics(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	fakeServer(serverConn, done)

	m := metrics.New()
	ch, err := newChannelOverConn(clientConn, Params{
		Host:            "fake",
		Username:        "root",
		CharacterSet:    wire.DefaultCharacterSet,
		CapabilityFlags: wire.BaselineCapabilities,
		ReadTimeout:     2 * time.Second,
		WriteTimeout:    2 * time.Second,
		Metrics:         m,
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer ch.Close()

	if err := ch.Send(command.NewPing(), time.Second); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}
	seen := map[string]float64{}
	for _, f := range families {
		for _, mf := range f.GetMetric() {
			switch f.GetName() {
			case "mysqlwire_packets_sent_total", "mysqlwire_packets_received_total":
				seen[f.GetName()] = mf.GetCounter().GetValue()
			case "mysqlwire_command_duration_seconds":
				seen[f.GetName()] = float64(mf.GetHistogram().GetSampleCount())
			}
		}
	}
	if seen["mysqlwire_packets_sent_total"] == 0 {
		t.Error("expected at least one packet-sent recorded")
	}
	if seen["mysqlwire_packets_received_total"] == 0 {
		t.Error("expected at least one packet-received recorded")
	}
	if seen["mysqlwire_command_duration_seconds"] == 0 {
		t.Error("expected the ping's duration to be recorded")
	}
}

func TestSendRejectsNilCommand(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	fakeServer(serverConn, done)
	ch, err := newChannelOverConn(clientConn, Params{
		Host:            "fake",
		Username:        "root",
		CharacterSet:    wire.DefaultCharacterSet,
		CapabilityFlags: wire.BaselineCapabilities,
		ReadTimeout:     2 * time.Second,
		WriteTimeout:    2 * time.Second,
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer ch.Close()

	if err := ch.Send(nil, time.Second); err == nil {
		t.Fatal("expected InvalidArgument error for nil command")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	fakeServer(serverConn, done)
	ch, err := newChannelOverConn(clientConn, Params{
		Host:            "fake",
		Username:        "root",
		CharacterSet:    wire.DefaultCharacterSet,
		CapabilityFlags: wire.BaselineCapabilities,
		ReadTimeout:     2 * time.Second,
		WriteTimeout:    2 * time.Second,
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	ch.Close()

	if err := ch.Send(command.NewPing(), time.Second); err == nil {
		t.Fatal("expected closed-state error after Close")
	}
}
