package command

import (
	"errors"
	"testing"
	"time"

	"github.com/mysqlwire/client/internal/mysqlerr"
	"github.com/mysqlwire/client/internal/wire"
)

func TestPingSuccess(t *testing.T) {
	p := NewPing()
	okPayload := []byte{wire.OKPacketHeader, 0, 0, 0, 0}
	done, err := p.Feed(&wire.Packet{Payload: okPayload})
	if !done || err != nil {
		t.Fatalf("expected done, nil got done=%v err=%v", done, err)
	}
	if err := p.Await(time.Second); err != nil {
		t.Fatalf("unexpected await error: %v", err)
	}
}

func TestPingServerError(t *testing.T) {
	p := NewPing()
	w := wire.NewPayloadWriter(0)
	w.WriteByte(wire.ErrPacketHeader)
	w.FixedLengthInt(1040, 2)
	w.RawBytes([]byte("#08004"))
	w.RawBytes([]byte("Too many connections"))
	done, err := p.Feed(&wire.Packet{Payload: w.Bytes()})
	if !done || err != nil {
		t.Fatalf("got done=%v err=%v", done, err)
	}
	awaitErr := p.Await(time.Second)
	var srvErr *mysqlerr.ServerError
	if !errors.As(awaitErr, &srvErr) {
		t.Fatalf("expected *mysqlerr.ServerError, got %v", awaitErr)
	}
	if srvErr.Code != 1040 {
		t.Errorf("got code %d", srvErr.Code)
	}
}

func TestQuitFireAndForget(t *testing.T) {
	q := NewQuit()
	if q.ExpectsResponse() {
		t.Fatal("quit must not expect a response")
	}
	done, err := q.Feed(nil)
	if !done || err != nil {
		t.Fatalf("got done=%v err=%v", done, err)
	}
}

func TestBaseCloseIsIdempotent(t *testing.T) {
	b := NewBase()
	b.Close()
	b.Close()
	if err := b.Await(time.Second); err == nil {
		t.Fatal("expected closed-state error")
	}
}

func TestBaseAwaitTimesOut(t *testing.T) {
	b := NewBase()
	err := b.Await(10 * time.Millisecond)
	var me *mysqlerr.Error
	if !errors.As(err, &me) || me.Category != mysqlerr.CategoryTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestStatisticsFeed(t *testing.T) {
	s := NewStatistics()
	done, err := s.Feed(&wire.Packet{Payload: []byte("Uptime: 100  Threads: 1")})
	if !done || err != nil {
		t.Fatalf("got done=%v err=%v", done, err)
	}
	if s.Result != "Uptime: 100  Threads: 1" {
		t.Errorf("got %q", s.Result)
	}
}
