package wire

import "testing"

func TestParseErrPacketWithSQLState(t *testing.T) {
	w := NewPayloadWriter(0)
	w.WriteByte(ErrPacketHeader)
	w.FixedLengthInt(1045, 2)
	w.RawBytes([]byte("#28000"))
	w.RawBytes([]byte("Access denied"))
	pkt, err := ParseErrPacket(w.Bytes(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkt.Code != 1045 {
		t.Errorf("got code %d", pkt.Code)
	}
	if pkt.SQLState != "28000" {
		t.Errorf("got sqlstate %q", pkt.SQLState)
	}
	if pkt.Message != "Access denied" {
		t.Errorf("got message %q", pkt.Message)
	}
}

func TestParseErrPacketWithoutSQLState(t *testing.T) {
	w := NewPayloadWriter(0)
	w.WriteByte(ErrPacketHeader)
	w.FixedLengthInt(2003, 2)
	w.RawBytes([]byte("Cannot connect"))
	pkt, err := ParseErrPacket(w.Bytes(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pkt.SQLState != "" {
		t.Errorf("expected no sqlstate, got %q", pkt.SQLState)
	}
	if pkt.Message != "Cannot connect" {
		t.Errorf("got message %q", pkt.Message)
	}
}

func TestParseErrPacketRejectsWrongHeader(t *testing.T) {
	_, err := ParseErrPacket([]byte{OKPacketHeader, 0, 0}, true)
	assertMalformed(t, err)
}

func TestDecodeErrorMessageUTF8Passthrough(t *testing.T) {
	msg := DecodeErrorMessage([]byte("syntax error near 'SELECT'"), charsetUTF8MB4)
	if msg != "syntax error near 'SELECT'" {
		t.Errorf("got %q", msg)
	}
}

func TestDecodeErrorMessageLatin1(t *testing.T) {
	// 0xe9 in latin1 is U+00E9 (é)
	msg := DecodeErrorMessage([]byte{'c', 0xe9}, charsetLatin1)
	if msg != "cé" {
		t.Errorf("got %q", msg)
	}
}
