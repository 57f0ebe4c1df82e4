package protocol

import (
	"bytes"
	"testing"
)

func TestATPack(t *testing.T) {
	// Push request packet with a live sequence number
	pkt := []byte{'P', 'N', 0x12, 0x34}
	pkt = append(pkt, []byte("T1541112861.0,P/a/b,D123")...)

	dst := make([]byte, len(pkt)+ATOverhead)
	n, err := ATPack(dst, pkt)
	if err != nil {
		t.Fatalf("ATPack failed: %v", err)
	}

	// sequence bytes are fixed to "00" in AT mode
	want := []byte(`AT+ORP="PN00T1541112861.0,P/a/b,D123"` + "\n")
	if !bytes.Equal(dst[:n], want) {
		t.Errorf("ATPack = %q, want %q", dst[:n], want)
	}
}

func TestATPackPromotesNulByte1(t *testing.T) {
	pkt := []byte{'G', 0x00, 0x00, 0x00, 'P', '/', 'x'}

	dst := make([]byte, len(pkt)+ATOverhead)
	n, err := ATPack(dst, pkt)
	if err != nil {
		t.Fatalf("ATPack failed: %v", err)
	}

	want := []byte(`AT+ORP="G000P/x"` + "\n")
	if !bytes.Equal(dst[:n], want) {
		t.Errorf("ATPack = %q, want %q", dst[:n], want)
	}
}

func TestATPackShortBuffer(t *testing.T) {
	pkt := []byte{'G', 0x00, 0x00, 0x00}
	dst := make([]byte, len(pkt))

	if _, err := ATPack(dst, pkt); err != ErrBufferShort {
		t.Errorf("ATPack error = %v, want ErrBufferShort", err)
	}
}

func TestATPackShortPacket(t *testing.T) {
	dst := make([]byte, 64)
	if _, err := ATPack(dst, []byte{'G', 0x00}); err != ErrPacketShort {
		t.Errorf("ATPack error = %v, want ErrPacketShort", err)
	}
}
