package protocol

import (
	"bytes"
	"testing"
)

// enframe packs payload into a complete frame using a fresh context.
func enframe(t *testing.T, payload []byte) []byte {
	t.Helper()

	var ctx HDLCContext
	frame := make([]byte, len(payload)*2+HDLCOverhead)

	written, consumed := ctx.Pack(frame, payload)
	if consumed != len(payload) {
		t.Fatalf("Pack consumed %d of %d payload bytes", consumed, len(payload))
	}
	n, err := ctx.Finalize(frame[written:])
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	return frame[:written+n]
}

// deframe unpacks a complete frame using a fresh context.
func deframe(t *testing.T, frame []byte) []byte {
	t.Helper()

	var ctx HDLCContext
	dst := make([]byte, len(frame))

	emitted, consumed, err := ctx.Unpack(dst, frame)
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	if !ctx.Done() {
		t.Fatalf("frame not complete after %d consumed bytes", consumed)
	}
	return dst[:emitted]
}

func TestHDLCRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("PN\x00\x00T1541112861.0,P/a/b,D123"),
		[]byte{0x7E},
		[]byte{0x7D},
		[]byte{0x7E, 0x7D, 0x7E, 0x7D},
		[]byte("plain ascii with no reserved bytes"),
		{0x00},
		{0xFF, 0x00, 0x7E, 0x20, 0x7D, 0x5E},
	}

	for i, payload := range payloads {
		frame := enframe(t, payload)
		got := deframe(t, frame)
		if !bytes.Equal(got, payload) {
			t.Errorf("payload %d: round trip mismatch\n got:  %v\n want: %v", i, got, payload)
		}
	}
}

func TestHDLCRoundTripAllByteValues(t *testing.T) {
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	got := deframe(t, enframe(t, payload))
	if !bytes.Equal(got, payload) {
		t.Fatal("round trip of all byte values mismatched")
	}
}

func TestHDLCEscaping(t *testing.T) {
	frame := enframe(t, []byte{0x7E, 0x7D})

	if frame[0] != HDLCFlag || frame[len(frame)-1] != HDLCFlag {
		t.Fatalf("frame not delimited by flags: % X", frame)
	}
	// 0x7E -> 0x7D 0x5E, 0x7D -> 0x7D 0x5D
	want := []byte{0x7D, 0x5E, 0x7D, 0x5D}
	if !bytes.Equal(frame[1:5], want) {
		t.Errorf("escaped payload = % X, want % X", frame[1:5], want)
	}
}

func TestHDLCCRCTrailerByteOrder(t *testing.T) {
	payload := []byte("abc")
	frame := enframe(t, payload)

	crc := CRC16(payload)
	// high byte immediately before the low byte and closing flag
	n := len(frame)
	if frame[n-3] != byte(crc>>8) || frame[n-2] != byte(crc) {
		t.Errorf("trailer = % X, want %02X %02X", frame[n-3:n-1], byte(crc>>8), byte(crc))
	}
}

func TestHDLCUnpackSingleByteChunks(t *testing.T) {
	payload := []byte{0x01, 0x7E, 0x02, 0x7D, 0x03}
	frame := enframe(t, payload)

	var ctx HDLCContext
	dst := make([]byte, len(frame))
	emitted := 0

	for i := 0; i < len(frame); i++ {
		n, consumed, err := ctx.Unpack(dst[emitted:], frame[i:i+1])
		if err != nil {
			t.Fatalf("byte %d: Unpack failed: %v", i, err)
		}
		if consumed != 1 {
			t.Fatalf("byte %d: consumed %d bytes, want 1", i, consumed)
		}
		emitted += n
		if ctx.Done() && i != len(frame)-1 {
			t.Fatalf("frame completed early at byte %d of %d", i, len(frame)-1)
		}
	}
	if !ctx.Done() {
		t.Fatal("frame not complete after all bytes")
	}
	if !bytes.Equal(dst[:emitted], payload) {
		t.Errorf("chunked unpack = %v, want %v", dst[:emitted], payload)
	}
}

func TestHDLCUnpackChunkingInvariance(t *testing.T) {
	payload := []byte("chunking invariance \x7E\x7D payload")
	frame := enframe(t, payload)
	whole := deframe(t, frame)

	for split := 1; split < len(frame); split++ {
		var ctx HDLCContext
		dst := make([]byte, len(frame))
		emitted := 0

		for _, part := range [][]byte{frame[:split], frame[split:]} {
			for len(part) > 0 {
				n, consumed, err := ctx.Unpack(dst[emitted:], part)
				if err != nil {
					t.Fatalf("split %d: Unpack failed: %v", split, err)
				}
				emitted += n
				part = part[consumed:]
			}
		}
		if !ctx.Done() {
			t.Fatalf("split %d: frame not complete", split)
		}
		if !bytes.Equal(dst[:emitted], whole) {
			t.Fatalf("split %d: output differs from whole-frame unpack", split)
		}
	}
}

func TestHDLCUnpackCRCMismatch(t *testing.T) {
	payload := []byte("corrupt me")
	frame := enframe(t, payload)

	// Flip one bit in a payload byte, avoiding flags and escapes
	bad := bytes.Clone(frame)
	bad[2] ^= 0x01

	var ctx HDLCContext
	dst := make([]byte, len(bad))
	_, consumed, err := ctx.Unpack(dst, bad)
	if err != ErrCRCMismatch {
		t.Fatalf("Unpack error = %v, want ErrCRCMismatch", err)
	}

	// A following valid frame in the same stream must decode correctly
	rest := append(bad[consumed:], enframe(t, payload)...)
	emitted := 0
	for len(rest) > 0 {
		n, c, err := ctx.Unpack(dst[emitted:], rest)
		if err != nil {
			t.Fatalf("recovery Unpack failed: %v", err)
		}
		emitted += n
		rest = rest[c:]
		if ctx.Done() && emitted > 0 {
			break
		}
	}
	if !bytes.Equal(dst[:emitted], payload) {
		t.Errorf("post-error frame = %q, want %q", dst[:emitted], payload)
	}
}

func TestHDLCUnpackFramingError(t *testing.T) {
	// Escape followed by a flag is illegal
	var ctx HDLCContext
	dst := make([]byte, 16)
	src := []byte{HDLCFlag, 0x41, HDLCEsc, HDLCFlag}

	_, _, err := ctx.Unpack(dst, src)
	if err != ErrFraming {
		t.Fatalf("Unpack error = %v, want ErrFraming", err)
	}
	if !ctx.Done() {
		t.Error("context not reset after framing error")
	}
}

func TestHDLCUnpackIgnoresFlagRuns(t *testing.T) {
	payload := []byte("between keepalives")
	frame := enframe(t, payload)

	// Keep-alive preamble bytes are flag octets; runs of them between
	// frames must be transparent.
	stream := append([]byte{HDLCFlag, HDLCFlag, HDLCFlag}, frame...)
	stream = append(stream, HDLCFlag, HDLCFlag)

	var ctx HDLCContext
	dst := make([]byte, len(stream))
	emitted := 0
	for len(stream) > 0 {
		n, consumed, err := ctx.Unpack(dst[emitted:], stream)
		if err != nil {
			t.Fatalf("Unpack failed: %v", err)
		}
		emitted += n
		stream = stream[consumed:]
		if ctx.Done() && emitted > 0 {
			break
		}
	}
	if !bytes.Equal(dst[:emitted], payload) {
		t.Errorf("unpacked %q, want %q", dst[:emitted], payload)
	}
}

func TestHDLCUnpackDiscardsGarbageBeforeFrame(t *testing.T) {
	payload := []byte("after noise")
	frame := enframe(t, payload)
	stream := append([]byte("line noise!"), frame...)

	got := deframe(t, stream)
	if !bytes.Equal(got, payload) {
		t.Errorf("unpacked %q, want %q", got, payload)
	}
}

func TestHDLCFinalizeShortBuffer(t *testing.T) {
	var ctx HDLCContext
	frame := make([]byte, 8)
	written, _ := ctx.Pack(frame, []byte("abc"))

	if _, err := ctx.Finalize(frame[written : written+1]); err != ErrShortBuffer {
		t.Errorf("Finalize error = %v, want ErrShortBuffer", err)
	}
}

func TestHDLCEmptyPayloadFrame(t *testing.T) {
	frame := enframe(t, nil)
	// flag, two CRC bytes (0xFFFF needs no escaping), flag
	if len(frame) != 4 {
		t.Fatalf("empty frame length = %d, want 4", len(frame))
	}
	got := deframe(t, frame)
	if len(got) != 0 {
		t.Errorf("empty frame emitted %d bytes", len(got))
	}
}
