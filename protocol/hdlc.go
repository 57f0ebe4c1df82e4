package protocol

import "errors"

// Simplified asynchronous HDLC framing: delimiter flags, byte escaping, and
// a 16-bit CRC-CCITT trailer.  No address or control fields, no ACK/NACK.
//
// A payload byte equal to the flag or escape value is sent as a two-byte
// sequence: the escape value followed by the byte XORed with 0x20.

const (
	// HDLCFlag begins and ends every frame.  A run of contiguous flags
	// between frames is permitted and ignored.
	HDLCFlag = 0x7E

	// HDLCEsc introduces an escaped byte.
	HDLCEsc = 0x7D

	hdlcEscMask = 0x20

	// HDLCOverhead is the worst-case framing cost: one leading flag, a
	// fully escaped two-byte CRC, and one trailing flag.
	HDLCOverhead = 6
)

var (
	ErrCRCMismatch = errors.New("hdlc: crc mismatch")
	ErrFraming     = errors.New("hdlc: framing error")
	ErrShortBuffer = errors.New("hdlc: buffer too small")
)

type hdlcState uint8

const (
	hdlcInit hdlcState = iota // no calls yet, or frame completed

	unpackSOFSearch // hunting for the start of a frame
	unpackSOFFound  // frame detected
	unpackData      // receiving data
	unpackEscaped   // escape seen, next byte is masked

	packStart   // opening flag not yet emitted
	packData    // emitting data bytes
	packEscaped // escape emitted, masked byte follows
)

// Indices into the trailing-byte window.  The CRC arrives high byte first,
// so at end of frame the older of the two buffered bytes is the MSB:
//
//	<data_0>...<data_N><CRC_MSB><CRC_LSB>
//	-------------------------------------> time
const (
	hdlcWindowNew = 0 // most recently received byte
	hdlcWindowOld = 1
)

// HDLCContext holds the per-direction framing state.  A context is used
// either for packing or unpacking, never both at once.  The zero value is
// ready to use; Init returns a used context to that state.
type HDLCContext struct {
	state  hdlcState
	crc    uint16
	window [2]byte
	count  int
}

// Init resets the context so the next call starts a fresh frame.
func (h *HDLCContext) Init() {
	*h = HDLCContext{crc: crcInit}
}

// Done reports whether the context is back at its initial state, as it is
// after a complete frame has been unpacked.  It is also true for a fresh
// context and after an error reset.
func (h *HDLCContext) Done() bool {
	return h.state == hdlcInit
}

// Unpack consumes framed bytes from src and appends unescaped payload bytes
// to dst.  It may stop early when dst fills or a frame completes; consumed
// reports how many src bytes were processed, including the closing flag.
// Call Done to learn whether the frame is complete.  Unpack is safe to call
// across arbitrary chunk boundaries, down to one byte at a time.
//
// On a CRC or framing error the context resets itself and hunts for the
// next delimiter on the following call; bytes already emitted for the
// broken frame must be discarded by the caller.
func (h *HDLCContext) Unpack(dst, src []byte) (emitted, consumed int, err error) {
	for consumed < len(src) && emitted < len(dst) {
		b := src[consumed]

		switch h.state {
		case hdlcInit:
			h.state = unpackSOFSearch
			h.crc = crcInit
			h.count = 0
			fallthrough

		case unpackSOFSearch:
			// discard anything until a flag is seen
			if b == HDLCFlag {
				h.state = unpackSOFFound
			}

		case unpackSOFFound:
			switch b {
			case HDLCFlag:
				// contiguous delimiter run, no change
			case HDLCEsc:
				h.state = unpackEscaped
			default:
				h.state = unpackData
			}

		case unpackData:
			switch b {
			case HDLCFlag:
				// Frame boundary: the window now holds the CRC sent by
				// the peer, oldest byte being its high half.
				sent := uint16(h.window[hdlcWindowOld])<<8 | uint16(h.window[hdlcWindowNew])
				crc := h.crc
				h.state = hdlcInit
				consumed++
				if crc != sent {
					return emitted, consumed, ErrCRCMismatch
				}
				return emitted, consumed, nil
			case HDLCEsc:
				h.state = unpackEscaped
			default:
				// regular data
			}

		case unpackEscaped:
			switch b {
			case HDLCFlag, HDLCEsc:
				// duplicate escape, or frame boundary while escaped
				h.state = hdlcInit
				consumed++
				return emitted, consumed, ErrFraming
			default:
				b ^= hdlcEscMask
				h.state = unpackData
			}
		}

		if h.state == unpackData {
			/* The final two bytes of the frame are the CRC, but the end of
			 * the frame is only known when the closing flag arrives.  Hold
			 * the two most recent bytes back; release the oldest once a
			 * third is seen.
			 */
			if h.count > 1 {
				dst[emitted] = h.window[hdlcWindowOld]
				h.crc = crcUpdate(h.crc, dst[emitted])
				emitted++
			}
			h.window[hdlcWindowOld] = h.window[hdlcWindowNew]
			h.window[hdlcWindowNew] = b
			h.count++
		}

		consumed++
	}

	return emitted, consumed, nil
}

// Pack escapes src bytes into dst, emitting the opening flag first and
// updating the running CRC.  It returns how many dst bytes were written and
// how many src bytes were consumed; call it again with the remaining src if
// dst filled.  Finalize completes the frame.
func (h *HDLCContext) Pack(dst, src []byte) (written, consumed int) {
	if h.state == hdlcInit {
		h.state = packStart
		h.crc = crcInit
	}

	for consumed < len(src) && written < len(dst) {
		switch h.state {
		case packStart:
			dst[written] = HDLCFlag
			written++
			h.state = packData

		case packData:
			b := src[consumed]
			h.crc = crcUpdate(h.crc, b)
			if b == HDLCFlag || b == HDLCEsc {
				dst[written] = HDLCEsc
				h.state = packEscaped
			} else {
				dst[written] = b
				consumed++
			}
			written++

		case packEscaped:
			dst[written] = src[consumed] ^ hdlcEscMask
			written++
			consumed++
			h.state = packData
		}
	}

	return written, consumed
}

// Finalize appends the CRC trailer and closing flag to dst, completing the
// frame.  The CRC travels through the same escape logic as payload data,
// high byte first.
func (h *HDLCContext) Finalize(dst []byte) (int, error) {
	crc := h.crc
	trailer := [2]byte{byte(crc >> 8), byte(crc)}

	n, consumed := h.Pack(dst, trailer[:])
	if consumed < len(trailer) || n >= len(dst) {
		return 0, ErrShortBuffer
	}
	dst[n] = HDLCFlag
	n++

	h.Init()
	return n, nil
}
