package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Codec translates between Message values and unframed packet bytes.  The
// two protocol versions share a wire format; V2 adds the counter and MTU
// fields on sync packets.
type Codec interface {
	Version() ProtocolVersion

	// Encode serializes msg into pkt and returns the packet length.  Data
	// that does not fit in pkt is truncated: msg.Data is advanced past the
	// bytes actually encoded so the caller can continue in a follow-up
	// packet of a multi-packet transaction.
	Encode(pkt []byte, msg *Message) (int, error)

	// Decode parses pkt into msg.  msg.Data aliases pkt; it remains valid
	// only while pkt does.
	Decode(pkt []byte, msg *Message) error
}

var (
	ErrPacketShort     = errors.New("orp: packet too short")
	ErrBufferShort     = errors.New("orp: buffer too short")
	ErrUnknownType     = errors.New("orp: unknown packet type")
	ErrUnknownDataType = errors.New("orp: unknown data type")
	ErrUnknownField    = errors.New("orp: unknown field identifier")
	ErrBadTimestamp    = errors.New("orp: malformed timestamp")
	ErrBadCount        = errors.New("orp: malformed counter field")
	ErrBadEnum         = errors.New("orp: value out of base-36 range")
	ErrMissingField    = errors.New("orp: required field missing")
	ErrFieldTooLong    = errors.New("orp: field exceeds length limit")
)

// NewCodec returns the codec for the given protocol version.
func NewCodec(version ProtocolVersion) (Codec, error) {
	switch version {
	case V1, V2:
		return &codec{version: version}, nil
	default:
		return nil, fmt.Errorf("orp: unsupported protocol version %d", version)
	}
}

type codec struct {
	version ProtocolVersion
}

func (c *codec) Version() ProtocolVersion {
	return c.version
}

// encodeByte1 fills the second wire byte according to the packet type:
// data type on requests, status on responses, version on sync packets,
// event code on file-control notifications.
func encodeByte1(pkt []byte, info packetTypeInfo, msg *Message) error {
	switch info.byte1 {
	case byte1Status:
		pkt[offsetByte1] = byte(statusBase - msg.Status)
	case byte1Version:
		b, ok := base36Encode(int(msg.Version))
		if !ok {
			return fmt.Errorf("%w: version %d", ErrBadEnum, msg.Version)
		}
		pkt[offsetByte1] = b
	case byte1Event:
		b, ok := base36Encode(msg.Event)
		if !ok {
			return fmt.Errorf("%w: event %d", ErrBadEnum, msg.Event)
		}
		pkt[offsetByte1] = b
	default:
		pkt[offsetByte1] = dataTypeLetter(msg.DataType)
	}
	return nil
}

// checkRequired verifies that every field the packet type demands is
// populated on the message before encoding.
func checkRequired(info packetTypeInfo, msg *Message) error {
	missing := func(name string) error {
		return fmt.Errorf("%w: %s for %s", ErrMissingField, name, msg.Type.Name())
	}
	if info.required&maskDataType != 0 && msg.DataType == DataTypeUndef {
		return missing("data type")
	}
	if info.required&maskPath != 0 && msg.Path == "" {
		return missing("path")
	}
	if info.required&maskTime != 0 && msg.Timestamp == TimestampNone {
		return missing("timestamp")
	}
	if info.required&maskData != 0 && len(msg.Data) == 0 {
		return missing("data")
	}
	return nil
}

// encodeTimestamp renders a timestamp at full resolution, trimming excess
// trailing zeros back to a single decimal place.
func encodeTimestamp(ts float64) (string, error) {
	s := strconv.FormatFloat(ts, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	if len(s) > TimestampLenMax {
		return "", fmt.Errorf("%w: %s", ErrBadTimestamp, s)
	}
	return s, nil
}

func (c *codec) Encode(pkt []byte, msg *Message) (int, error) {
	if len(pkt) < PacketLenMin {
		return 0, ErrBufferShort
	}
	info, ok := lookupPacketType(msg.Type)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownType, msg.Type)
	}
	if err := checkRequired(info, msg); err != nil {
		return 0, err
	}
	if len(msg.Path) > PathLenMax {
		return 0, fmt.Errorf("%w: path", ErrFieldTooLong)
	}
	if len(msg.Unit) > UnitsLenMax {
		return 0, fmt.Errorf("%w: units", ErrFieldTooLong)
	}

	// Fixed-length fields
	pkt[offsetPacketType] = info.letter
	if err := encodeByte1(pkt, info, msg); err != nil {
		return 0, err
	}
	pkt[offsetSeqNum] = byte(msg.SeqNum)
	pkt[offsetSeqNum+1] = byte(msg.SeqNum >> 8)

	/* Variable-length fields follow, separated by commas.  A separator is
	 * emitted only before a field which is not the first present.  Data is
	 * always last, since its contents may contain the separator.
	 */
	idx := offsetVarLength
	first := true

	field := func(id byte, content string) error {
		need := len(content) + 1
		if !first {
			need++
		}
		if idx+need > len(pkt) {
			return ErrBufferShort
		}
		if !first {
			pkt[idx] = varFieldSeparator
			idx++
		}
		pkt[idx] = id
		idx++
		idx += copy(pkt[idx:], content)
		first = false
		return nil
	}

	if msg.Timestamp != TimestampNone {
		ts, err := encodeTimestamp(msg.Timestamp)
		if err != nil {
			return 0, err
		}
		if err := field(fieldIDTime, ts); err != nil {
			return 0, err
		}
	}
	if msg.Path != "" {
		if err := field(fieldIDPath, msg.Path); err != nil {
			return 0, err
		}
	}
	if msg.Unit != "" {
		if err := field(fieldIDUnits, msg.Unit); err != nil {
			return 0, err
		}
	}
	if len(msg.Data) > 0 {
		// Encoding less than the full payload is permitted, to support
		// multi-packet transactions; advance msg.Data past what was taken.
		need := 1
		if !first {
			need++
		}
		if idx+need >= len(pkt) {
			return 0, ErrBufferShort
		}
		if !first {
			pkt[idx] = varFieldSeparator
			idx++
		}
		pkt[idx] = fieldIDData
		idx++
		n := copy(pkt[idx:], msg.Data)
		idx += n
		msg.Data = msg.Data[n:]
		first = false
	}

	// Version 2: counters and MTU ride on sync packets.
	if c.version == V2 && msg.Type.isSync() {
		if msg.MTU >= 0 {
			if err := field(fieldIDMTU, strconv.Itoa(msg.MTU)); err != nil {
				return 0, err
			}
		}
		if msg.SentCount >= 0 {
			if err := field(fieldIDSentCount, strconv.Itoa(msg.SentCount)); err != nil {
				return 0, err
			}
		}
		if msg.ReceivedCount >= 0 {
			if err := field(fieldIDRecvCount, strconv.Itoa(msg.ReceivedCount)); err != nil {
				return 0, err
			}
		}
	}

	return idx, nil
}

// decodeByte1 interprets the second wire byte according to the packet
// type.  The data type is only decoded when the type requires one.
func decodeByte1(pkt []byte, info packetTypeInfo, msg *Message, seen *fieldMask) error {
	switch info.byte1 {
	case byte1Status:
		msg.Status = statusBase - int(pkt[offsetByte1])
		*seen |= maskStatus
	case byte1Version:
		v, ok := base36Decode(pkt[offsetByte1])
		if !ok {
			return fmt.Errorf("%w: version byte %q", ErrBadEnum, pkt[offsetByte1])
		}
		msg.Version = ProtocolVersion(v)
		*seen |= maskVersion
	case byte1Event:
		v, ok := base36Decode(pkt[offsetByte1])
		if !ok {
			return fmt.Errorf("%w: event byte %q", ErrBadEnum, pkt[offsetByte1])
		}
		msg.Event = v
		*seen |= maskEvent
	default:
		if info.required&maskDataType == 0 {
			return nil
		}
		d, ok := dataTypeFromLetter(pkt[offsetByte1])
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownDataType, pkt[offsetByte1])
		}
		msg.DataType = d
		*seen |= maskDataType
	}
	return nil
}

// validTimestamp accepts decimal digits with at most one point, within the
// length limit.
func validTimestamp(s string) bool {
	if len(s) == 0 || len(s) > TimestampLenMax {
		return false
	}
	inDecimal := false
	for i := 0; i < len(s); i++ {
		if '0' <= s[i] && s[i] <= '9' {
			continue
		}
		if s[i] == '.' && !inDecimal {
			inDecimal = true
			continue
		}
		return false
	}
	return true
}

func (c *codec) Decode(pkt []byte, msg *Message) error {
	if len(pkt) < PacketLenMin {
		return fmt.Errorf("%w: %d bytes", ErrPacketShort, len(pkt))
	}

	t, ok := packetTypeByLetter[pkt[offsetPacketType]]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, pkt[offsetPacketType])
	}
	msg.init(t)
	info, _ := lookupPacketType(t)

	var seen fieldMask
	if err := decodeByte1(pkt, info, msg, &seen); err != nil {
		return err
	}
	msg.SeqNum = uint16(pkt[offsetSeqNum]) | uint16(pkt[offsetSeqNum+1])<<8

	/* Scan the variable-length fields.  Each begins with an identifier
	 * byte and runs to the next separator; data runs to the end of the
	 * packet and stops the scan.
	 */
	type scanState int
	const (
		search scanState = iota
		inField
		done
	)

	var timeStr string
	state := search
	fieldID := byte(0)
	start := 0

	closeField := func(end int) error {
		content := pkt[start:end]
		switch fieldID {
		case fieldIDPath:
			msg.Path = string(content)
			seen |= maskPath
		case fieldIDTime:
			timeStr = string(content)
			seen |= maskTime
		case fieldIDUnits:
			msg.Unit = string(content)
		case fieldIDRecvCount:
			n, err := strconv.Atoi(string(content))
			if err != nil {
				return fmt.Errorf("%w: received count %q", ErrBadCount, content)
			}
			msg.ReceivedCount = n
			seen |= maskRecvCount
		case fieldIDSentCount:
			n, err := strconv.Atoi(string(content))
			if err != nil {
				return fmt.Errorf("%w: sent count %q", ErrBadCount, content)
			}
			msg.SentCount = n
			seen |= maskSentCount
		case fieldIDMTU:
			n, err := strconv.Atoi(string(content))
			if err != nil {
				return fmt.Errorf("%w: mtu %q", ErrBadCount, content)
			}
			msg.MTU = n
			seen |= maskMTU
		}
		return nil
	}

	for i := offsetVarLength; i < len(pkt) && state != done; i++ {
		if state == inField {
			if pkt[i] == varFieldSeparator {
				if err := closeField(i); err != nil {
					return err
				}
				state = search
			}
			continue
		}

		switch pkt[i] {
		case fieldIDPath, fieldIDTime, fieldIDUnits,
			fieldIDRecvCount, fieldIDSentCount, fieldIDMTU:
			fieldID = pkt[i]
			start = i + 1
			state = inField
		case fieldIDData:
			// Data must be the last field; stop scanning immediately.
			msg.Data = pkt[i+1:]
			seen |= maskData
			state = done
		case varFieldSeparator:
			// empty field, keep searching
		default:
			return fmt.Errorf("%w: pkt[%d] = 0x%02X", ErrUnknownField, i, pkt[i])
		}
	}
	if state == inField {
		if err := closeField(len(pkt)); err != nil {
			return err
		}
	}

	// The timestamp string is validated and converted only once the whole
	// field is known.
	if timeStr != "" {
		if !validTimestamp(timeStr) {
			return fmt.Errorf("%w: %q", ErrBadTimestamp, timeStr)
		}
		ts, err := strconv.ParseFloat(timeStr, 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrBadTimestamp, timeStr)
		}
		msg.Timestamp = ts
	}

	if missing := info.required &^ seen; missing != 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, t.Name())
	}
	return nil
}
