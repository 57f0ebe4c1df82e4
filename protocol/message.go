package protocol

import (
	"fmt"
	"strings"
)

// ProtocolVersion selects the codec behavior negotiated during sync.
type ProtocolVersion int

const (
	V1 ProtocolVersion = 0
	V2 ProtocolVersion = 1
)

// PacketType identifies an ORP packet.  Responses carry the request value
// with ResponseMask set.
type PacketType uint8

// ResponseMask distinguishes a response from the request it answers.
const ResponseMask = 0x80

const (
	PacketTypeUnknown PacketType = 0

	RqstInputCreate PacketType = 1
	RespInputCreate PacketType = RqstInputCreate | ResponseMask

	RqstOutputCreate PacketType = 2
	RespOutputCreate PacketType = RqstOutputCreate | ResponseMask

	RqstDelete PacketType = 3
	RespDelete PacketType = RqstDelete | ResponseMask

	RqstHandlerAdd PacketType = 4
	RespHandlerAdd PacketType = RqstHandlerAdd | ResponseMask

	RqstHandlerRemove PacketType = 5
	RespHandlerRemove PacketType = RqstHandlerRemove | ResponseMask

	RqstPush PacketType = 6
	RespPush PacketType = RqstPush | ResponseMask

	RqstGet PacketType = 7
	RespGet PacketType = RqstGet | ResponseMask

	RqstExampleSet PacketType = 8
	RespExampleSet PacketType = RqstExampleSet | ResponseMask

	RqstSensorCreate PacketType = 9
	RespSensorCreate PacketType = RqstSensorCreate | ResponseMask

	RqstSensorRemove PacketType = 10
	RespSensorRemove PacketType = RqstSensorRemove | ResponseMask

	NtfyHandlerCall PacketType = 11
	RespHandlerCall PacketType = NtfyHandlerCall | ResponseMask

	NtfySensorCall PacketType = 12
	RespSensorCall PacketType = NtfySensorCall | ResponseMask

	SyncSyn    PacketType = 13
	SyncSynack PacketType = 14
	SyncAck    PacketType = 15

	RqstFileData PacketType = 16
	RespFileData PacketType = RqstFileData | ResponseMask

	NtfyFileControl PacketType = 17
	RespFileControl PacketType = NtfyFileControl | ResponseMask

	RespUnknownRqst PacketType = 0x80
)

// IsResponse reports whether t answers a request or notification.
func (t PacketType) IsResponse() bool {
	return t&ResponseMask != 0 && t != PacketTypeUnknown
}

func (t PacketType) isSync() bool {
	return t == SyncSyn || t == SyncSynack || t == SyncAck
}

// DataType describes the value carried by a resource.
type DataType int

const (
	DataTypeUndef DataType = iota // not specified
	DataTypeTrigger
	DataTypeBoolean
	DataTypeNumeric
	DataTypeString
	DataTypeJSON
)

// Response status codes.  Zero is the only success.
const (
	StatusOK             = 0
	StatusNotFound       = -1
	StatusNotPossible    = -2 // deprecated
	StatusOutOfRange     = -3
	StatusNoMemory       = -4
	StatusNotPermitted   = -5
	StatusFault          = -6
	StatusCommError      = -7
	StatusTimeout        = -8
	StatusOverflow       = -9
	StatusUnderflow      = -10
	StatusWouldBlock     = -11
	StatusDeadlock       = -12
	StatusFormatError    = -13
	StatusDuplicate      = -14
	StatusBadParameter   = -15
	StatusClosed         = -16
	StatusBusy           = -17
	StatusUnsupported    = -18
	StatusIOError        = -19
	StatusNotImplemented = -20
	StatusUnavailable    = -21
	StatusTerminated     = -22
)

// File transfer event codes, carried in byte 1 of file-control
// notifications.
const (
	EventInfo = iota
	EventReady
	EventPending
	EventStart
	EventSuspend
	EventResume
	EventComplete
	EventAbort
)

// TimestampNone marks an unset timestamp; it is omitted from encoding.
const TimestampNone = float64(-1)

// CountNone marks an unset sync counter or MTU; omitted from encoding.
const CountNone = -1

// Message is the decoded form of an ORP packet.  Which fields are
// meaningful depends on Type: requests carry a data type, responses a
// status, sync packets a version, and file-control notifications an event
// code.
//
// After a decode, Data aliases the receive buffer and is only valid until
// the buffer is reused; copy it to retain it.
type Message struct {
	Type     PacketType
	DataType DataType
	Status   int // response status; OK is the only success
	Version  ProtocolVersion
	Event    int // file-control event code

	SeqNum    uint16  // echoed by the peer, wraps freely
	Timestamp float64 // seconds since epoch, TimestampNone if unset
	Path      string  // resource path in the Data Hub namespace
	Unit      string  // units string, optional
	Data      []byte  // payload, binary permitted on file-data packets

	// Sync-packet counters; CountNone omits a field from encoding.
	SentCount     int
	ReceivedCount int
	MTU           int
}

// NewMessage initializes an outbound message of the given type.
func NewMessage(t PacketType, status int) *Message {
	m := &Message{}
	m.init(t)
	m.Status = status
	return m
}

func (m *Message) init(t PacketType) {
	*m = Message{
		Type:          t,
		Timestamp:     TimestampNone,
		SentCount:     CountNone,
		ReceivedCount: CountNone,
		MTU:           CountNone,
	}
}

// String renders a one-line human-readable summary.
func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s seq:%d", m.Type.Name(), m.SeqNum)
	if m.Type.IsResponse() {
		fmt.Fprintf(&b, " status:%d", m.Status)
	}
	if m.Type.isSync() {
		fmt.Fprintf(&b, " version:%d", int(m.Version))
	}
	if m.Type == NtfyFileControl {
		fmt.Fprintf(&b, " event:%d", m.Event)
	}
	if m.DataType != DataTypeUndef {
		fmt.Fprintf(&b, " dtype:%c", dataTypeLetter(m.DataType))
	}
	if m.Path != "" {
		fmt.Fprintf(&b, " path:%s", m.Path)
	}
	if m.Timestamp != TimestampNone {
		fmt.Fprintf(&b, " time:%f", m.Timestamp)
	}
	if m.Unit != "" {
		fmt.Fprintf(&b, " unit:%s", m.Unit)
	}
	if len(m.Data) > 0 {
		fmt.Fprintf(&b, " dataLen:%d", len(m.Data))
	}
	if m.SentCount != CountNone {
		fmt.Fprintf(&b, " sent:%d", m.SentCount)
	}
	if m.ReceivedCount != CountNone {
		fmt.Fprintf(&b, " received:%d", m.ReceivedCount)
	}
	if m.MTU != CountNone {
		fmt.Fprintf(&b, " mtu:%d", m.MTU)
	}
	return b.String()
}

// Name returns the semantic name of the packet type.
func (t PacketType) Name() string {
	if info, ok := lookupPacketType(t); ok {
		return info.name
	}
	return fmt.Sprintf("unknown(0x%02X)", uint8(t))
}

// byte1Kind selects what the second wire byte carries for a packet type.
// Exactly one applies to each type.
type byte1Kind uint8

const (
	byte1DataType byte1Kind = iota // requests and notifications
	byte1Status                    // responses
	byte1Version                   // sync packets
	byte1Event                     // file-control notifications
)

// fieldMask flags the fields a packet type requires on encode and decode.
type fieldMask uint16

const (
	maskDataType fieldMask = 1 << iota
	maskTime
	maskPath
	maskData
	maskRecvCount
	maskSentCount
	maskMTU
	maskStatus
	maskVersion
	maskEvent
)

type packetTypeInfo struct {
	letter   byte
	name     string
	byte1    byte1Kind
	required fieldMask
}

// Mapping of wire letters to packet types, the byte-1 interpretation, and
// the fields each type requires.
var packetTypeTable = map[PacketType]packetTypeInfo{
	RqstInputCreate: {'I', "request create input", byte1DataType, maskDataType | maskPath},
	RespInputCreate: {'i', "response create input", byte1Status, maskStatus},

	RqstOutputCreate: {'O', "request create output", byte1DataType, maskDataType | maskPath},
	RespOutputCreate: {'o', "response create output", byte1Status, maskStatus},

	RqstDelete: {'D', "request delete resource", byte1DataType, maskPath},
	RespDelete: {'d', "response delete resource", byte1Status, maskStatus},

	RqstHandlerAdd: {'H', "request add handler", byte1DataType, maskPath},
	RespHandlerAdd: {'h', "response add handler", byte1Status, maskStatus},

	RqstHandlerRemove: {'K', "request remove handler", byte1DataType, maskPath},
	RespHandlerRemove: {'k', "response remove handler", byte1Status, maskStatus},

	RqstPush: {'P', "request push", byte1DataType, maskDataType | maskPath},
	RespPush: {'p', "response push", byte1Status, maskStatus},

	RqstGet: {'G', "request get", byte1DataType, maskPath},
	RespGet: {'g', "response get", byte1Status, maskStatus},

	RqstExampleSet: {'E', "request set example", byte1DataType, maskDataType | maskPath},
	RespExampleSet: {'e', "response set example", byte1Status, maskStatus},

	RqstSensorCreate: {'S', "request create sensor", byte1DataType, maskDataType | maskPath},
	RespSensorCreate: {'s', "response create sensor", byte1Status, maskStatus},

	RqstSensorRemove: {'R', "request remove sensor", byte1DataType, maskPath},
	RespSensorRemove: {'r', "response remove sensor", byte1Status, maskStatus},

	NtfyHandlerCall: {'c', "notify handler call", byte1DataType, maskTime | maskPath},
	RespHandlerCall: {'C', "response handler call", byte1Status, maskStatus},

	NtfySensorCall: {'b', "notify sensor call", byte1DataType, maskPath},
	RespSensorCall: {'B', "response sensor call", byte1Status, maskStatus},

	SyncSyn:    {'Y', "sync syn", byte1Version, maskVersion},
	SyncSynack: {'y', "sync synack", byte1Version, maskVersion},
	SyncAck:    {'z', "sync ack", byte1Version, maskVersion},

	RqstFileData: {'T', "request file data", byte1DataType, maskData},
	RespFileData: {'t', "response file data", byte1Status, maskStatus},

	NtfyFileControl: {'L', "notify file control", byte1Event, maskEvent},
	RespFileControl: {'l', "response file control", byte1Status, maskStatus},

	RespUnknownRqst: {'?', "response unknown request", byte1Status, 0},
}

// packetTypeByLetter is the decode-direction index, built once at init.
var packetTypeByLetter = func() map[byte]PacketType {
	byLetter := make(map[byte]PacketType, len(packetTypeTable))
	for t, info := range packetTypeTable {
		byLetter[info.letter] = t
	}
	return byLetter
}()

func lookupPacketType(t PacketType) (packetTypeInfo, bool) {
	info, ok := packetTypeTable[t]
	return info, ok
}

// Mapping of encoded to decoded data types.
var dataTypeLetters = [...]struct {
	letter byte
	dtype  DataType
}{
	{'T', DataTypeTrigger},
	{'B', DataTypeBoolean},
	{'N', DataTypeNumeric},
	{'S', DataTypeString},
	{'J', DataTypeJSON},
	{' ', DataTypeUndef},
}

func dataTypeLetter(d DataType) byte {
	for _, e := range dataTypeLetters {
		if e.dtype == d {
			return e.letter
		}
	}
	return ' '
}

func dataTypeFromLetter(b byte) (DataType, bool) {
	for _, e := range dataTypeLetters {
		if e.letter == b {
			return e.dtype, true
		}
	}
	return DataTypeUndef, false
}

// base36Encode maps 0..35 onto '0'..'9','A'..'Z'; used for the protocol
// version and file-transfer event nibbles.
func base36Encode(v int) (byte, bool) {
	switch {
	case 0 <= v && v <= 9:
		return byte('0' + v), true
	case 10 <= v && v <= 35:
		return byte('A' + v - 10), true
	default:
		return 0, false
	}
}

func base36Decode(b byte) (int, bool) {
	switch {
	case '0' <= b && b <= '9':
		return int(b - '0'), true
	case 'A' <= b && b <= 'Z':
		return int(b-'A') + 10, true
	default:
		return 0, false
	}
}
