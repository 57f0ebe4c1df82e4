// Package protocol implements the Octave Resource Protocol wire format:
// the ASCII packet codec, the asynchronous HDLC framing used on raw serial
// links, and the AT command framing used on modem channels.
package protocol

// Field size limits, taken from the Data Hub io API.
const (
	// PathLenMax is the maximum resource path length in bytes.
	PathLenMax = 79

	// UnitsLenMax is the maximum units string length in bytes.
	UnitsLenMax = 23

	// TimestampLenMax bounds the string form "0000000000.000000".
	TimestampLenMax = 17

	// DataLenMax is the largest data payload the Data Hub accepts.
	DataLenMax = 50000
)

// Maximum combined size of the fixed header plus variable-field
// identifiers and separators, excluding path, timestamp, units and data:
//
//	Push: <type[1]><dtype[1]><seq[2]>T<time>,P<path>,D<data>
//	      1 + 1 + 2 + T + ,P + ,D = 9
const overheadLenMax = 9

// PacketSizeMax is the largest unframed packet the protocol can produce.
const PacketSizeMax = overheadLenMax + PathLenMax + UnitsLenMax + TimestampLenMax + DataLenMax

// FrameSizeMax accommodates a maximum-size packet with every byte escaped.
// Real traffic needs roughly a tenth of that slack; the factor of two
// supports stress testing with all-escapable payloads.
const FrameSizeMax = PacketSizeMax*2 + HDLCOverhead

// PacketLenMin is the fixed header: type, second byte, sequence number.
const PacketLenMin = 4

// Fixed header offsets.
const (
	offsetPacketType = 0
	offsetByte1      = 1
	offsetSeqNum     = 2
	offsetVarLength  = 4
)

// Variable-length field separator.  Strings never contain it; data may,
// which is why data is always the last field.
const varFieldSeparator = ','

// Variable-length field identifiers.
const (
	fieldIDPath      = 'P'
	fieldIDTime      = 'T'
	fieldIDUnits     = 'U'
	fieldIDData      = 'D'
	fieldIDRecvCount = 'R'
	fieldIDSentCount = 'S'
	fieldIDMTU       = 'M'
)

// Response status codes are carried as a single byte, 0x40 minus the code.
const statusBase = 0x40
