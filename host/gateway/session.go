// Package gateway implements the client side of an Octave Resource
// Protocol session: it owns the transmit and receive buffers, drives
// inbound bytes through the deframer and decoder, and serializes outbound
// messages onto the transport.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SierraWireless/octave-orp/protocol"
)

// Framing selects how packets are wrapped on the wire.  The two modes are
// mutually exclusive within a session.
type Framing int

const (
	FramingHDLC Framing = iota
	FramingAT
)

// Dispatch receives every successfully decoded inbound message.  The
// message's Data field aliases the session receive buffer and must be
// copied to outlive the callback.
type Dispatch func(*protocol.Message)

// keepAliveDefault spaces the preamble bytes which stop USB-to-serial
// converters from suspending the bus.  Anything under five seconds works.
const keepAliveDefault = 3 * time.Second

// Option configures a Session.
type Option func(*Session)

// WithFraming selects HDLC (default) or AT framing.
func WithFraming(f Framing) Option {
	return func(s *Session) { s.framing = f }
}

// WithVersion selects the protocol version; V1 is the default.
func WithVersion(v protocol.ProtocolVersion) Option {
	return func(s *Session) { s.version = v }
}

// WithLogger attaches a logger; the default discards output.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Session) { s.log = l }
}

// WithAutoAck enables automatic acknowledgement of inbound file data.
func WithAutoAck(auto bool) Option {
	return func(s *Session) { s.autoAck = auto }
}

// WithKeepAlive overrides the keep-alive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Session) { s.keepAlive = d }
}

// Session is an ORP client connection to a gateway.  All connection state
// lives here; separate sessions are fully independent.
//
// Send-side methods are safe to call concurrently with the receive loop.
// The receive buffers have a single owner: either Run or direct Feed
// calls, never both.
type Session struct {
	port     io.ReadWriteCloser
	codec    protocol.Codec
	version  protocol.ProtocolVersion
	framing  Framing
	dispatch Dispatch
	log      *zap.SugaredLogger

	rxFrame     []byte
	rxFrameLen  int
	rxPacket    []byte
	rxPacketLen int
	rxCtx       protocol.HDLCContext

	txPacket []byte
	txFrame  []byte

	transfer  *FileTransfer
	autoAck   bool
	keepAlive time.Duration

	seq     uint16
	writeMu sync.Mutex
}

// NewSession creates a session over an open transport.  The dispatch
// callback is mandatory: every decoded inbound message is handed to it.
func NewSession(port io.ReadWriteCloser, dispatch Dispatch, opts ...Option) (*Session, error) {
	if port == nil {
		return nil, errors.New("gateway: transport is required")
	}
	if dispatch == nil {
		return nil, errors.New("gateway: dispatch callback is required")
	}

	s := &Session{
		port:      port,
		version:   protocol.V1,
		framing:   FramingHDLC,
		dispatch:  dispatch,
		log:       zap.NewNop().Sugar(),
		keepAlive: keepAliveDefault,
	}
	for _, o := range opts {
		o(s)
	}

	codec, err := protocol.NewCodec(s.version)
	if err != nil {
		return nil, err
	}
	s.codec = codec

	s.rxFrame = make([]byte, protocol.FrameSizeMax)
	s.rxPacket = make([]byte, protocol.PacketSizeMax)
	s.txPacket = make([]byte, protocol.PacketSizeMax)
	s.txFrame = make([]byte, protocol.FrameSizeMax)
	s.rxCtx.Init()

	s.transfer = NewFileTransfer(s.log)
	s.transfer.SetAuto(s.autoAck)

	return s, nil
}

// Transfer returns the file-transfer helper bound to this session.
func (s *Session) Transfer() *FileTransfer {
	return s.transfer
}

// Close closes the underlying transport.
func (s *Session) Close() error {
	return s.port.Close()
}

// Send encodes, frames, and transmits a message.  The sequence number is
// assigned here; the peer echoes it but no matching is performed.
func (s *Session) Send(msg *protocol.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg.SeqNum = s.seq
	s.seq++

	n, err := s.codec.Encode(s.txPacket, msg)
	if err != nil {
		return fmt.Errorf("failed to encode packet: %w", err)
	}

	var frameLen int
	if s.framing == FramingAT {
		frameLen, err = protocol.ATPack(s.txFrame, s.txPacket[:n])
	} else {
		frameLen, err = s.enframe(s.txFrame, s.txPacket[:n])
	}
	if err != nil {
		return fmt.Errorf("failed to frame packet: %w", err)
	}

	s.log.Debugf("sending %s (%d framed bytes)", msg, frameLen)
	return s.write(s.txFrame[:frameLen])
}

// enframe packs a packet into an HDLC frame.  Each transmit uses a
// transient context; only the receive context persists across calls.
func (s *Session) enframe(frame, pkt []byte) (int, error) {
	var ctx protocol.HDLCContext
	ctx.Init()

	written, consumed := ctx.Pack(frame, pkt)
	if consumed < len(pkt) {
		return 0, fmt.Errorf("frame buffer too small (loaded %d/%d)", consumed, len(pkt))
	}
	n, err := ctx.Finalize(frame[written:])
	if err != nil {
		return 0, err
	}
	return written + n, nil
}

func (s *Session) write(p []byte) error {
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return fmt.Errorf("transport write failed: %w", err)
		}
		p = p[n:]
	}
	return nil
}

// Feed pushes received transport bytes into the session.  Any chunking is
// acceptable, down to a single byte; partial frames are preserved until
// the rest arrives.  In AT mode the transport carries modem result text,
// which is surfaced verbatim.
func (s *Session) Feed(p []byte) {
	if s.framing == FramingAT {
		s.log.Infof("gateway: %s", p)
		return
	}

	for len(p) > 0 {
		n := copy(s.rxFrame[s.rxFrameLen:], p)
		if n == 0 {
			// a frame larger than the buffer cannot ever complete
			s.log.Errorf("frame buffer overflow, discarding %d bytes", s.rxFrameLen)
			s.rxFrameLen = 0
			s.resetReceive()
			continue
		}
		s.rxFrameLen += n
		p = p[n:]

		consumed := s.deframe(s.rxFrame[:s.rxFrameLen])
		s.rxFrameLen -= consumed
		if s.rxFrameLen > 0 && consumed > 0 {
			// preserve the partial frame for the next read
			copy(s.rxFrame, s.rxFrame[consumed:consumed+s.rxFrameLen])
		}
	}
}

// deframe runs the deframer over buf, decoding and dispatching each
// completed packet.  It returns how many bytes of buf were consumed.
// Framing, CRC, and decode errors drop the affected frame and recover at
// the next delimiter.
func (s *Session) deframe(buf []byte) int {
	consumed := 0
	ackFileData := false

	for consumed < len(buf) {
		emitted, n, err := s.rxCtx.Unpack(s.rxPacket[s.rxPacketLen:], buf[consumed:])
		consumed += n
		if err != nil {
			s.log.Warnf("frame dropped: %v", err)
			s.resetReceive()
			continue
		}
		s.rxPacketLen += emitted

		if !s.rxCtx.Done() {
			if s.rxPacketLen == len(s.rxPacket) {
				s.log.Warnf("frame dropped: packet exceeds %d bytes", len(s.rxPacket))
				s.resetReceive()
				continue
			}
			break
		}

		var msg protocol.Message
		if err := s.codec.Decode(s.rxPacket[:s.rxPacketLen], &msg); err != nil {
			s.log.Warnf("packet dropped: %v", err)
		} else {
			s.log.Debugf("received %s", &msg)
			if msg.Type == protocol.RqstFileData && len(msg.Data) > 0 {
				// Cache may switch auto mode off once the expected size is
				// reached; the packet that does so is acknowledged manually.
				s.transfer.Cache(msg.Data)
				if s.transfer.Auto() {
					ackFileData = true
				}
			}
			s.dispatch(&msg)
		}
		s.resetReceive()
	}

	if ackFileData {
		if err := s.Respond(protocol.RespFileData, protocol.StatusOK); err != nil {
			s.log.Errorf("failed to acknowledge file data: %v", err)
		}
	}
	return consumed
}

func (s *Session) resetReceive() {
	s.rxCtx.Init()
	s.rxPacketLen = 0
}

var preamble = []byte{'~'}

// Run owns the transport until ctx is canceled or the peer hangs up.  A
// reader goroutine feeds inbound bytes through the pipeline while the
// keep-alive ticker writes a preamble byte, itself an HDLC flag octet the
// deframer ignores.
func (s *Session) Run(ctx context.Context) error {
	readErr := make(chan error, 1)
	go func() { readErr <- s.readLoop(ctx) }()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case <-ticker.C:
			s.writeMu.Lock()
			_, err := s.port.Write(preamble)
			s.writeMu.Unlock()
			if err != nil {
				s.log.Warnf("keep-alive write failed: %v", err)
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := s.port.Read(buf)
		if n > 0 {
			s.Feed(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// peer hangup
				return nil
			}
			// the serial line may be flaky; log and keep reading
			s.log.Warnf("transport read failed: %v", err)
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// CreateResource creates an input or output resource in the Data Hub.
func (s *Session) CreateResource(isInput bool, path string, dataType protocol.DataType, units string) error {
	t := protocol.RqstOutputCreate
	if isInput {
		t = protocol.RqstInputCreate
	}
	msg := protocol.NewMessage(t, protocol.StatusOK)
	msg.Path = path
	msg.DataType = dataType
	msg.Unit = units
	return s.Send(msg)
}

// CreateSensor creates a polled sensor in the Data Hub.
func (s *Session) CreateSensor(path string, dataType protocol.DataType, units string) error {
	msg := protocol.NewMessage(protocol.RqstSensorCreate, protocol.StatusOK)
	msg.Path = path
	msg.DataType = dataType
	msg.Unit = units
	return s.Send(msg)
}

// DeleteResource deletes a resource.
func (s *Session) DeleteResource(path string) error {
	msg := protocol.NewMessage(protocol.RqstDelete, protocol.StatusOK)
	msg.Path = path
	return s.Send(msg)
}

// RemoveSensor removes a sensor.
func (s *Session) RemoveSensor(path string) error {
	msg := protocol.NewMessage(protocol.RqstSensorRemove, protocol.StatusOK)
	msg.Path = path
	return s.Send(msg)
}

// AddHandler registers for push notifications on a resource.
func (s *Session) AddHandler(path string) error {
	msg := protocol.NewMessage(protocol.RqstHandlerAdd, protocol.StatusOK)
	msg.Path = path
	return s.Send(msg)
}

// RemoveHandler deregisters a push handler.
func (s *Session) RemoveHandler(path string) error {
	msg := protocol.NewMessage(protocol.RqstHandlerRemove, protocol.StatusOK)
	msg.Path = path
	return s.Send(msg)
}

// Push sends a string-encoded data sample.
func (s *Session) Push(path string, dataType protocol.DataType, timestamp float64, value []byte) error {
	msg := protocol.NewMessage(protocol.RqstPush, protocol.StatusOK)
	msg.Path = path
	msg.DataType = dataType
	msg.Timestamp = timestamp
	msg.Data = value
	return s.Send(msg)
}

// Get requests the current value of a resource.
func (s *Session) Get(path string) error {
	msg := protocol.NewMessage(protocol.RqstGet, protocol.StatusOK)
	msg.Path = path
	return s.Send(msg)
}

// SetJSONExample sets the example value for a JSON input resource.
func (s *Session) SetJSONExample(path string, example []byte) error {
	msg := protocol.NewMessage(protocol.RqstExampleSet, protocol.StatusOK)
	msg.Path = path
	msg.DataType = protocol.DataTypeJSON
	msg.Data = example
	return s.Send(msg)
}

// Respond answers a notification or unsolicited packet.  Accepting file
// data with an OK status commits any staged bytes to disk first.
func (s *Session) Respond(t protocol.PacketType, status int) error {
	switch t {
	case protocol.RespHandlerCall, protocol.RespSensorCall, protocol.RespFileControl:
	case protocol.RespFileData:
		if status == protocol.StatusOK {
			s.transfer.Flush()
		}
	default:
		return fmt.Errorf("gateway: %s is not a reply type", t.Name())
	}
	return s.Send(protocol.NewMessage(t, status))
}

// SendSync sends a sync handshake packet.  Counters and MTU set to
// protocol.CountNone are omitted; they only appear on the wire under V2.
func (s *Session) SendSync(t protocol.PacketType, version protocol.ProtocolVersion, sent, received, mtu int) error {
	switch t {
	case protocol.SyncSyn, protocol.SyncSynack, protocol.SyncAck:
	default:
		return fmt.Errorf("gateway: %s is not a sync type", t.Name())
	}
	msg := protocol.NewMessage(t, protocol.StatusOK)
	msg.Version = version
	msg.SentCount = sent
	msg.ReceivedCount = received
	msg.MTU = mtu
	return s.Send(msg)
}

// NotifyFileControl sends a file transfer control notification.
func (s *Session) NotifyFileControl(event int, data []byte) error {
	msg := protocol.NewMessage(protocol.NtfyFileControl, protocol.StatusOK)
	msg.Event = event
	msg.Data = data
	return s.Send(msg)
}

// SendFileData sends outbound file transfer data.
func (s *Session) SendFileData(data []byte) error {
	msg := protocol.NewMessage(protocol.RqstFileData, protocol.StatusOK)
	msg.Data = data
	return s.Send(msg)
}
