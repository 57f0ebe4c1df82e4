package gateway

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

const (
	fileNameLenMax = 128

	// fileStagingMax bounds the single packet held in RAM while waiting
	// for a manual acknowledgement.
	fileStagingMax = 100 * 1024
)

// FileTransfer accumulates inbound file data.  In auto mode each packet is
// appended to the target file as it arrives and acknowledged immediately;
// in manual mode the last packet is staged in RAM until the caller accepts
// it with a flush.
type FileTransfer struct {
	log *zap.SugaredLogger

	mu       sync.Mutex
	name     string
	auto     bool
	expected int64
	received int64
	staging  []byte
}

// NewFileTransfer returns an idle helper.
func NewFileTransfer(log *zap.SugaredLogger) *FileTransfer {
	return &FileTransfer{
		log:     log,
		staging: make([]byte, 0, fileStagingMax),
	}
}

// Setup prepares for an inbound transfer: records the target file name,
// deleting any previous file of that name, and resets the counters.
func (f *FileTransfer) Setup(name string, size int64, auto bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(name) > fileNameLenMax {
		name = name[:fileNameLenMax]
	}
	f.name = name
	if _, err := os.Stat(name); err == nil {
		if err := os.Remove(name); err != nil {
			f.log.Errorf("failed to remove existing file %s: %v", name, err)
		}
	}

	f.auto = auto
	f.expected = size
	f.received = 0
	f.staging = f.staging[:0]
}

// SetAuto switches the acknowledgement mode.
func (f *FileTransfer) SetAuto(auto bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auto = auto
}

// Auto reports whether file data is acknowledged automatically.
func (f *FileTransfer) Auto() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auto
}

// Received returns the byte count accumulated for the current file.
func (f *FileTransfer) Received() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received
}

// Cache stores one inbound data packet: straight to the file in auto
// mode, into the staging buffer otherwise.  Once the expected byte count
// is reached auto mode turns off, so the final packet is acknowledged
// manually by the caller.
func (f *FileTransfer) Cache(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.auto {
		if err := f.write(data); err != nil {
			f.log.Errorf("failed to write file data: %v", err)
			return
		}
	} else {
		if len(data) > fileStagingMax {
			f.log.Errorf("file data packet of %d bytes exceeds staging buffer", len(data))
			return
		}
		f.staging = append(f.staging[:0], data...)
	}
	f.received += int64(len(data))

	if f.expected > 0 && f.received >= f.expected {
		f.auto = false
	}
}

// Flush commits the staged packet to the file.  Called when the user
// accepts a file-data packet; does nothing in auto mode.
func (f *FileTransfer) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.auto || len(f.staging) == 0 {
		return
	}
	if err := f.write(f.staging); err != nil {
		f.log.Errorf("failed to flush file data: %v", err)
		return
	}
	f.staging = f.staging[:0]
}

// write appends data to the target file, creating it on first use.  The
// file is opened and closed per packet so a crash never loses more than
// the packet in flight.
func (f *FileTransfer) write(data []byte) error {
	if f.name == "" || len(data) == 0 {
		return nil
	}

	file, err := os.OpenFile(f.name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o660)
	if err != nil {
		return err
	}
	defer file.Close()

	for len(data) > 0 {
		n, err := file.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
