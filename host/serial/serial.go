// Package serial abstracts the serial link between the client and the
// Octave gateway.
package serial

import (
	"io"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (using github.com/tarm/serial)
// - Mock serial (for testing)
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate.  The original client defaults to 9600; USB CDC ignores it.
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns a default configuration for an Octave gateway link
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        9600,
		ReadTimeout: 100,
	}
}
