// Package config loads client configuration from a YAML file and applies
// defaults for anything left unset.  Command-line flags override file
// values in the CLI layer.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Framing mode names accepted in configuration.
const (
	FramingHDLC = "hdlc"
	FramingAT   = "at"
)

// Config holds everything the client needs to reach a gateway.
type Config struct {
	Device  string `yaml:"device"`   // serial port, e.g. /dev/ttyUSB0
	Baud    int    `yaml:"baud"`     // line speed
	Framing string `yaml:"framing"`  // "hdlc" or "at"
	AutoAck bool   `yaml:"auto_ack"` // acknowledge inbound file data automatically
	Verbose bool   `yaml:"verbose"`  // debug logging
}

// Baud rates the serial layer supports.
var ValidBauds = []int{9600, 38400, 57600, 115200, 460800, 921600}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	applyDefaults(c)
	return c
}

// Load reads a YAML configuration file, fills defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyDefaults(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyDefaults fills in missing values with the original client defaults.
func applyDefaults(c *Config) {
	if c.Device == "" {
		c.Device = "/dev/ttyUSB0"
	}
	if c.Baud == 0 {
		c.Baud = 9600
	}
	if c.Framing == "" {
		c.Framing = FramingHDLC
	}
}

// Validate rejects unsupported baud rates and framing modes.
func (c *Config) Validate() error {
	if c.Framing != FramingHDLC && c.Framing != FramingAT {
		return fmt.Errorf("invalid framing mode %q", c.Framing)
	}
	for _, b := range ValidBauds {
		if c.Baud == b {
			return nil
		}
	}
	return fmt.Errorf("invalid baud rate %d", c.Baud)
}
