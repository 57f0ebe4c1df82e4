package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Device != "/dev/ttyUSB0" {
		t.Errorf("Device = %q", c.Device)
	}
	if c.Baud != 9600 {
		t.Errorf("Baud = %d, want 9600", c.Baud)
	}
	if c.Framing != FramingHDLC {
		t.Errorf("Framing = %q, want hdlc", c.Framing)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orp.yaml")
	content := "device: /dev/ttyACM1\nbaud: 115200\nframing: at\nauto_ack: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Device != "/dev/ttyACM1" || c.Baud != 115200 || c.Framing != FramingAT || !c.AutoAck {
		t.Errorf("loaded config = %+v", c)
	}
}

func TestLoadPartialGetsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orp.yaml")
	if err := os.WriteFile(path, []byte("device: /dev/ttyS3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Baud != 9600 || c.Framing != FramingHDLC {
		t.Errorf("defaults not applied: %+v", c)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
		ok   bool
	}{
		{"valid", func(c *Config) {}, true},
		{"bad baud", func(c *Config) { c.Baud = 1200 }, false},
		{"bad framing", func(c *Config) { c.Framing = "slip" }, false},
		{"highest baud", func(c *Config) { c.Baud = 921600 }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mod(c)
			err := c.Validate()
			if tc.ok && err != nil {
				t.Errorf("Validate failed: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}
