// Command orp is an interactive command-line client for the Octave
// Resource Protocol.  It speaks to an Octave gateway over a serial link
// and exposes the protocol operations as line-oriented commands.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/SierraWireless/octave-orp/config"
	"github.com/SierraWireless/octave-orp/host/gateway"
	"github.com/SierraWireless/octave-orp/host/serial"
	"github.com/SierraWireless/octave-orp/log"
	"github.com/SierraWireless/octave-orp/protocol"
)

func main() {
	app := &cli.App{
		Name:  "orp",
		Usage: "Octave Resource Protocol serial client",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "device", Aliases: []string{"d"}, Usage: "serial port (e.g. /dev/ttyUSB0)"},
			&cli.IntFlag{Name: "baud", Aliases: []string{"b"}, Usage: "baud rate"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
			&cli.BoolFlag{Name: "at", Usage: "use AT+ORP command framing instead of HDLC"},
			&cli.BoolFlag{Name: "auto-ack", Usage: "acknowledge inbound file data automatically"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
	}
	if c.IsSet("device") {
		cfg.Device = c.String("device")
	}
	if c.IsSet("baud") {
		cfg.Baud = c.Int("baud")
	}
	if c.Bool("at") {
		cfg.Framing = config.FramingAT
	}
	if c.Bool("auto-ack") {
		cfg.AutoAck = true
	}
	if c.Bool("verbose") {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.New(cfg.Verbose)
	defer func() { _ = logger.Sync() }()

	port, err := serial.Open(&serial.Config{Device: cfg.Device, Baud: cfg.Baud})
	if err != nil {
		return err
	}

	framing := gateway.FramingHDLC
	if cfg.Framing == config.FramingAT {
		framing = gateway.FramingAT
	}

	session, err := gateway.NewSession(port, printMessage,
		gateway.WithFraming(framing),
		gateway.WithAutoAck(cfg.AutoAck),
		gateway.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	go func() {
		if err := session.Run(ctx); err != nil {
			logger.Errorf("session stopped: %v", err)
		}
	}()

	fmt.Println("ORP Serial Client - \"help\" for commands, \"quit\" to exit")
	fmt.Printf("using device: %s, baud: %d\n", cfg.Device, cfg.Baud)

	repl(session)
	return nil
}

// printMessage is the session dispatch callback: every decoded inbound
// message lands here.
func printMessage(msg *protocol.Message) {
	fmt.Printf("\nReceived: %s\n\norp > ", msg)
}

func repl(s *gateway.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("orp > ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !commandDispatch(s, line) {
			fmt.Println("Exiting")
			return
		}
	}
}
