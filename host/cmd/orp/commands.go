package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/SierraWireless/octave-orp/host/gateway"
	"github.com/SierraWireless/octave-orp/protocol"
)

const helpText = `Syntax:
	help
	quit
	create input|output|sensor trig|bool|num|str|json <path> [<units>]
	delete resource|handler|sensor <path>
	add handler <path>
	push trig|bool|num|str|json <path> <timestamp> [<data>]
	     (note: if <timestamp> = 0, the current time is used)
	get <path>
	example json <path> [<data>]
	reply handler|sensor|control|data <status>
	sync syn|synack|ack [-v <version>] [-s <sent>] [-r <received>] [-m <mtu>]
	file control info|ready|pending|start|suspend|resume|abort [<name-or-data>] [-a <size>] [-f <local>]
	file data <bytes>
`

// commandDispatch parses and runs one command line.  It returns false only
// when the user asks to quit.
func commandDispatch(s *gateway.Session, line string) bool {
	args, err := shlex.Split(line)
	if err != nil {
		fmt.Printf("Invalid command line: %v\n", err)
		return true
	}
	if len(args) == 0 {
		return true
	}

	cmd := strings.ToLower(args[0])
	args = args[1:]

	switch cmd {
	case "quit", "exit", "q":
		return false
	case "help", "?":
		fmt.Print(helpText)
	case "create":
		commandCreate(s, args)
	case "delete":
		commandDelete(s, args)
	case "add":
		commandAdd(s, args)
	case "push":
		commandPush(s, args)
	case "get":
		commandGet(s, args)
	case "example":
		commandExample(s, args)
	case "reply":
		commandReply(s, args)
	case "sync":
		commandSync(s, args)
	case "file":
		commandFile(s, args)
	default:
		fmt.Printf("Unrecognized command: %s (type 'help' for syntax)\n", cmd)
	}
	return true
}

// dataTypeRead converts a trig|bool|num|str|json argument.
func dataTypeRead(arg string) (protocol.DataType, bool) {
	if arg == "" {
		return protocol.DataTypeUndef, false
	}
	switch arg[0] | 0x20 {
	case 't':
		return protocol.DataTypeTrigger, true
	case 'b':
		return protocol.DataTypeBoolean, true
	case 'n':
		return protocol.DataTypeNumeric, true
	case 's':
		return protocol.DataTypeString, true
	case 'j':
		return protocol.DataTypeJSON, true
	}
	fmt.Printf("Invalid data type: %s\n", arg)
	return protocol.DataTypeUndef, false
}

func checkPath(path string) bool {
	if path == "" {
		fmt.Println("Invalid path argument")
		return false
	}
	return true
}

func report(err error) {
	if err != nil {
		fmt.Printf("Request failed: %v\n", err)
	}
}

/* Create a resource:
 * > create input|output|sensor trig|bool|num|str|json <path> [<units>]
 */
func commandCreate(s *gateway.Session, args []string) {
	if len(args) < 3 || len(args) > 4 {
		fmt.Printf("Invalid number of arguments %d\n", len(args))
		return
	}
	dataType, ok := dataTypeRead(args[1])
	if !ok {
		return
	}
	path := args[2]
	if !checkPath(path) {
		return
	}
	units := ""
	if len(args) == 4 {
		units = args[3]
	}

	switch strings.ToLower(args[0]) {
	case "input":
		report(s.CreateResource(true, path, dataType, units))
	case "output":
		report(s.CreateResource(false, path, dataType, units))
	case "sensor":
		report(s.CreateSensor(path, dataType, units))
	default:
		fmt.Printf("Invalid resource type %s\n", args[0])
	}
}

/* Delete a resource, handler, or sensor:
 * > delete resource|handler|sensor <path>
 */
func commandDelete(s *gateway.Session, args []string) {
	if len(args) != 2 {
		fmt.Printf("Invalid number of arguments %d\n", len(args))
		return
	}
	path := args[1]
	if !checkPath(path) {
		return
	}

	switch strings.ToLower(args[0]) {
	case "resource":
		report(s.DeleteResource(path))
	case "handler":
		report(s.RemoveHandler(path))
	case "sensor":
		report(s.RemoveSensor(path))
	default:
		fmt.Printf("Unrecognized type: %s\n", args[0])
	}
}

/* Add a push handler on a resource:
 * > add handler <path>
 */
func commandAdd(s *gateway.Session, args []string) {
	if len(args) != 2 {
		fmt.Printf("Invalid number of arguments %d\n", len(args))
		return
	}
	if strings.ToLower(args[0]) != "handler" {
		fmt.Printf("Unrecognized type: %s\n", args[0])
		return
	}
	path := args[1]
	if !checkPath(path) {
		return
	}
	report(s.AddHandler(path))
}

/* Push a value to a resource:
 * > push trig|bool|num|str|json <path> <timestamp> [<data>]
 */
func commandPush(s *gateway.Session, args []string) {
	if len(args) < 3 {
		fmt.Printf("Invalid number of arguments %d\n", len(args))
		return
	}
	dataType, ok := dataTypeRead(args[0])
	if !ok {
		return
	}
	path := args[1]
	if !checkPath(path) {
		return
	}
	timestamp, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		fmt.Printf("Invalid timestamp %s\n", args[2])
		return
	}
	if timestamp == 0 {
		timestamp = float64(time.Now().UnixMicro()) / 1e6
	}

	// data may contain spaces; everything after the timestamp is payload
	var data []byte
	if len(args) > 3 {
		data = []byte(strings.Join(args[3:], " "))
	}
	report(s.Push(path, dataType, timestamp, data))
}

/* Get the value of a resource:
 * > get <path>
 */
func commandGet(s *gateway.Session, args []string) {
	if len(args) != 1 {
		fmt.Printf("Invalid number of arguments %d\n", len(args))
		return
	}
	if !checkPath(args[0]) {
		return
	}
	report(s.Get(args[0]))
}

/* Set the example value of a JSON input resource:
 * > example json <path> [<data>]
 */
func commandExample(s *gateway.Session, args []string) {
	if len(args) < 2 {
		fmt.Printf("Invalid number of arguments %d\n", len(args))
		return
	}
	if dataType, ok := dataTypeRead(args[0]); !ok || dataType != protocol.DataTypeJSON {
		fmt.Println("Example values are JSON only")
		return
	}
	path := args[1]
	if !checkPath(path) {
		return
	}
	var data []byte
	if len(args) > 2 {
		data = []byte(strings.Join(args[2:], " "))
	}
	report(s.SetJSONExample(path, data))
}

/* Respond to a notification or unsolicited packet:
 * > reply handler|sensor|control|data <status>
 */
func commandReply(s *gateway.Session, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Printf("Invalid number of arguments %d\n", len(args))
		return
	}
	status := protocol.StatusOK
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Printf("Invalid status %s\n", args[1])
			return
		}
		status = n
	}

	var replyType protocol.PacketType
	switch strings.ToLower(args[0]) {
	case "handler":
		replyType = protocol.RespHandlerCall
	case "sensor":
		replyType = protocol.RespSensorCall
	case "control":
		replyType = protocol.RespFileControl
	case "data":
		replyType = protocol.RespFileData
	default:
		fmt.Printf("Unknown response type %s\n", args[0])
		return
	}
	report(s.Respond(replyType, status))
}

/* Send a sync handshake packet:
 * > sync syn|synack|ack [-v <version>] [-s <sent>] [-r <received>] [-m <mtu>]
 */
func commandSync(s *gateway.Session, args []string) {
	if len(args) < 1 {
		fmt.Printf("Invalid number of arguments %d\n", len(args))
		return
	}

	var syncType protocol.PacketType
	switch strings.ToLower(args[0]) {
	case "syn":
		syncType = protocol.SyncSyn
	case "synack":
		syncType = protocol.SyncSynack
	case "ack":
		syncType = protocol.SyncAck
	default:
		fmt.Printf("Unknown sync type %s\n", args[0])
		return
	}

	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	version := fs.Int("v", int(protocol.V2), "protocol version")
	sent := fs.Int("s", protocol.CountNone, "sent packet count")
	received := fs.Int("r", protocol.CountNone, "received packet count")
	mtu := fs.Int("m", protocol.CountNone, "maximum transfer unit")
	if err := fs.Parse(args[1:]); err != nil {
		return
	}

	report(s.SendSync(syncType, protocol.ProtocolVersion(*version), *sent, *received, *mtu))
}

// eventRead converts a file-control event name to its code.
func eventRead(arg string) (int, bool) {
	switch strings.ToLower(arg) {
	case "info":
		return protocol.EventInfo, true
	case "ready":
		return protocol.EventReady, true
	case "pending":
		return protocol.EventPending, true
	case "start":
		return protocol.EventStart, true
	case "suspend":
		return protocol.EventSuspend, true
	case "resume":
		return protocol.EventResume, true
	case "complete":
		return protocol.EventComplete, true
	case "abort":
		return protocol.EventAbort, true
	}
	fmt.Printf("Unknown file event %s\n", arg)
	return 0, false
}

/* File transfer commands:
 * > file control info|ready|pending|start|... [<name-or-data>] [-a <size>] [-f <local>]
 * > file data <bytes>
 */
func commandFile(s *gateway.Session, args []string) {
	if len(args) < 1 {
		fmt.Printf("Invalid number of arguments %d\n", len(args))
		return
	}

	switch strings.ToLower(args[0]) {
	case "control":
		commandFileControl(s, args[1:])
	case "data":
		if len(args) < 2 {
			fmt.Println("Missing file data")
			return
		}
		report(s.SendFileData([]byte(strings.Join(args[1:], " "))))
	default:
		fmt.Printf("Unknown file command %s\n", args[0])
	}
}

func commandFileControl(s *gateway.Session, args []string) {
	if len(args) < 1 {
		fmt.Println("Missing file control event")
		return
	}
	event, ok := eventRead(args[0])
	if !ok {
		return
	}
	args = args[1:]

	// optional positional payload before the flags
	payload := ""
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		payload = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet("file control", flag.ContinueOnError)
	size := fs.Int64("a", 0, "expected size; enables auto acknowledgement")
	local := fs.String("f", "", "local file name to store inbound data")
	if err := fs.Parse(args); err != nil {
		return
	}

	// Starting a transfer configures local storage before notifying the
	// gateway; -a turns auto acknowledgement on for the expected bytes.
	if event == protocol.EventStart {
		name := *local
		if name == "" {
			name = payload
		}
		if name != "" {
			s.Transfer().Setup(name, *size, *size > 0)
		}
	}

	var data []byte
	if payload != "" {
		data = []byte(payload)
	}
	report(s.NotifyFileControl(event, data))
}
