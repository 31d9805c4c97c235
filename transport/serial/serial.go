// Package serial implements the SLIP-over-serial/USB-CDC transport
// (spec §4.5.1), grounded on the teacher's ESP32Flasher port handling
// (sxwebdev-esp32flasher/esp32_protocol.go, esp32_flasher.go) and
// generalized from one hardcoded chip to the full target table.
package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"espflasher"
)

// Reset strap timing, externally configured per spec §4.6 but given
// teacher-matching defaults here (sxwebdev-esp32flasher's hardcoded
// hardReset/hardResetInverted delays).
const (
	DefaultResetHoldTimeMs = 100
	DefaultBootHoldTimeMs  = 50
	DefaultBaudRate        = 115200
)

// ResetStrategy toggles DTR/RTS in one of the patterns ESP boards use
// to enter the ROM bootloader, mirroring the teacher's enterBootloader
// fallback chain (hardReset, hardResetInverted, alternativeReset,
// aggressiveReset).
type ResetStrategy int

const (
	ResetHard ResetStrategy = iota
	ResetHardInverted
	ResetAlternative
	ResetAggressive
)

// Config configures a Transport at Open time.
type Config struct {
	PortName string
	BaudRate int
	// Strategies lists reset strategies; empty defaults to all four in
	// the teacher's original order. EnterBootloader uses only the first
	// entry; the others are not tried.
	Strategies []ResetStrategy
}

// Transport is the SLIP-over-serial binding of espflasher.SerialLink.
type Transport struct {
	port   serial.Port
	cfg    Config
	closed bool
}

// Ports lists serial port device names available on this host,
// mirroring the teacher's App.ListPorts convenience (go.bug.st/serial.GetPortsList).
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// Open opens and configures the serial port at cfg.BaudRate (or
// DefaultBaudRate when zero).
func Open(cfg Config) (*Transport, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.PortName, err)
	}
	cfg.BaudRate = baud
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = []ResetStrategy{ResetHard, ResetHardInverted, ResetAlternative, ResetAggressive}
	}
	return &Transport{port: port, cfg: cfg}, nil
}

func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}

// Read implements espflasher.SerialLink.
func (t *Transport) Read(buf []byte, timeout time.Duration) (int, espflasher.Result) {
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return 0, espflasher.ResultFailure
	}
	n, err := t.port.Read(buf)
	if err != nil {
		return n, espflasher.ResultFailure
	}
	if n == 0 {
		return 0, espflasher.ResultTimeout
	}
	return n, espflasher.ResultOK
}

// Write implements espflasher.SerialLink.
func (t *Transport) Write(buf []byte, timeout time.Duration) (int, espflasher.Result) {
	n, err := t.port.Write(buf)
	if err != nil {
		return n, espflasher.ResultFailure
	}
	return n, espflasher.ResultOK
}

// ReadByte adapts Transport to internal/slip.ByteReader, reading one
// byte under a fixed short per-byte timeout; it does not follow the
// session's deadline.
func (t *Transport) ReadByte() (byte, error) {
	var b [1]byte
	n, res := t.Read(b[:], 100*time.Millisecond)
	if res != espflasher.ResultOK || n != 1 {
		return 0, fmt.Errorf("serial: read byte: %v", res)
	}
	return b[0], nil
}

// EnterBootloader strobes DTR/RTS with the first configured reset
// strategy, on every call. It does not step through the remaining
// strategies of the teacher's enterBootloader fallback chain.
func (t *Transport) EnterBootloader() error {
	return t.strobe(t.cfg.Strategies[0])
}

// ResetTarget performs a plain hardware reset (RTS pulse with GPIO0 left
// floating), used by reset_target() and end-of-session cleanup.
func (t *Transport) ResetTarget() error {
	if err := t.port.SetRTS(true); err != nil {
		return err
	}
	time.Sleep(DefaultResetHoldTimeMs * time.Millisecond)
	return t.port.SetRTS(false)
}

func (t *Transport) strobe(strategy ResetStrategy) error {
	switch strategy {
	case ResetHard:
		return t.strobeSequence(true, true, false, true)
	case ResetHardInverted:
		return t.strobeSequence(false, false, true, false)
	case ResetAlternative:
		return t.strobeSequence(true, false, false, true)
	case ResetAggressive:
		return t.strobeSequence(false, true, true, false)
	default:
		return fmt.Errorf("serial: unknown reset strategy %d", strategy)
	}
}

// strobeSequence pulses DTR (boot-mode strap) then RTS (reset), with
// the hold/settle timing the teacher's variants used.
func (t *Transport) strobeSequence(dtr0, rts0, dtr1, rts1 bool) error {
	if err := t.port.SetDTR(dtr0); err != nil {
		return err
	}
	if err := t.port.SetRTS(rts0); err != nil {
		return err
	}
	time.Sleep(DefaultBootHoldTimeMs * time.Millisecond)
	if err := t.port.SetDTR(dtr1); err != nil {
		return err
	}
	if err := t.port.SetRTS(rts1); err != nil {
		return err
	}
	time.Sleep(DefaultResetHoldTimeMs * time.Millisecond)
	return nil
}

// ChangeBitrate closes and reopens the port at newBaud, mirroring the
// teacher's SetBaudRate (esp32_flasher.go). For bit rates the host
// termios tables don't cover (ESP32-C2/C3 oddities), setCustomBaud is
// tried first; see baud_linux.go / baud_other.go.
func (t *Transport) ChangeBitrate(newBaud int) error {
	if err := setCustomBaud(t.port, newBaud); err == nil {
		t.cfg.BaudRate = newBaud
		return nil
	}

	if err := t.port.Close(); err != nil {
		return fmt.Errorf("serial: close before rebaud: %w", err)
	}
	mode := &serial.Mode{BaudRate: newBaud, Parity: serial.NoParity, DataBits: 8, StopBits: serial.OneStopBit}
	port, err := serial.Open(t.cfg.PortName, mode)
	if err != nil {
		return fmt.Errorf("serial: reopen at %d baud: %w", newBaud, err)
	}
	t.port = port
	t.cfg.BaudRate = newBaud
	return nil
}
