// Package spi implements the SPI-slave transport (spec §4.5.3),
// grounded on original_source/src/protocol_spi.c. Raw SPI
// transaction I/O (chip-select toggling, clocking bytes in/out) is
// board-support territory (spec §1 Out of scope) and supplied by the
// caller through the Host interface; this package owns the preamble
// framing and toggle-bit flow control on top of it.
package spi

import (
	"fmt"
	"time"

	"espflasher"
)

// Transaction preamble command bytes (protocol_spi.c transaction_cmd_t).
const (
	CmdWrBuf   byte = 0x01
	CmdRdBuf   byte = 0x02
	CmdWrDMA   byte = 0x03
	CmdRdDMA   byte = 0x04
	CmdSegDone byte = 0x05
	CmdEnQPI   byte = 0x06
	CmdWrDone  byte = 0x07
	Cmd8       byte = 0x08
	Cmd9       byte = 0x09
	CmdA       byte = 0x0A
	CmdExQPI   byte = 0xDD
)

// Slave register addresses within the buffer window.
const (
	RegVer   uint32 = 0
	RegRXSTA uint32 = 4
	RegTXSTA uint32 = 8
	RegCMD   uint32 = 12
)

// Status bits shared by RXSTA/TXSTA.
const (
	StatusToggleBit  = 1 << 0
	StatusInitBit    = 1 << 1
	StatusBufLenShift = 2
)

// Handshake command bytes (protocol_spi.c slave_cmd_t).
const (
	SlaveIdle      byte = 0xAA
	SlaveReady     byte = 0xA5
	SlaveReboot    byte = 0xFE
	SlaveCommReinit byte = 0x5A
	SlaveDone      byte = 0x55
)

// Host is the board-support surface this package needs: a raw 3-byte
// preamble + payload SPI exchange and chip-select control, supplied by
// the caller (spec §1 Out of scope: SPI driver binding).
type Host interface {
	Transact(preamble [3]byte, out []byte, in []byte) error
	SetCS(level bool)
}

// Transport is the preamble/toggle-bit binding of espflasher.SPILink.
type Transport struct {
	host         Host
	toggleShadow bool
	haveShadow   bool
}

func New(host Host) *Transport {
	return &Transport{host: host}
}

func (t *Transport) readReg(addr uint32) (uint32, error) {
	buf := make([]byte, 4)
	if err := t.host.Transact([3]byte{CmdRdBuf, byte(addr), 0}, nil, buf); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

func (t *Transport) writeReg(addr uint32, v uint32) error {
	buf := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	return t.host.Transact([3]byte{CmdWrBuf, byte(addr), 0}, buf, nil)
}

// Handshake performs spec §4.5.3's IDLE/READY exchange: poll for
// SlaveIdle, write SlaveReady, then wait for the slave to echo ready.
func (t *Transport) Handshake(trials int, delay time.Duration) error {
	for i := 0; i < trials; i++ {
		v, err := t.readReg(RegCMD)
		if err == nil && byte(v) == SlaveIdle {
			break
		}
		time.Sleep(delay)
		if i == trials-1 {
			return fmt.Errorf("spi: slave never reported IDLE")
		}
	}
	if err := t.writeReg(RegCMD, uint32(SlaveReady)); err != nil {
		return err
	}
	for i := 0; i < trials; i++ {
		v, err := t.readReg(RegCMD)
		if err == nil && byte(v) == SlaveReady {
			return nil
		}
		time.Sleep(delay)
	}
	return fmt.Errorf("spi: slave never echoed READY")
}

// waitToggle blocks until RXSTA/TXSTA's toggle bit flips relative to
// the local shadow, per spec §4.5.3's flow-control description.
func (t *Transport) waitToggle(regAddr uint32, timeout time.Duration) (bufSize uint32, err error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		v, err := t.readReg(regAddr)
		if err != nil {
			return 0, err
		}
		if v&StatusInitBit != 0 {
			// Slave not yet initialized: clear INIT by writing zero.
			if werr := t.writeReg(regAddr, 0); werr != nil {
				return 0, werr
			}
			continue
		}
		toggled := v&StatusToggleBit != 0
		if !t.haveShadow || toggled != t.toggleShadow {
			t.toggleShadow = toggled
			t.haveShadow = true
			return v >> StatusBufLenShift, nil
		}
		time.Sleep(time.Millisecond)
	}
	return 0, fmt.Errorf("spi: toggle bit never flipped")
}

// sendCommand writes cmd+payload through WRDMA and terminates with
// WR_DONE, rejecting oversize commands against the advertised buffer
// size (spec §4.5.3).
func (t *Transport) sendCommand(payload []byte, timeout time.Duration) error {
	bufSize, err := t.waitToggle(RegTXSTA, timeout)
	if err != nil {
		return err
	}
	if uint32(len(payload)) > bufSize {
		return fmt.Errorf("spi: command of %d bytes exceeds advertised buffer size %d", len(payload), bufSize)
	}
	if err := t.host.Transact([3]byte{CmdWrDMA, 0, 0}, payload, nil); err != nil {
		return err
	}
	return t.host.Transact([3]byte{CmdWrDone, 0, 0}, nil, nil)
}

// SPIWrite implements espflasher.SPILink. Per spec §4.5.3, responses
// with payload are not supported on this transport; callers must not
// issue commands expecting response data over SPI slave (the session
// enforces this as UnsupportedFunc before reaching here).
func (t *Transport) SPIWrite(buf []byte, timeout time.Duration) espflasher.Result {
	if err := t.sendCommand(buf, timeout); err != nil {
		return espflasher.ResultFailure
	}
	return espflasher.ResultOK
}

// SPIRead implements espflasher.SPILink: waits for RXSTA's toggle and
// reads the response via RDDMA, terminated by CMD8.
func (t *Transport) SPIRead(buf []byte, timeout time.Duration) espflasher.Result {
	bufSize, err := t.waitToggle(RegRXSTA, timeout)
	if err != nil {
		return espflasher.ResultTimeout
	}
	n := len(buf)
	if uint32(n) > bufSize {
		n = int(bufSize)
	}
	if err := t.host.Transact([3]byte{CmdRdDMA, 0, 0}, nil, buf[:n]); err != nil {
		return espflasher.ResultFailure
	}
	if err := t.host.Transact([3]byte{Cmd8, 0, 0}, nil, nil); err != nil {
		return espflasher.ResultFailure
	}
	return espflasher.ResultOK
}

func (t *Transport) SetCS(level bool) { t.host.SetCS(level) }

func (t *Transport) EnterBootloader() error { return nil }
func (t *Transport) ResetTarget() error     { return nil }
func (t *Transport) ChangeBitrate(newBaud int) error {
	return fmt.Errorf("spi: bitrate change not supported")
}
