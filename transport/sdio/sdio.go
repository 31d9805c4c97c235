package sdio

import (
	"fmt"
	"time"

	"espflasher"
)

// SDIO/stub register offsets within function-1 space
// (original_source/src/protocol_sdio.c).
const (
	RegCCCRFnEnable  uint32 = 0x02
	RegCCCRFnReady   uint32 = 0x03
	StubCmdReg       uint32 = 0x6C
	StubIntStReg     uint32 = 0x58
	StubPktLenReg    uint32 = 0x60
	StubIntNewPacket uint32 = 1 << 23
	RxByteMask       uint32 = 0xFFFFF
)

// StubBootTimeout is the default wait for the stub's ready interrupt
// after BOOTUP (spec §8 round-trip scenario 6: "within 500 ms").
const StubBootTimeout = 500 * time.Millisecond

// Host is the board-support surface this package needs: raw SDIO
// function read/write and card bring-up. Implemented by the caller,
// not this library (spec §1 Out of scope: "SDIO ... driver binding").
type Host interface {
	ReadBytes(function int, addr uint32, buf []byte) error
	WriteBytes(function int, addr uint32, buf []byte) error
	CardInit() error
}

// Transport is the SIP-over-SDIO binding of espflasher.SDIOLink.
type Transport struct {
	host Host
	seq  uint16

	highWaterMark uint32
}

// New wraps a board-supplied Host.
func New(host Host) *Transport {
	return &Transport{host: host}
}

// SDIOCardInit implements espflasher.SDIOLink: card init retried by the
// session up to `trials` times per spec §4.5.2 step 1.
func (t *Transport) SDIOCardInit() error {
	return t.host.CardInit()
}

// EnableFunction1 performs spec §4.5.2 step 2: enable the function-1
// I/O core via CCCR and read back to verify.
func (t *Transport) EnableFunction1() error {
	buf := []byte{0x02}
	if err := t.host.WriteBytes(0, RegCCCRFnEnable, buf); err != nil {
		return fmt.Errorf("sdio: enable function 1: %w", err)
	}
	readback := make([]byte, 1)
	if err := t.host.ReadBytes(0, RegCCCRFnReady, readback); err != nil {
		return fmt.Errorf("sdio: read function ready: %w", err)
	}
	if readback[0]&0x02 == 0 {
		return fmt.Errorf("sdio: function 1 did not come ready")
	}
	return nil
}

// DetectDate reads the slchost date register used for chip detection
// on SDIO (spec §4.3, §4.5.2 step 3).
func (t *Transport) DetectDate(dateRegAddr uint32) (uint32, error) {
	buf := make([]byte, 4)
	if err := t.host.ReadBytes(1, dateRegAddr, buf); err != nil {
		return 0, fmt.Errorf("sdio: read date register: %w", err)
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// SDIORead implements espflasher.SDIOLink.
func (t *Transport) SDIORead(function int, addr uint32, buf []byte, timeout time.Duration) espflasher.Result {
	if err := t.host.ReadBytes(function, addr, buf); err != nil {
		return espflasher.ResultFailure
	}
	return espflasher.ResultOK
}

// SDIOWrite implements espflasher.SDIOLink.
func (t *Transport) SDIOWrite(function int, addr uint32, buf []byte, timeout time.Duration) espflasher.Result {
	if err := t.host.WriteBytes(function, addr, buf); err != nil {
		return espflasher.ResultFailure
	}
	return espflasher.ResultOK
}

// WaitInt polls StubIntStReg for bit0 (stub ready), the mechanism
// spec §4.5.2 step 6 and §8 scenario 6 describe.
func (t *Transport) WaitInt(timeout time.Duration) espflasher.Result {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 4)
	for time.Now().Before(deadline) {
		if err := t.host.ReadBytes(1, StubIntStReg, buf); err != nil {
			return espflasher.ResultFailure
		}
		v := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
		if v&1 != 0 {
			return espflasher.ResultOK
		}
		time.Sleep(5 * time.Millisecond)
	}
	return espflasher.ResultTimeout
}

// nextSeq returns the next SIP sequence number, used by WriteMemory/Bootup.
func (t *Transport) nextSeq() uint16 {
	t.seq++
	return t.seq
}

// WriteMemory sends one SIP WRITE_MEMORY packet carrying a stub RAM
// segment chunk, packed into the slchost window per spec §4.5.2.
func (t *Transport) WriteMemory(windowEndAddr uint32, addr uint32, data []byte) error {
	pkt := BuildWriteMemory(t.nextSeq(), addr, data)
	start := windowEndAddr - uint32(len(pkt))
	return t.host.WriteBytes(1, start, pkt)
}

// Bootup sends the SIP BOOTUP command handing control to bootAddr,
// with discard_link=1 as spec §4.5.2 step 5 and §6.4 require.
func (t *Transport) Bootup(windowEndAddr uint32, bootAddr uint32) error {
	pkt := BuildBootup(t.nextSeq(), bootAddr)
	start := windowEndAddr - uint32(len(pkt))
	return t.host.WriteBytes(1, start, pkt)
}

// EnterBootloader, ResetTarget and ChangeBitrate are not meaningful
// over SDIO in the way they are on serial (the target is strapped and
// reset by board-level hardware the Host owns); they delegate straight
// through so espflasher.SDIOLink is satisfied without forcing this
// package to know about GPIO.
func (t *Transport) EnterBootloader() error { return nil }
func (t *Transport) ResetTarget() error     { return nil }
func (t *Transport) ChangeBitrate(newBaud int) error {
	return fmt.Errorf("sdio: bitrate change not supported")
}
