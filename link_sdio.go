package espflasher

import (
	"encoding/binary"
	"fmt"
	"time"

	"espflasher/internal/proto"
)

// SDIO/stub register offsets within the function-1 packet window
// (spec §4.5.2; original_source/src/protocol_sdio.c). Kept local to
// this file rather than shared with transport/sdio's convenience
// helpers: the Session only ever talks to the narrow SDIOLink port
// (spec design note "transport polymorphism" — the concrete adapter
// is never imported back by the session), so the command-framing
// logic that sits on top of that port lives here, mirroring how
// link_serial.go owns SLIP encode/decode rather than reaching into
// transport/serial.
const (
	sdioStubIntStReg    uint32 = 0x58
	sdioStubPktLenReg   uint32 = 0x60
	sdioStubCmdReg      uint32 = 0x6C
	sdioStubIntNewPkt   uint32 = 1 << 23
	sdioRxByteMask      uint32 = 0xFFFFF
	sipHeaderSize              = 8
	sipCmdWriteMemory   byte   = 1
	sipCmdBootup        byte   = 5
	sipFlagSync         uint16 = 0x04
)

// sdioLink is the SIP-over-SDIO Link (spec §4.5.2), built only against
// the SDIOLink port: card init, function enable and link setup are
// driven by Session.ConnectSDIO directly on that port rather than
// through Command, since those steps aren't part of the per-command
// Link contract.
type sdioLink struct {
	t         SDIOLink
	windowEnd uint32
	seq       uint16
	highWater uint32
}

var _ Link = (*sdioLink)(nil)

func newSDIOLink(t SDIOLink, windowEnd uint32) *sdioLink {
	return &sdioLink{t: t, windowEnd: windowEnd}
}

func (l *sdioLink) nextSeq() uint16 {
	l.seq++
	return l.seq
}

func putSIPHeader(out []byte, cmd byte, flags uint16, length uint16, seq uint16) {
	out[0] = cmd
	out[1] = byte(flags)
	binary.LittleEndian.PutUint16(out[2:4], length)
	binary.LittleEndian.PutUint16(out[4:6], 0)
	binary.LittleEndian.PutUint16(out[6:8], seq)
}

// writeMemory sends one SIP WRITE_MEMORY packet carrying a RAM segment
// chunk (spec §4.7, §4.5.2 step 5). Stub upload does not use it:
// uploadAndRunStub sends MEM_BEGIN/MEM_DATA/MEM_END through Command on
// every transport, and nothing in this package calls writeMemory.
func (l *sdioLink) writeMemory(clk Clock, addr uint32, data []byte) error {
	body := make([]byte, sipHeaderSize+8+len(data))
	putSIPHeader(body, sipCmdWriteMemory, 0, uint16(8+len(data)), l.nextSeq())
	binary.LittleEndian.PutUint32(body[8:12], addr)
	binary.LittleEndian.PutUint32(body[12:16], uint32(len(data)))
	copy(body[16:], data)

	start := l.windowEnd - uint32(len(body))
	if res := l.t.SDIOWrite(1, start, body, commandTimeout(clk)); res != ResultOK {
		return wrapErr(KindFail, "sdio write memory", fmt.Errorf("result=%v", res))
	}
	return nil
}

// bootup sends SIP BOOTUP with discard_link=1 and the SYNC header flag
// set (spec §4.5.2 step 5, §6.4). Like writeMemory, it has no caller in
// this package.
func (l *sdioLink) bootup(clk Clock, bootAddr uint32) error {
	body := make([]byte, sipHeaderSize+8)
	putSIPHeader(body, sipCmdBootup, sipFlagSync, 8, l.nextSeq())
	binary.LittleEndian.PutUint32(body[8:12], bootAddr)
	binary.LittleEndian.PutUint32(body[12:16], 1)

	start := l.windowEnd - uint32(len(body))
	if res := l.t.SDIOWrite(1, start, body, commandTimeout(clk)); res != ResultOK {
		return wrapErr(KindFail, "sdio bootup", fmt.Errorf("result=%v", res))
	}
	return nil
}

// Command packs a generic proto frame into the packet window, waits on
// the port's WaitInt, then reads STUB_PKT_LEN_REG for the cumulative
// received byte count and takes the bytes past the previous count as
// the response. STUB_INT_ST_REG's NEW_PKT bit is not read here; what
// WaitInt waits for is up to the SDIOLink implementation.
func (l *sdioLink) Command(clk Clock, op proto.Opcode, body []byte, checksum uint32, respDataSize int) (*proto.Response, error) {
	frame := proto.BuildCommand(op, body, checksum)
	start := l.windowEnd - uint32(len(frame))
	if res := l.t.SDIOWrite(1, start, frame, commandTimeout(clk)); res != ResultOK {
		return nil, wrapErr(KindFail, "sdio write command", fmt.Errorf("result=%v", res))
	}

	if res := l.t.WaitInt(commandTimeout(clk)); res != ResultOK {
		if res == ResultTimeout {
			return nil, ErrTimeout
		}
		return nil, wrapErr(KindFail, "sdio wait for NEW_PKT", fmt.Errorf("result=%v", res))
	}

	lenBuf := make([]byte, 4)
	if res := l.t.SDIORead(1, sdioStubPktLenReg, lenBuf, commandTimeout(clk)); res != ResultOK {
		return nil, wrapErr(KindFail, "sdio read packet length", fmt.Errorf("result=%v", res))
	}
	cumulative := binary.LittleEndian.Uint32(lenBuf) & sdioRxByteMask
	if cumulative <= l.highWater {
		return nil, newErr(KindInvalidResponse, "sdio packet length did not advance")
	}
	n := cumulative - l.highWater
	l.highWater = cumulative

	respBuf := make([]byte, n)
	respStart := l.windowEnd - n
	if res := l.t.SDIORead(1, respStart, respBuf, commandTimeout(clk)); res != ResultOK {
		return nil, wrapErr(KindFail, "sdio read response", fmt.Errorf("result=%v", res))
	}

	resp, err := proto.ParseResponse(respBuf)
	if err != nil {
		return nil, wrapErr(KindInvalidResponse, "sdio response framing", err)
	}
	if resp.Direction != proto.ResponseDirection || resp.Command != op {
		return nil, newErr(KindInvalidResponse, "sdio response opcode mismatch")
	}
	if respDataSize >= 0 && len(resp.Data()) < respDataSize {
		return nil, newErr(KindInvalidResponse, "sdio response shorter than expected")
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Sync is not meaningful over SDIO: the link-level handshake (spec
// §4.5.2 steps 1-4) replaces SYNC, so Session.ConnectSDIO never calls
// this; it exists only to satisfy Link.
func (l *sdioLink) Sync(clk Clock) error {
	return newErr(KindUnsupportedFunc, "SYNC is not used on the SDIO transport")
}

func (l *sdioLink) EnterBootloader() error       { return l.t.EnterBootloader() }
func (l *sdioLink) ResetTarget() error           { return l.t.ResetTarget() }
func (l *sdioLink) ChangeBitrate(baud int) error { return l.t.ChangeBitrate(baud) }
func (l *sdioLink) SupportsResponseData() bool   { return true }

// waitStubReady waits on the port's WaitInt for the stub-ready signal
// (spec §4.5.2 step 6, §8 scenario 6; transport/sdio's WaitInt polls
// STUB_INT_ST for bit0). confirmStubReady calls it after stub upload
// on SDIO.
func waitStubReady(t SDIOLink, timeout time.Duration) error {
	if res := t.WaitInt(timeout); res != ResultOK {
		if res == ResultTimeout {
			return ErrTimeout
		}
		return wrapErr(KindFail, "sdio wait stub ready", fmt.Errorf("result=%v", res))
	}
	return nil
}
