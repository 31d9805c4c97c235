package espflasher

import (
	"errors"
	"fmt"

	"espflasher/internal/proto"
	"espflasher/internal/slip"
)

// serialLink is the SLIP-over-serial/USB-CDC Link (spec §4.5.1).
type serialLink struct {
	t SerialLink
}

func newSerialLink(t SerialLink) *serialLink { return &serialLink{t: t} }

var _ Link = (*serialLink)(nil)

// deadlineByteReader adapts a SerialLink into internal/slip.ByteReader,
// reading one byte at a time bounded by the session's remaining
// deadline (spec §4.1: "fails with Timeout when underlying reads don't
// deliver bytes within the session deadline").
type deadlineByteReader struct {
	t   SerialLink
	clk Clock
}

func (r *deadlineByteReader) ReadByte() (byte, error) {
	var b [1]byte
	timeout := commandTimeout(r.clk)
	if timeout <= 0 {
		return 0, errTimedOut
	}
	n, res := r.t.Read(b[:], timeout)
	switch res {
	case ResultOK:
		if n != 1 {
			return 0, errTimedOut
		}
		return b[0], nil
	case ResultTimeout:
		return 0, errTimedOut
	default:
		return 0, fmt.Errorf("serial link: read failed")
	}
}

var errTimedOut = errors.New("serial link: read timed out")

func (l *serialLink) writeFrame(op proto.Opcode, body []byte, checksum uint32) error {
	frame := proto.BuildCommand(op, body, checksum)
	framed := slip.Encode(frame)
	n, res := l.t.Write(framed, 0)
	if res != ResultOK || n != len(framed) {
		return wrapErr(KindFail, "write command frame", fmt.Errorf("result=%v n=%d/%d", res, n, len(framed)))
	}
	return nil
}

// collectOne reads SLIP packets until one matches direction=response,
// the requested opcode, and carries at least a status pair, per spec
// §4.5.1's response-collection rule.
func (l *serialLink) collectOne(clk Clock, op proto.Opcode, respDataSize int) (*proto.Response, error) {
	dec := slip.NewDecoder(&deadlineByteReader{t: l.t, clk: clk})
	bufSize := 8 + 2 + 512
	if respDataSize > 0 {
		bufSize = 8 + 2 + respDataSize
	}
	buf := make([]byte, bufSize)

	for {
		if clk.RemainingTime() == 0 {
			return nil, ErrTimeout
		}
		n, err := dec.ReadPacket(buf)
		if err != nil {
			if errors.Is(err, errTimedOut) {
				return nil, ErrTimeout
			}
			return nil, wrapErr(KindInvalidResponse, "slip decode", err)
		}
		resp, err := proto.ParseResponse(buf[:n])
		if err != nil {
			continue
		}
		if resp.Direction != proto.ResponseDirection || resp.Command != op {
			continue
		}
		if len(resp.Body) < 2 {
			continue
		}
		if respDataSize >= 0 && len(resp.Data()) < respDataSize {
			continue
		}
		return resp, nil
	}
}

func (l *serialLink) Command(clk Clock, op proto.Opcode, body []byte, checksum uint32, respDataSize int) (*proto.Response, error) {
	if err := l.writeFrame(op, body, checksum); err != nil {
		return nil, err
	}
	resp, err := l.collectOne(clk, op, respDataSize)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Sync sends SYNC and drains exactly eight matching response frames
// (spec §4.2: "After SYNC, the ROM emits eight response frames; the
// loader must consume all eight before continuing").
func (l *serialLink) Sync(clk Clock) error {
	if err := l.writeFrame(proto.Sync, proto.SyncPayload(), 0); err != nil {
		return err
	}
	for i := 0; i < 8; i++ {
		resp, err := l.collectOne(clk, proto.Sync, 0)
		if err != nil {
			return err
		}
		if err := checkStatus(resp); err != nil {
			return err
		}
	}
	return nil
}

func (l *serialLink) EnterBootloader() error       { return l.t.EnterBootloader() }
func (l *serialLink) ResetTarget() error           { return l.t.ResetTarget() }
func (l *serialLink) ChangeBitrate(baud int) error { return l.t.ChangeBitrate(baud) }
func (l *serialLink) SupportsResponseData() bool   { return true }

// writeRawFrame wraps data in a bare SLIP frame with no command header,
// the ack mechanism flash_read_stub uses to echo its cumulative byte
// count back (original_source/src/esp_loader.c::flash_read_stub).
func (l *serialLink) writeRawFrame(data []byte) error {
	framed := slip.Encode(data)
	n, res := l.t.Write(framed, 0)
	if res != ResultOK || n != len(framed) {
		return wrapErr(KindFail, "write raw frame", fmt.Errorf("result=%v n=%d/%d", res, n, len(framed)))
	}
	return nil
}

// readRawPacket reads one SLIP frame as opaque bytes, with no command
// header or status trailer: the shape flash_read_stub's data and MD5
// packets take (spec §4.8's "256-byte windows", supplement #6).
func (l *serialLink) readRawPacket(clk Clock, buf []byte) (int, error) {
	dec := slip.NewDecoder(&deadlineByteReader{t: l.t, clk: clk})
	n, err := dec.ReadPacket(buf)
	if err != nil {
		if errors.Is(err, errTimedOut) {
			return n, ErrTimeout
		}
		return n, wrapErr(KindInvalidResponse, "slip decode", err)
	}
	return n, nil
}
