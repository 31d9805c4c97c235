package espflasher

import (
	"fmt"

	"espflasher/internal/proto"
)

// spiLink is the SPI-slave Link (spec §4.5.3), built only against the
// SPILink port. The preamble/toggle-bit wire protocol (WRDMA/WR_DONE,
// RDDMA/CMD8, RXSTA/TXSTA flow control) is owned by the concrete
// transport behind the port — mirroring transport/spi.Transport's
// SPIWrite/SPIRead, which already frame a full command/response
// exchange — so this Link stays a thin pass-through, the same
// boundary transport/serial draws around SLIP (owned here in
// link_serial.go) versus raw byte I/O (owned by the transport).
type spiLink struct {
	t SPILink
}

var _ Link = (*spiLink)(nil)

func newSPILink(t SPILink) *spiLink { return &spiLink{t: t} }

// Command sends a generic proto frame and collects a status-only
// response. Per spec §4.5.3/§9 open question, this transport never
// carries response payload: a caller asking for any (respDataSize > 0,
// or -1 for a size only the response reveals) is rejected before any
// I/O, preserving (not silently lifting) that restriction for
// get_security_info, read_flash_rom and spi_flash_md5.
func (l *spiLink) Command(clk Clock, op proto.Opcode, body []byte, checksum uint32, respDataSize int) (*proto.Response, error) {
	if respDataSize != 0 {
		return nil, newErr(KindUnsupportedFunc, "SPI-slave transport cannot carry response payload")
	}

	frame := proto.BuildCommand(op, body, checksum)
	if res := l.t.SPIWrite(frame, commandTimeout(clk)); res != ResultOK {
		return nil, spiResultErr(res, "write command")
	}

	buf := make([]byte, 8+2)
	if res := l.t.SPIRead(buf, commandTimeout(clk)); res != ResultOK {
		return nil, spiResultErr(res, "read response")
	}
	resp, err := proto.ParseResponse(buf)
	if err != nil {
		return nil, wrapErr(KindInvalidResponse, "spi response framing", err)
	}
	if resp.Direction != proto.ResponseDirection || resp.Command != op {
		return nil, newErr(KindInvalidResponse, "spi response opcode mismatch")
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Sync is meaningless on SPI slave: the IDLE/READY handshake (spec
// §4.5.3) happens once, at transport setup, before a Session ever
// sees this Link; Session.ConnectSPI does not repeat it.
func (l *spiLink) Sync(clk Clock) error {
	return newErr(KindUnsupportedFunc, "SYNC is not used on the SPI-slave transport")
}

func (l *spiLink) EnterBootloader() error       { return l.t.EnterBootloader() }
func (l *spiLink) ResetTarget() error           { return l.t.ResetTarget() }
func (l *spiLink) ChangeBitrate(baud int) error { return l.t.ChangeBitrate(baud) }
func (l *spiLink) SupportsResponseData() bool   { return false }

func spiResultErr(res Result, what string) error {
	if res == ResultTimeout {
		return ErrTimeout
	}
	return wrapErr(KindFail, "spi "+what, fmt.Errorf("result=%v", res))
}
