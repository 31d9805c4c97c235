package espflasher

import (
	"time"

	"espflasher/internal/proto"
)

// Link is the session's command-level transport abstraction (spec
// design note "transport polymorphism"): each transport kind frames
// and collects responses its own way — SLIP over serial/USB, SIP
// packets into the SDIO packet window, or SPI-slave preamble framing
// — but presents the same send/collect shape to the Session so the
// high-level operations in flash.go/mem.go/register.go never branch
// on transport kind themselves.
type Link interface {
	// Command sends one framed request and collects the single
	// matching response (direction=response, same opcode, enough
	// bytes for status). respDataSize bounds how much payload beyond
	// the 2 status bytes the caller expects; pass -1 when the size
	// is only known from the response itself (e.g. GET_SECURITY_INFO).
	Command(clk Clock, op proto.Opcode, body []byte, checksum uint32, respDataSize int) (*proto.Response, error)

	// Sync sends the fixed SYNC body and drains the eight response
	// frames the ROM emits for it (spec §4.2).
	Sync(clk Clock) error

	EnterBootloader() error
	ResetTarget() error
	ChangeBitrate(newBaud int) error

	// SupportsResponseData reports whether this transport can carry
	// response payload at all. False on the SPI-slave transport
	// (spec §4.5.3, §9 open question): callers must reject commands
	// that need response data before ever reaching Command.
	SupportsResponseData() bool
}

// commandTimeout derives a time.Duration from the clock's remaining
// budget, the value every Link implementation passes down to its
// underlying transport read/write calls.
func commandTimeout(clk Clock) time.Duration {
	return time.Duration(clk.RemainingTime()) * time.Millisecond
}

// checkStatus decodes a response's trailing status bytes into the
// library's error taxonomy (spec §7): a ROM/stub failure status maps
// to InvalidResponse carrying the decoded diagnostic string.
func checkStatus(r *proto.Response) error {
	ok, code, err := r.Status()
	if err != nil {
		return wrapErr(KindInvalidResponse, "malformed response body", err)
	}
	if !ok {
		sc := proto.StatusCode(code)
		return newErr(KindInvalidResponse, "status "+sc.Describe())
	}
	return nil
}
