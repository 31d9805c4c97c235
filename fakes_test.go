package espflasher

import (
	"time"

	"espflasher/internal/chip"
	"espflasher/internal/proto"
)

// fakeClock is a deterministic Clock for tests: it never actually
// sleeps and tracks how many times DelayMs was called, the same
// fake-clock-over-real-clock substitution the teacher's test style
// favors for anything timing-sensitive.
type fakeClock struct {
	remaining uint32
	delays    int
}

func newFakeClock() *fakeClock { return &fakeClock{remaining: 1000} }

func (c *fakeClock) StartTimer(ms uint32)    { c.remaining = ms }
func (c *fakeClock) RemainingTime() uint32   { return c.remaining }
func (c *fakeClock) DelayMs(ms uint32)       { c.delays++ }

var _ Clock = (*fakeClock)(nil)

// okResponse builds a status-ok response for op carrying value and
// extra payload bytes before the two status bytes.
func okResponse(op proto.Opcode, value uint32, data []byte) *proto.Response {
	body := make([]byte, len(data)+2)
	copy(body, data)
	return &proto.Response{
		Direction: proto.ResponseDirection,
		Command:   op,
		Value:     value,
		Body:      body,
	}
}

func failResponse(op proto.Opcode, reason byte) *proto.Response {
	return &proto.Response{
		Direction: proto.ResponseDirection,
		Command:   op,
		Body:      []byte{1, reason},
	}
}

type cmdCall struct {
	op           proto.Opcode
	body         []byte
	checksum     uint32
	respDataSize int
}

type linkResult struct {
	resp *proto.Response
	err  error
}

// fakeLink is a hand-written Link fake that records every Command call
// and plays back a canned queue of responses/errors, the "fake Link
// that records sent commands and plays back canned responses" test
// style SPEC_FULL's ambient-stack note calls for in place of a mocking
// library.
type fakeLink struct {
	calls []cmdCall
	queue []linkResult

	syncCalls int
	syncErr   error

	enterErr error
	resetErr error
	baud     int
	baudErr  error

	supportsData bool
}

var _ Link = (*fakeLink)(nil)

func (l *fakeLink) Command(clk Clock, op proto.Opcode, body []byte, checksum uint32, respDataSize int) (*proto.Response, error) {
	l.calls = append(l.calls, cmdCall{op: op, body: append([]byte(nil), body...), checksum: checksum, respDataSize: respDataSize})
	if len(l.queue) == 0 {
		return okResponse(op, 0, nil), nil
	}
	r := l.queue[0]
	l.queue = l.queue[1:]
	return r.resp, r.err
}

func (l *fakeLink) Sync(clk Clock) error {
	l.syncCalls++
	return l.syncErr
}

func (l *fakeLink) EnterBootloader() error       { return l.enterErr }
func (l *fakeLink) ResetTarget() error           { return l.resetErr }
func (l *fakeLink) ChangeBitrate(baud int) error { l.baud = baud; return l.baudErr }
func (l *fakeLink) SupportsResponseData() bool   { return l.supportsData }

// newTestSession builds a Session directly around a fakeLink, bypassing
// SLIP/SIP/SPI framing entirely so register.go/mem.go/flash.go/baud.go
// logic can be exercised without a real transport underneath.
func newTestSession(l *fakeLink) (*Session, *fakeClock) {
	clk := newFakeClock()
	s := &Session{clk: clk, link: l, logger: nil, target: chip.Unknown}
	return s, clk
}

// fakeSerialLink is a hand-written SerialLink fake driving serialLink's
// SLIP encode/decode path end to end, used for the connect/SYNC tests
// that need real framing semantics rather than a bare fakeLink.
type fakeSerialLink struct {
	toSend    [][]byte // queued already-SLIP-encoded frames to hand back on Read
	writes    [][]byte
	readErr   Result
	enterErr  error
	resetErr  error
	baud      int
}

var _ SerialLink = (*fakeSerialLink)(nil)

func (f *fakeSerialLink) Read(buf []byte, timeout time.Duration) (int, Result) {
	if len(f.toSend) == 0 {
		return 0, ResultTimeout
	}
	next := f.toSend[0]
	n := copy(buf, next[:1])
	if n == len(next) {
		f.toSend = f.toSend[1:]
	} else {
		f.toSend[0] = next[1:]
	}
	return n, ResultOK
}

func (f *fakeSerialLink) Write(buf []byte, timeout time.Duration) (int, Result) {
	f.writes = append(f.writes, append([]byte(nil), buf...))
	return len(buf), ResultOK
}

func (f *fakeSerialLink) EnterBootloader() error       { return f.enterErr }
func (f *fakeSerialLink) ResetTarget() error           { return f.resetErr }
func (f *fakeSerialLink) ChangeBitrate(baud int) error { f.baud = baud; return nil }

// fakeSDIOLink is a hand-written SDIOLink fake backed by a flat
// register map keyed by (function, addr), for connect_sdio.go's
// bring-up logic.
type fakeSDIOLink struct {
	regs        map[[2]uint32][]byte
	cardInitErr error
	waitIntRes  Result
}

var _ SDIOLink = (*fakeSDIOLink)(nil)

func newFakeSDIOLink() *fakeSDIOLink {
	return &fakeSDIOLink{regs: make(map[[2]uint32][]byte)}
}

func (f *fakeSDIOLink) key(fn int, addr uint32) [2]uint32 { return [2]uint32{uint32(fn), addr} }

func (f *fakeSDIOLink) SDIORead(function int, addr uint32, buf []byte, timeout time.Duration) Result {
	v, ok := f.regs[f.key(function, addr)]
	if !ok {
		v = make([]byte, len(buf))
	}
	copy(buf, v)
	return ResultOK
}

func (f *fakeSDIOLink) SDIOWrite(function int, addr uint32, buf []byte, timeout time.Duration) Result {
	f.regs[f.key(function, addr)] = append([]byte(nil), buf...)
	return ResultOK
}

func (f *fakeSDIOLink) SDIOCardInit() error { return f.cardInitErr }
func (f *fakeSDIOLink) WaitInt(timeout time.Duration) Result {
	return f.waitIntRes
}
func (f *fakeSDIOLink) EnterBootloader() error       { return nil }
func (f *fakeSDIOLink) ResetTarget() error           { return nil }
func (f *fakeSDIOLink) ChangeBitrate(baud int) error { return nil }

// fakeSPILink is a hand-written SPILink fake: writes and reads are
// paired up in FIFO order, modelling transport/spi.Transport's already
// fully-framed SPIWrite/SPIRead exchange.
type fakeSPILink struct {
	reads    [][]byte
	writeErr Result
	readErr  Result
	writes   [][]byte
}

var _ SPILink = (*fakeSPILink)(nil)

func (f *fakeSPILink) SPIWrite(buf []byte, timeout time.Duration) Result {
	f.writes = append(f.writes, append([]byte(nil), buf...))
	if f.writeErr != ResultOK {
		return f.writeErr
	}
	return ResultOK
}

func (f *fakeSPILink) SPIRead(buf []byte, timeout time.Duration) Result {
	if f.readErr != ResultOK {
		return f.readErr
	}
	if len(f.reads) == 0 {
		return ResultTimeout
	}
	next := f.reads[0]
	f.reads = f.reads[1:]
	copy(buf, next)
	return ResultOK
}

func (f *fakeSPILink) SetCS(level bool)              {}
func (f *fakeSPILink) EnterBootloader() error        { return nil }
func (f *fakeSPILink) ResetTarget() error            { return nil }
func (f *fakeSPILink) ChangeBitrate(baud int) error  { return nil }
