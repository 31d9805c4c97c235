package sdio

import (
	"testing"
	"time"
)

type fakeHost struct {
	regs        map[uint32][]byte
	cardInitErr error
}

func newFakeHost() *fakeHost {
	return &fakeHost{regs: map[uint32][]byte{}}
}

func (f *fakeHost) ReadBytes(function int, addr uint32, buf []byte) error {
	v, ok := f.regs[addr]
	if !ok {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	copy(buf, v)
	return nil
}

func (f *fakeHost) WriteBytes(function int, addr uint32, buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.regs[addr] = cp
	return nil
}

func (f *fakeHost) CardInit() error { return f.cardInitErr }

func TestDetectDateReadsLittleEndian(t *testing.T) {
	host := newFakeHost()
	host.regs[0x178] = []byte{0x00, 0x25, 0x02, 0x16}
	tr := New(host)

	got, err := tr.DetectDate(0x178)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0x16022500 {
		t.Fatalf("got 0x%x want 0x16022500", got)
	}
}

func TestWaitIntSucceedsWhenBitSet(t *testing.T) {
	host := newFakeHost()
	host.regs[StubIntStReg] = []byte{0x01, 0x00, 0x00, 0x00}
	tr := New(host)

	if res := tr.WaitInt(100 * time.Millisecond); res != 0 {
		t.Fatalf("got %v want ResultOK(0)", res)
	}
}

func TestWaitIntTimesOutWhenBitNeverSet(t *testing.T) {
	host := newFakeHost()
	tr := New(host)

	if res := tr.WaitInt(20 * time.Millisecond); res == 0 {
		t.Fatalf("expected non-OK result on timeout")
	}
}

func TestEnableFunction1RequiresReadyBit(t *testing.T) {
	host := newFakeHost()
	host.regs[RegCCCRFnReady] = []byte{0x00}
	tr := New(host)

	if err := tr.EnableFunction1(); err == nil {
		t.Fatalf("expected error when function-1 ready bit never sets")
	}

	host.regs[RegCCCRFnReady] = []byte{0x02}
	if err := tr.EnableFunction1(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
