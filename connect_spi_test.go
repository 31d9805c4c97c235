package espflasher

import (
	"encoding/binary"
	"testing"

	"espflasher/internal/chip"
	"espflasher/internal/proto"
)

func TestSpiLinkCommandRejectsResponsePayload(t *testing.T) {
	l := newSPILink(&fakeSPILink{})
	clk := newFakeClock()

	_, err := l.Command(clk, proto.ReadReg, nil, 0, 4)
	e, ok := err.(*Error)
	if !ok || e.Kind != KindUnsupportedFunc {
		t.Fatalf("Command() with respDataSize>0 = %v, want KindUnsupportedFunc", err)
	}
}

func TestSpiLinkCommandRoundTrip(t *testing.T) {
	frame := buildResponseFrame(proto.ReadReg, nil)
	f := &fakeSPILink{reads: [][]byte{frame}}
	l := newSPILink(f)
	clk := newFakeClock()

	resp, err := l.Command(clk, proto.ReadReg, nil, 0, 0)
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if resp.Command != proto.ReadReg {
		t.Fatalf("Command() response op = %v, want READ_REG", resp.Command)
	}
	if len(f.writes) != 1 {
		t.Fatalf("expected exactly one SPIWrite, got %d", len(f.writes))
	}
}

func TestSpiLinkCommandPropagatesTimeout(t *testing.T) {
	f := &fakeSPILink{readErr: ResultTimeout}
	l := newSPILink(f)
	clk := newFakeClock()

	_, err := l.Command(clk, proto.ReadReg, nil, 0, 0)
	if err != ErrTimeout {
		t.Fatalf("Command() on read timeout = %v, want ErrTimeout", err)
	}
}

func TestSpiLinkSyncIsUnsupported(t *testing.T) {
	l := newSPILink(&fakeSPILink{})
	clk := newFakeClock()

	err := l.Sync(clk)
	e, ok := err.(*Error)
	if !ok || e.Kind != KindUnsupportedFunc {
		t.Fatalf("Sync() = %v, want KindUnsupportedFunc", err)
	}
}

func TestConnectSPIRejectsNonSPILink(t *testing.T) {
	l := &fakeLink{}
	s, _ := newTestSession(l)

	err := s.ConnectSPI(DefaultConnectArgs())
	e, ok := err.(*Error)
	if !ok || e.Kind != KindUnsupportedFunc {
		t.Fatalf("ConnectSPI() on a non-SPI session = %v, want KindUnsupportedFunc", err)
	}
}

func TestConnectSPIDetectsAndAttaches(t *testing.T) {
	// The SPI-slave transport can never carry response payload (spec
	// §4.5.3/§9), so GET_SECURITY_INFO is rejected before any I/O and
	// detection falls through to the magic register, the same fallback
	// chipdetect_test.go exercises for serial. ESP32's attach then reads
	// eFuse words 3 and 5 (both zero here) before SPI_ATTACH.
	magicFrame := buildResponseFrame(proto.ReadReg, nil)
	binary.LittleEndian.PutUint32(magicFrame[4:8], chip.Profiles[chip.ESP32].Magic[0])

	f := &fakeSPILink{reads: [][]byte{
		magicFrame,
		buildResponseFrame(proto.ReadReg, nil),
		buildResponseFrame(proto.ReadReg, nil),
		buildResponseFrame(proto.SpiAttach, nil),
	}}
	s := NewSPISession(f, newFakeClock())

	if err := s.ConnectSPI(DefaultConnectArgs()); err != nil {
		t.Fatalf("ConnectSPI: %v", err)
	}
	if s.target != chip.ESP32 {
		t.Fatalf("ConnectSPI() target = %v, want ESP32", s.target)
	}
}
