package espflasher

import (
	"bytes"
	"log/slog"
	"time"

	"espflasher/internal/chip"
	"espflasher/internal/stub"
)

// ConnectWithStub performs the plain connect sequence, then uploads and
// hands control to the chip's RAM stub (spec §4.6 connect_with_stub,
// §4.7 "Stub upload"). ESP32-C5 and ESP32-P4 have no stub image and are
// rejected once chip detect has run, mirroring
// esp_loader_connect_with_stub's ESP32P4_CHIP/ESP32C5_CHIP check.
func (s *Session) ConnectWithStub(args ConnectArgs) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := s.connectLocked(args); err != nil {
		return err
	}
	return s.uploadAndRunStub()
}

// ConnectWithStubSDIO is ConnectWithStub for a Session built with
// NewSDIOSession: SDIO bring-up (spec §4.5.2 steps 1-4) in place of the
// serial/USB SYNC handshake, then the same stub upload and handover.
func (s *Session) ConnectWithStubSDIO(args ConnectArgs) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := s.connectSDIOLocked(args); err != nil {
		return err
	}
	return s.uploadAndRunStub()
}

// uploadAndRunStub uploads the target's compiled-in stub image and
// hands it control (spec §4.7), rejecting ESP32-C5/ESP32-P4 which ship
// no stub image, mirroring esp_loader_connect_with_stub's check.
func (s *Session) uploadAndRunStub() error {
	if s.target == chip.ESP32C5 || s.target == chip.ESP32P4 {
		return newErr(KindUnsupportedChip, "connect_with_stub: no stub image for "+s.target.String())
	}

	img, ok := stub.Lookup(s.target.String())
	if !ok {
		return newErr(KindUnsupportedChip, "connect_with_stub: no stub image registered for "+s.target.String())
	}
	if err := img.Validate(); err != nil {
		return wrapErr(KindFail, "connect_with_stub: stub image", err)
	}
	s.logf(slog.LevelDebug, "stub upload starting", "target", s.target.String(), "segments", len(img.Segments))

	total := 0
	for _, seg := range img.Segments {
		total += len(seg.Data)
	}
	done := 0

	for _, seg := range img.Segments {
		if err := s.memStartLocked(seg.Addr, uint32(len(seg.Data)), stub.RAMBlockSize); err != nil {
			return err
		}

		remaining := seg.Data
		for len(remaining) > 0 {
			n := stub.RAMBlockSize
			if n > len(remaining) {
				n = len(remaining)
			}
			if err := s.memWriteLocked(remaining[:n]); err != nil {
				return err
			}
			remaining = remaining[n:]
			done += n
			s.reportProgress("stub upload", done, total)
		}
	}

	if err := s.memFinishLocked(img.Entrypoint); err != nil {
		return err
	}

	if err := s.confirmStubReady(); err != nil {
		s.logf(slog.LevelError, "stub confirmation failed", "err", err)
		return err
	}

	s.stubRunning = true
	s.logf(slog.LevelInfo, "stub running")
	return nil
}

// confirmStubReady waits for the freshly handed-over stub's readiness
// signal: an OHAI SLIP frame on serial/USB, or STUB_INT_ST on SDIO
// (spec §4.7). The SPI-slave transport has no documented stub
// confirmation path (neither the original implementation nor any
// example in the retrieval pack drives RAM-stub upload over SPI
// slave), so it is rejected outright.
func (s *Session) confirmStubReady() error {
	switch l := s.link.(type) {
	case *serialLink:
		s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
		buf := make([]byte, len(stub.OHAIMagic))
		n, err := l.readRawPacket(s.clk, buf)
		if err != nil {
			return err
		}
		if n != len(stub.OHAIMagic) || !bytes.Equal(buf[:n], stub.OHAIMagic[:]) {
			return newErr(KindInvalidResponse, "connect_with_stub: missing OHAI confirmation")
		}
		return nil
	case *sdioLink:
		s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
		if err := waitStubReady(l.t, time.Duration(s.clk.RemainingTime())*time.Millisecond); err != nil {
			return err
		}
		return nil
	default:
		return newErr(KindUnsupportedFunc, "connect_with_stub: no stub confirmation path for this transport")
	}
}
