package espflasher

import (
	"testing"

	"espflasher/internal/chip"
)

func TestAcquireRejectsConcurrentUse(t *testing.T) {
	s, _ := newTestSession(&fakeLink{})

	release, err := s.acquire()
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := s.acquire(); err == nil {
		t.Fatal("expected second acquire to fail while the first is held")
	}

	release()

	release2, err := s.acquire()
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestTargetAndStubRunningDefaults(t *testing.T) {
	s, _ := newTestSession(&fakeLink{})

	if got := s.Target(); got != chip.Unknown {
		t.Fatalf("Target() = %v, want Unknown before Connect", got)
	}
	if s.StubRunning() {
		t.Fatal("StubRunning() = true before any stub upload")
	}
	if got := s.FlashSize(); got != 0 {
		t.Fatalf("FlashSize() = %d, want 0 before detection", got)
	}
}

func TestResetClearsStubAndTarget(t *testing.T) {
	l := &fakeLink{}
	s, _ := newTestSession(l)
	s.stubRunning = true
	s.target = chip.ESP32

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if s.StubRunning() {
		t.Fatal("Reset did not clear stubRunning")
	}
	if s.Target() != chip.Unknown {
		t.Fatalf("Reset did not clear target, got %v", s.Target())
	}
}

func TestResetPropagatesLinkError(t *testing.T) {
	wantErr := newErr(KindFail, "boom")
	l := &fakeLink{resetErr: wantErr}
	s, _ := newTestSession(l)

	if err := s.Reset(); err != wantErr {
		t.Fatalf("Reset() = %v, want %v", err, wantErr)
	}
}

func TestConnectSyncRetriesThenTimesOut(t *testing.T) {
	fs := &fakeSerialLink{}
	clk := newFakeClock()
	s := NewSession(fs, clk)

	args := DefaultConnectArgs()
	args.Trials = 2

	// This fake never produces bytes, so Sync always reports timeout
	// on the underlying serialLink.collectOne() read path; syncRetry
	// should exhaust its trials and return ErrTimeout rather than
	// looping forever or returning a different error kind.
	err := s.Connect(args)
	if err == nil {
		t.Fatal("expected Connect to fail against a silent fake transport")
	}
	if !isTimeout(err) {
		t.Fatalf("Connect() error kind = %v, want timeout", err)
	}
}

func TestConnectRejectsNonSerialLink(t *testing.T) {
	l := &fakeLink{}
	s, _ := newTestSession(l)

	err := s.Connect(DefaultConnectArgs())
	if err == nil {
		t.Fatal("expected Connect on a non-serial Link to fail")
	}
	e, ok := err.(*Error)
	if !ok || e.Kind != KindUnsupportedFunc {
		t.Fatalf("Connect() error = %v, want KindUnsupportedFunc", err)
	}
}

func TestConnectEnterBootloaderFailure(t *testing.T) {
	wantCause := newErr(KindFail, "strap failed")
	fs := &fakeSerialLink{enterErr: wantCause}
	s := NewSession(fs, newFakeClock())

	err := s.Connect(DefaultConnectArgs())
	e, ok := err.(*Error)
	if !ok || e.Kind != KindFail {
		t.Fatalf("Connect() error = %v, want KindFail wrapping enter-bootloader failure", err)
	}
}
