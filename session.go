// Package espflasher drives Espressif microcontrollers over the
// vendor ROM bootloader protocol: reset/strap, SLIP/SIP/SPI command
// framing, optional RAM stub upload, and the high-level flash/RAM
// programming operations (spec §1-§5).
//
// Grounded on the teacher's ESP32Flasher (sxwebdev-esp32flasher) for
// the overall shape of a Go port-programming session, and on
// original_source/src/esp_loader.c for the operation semantics this
// package's C namesake implements on top of protocol_{serial,sdio,spi}.c.
package espflasher

import (
	"context"
	"fmt"
	"hash"
	"log/slog"
	"sync/atomic"

	"espflasher/internal/chip"
)

// ProgressFunc reports coarse progress through a long-running
// operation. Only stub upload reports progress; flash write and flash
// read do not call it. Kept distinct
// from logging per SPEC_FULL's ambient-stack note: a library must not
// require a logger to report progress.
type ProgressFunc func(stage string, done, total int)

// Session binds one Transport+Clock pair and drives exactly one
// target (spec §3 "Session state", §5 "one session drives one
// target"). The zero value is not usable; construct with NewSession.
type Session struct {
	clk    Clock
	link   Link
	logger *slog.Logger
	onProgress ProgressFunc

	target  chip.Kind
	profile chip.Profile

	stubRunning    bool
	flashSize      uint32
	flashBlockSize uint32

	md5Ctx     hash.Hash
	md5Active  bool
	md5Ready   bool
	md5Address uint32
	md5Size    uint32

	sequenceNumber uint32

	busy atomic.Bool
}

// Option configures a Session at construction.
type Option func(*Session)

// WithLogger overrides the default slog.Default() logger (SPEC_FULL
// ambient-stack logging note).
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithProgress installs a progress callback invoked during stub
// upload; flash write and flash read do not report progress.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Session) { s.onProgress = fn }
}

// NewSession constructs a disconnected Session bound to a serial/USB
// SLIP transport. Use NewSDIOSession / NewSPISession for the other
// transport kinds (spec design note: "do not fold the transports into
// one runtime switch").
func NewSession(t SerialLink, clk Clock, opts ...Option) *Session {
	s := &Session{clk: clk, link: newSerialLink(t), logger: slog.Default(), target: chip.Unknown}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewSDIOSession constructs a disconnected Session bound to the
// SDIO/SIP transport. windowEnd is the address one past the end of
// the slchost packet window commands are anchored against (spec
// §4.5.2: "anchored at slchost_packet_space_end − len").
func NewSDIOSession(t SDIOLink, windowEnd uint32, clk Clock, opts ...Option) *Session {
	s := &Session{clk: clk, link: newSDIOLink(t, windowEnd), logger: slog.Default(), target: chip.Unknown}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewSPISession constructs a disconnected Session bound to the
// SPI-slave transport.
func NewSPISession(t SPILink, clk Clock, opts ...Option) *Session {
	s := &Session{clk: clk, link: newSPILink(t), logger: slog.Default(), target: chip.Unknown}
	for _, o := range opts {
		o(s)
	}
	return s
}

// acquire enforces single-threaded cooperative use of the Session
// (spec §5: "No operation may be invoked from multiple threads on the
// same Session"). Every exported operation calls this first and
// defers the returned release.
func (s *Session) acquire() (func(), error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, newErr(KindFail, "concurrent use of Session is not allowed")
	}
	return func() { s.busy.Store(false) }, nil
}

// Target reports the detected chip, or chip.Unknown before Connect.
func (s *Session) Target() chip.Kind { return s.target }

// StubRunning reports whether the RAM stub is in control (spec §3
// invariant: "stub_running ⇒ commands use stub-only encodings").
func (s *Session) StubRunning() bool { return s.stubRunning }

// FlashSize reports the last detected or configured flash size, or 0.
func (s *Session) FlashSize() uint32 { return s.flashSize }

func (s *Session) logf(level slog.Level, msg string, args ...any) {
	if s.logger != nil {
		s.logger.Log(context.Background(), level, msg, args...)
	}
}

func (s *Session) reportProgress(stage string, done, total int) {
	if s.onProgress != nil {
		s.onProgress(stage, done, total)
	}
}

// Connect performs the plain (non-stub) ROM connect sequence (spec
// §4.6): strap/reset, transport handshake, chip detect, then either
// the ESP8266 FLASH_BEGIN workaround or SPI_ATTACH.
func (s *Session) Connect(args ConnectArgs) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	return s.connectLocked(args)
}

func (s *Session) connectLocked(args ConnectArgs) error {
	if err := s.link.EnterBootloader(); err != nil {
		s.logf(slog.LevelError, "enter bootloader failed", "err", err)
		return wrapErr(KindFail, "enter bootloader", err)
	}

	switch l := s.link.(type) {
	case *serialLink:
		if err := s.syncRetry(l, args); err != nil {
			s.logf(slog.LevelError, "sync failed", "err", err)
			return err
		}
	default:
		// SDIO/SPI bring-up is driven by ConnectSDIO/ConnectSPI before
		// a Session reaches this path; calling Connect directly on
		// those links is a programmer error.
		return newErr(KindUnsupportedFunc, "Connect requires the serial/USB transport; use ConnectSDIO/ConnectSPI")
	}

	if err := s.detectChip(); err != nil {
		s.logf(slog.LevelError, "chip detect failed", "err", err)
		return err
	}
	s.logf(slog.LevelInfo, "chip detected", "target", s.target.String())

	if err := s.attach(); err != nil {
		return err
	}
	s.logf(slog.LevelInfo, "connected")
	return nil
}

// syncRetry retries SYNC up to args.Trials times, 100ms apart, each
// bounded by args.SyncTimeout (spec §4.5.1, §7).
func (s *Session) syncRetry(l *serialLink, args ConnectArgs) error {
	trials := args.Trials
	if trials <= 0 {
		trials = DefaultConnectArgs().Trials
	}
	timeout := args.SyncTimeout
	if timeout <= 0 {
		timeout = DefaultConnectArgs().SyncTimeout
	}

	var lastErr error
	for i := 0; i < trials; i++ {
		s.clk.StartTimer(uint32(timeout.Milliseconds()))
		lastErr = l.Sync(s.clk)
		if lastErr == nil {
			return nil
		}
		if !isTimeout(lastErr) {
			return lastErr
		}
		s.logf(slog.LevelWarn, "sync retry", "attempt", i+1, "trials", trials)
		s.clk.DelayMs(100)
	}
	return ErrTimeout
}

func isTimeout(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindTimeout
}

// attach sends either the ESP8266 workaround or SPI_ATTACH, the last
// step of connect/connect_with_stub (spec §4.6 step 4).
func (s *Session) attach() error {
	if s.target == chip.ESP8266 {
		s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
		return s.esp8266FlashBeginWorkaround()
	}

	config, err := chip.ReadSPIConfig(s.profile, s)
	if err != nil {
		return err
	}
	s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
	return s.spiAttach(uint32(config))
}

// ConnectSecureDownloadMode connects to a target that is locked in
// secure download mode (spec §4.6): the caller supplies both flash
// size and target chip since magic-register probing is unavailable.
func (s *Session) ConnectSecureDownloadMode(args ConnectArgs, flashSize uint32, target chip.Kind) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := target.Validate(); err != nil {
		return wrapErr(KindInvalidTarget, "secure download mode target", err)
	}

	if err := s.link.EnterBootloader(); err != nil {
		return wrapErr(KindFail, "enter bootloader", err)
	}

	l, ok := s.link.(*serialLink)
	if !ok {
		return newErr(KindUnsupportedFunc, "secure download mode connect requires the serial/USB transport")
	}
	if err := s.syncRetry(l, args); err != nil {
		return err
	}

	s.flashSize = flashSize
	s.target = target
	s.profile = chip.Profiles[target]

	if target == chip.ESP8266 {
		s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
		return s.esp8266FlashBeginWorkaround()
	}
	s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
	return s.spiAttach(0)
}

// Reset clears stub state and resets the target, returning the
// session to Disconnected (spec §4.8 reset_target).
func (s *Session) Reset() error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	s.stubRunning = false
	s.target = chip.Unknown
	return s.link.ResetTarget()
}

func fmtUnsupported(op string, target chip.Kind) error {
	return newErr(KindUnsupportedFunc, fmt.Sprintf("%s is not supported on %v", op, target))
}
