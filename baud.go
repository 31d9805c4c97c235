package espflasher

import (
	"log/slog"

	"espflasher/internal/chip"
	"espflasher/internal/proto"
)

// DefaultBaudRate is the bootloader's fixed initial UART baud rate,
// the value get_crystal_frequency_esp32c2 multiplies its clock-divider
// reading against (original_source/src/esp_loader.c: INITIAL_UART_BAUDRATE).
const DefaultBaudRate = 115200

const (
	uartClkDivReg     uint32 = 0x60000014
	uartClkDivRegMask uint32 = 0xFFFFF

	esp32c2Crystal26MHz uint32 = 26
	esp32c2Crystal40MHz uint32 = 40
	crystalFreqThreshold uint32 = 33
)

// esp32c2CrystalFrequency works around the ESP32-C2 ROM bug that
// always assumes a 40 MHz crystal even when the part shipped with a
// 26 MHz one, by reading the UART clock divider and estimating the
// bus frequency against the known initial baud rate (spec §4.8).
func (s *Session) esp32c2CrystalFrequency() (uint32, error) {
	raw, err := s.readRegisterLocked(uartClkDivReg)
	if err != nil {
		return 0, err
	}
	estFreq := (DefaultBaudRate * (raw & uartClkDivRegMask)) / 1000000
	if estFreq > crystalFreqThreshold {
		return esp32c2Crystal40MHz, nil
	}
	return esp32c2Crystal26MHz, nil
}

// ChangeTransmissionRate issues CHANGE_BAUDRATE with old_baud=0 (spec
// §4.8): not supported on ESP8266 or while the stub is running, and
// scaled by 40/26 on ESP32-C2 when the crystal turns out to be 26 MHz.
func (s *Session) ChangeTransmissionRate(newBaud int) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if s.target == chip.ESP8266 || s.stubRunning {
		return fmtUnsupported("change_transmission_rate", s.target)
	}

	rate := newBaud
	if s.target == chip.ESP32C2 {
		freq, err := s.esp32c2CrystalFrequency()
		if err != nil {
			return err
		}
		if freq == esp32c2Crystal26MHz {
			rate = int(uint32(rate) * esp32c2Crystal40MHz / esp32c2Crystal26MHz)
		}
	}

	args := proto.ChangeBaudrateArgs{NewBaud: uint32(rate), OldBaud: 0}
	s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
	if _, err := s.link.Command(s.clk, proto.ChangeBaudrate, args.Encode(false), 0, 0); err != nil {
		s.logf(slog.LevelError, "change_transmission_rate failed", "err", err)
		return err
	}
	if err := s.link.ChangeBitrate(rate); err != nil {
		return err
	}
	s.logf(slog.LevelInfo, "baud changed", "rate", rate)
	return nil
}

// ChangeTransmissionRateStub issues CHANGE_BAUDRATE with both old and
// new baud (spec §4.8): stub-only, not ESP8266, and sleeps 25ms after
// the ack to give the stub time to switch over before the next command.
func (s *Session) ChangeTransmissionRateStub(oldBaud, newBaud int) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if s.target == chip.ESP8266 || !s.stubRunning {
		return fmtUnsupported("change_transmission_rate_stub", s.target)
	}

	args := proto.ChangeBaudrateArgs{NewBaud: uint32(newBaud), OldBaud: uint32(oldBaud)}
	s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
	if _, err := s.link.Command(s.clk, proto.ChangeBaudrate, args.Encode(true), 0, 0); err != nil {
		s.logf(slog.LevelError, "change_transmission_rate_stub failed", "err", err)
		return err
	}
	if err := s.link.ChangeBitrate(newBaud); err != nil {
		return err
	}
	s.clk.DelayMs(25)
	s.logf(slog.LevelInfo, "baud changed", "rate", newBaud)
	return nil
}
