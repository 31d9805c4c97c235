package espflasher

import (
	"espflasher/internal/chip"
	"espflasher/internal/proto"
)

// detectChip implements spec §4.3's three-step serial/USB detection:
// GET_SECURITY_INFO, then the magic register, then the ESP32-P4 SPI
// date-register fallback.
func (s *Session) detectChip() error {
	if info, err := s.getSecurityInfoRaw(); err == nil {
		var target chip.Kind
		if info.Short {
			target = chip.ESP32S2
		} else {
			target = chip.FromChipID(uint32(info.ChipID))
		}
		if target != chip.Unknown {
			s.target = target
			s.profile = chip.Profiles[target]
			return nil
		}
	}

	s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
	magic, err := s.readRegisterLocked(chip.MagicRegisterAddr)
	if err == nil {
		if target := chip.FromMagic(magic); target != chip.Unknown {
			s.target = target
			s.profile = chip.Profiles[target]
			return nil
		}
	}

	s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
	dateReg, err := s.readRegisterLocked(chip.ESP32P4SPIDateRegAddr)
	if err == nil && dateReg&chip.ESP32P4SPIDateRegMask == chip.ESP32P4SPIDateExpected {
		s.target = chip.ESP32P4
		s.profile = chip.Profiles[chip.ESP32P4]
		return nil
	}

	return newErr(KindInvalidTarget, "chip detection failed: no magic register or security-info match")
}

// esp8266FlashBeginWorkaround sends FLASH_BEGIN(0,0,0,0), the
// documented ROM workaround connect() issues for ESP8266 in place of
// SPI_ATTACH (spec §4.6 step 4).
func (s *Session) esp8266FlashBeginWorkaround() error {
	body := proto.FlashBeginArgs{}.Encode(false)
	_, err := s.link.Command(s.clk, proto.FlashBegin, body, 0, 0)
	return err
}

// spiAttach issues SPI_ATTACH with the given pin config, shrinking the
// body when the stub is already running (spec §4.2, §9).
func (s *Session) spiAttach(config uint32) error {
	body := proto.SpiAttachArgs{Config: config}.Encode(s.stubRunning)
	_, err := s.link.Command(s.clk, proto.SpiAttach, body, 0, 0)
	return err
}

// ReadEfuseWord implements chip.EfuseReader so chip.ReadSPIConfig can
// recover the SPI_ATTACH pin config straight from the session's own
// register-read path (spec §4.4).
func (s *Session) ReadEfuseWord(word int) (uint32, error) {
	s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
	return s.readRegisterLocked(s.profile.EfuseBase + uint32(word)*4)
}
