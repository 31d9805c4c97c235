package chip

// SPIPinConfig is the decoded SPI pin assignment recovered from eFuse
// (spec §4.4): CLK/Q/D/CS/HD GPIO numbers packed the way SPI_ATTACH
// expects them, or 0 when the chip has no configurable pins.
type SPIPinConfig uint32

// EfuseReader reads a single 32-bit eFuse word by index, the minimal
// surface flash_detect_size's pin-recovery path needs from a session
// (kept separate from the Transport interface so this package stays
// free of I/O concerns).
type EfuseReader interface {
	ReadEfuseWord(word int) (uint32, error)
}

func adjustPinNumber(pin uint32) uint32 {
	switch pin {
	case 30:
		return 32
	case 31:
		return 33
	default:
		return pin
	}
}

// SPIConfigESP32 recovers the SPI pin config from eFuse words 3 and 5,
// grounded on esp_targets.c::spi_config_esp32: CLK/Q/D/CS packed as
// 5-bit fields in word 5 starting at bit 0, HD at word 3 bit 4. Any
// pin collision, or an all-zero/all-one word, yields config 0 (use
// the ROM's default pins).
func SPIConfigESP32(word3, word5 uint32) SPIPinConfig {
	if word5 == 0 || word5 == 0xFFFFFFFF {
		return 0
	}

	clk := adjustPinNumber(word5 & 0x1F)
	q := adjustPinNumber((word5 >> 5) & 0x1F)
	d := adjustPinNumber((word5 >> 10) & 0x1F)
	cs := adjustPinNumber((word5 >> 15) & 0x1F)
	hd := adjustPinNumber((word3 >> 4) & 0x1F)

	pins := []uint32{clk, q, d, cs, hd}
	for i := range pins {
		for j := i + 1; j < len(pins); j++ {
			if pins[i] == pins[j] {
				return 0
			}
		}
	}

	return SPIPinConfig(clk | q<<5 | d<<10 | cs<<15 | hd<<20)
}

// SPIConfigESP32xx recovers the SPI pin config from eFuse words 18 and
// 19 for the RISC-V ESPxx family, grounded on
// esp_targets.c::spi_config_esp32xx's 30-bit field assembly.
func SPIConfigESP32xx(word18, word19 uint32) SPIPinConfig {
	v := ((word18 >> 16) | (word19&0xFFFFF)<<16) & 0x3FFFFFFF
	return SPIPinConfig(v)
}

// SPIConfigUnsupported is used by chips with fixed, non-eFuse-derived
// SPI pins (C2/C5/C6/H2): report 0, matching
// esp_targets.c::spi_config_unsupported.
func SPIConfigUnsupported() SPIPinConfig {
	return 0
}

// ReadSPIConfig recovers the SPI_ATTACH pin config for profile p,
// dispatching to the family-specific eFuse layout.
func ReadSPIConfig(p Profile, efuse EfuseReader) (SPIPinConfig, error) {
	switch p.Kind {
	case ESP32:
		w3, err := efuse.ReadEfuseWord(3)
		if err != nil {
			return 0, err
		}
		w5, err := efuse.ReadEfuseWord(5)
		if err != nil {
			return 0, err
		}
		return SPIConfigESP32(w3, w5), nil
	case ESP32S2, ESP32S3, ESP32C3, ESP32P4:
		w18, err := efuse.ReadEfuseWord(18)
		if err != nil {
			return 0, err
		}
		w19, err := efuse.ReadEfuseWord(19)
		if err != nil {
			return 0, err
		}
		return SPIConfigESP32xx(w18, w19), nil
	default:
		return SPIConfigUnsupported(), nil
	}
}
