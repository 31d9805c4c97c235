// Package chip holds the per-target register/magic-value tables and
// detection logic (spec §3, §4.3, §4.4), grounded on
// original_source/src/esp_targets.c and original_source/include/esp_loader.h.
package chip

import "fmt"

// Kind identifies a supported target chip (spec §3's TargetKind).
type Kind int

const (
	ESP8266 Kind = iota
	ESP32
	ESP32S2
	ESP32S3
	ESP32C2
	ESP32C3
	ESP32C5
	ESP32C6
	ESP32H2
	ESP32P4
	Unknown
)

func (k Kind) String() string {
	switch k {
	case ESP8266:
		return "ESP8266"
	case ESP32:
		return "ESP32"
	case ESP32S2:
		return "ESP32-S2"
	case ESP32S3:
		return "ESP32-S3"
	case ESP32C2:
		return "ESP32-C2"
	case ESP32C3:
		return "ESP32-C3"
	case ESP32C5:
		return "ESP32-C5"
	case ESP32C6:
		return "ESP32-C6"
	case ESP32H2:
		return "ESP32-H2"
	case ESP32P4:
		return "ESP32-P4"
	default:
		return "unknown"
	}
}

// Profile is the per-target register map and identity data (spec §3's
// TargetProfile), exact values from esp_targets.c::esp_target.
type Profile struct {
	Kind Kind

	SPIRegBase  uint32
	SPIUsrOff   uint32
	SPIUsr1Off  uint32
	SPIUsr2Off  uint32
	SPIW0Off    uint32
	SPIMosiOff  uint32 // mosi_dlen register offset
	SPIMisoOff  uint32 // miso_dlen register offset

	EfuseBase       uint32
	MacEfuseOffset  uint32

	// Magic can hold more than one accepted magic value (ESP32-C3 and
	// ESP32-C2 ship more than one silicon revision's magic word).
	Magic []uint32

	ChipID uint32

	EncryptionInBeginFlashCmd bool

	// SDIOSupported marks the two targets whose SDIO slave-date register
	// is known (original_source/src/protocol_sdio.c's esp_target table).
	SDIOSupported    bool
	SDIODateRegAddr  uint32
	SDIODateRegValue uint32

	// SLCHost* and SLC* fields mirror protocol_sdio.c::esp_target_t,
	// the slchost packet-window and SLC stitch-bit register map an SDIO
	// target needs for link setup and command framing (spec §4.5.2).
	SLCHostStateW0Addr   uint32
	SLCHostConfW5Addr    uint32
	SLCHostWinCmdAddr    uint32
	SLCHostPacketSpaceEnd uint32

	SLCConf1Addr              uint32
	SLCLenConfAddr            uint32
	SLCConf1TxStitchEn        uint32
	SLCConf1RxStitchEn        uint32
	SLCLenConfTxPacketLoadEn  uint32
}

// Register offsets common to every SPI register layout (relative to
// SPIRegBase), matching the CMD/USR/USR1/USR2/W0/MOSI_DLEN/MISO_DLEN
// naming in esp_targets.c.
const (
	spiCmdOffset = 0x00
)

// SPICmdAddr, SPIUsrAddr, ... return the absolute register address for
// this profile, i.e. SPIRegBase + the named offset.
func (p Profile) SPICmdAddr() uint32  { return p.SPIRegBase + spiCmdOffset }
func (p Profile) SPIUsrAddr() uint32  { return p.SPIRegBase + p.SPIUsrOff }
func (p Profile) SPIUsr1Addr() uint32 { return p.SPIRegBase + p.SPIUsr1Off }
func (p Profile) SPIUsr2Addr() uint32 { return p.SPIRegBase + p.SPIUsr2Off }
func (p Profile) SPIW0Addr() uint32   { return p.SPIRegBase + p.SPIW0Off }
func (p Profile) SPIMosiAddr() uint32 { return p.SPIRegBase + p.SPIMosiOff }
func (p Profile) SPIMisoAddr() uint32 { return p.SPIRegBase + p.SPIMisoOff }

// Profiles is the full per-chip table, indexed by Kind, transcribed
// from esp_targets.c::esp_target[ESP_MAX_CHIP]. Unknown has the zero
// Profile and is never matched.
var Profiles = map[Kind]Profile{
	ESP8266: {
		Kind:           ESP8266,
		SPIRegBase:     0x60000200,
		SPIUsrOff:      0x1c,
		SPIUsr1Off:     0x20,
		SPIUsr2Off:     0x24,
		SPIW0Off:       0x40,
		EfuseBase:      0, // ESP8266 has no eFuse-based SPI pin recovery path
		MacEfuseOffset: 0,
		Magic:          []uint32{0xfff0c101},
		ChipID:         0xffff, // ESP8266 predates chip_id in GET_SECURITY_INFO
	},
	ESP32: {
		Kind:                      ESP32,
		SPIRegBase:                0x3ff42000,
		SPIUsrOff:                 0x1c,
		SPIUsr1Off:                0x20,
		SPIUsr2Off:                0x24,
		SPIW0Off:                  0x80,
		SPIMosiOff:                0x28,
		SPIMisoOff:                0x2c,
		EfuseBase:                 0x3ff5a000,
		MacEfuseOffset:            0x04,
		Magic:                     []uint32{0x00f01d83},
		ChipID:                    0x0000,
		EncryptionInBeginFlashCmd: true,
		SDIOSupported:             true,
		SDIODateRegAddr:           0x178,
		SDIODateRegValue:          0x16022500,
		SLCHostStateW0Addr:        0x64,
		SLCHostConfW5Addr:         0x80,
		SLCHostWinCmdAddr:         0x84,
		SLCHostPacketSpaceEnd:     0x1f800,
		SLCConf1Addr:              0x60,
		SLCLenConfAddr:            0xE4,
		SLCConf1TxStitchEn:        1 << 5,
		SLCConf1RxStitchEn:        1 << 6,
		SLCLenConfTxPacketLoadEn:  1 << 24,
	},
	ESP32S2: {
		Kind:           ESP32S2,
		SPIRegBase:     0x3f402000,
		SPIUsrOff:      0x18,
		SPIUsr1Off:     0x1c,
		SPIUsr2Off:     0x20,
		SPIW0Off:       0x58,
		SPIMosiOff:     0x24,
		SPIMisoOff:     0x28,
		EfuseBase:      0x3f41A000,
		MacEfuseOffset: 0x44,
		Magic:          []uint32{0x000007c6},
		ChipID:         0x0002,
	},
	ESP32S3: {
		Kind:           ESP32S3,
		SPIRegBase:     0x60002000,
		SPIUsrOff:      0x18,
		SPIUsr1Off:     0x1c,
		SPIUsr2Off:     0x20,
		SPIW0Off:       0x58,
		SPIMosiOff:     0x24,
		SPIMisoOff:     0x28,
		EfuseBase:      0x60007000,
		MacEfuseOffset: 0x44,
		Magic:          []uint32{0x9}, // masked chip-revision-independent value
		ChipID:         0x0009,
	},
	ESP32C2: {
		Kind:           ESP32C2,
		SPIRegBase:     0x60002000,
		SPIUsrOff:      0x18,
		SPIUsr1Off:     0x1c,
		SPIUsr2Off:     0x20,
		SPIW0Off:       0x58,
		SPIMosiOff:     0x24,
		SPIMisoOff:     0x28,
		EfuseBase:      0x60008800,
		MacEfuseOffset: 0x44,
		Magic:          []uint32{0x6f51306f, 0x7c41a06f},
		ChipID:         0x000C,
	},
	ESP32C3: {
		Kind:           ESP32C3,
		SPIRegBase:     0x60002000,
		SPIUsrOff:      0x18,
		SPIUsr1Off:     0x1c,
		SPIUsr2Off:     0x20,
		SPIW0Off:       0x58,
		SPIMosiOff:     0x24,
		SPIMisoOff:     0x28,
		EfuseBase:      0x60008800,
		MacEfuseOffset: 0x44,
		Magic:          []uint32{0x6921506f, 0x1b31506f, 0x4881606F, 0x4361606F},
		ChipID:         0x0005,
	},
	ESP32C5: {
		Kind:           ESP32C5,
		SPIRegBase:     0x60003000,
		SPIUsrOff:      0x18,
		SPIUsr1Off:     0x1c,
		SPIUsr2Off:     0x20,
		SPIW0Off:       0x58,
		SPIMosiOff:     0x24,
		SPIMisoOff:     0x28,
		EfuseBase:      0x600B4800,
		MacEfuseOffset: 0x44,
		Magic:          []uint32{0x1101406F},
		ChipID:         0x0017,
	},
	ESP32C6: {
		Kind:             ESP32C6,
		SPIRegBase:       0x60003000,
		SPIUsrOff:        0x18,
		SPIUsr1Off:       0x1c,
		SPIUsr2Off:       0x20,
		SPIW0Off:         0x58,
		SPIMosiOff:     0x24,
		SPIMisoOff:     0x28,
		EfuseBase:        0x600B0800,
		MacEfuseOffset:   0x44,
		Magic:            []uint32{0x2CE0806F},
		ChipID:           0x000D,
		SDIOSupported:    true,
		SDIODateRegAddr:  0x178,
		SDIODateRegValue: 0x21060700,
		SLCHostStateW0Addr:       0x64,
		SLCHostConfW5Addr:        0x80,
		SLCHostWinCmdAddr:        0x84,
		SLCHostPacketSpaceEnd:    0x1f800,
		SLCConf1Addr:             0x70,
		SLCLenConfAddr:           0xF4,
		SLCConf1TxStitchEn:       1 << 5,
		SLCConf1RxStitchEn:       1 << 6,
		SLCLenConfTxPacketLoadEn: 1 << 24,
	},
	ESP32H2: {
		Kind:           ESP32H2,
		SPIRegBase:     0x60003000,
		SPIUsrOff:      0x18,
		SPIUsr1Off:     0x1c,
		SPIUsr2Off:     0x20,
		SPIW0Off:       0x58,
		SPIMosiOff:     0x24,
		SPIMisoOff:     0x28,
		EfuseBase:      0x600B0800,
		MacEfuseOffset: 0x44,
		Magic:          []uint32{0xD7B73E80},
		ChipID:         0x0010,
	},
	ESP32P4: {
		Kind:           ESP32P4,
		SPIRegBase:     0x5008d000,
		SPIUsrOff:      0x18,
		SPIUsr1Off:     0x1c,
		SPIUsr2Off:     0x20,
		SPIW0Off:       0x58,
		SPIMosiOff:     0x24,
		SPIMisoOff:     0x28,
		EfuseBase:      0x5012D000,
		MacEfuseOffset: 0x44,
		Magic:          nil,
		ChipID:         0x0012,
	},
}

// SPIDateRegAddr and the expected date value for ESP32-P4 chip
// detection's final fallback (no magic register on this silicon;
// esp_targets.c::loader_detect_chip falls back to reading the SPI
// flash controller's date register).
const (
	ESP32P4SPIDateRegAddr  uint32 = 0x500d0000
	ESP32P4SPIDateRegMask  uint32 = 0x7FFFFFF
	ESP32P4SPIDateExpected uint32 = 0x2207202
)

// FromChipID linearly scans the profile table for a matching ChipID,
// mirroring esp_targets.c::target_from_chip_id: an unmatched chip_id
// is not an error, it falls back to Unknown so the caller can continue
// with magic-register scanning (SPEC_FULL supplement #1).
func FromChipID(chipID uint32) Kind {
	for _, k := range detectionOrder {
		if Profiles[k].ChipID == chipID {
			return k
		}
	}
	return Unknown
}

// FromMagic scans every profile's accepted magic values for a match,
// the fallback path used when GET_SECURITY_INFO isn't available
// (ROM-only targets, or explicit magic-register read).
func FromMagic(magic uint32) Kind {
	for _, k := range detectionOrder {
		for _, m := range Profiles[k].Magic {
			if m == magic {
				return k
			}
		}
	}
	return Unknown
}

// detectionOrder fixes iteration over the Profiles map so detection is
// deterministic and matches the original table's declaration order.
var detectionOrder = []Kind{
	ESP8266, ESP32, ESP32S2, ESP32S3, ESP32C2, ESP32C3, ESP32C5, ESP32C6, ESP32H2, ESP32P4,
}

// MagicRegisterAddr is the register the ROM exposes chip identification
// magic through before GET_SECURITY_INFO existed (spec §4.3).
const MagicRegisterAddr uint32 = 0x40001000

func (k Kind) Validate() error {
	if k == Unknown {
		return fmt.Errorf("chip: unknown target kind")
	}
	if _, ok := Profiles[k]; !ok {
		return fmt.Errorf("chip: no profile for kind %v", k)
	}
	return nil
}
