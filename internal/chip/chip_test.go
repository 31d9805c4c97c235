package chip

import "testing"

func TestFromMagicESP32(t *testing.T) {
	if k := FromMagic(0x00f01d83); k != ESP32 {
		t.Fatalf("got %v want ESP32", k)
	}
}

func TestFromMagicESP32C3(t *testing.T) {
	if k := FromMagic(0x6921506F); k != ESP32C3 {
		t.Fatalf("got %v want ESP32-C3", k)
	}
}

func TestFromMagicZeroDoesNotMatchESP32P4(t *testing.T) {
	// ESP32-P4 has no magic register value of its own (esp_targets.c
	// leaves chip_magic_value NULL); a magic-register read of 0 must
	// fall through to Unknown so the date-register fallback runs.
	if k := FromMagic(0x0); k != Unknown {
		t.Fatalf("got %v want Unknown for magic=0", k)
	}
}

func TestFromMagicUnknown(t *testing.T) {
	if k := FromMagic(0xDEADBEEF); k != Unknown {
		t.Fatalf("got %v want Unknown", k)
	}
}

func TestFromChipIDFallsBackToUnknown(t *testing.T) {
	if k := FromChipID(0xABCD); k != Unknown {
		t.Fatalf("got %v want Unknown (no matching chip_id)", k)
	}
}

func TestFlashSizeTableCases(t *testing.T) {
	cases := []struct {
		id   byte
		want uint32
	}{
		{0x14, 1 * MiB},
		{0x18, 16 * MiB},
		{0x22, 256 * MiB},
		{0x39, 32 * MiB},
	}
	for _, c := range cases {
		got, ok := FlashSizeFromID(c.id)
		if !ok {
			t.Fatalf("id 0x%x: expected a match", c.id)
		}
		if got != c.want {
			t.Fatalf("id 0x%x: got %d want %d", c.id, got, c.want)
		}
	}
}

func TestFlashSizeUnknownID(t *testing.T) {
	if _, ok := FlashSizeFromID(0xFF); ok {
		t.Fatalf("expected no match for unknown id")
	}
}

func TestCalcEraseSizeROM(t *testing.T) {
	const s = EraseSectorSize
	cases := []struct {
		off, size uint32
		want      uint32
	}{
		{0, 1 * s, 1 * s},
		{0, 16 * s, 8 * s},
		{0, 17 * s, 1 * s},
	}
	for _, c := range cases {
		got := CalcEraseSizeROM(c.off, c.size)
		if got != c.want {
			t.Fatalf("off=%d size=%d: got %d want %d", c.off, c.size, got, c.want)
		}
	}
}

func TestDecodeSecurityInfoShortReportsS2(t *testing.T) {
	data := make([]byte, 20)
	info, ok := DecodeSecurityInfoShort(data)
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	if !info.Short || info.EcoVersion != 0 {
		t.Fatalf("expected short-form ESP32-S2 response with eco_version=0, got %+v", info)
	}
}

func TestDecodeSecurityInfoLongKeyPurposesOffset(t *testing.T) {
	data := make([]byte, 20)
	data[4] = 0xFF // flash_crypt_cnt: must NOT be folded into key_purposes
	kp := [7]byte{1, 1, 1, 0, 0, 0, 1}
	copy(data[5:12], kp[:])

	info, ok := DecodeSecurityInfoLong(data)
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	if info.KeyPurposes != kp {
		t.Fatalf("KeyPurposes = %v, want %v (flash_crypt_cnt at data[4] must be excluded, data[11] must be included)", info.KeyPurposes, kp)
	}
	if info.FlashEncryptionEnabled {
		t.Fatalf("expected even popcount (4) over the real key_purposes bytes to report flash encryption disabled")
	}
}

func TestSecurityFlagsSecureBootOnly(t *testing.T) {
	info := decodeFlags(0x0001, [7]byte{}, 0, 0, false)
	if !info.SecureBootEnabled {
		t.Fatalf("expected secure boot enabled")
	}
	if info.SecureBootAggressiveRevokeEnabled || info.JTAGHardwareDisabled || info.FlashEncryptionEnabled {
		t.Fatalf("expected all other flags false, got %+v", info)
	}
}

func TestSecurityFlagsFlashEncryptionOddPopcount(t *testing.T) {
	info := decodeFlags(0, [7]byte{1, 1, 1, 0, 0, 0, 0}, 0, 0, false)
	if !info.FlashEncryptionEnabled {
		t.Fatalf("expected flash encryption enabled for odd popcount")
	}
}

func TestSPIConfigESP32AllZeroWordIsZero(t *testing.T) {
	if got := SPIConfigESP32(0, 0); got != 0 {
		t.Fatalf("got %v want 0", got)
	}
}

func TestSPIConfigESP32CollisionIsZero(t *testing.T) {
	// clk and cs both 1 after adjustment -> collision -> 0
	word5 := uint32(1) | uint32(1)<<15
	if got := SPIConfigESP32(0, word5); got != 0 {
		t.Fatalf("got %v want 0 on pin collision", got)
	}
}

func TestSPIConfigUnsupportedIsZero(t *testing.T) {
	if SPIConfigUnsupported() != 0 {
		t.Fatalf("expected 0")
	}
}
