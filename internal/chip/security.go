package chip

import "math/bits"

// SecurityInfo is the decoded GET_SECURITY_INFO response (spec §3).
// EcoVersion and ChipID are zero-valued (and Short is true) on the
// 12-byte ESP32-S2 response, which omits the trailing chip-id/eco
// fields entirely.
type SecurityInfo struct {
	Flags uint32

	SecureBootEnabled                 bool
	SecureBootAggressiveRevokeEnabled bool
	RevokedKeys                       [3]bool
	JTAGHardwareDisabled              bool
	JTAGSoftwareDisabled              bool
	USBDisabled                       bool
	DownloadDCacheDisabled            bool
	DownloadICacheDisabled            bool
	SecureDownloadModeOn              bool

	FlashEncryptionEnabled bool

	KeyPurposes [7]byte

	ChipID     uint16
	EcoVersion byte

	// Short is true for the 12-byte ESP32-S2 response form, which
	// carries no chip_id/eco_version fields (SPEC_FULL supplement #4).
	Short bool
}

// Security info flag bits (original_source/private_include/protocol.h
// GET_SECURITY_INFO_* macros).
const (
	flagSecureBootEnabled          = 1 << 0
	flagSecureBootAggressiveRevoke = 1 << 1
	flagSecureDownloadModeOn       = 1 << 2
	flagRevokeKey0                 = 1 << 3
	flagRevokeKey1                 = 1 << 4
	flagRevokeKey2                 = 1 << 5
	flagJTAGSoftwareDisabled       = 1 << 6
	flagJTAGHardwareDisabled       = 1 << 7
	flagUSBDisabled                = 1 << 8
	flagDownloadDCacheDisabled     = 1 << 9
	flagDownloadICacheDisabled     = 1 << 10
)

// DecodeSecurityInfoLong decodes the full 20-byte GET_SECURITY_INFO
// response payload: flags(4) flash_crypt_cnt(1) key_purposes(7)
// chip_id(4) eco_version(4).
func DecodeSecurityInfoLong(data []byte) (SecurityInfo, bool) {
	if len(data) < 20 {
		return SecurityInfo{}, false
	}
	flags := le32(data[0:4])
	var kp [7]byte
	copy(kp[:], data[5:12])
	chipID := uint16(data[12]) | uint16(data[13])<<8
	eco := data[16]
	return decodeFlags(flags, kp, chipID, eco, false), true
}

// DecodeSecurityInfoShort decodes the 12-byte ESP32-S2 response form,
// which omits chip_id/eco_version entirely (SPEC_FULL supplement #4).
func DecodeSecurityInfoShort(data []byte) (SecurityInfo, bool) {
	if len(data) < 12 {
		return SecurityInfo{}, false
	}
	flags := le32(data[0:4])
	var kp [7]byte
	copy(kp[:], data[5:12])
	info := decodeFlags(flags, kp, 0, 0, true)
	return info, true
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func decodeFlags(flags uint32, keyPurposes [7]byte, chipID uint16, eco byte, short bool) SecurityInfo {
	popcount := 0
	for _, kp := range keyPurposes {
		popcount += bits.OnesCount8(kp)
	}

	return SecurityInfo{
		Flags:                             flags,
		SecureBootEnabled:                 flags&flagSecureBootEnabled != 0,
		SecureBootAggressiveRevokeEnabled: flags&flagSecureBootAggressiveRevoke != 0,
		RevokedKeys: [3]bool{
			flags&flagRevokeKey0 != 0,
			flags&flagRevokeKey1 != 0,
			flags&flagRevokeKey2 != 0,
		},
		JTAGHardwareDisabled:   flags&flagJTAGHardwareDisabled != 0,
		JTAGSoftwareDisabled:   flags&flagJTAGSoftwareDisabled != 0,
		USBDisabled:            flags&flagUSBDisabled != 0,
		DownloadDCacheDisabled: flags&flagDownloadDCacheDisabled != 0,
		DownloadICacheDisabled: flags&flagDownloadICacheDisabled != 0,
		SecureDownloadModeOn:   flags&flagSecureDownloadModeOn != 0,
		FlashEncryptionEnabled: popcount%2 == 1,
		KeyPurposes:            keyPurposes,
		ChipID:                 chipID,
		EcoVersion:             eco,
		Short:                  short,
	}
}
