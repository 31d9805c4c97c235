package chip

// FlashSizeEntry maps a flash chip's third ID byte to its size in
// bytes, transcribed from esp_loader.c::esp_loader_flash_detect_size's
// lookup table.
type FlashSizeEntry struct {
	IDByte byte
	Size   uint32
}

const KiB = 1024
const MiB = 1024 * 1024

// FlashSizeTable is the 24-entry size lookup (spec §8 testable property:
// id=0x14 -> 1 MiB, id=0x18 -> 16 MiB, id=0x22 -> 256 MiB, id=0x39 -> 32 MiB).
var FlashSizeTable = []FlashSizeEntry{
	{0x12, 256 * KiB},
	{0x13, 512 * KiB},
	{0x14, 1 * MiB},
	{0x15, 2 * MiB},
	{0x16, 4 * MiB},
	{0x17, 8 * MiB},
	{0x18, 16 * MiB},
	{0x19, 32 * MiB},
	{0x1A, 64 * MiB},
	{0x1B, 128 * MiB},
	{0x1C, 256 * MiB},
	{0x20, 1 * MiB},
	{0x21, 2 * MiB},
	{0x22, 256 * MiB},
	{0x23, 8 * MiB},
	{0x24, 16 * MiB},
	{0x25, 32 * MiB},
	{0x26, 64 * MiB},
	{0x32, 2 * MiB},
	{0x33, 4 * MiB},
	{0x34, 8 * MiB},
	{0x35, 16 * MiB},
	{0x38, 16 * MiB},
	{0x39, 32 * MiB},
}

// FlashSizeFromID returns the flash size for idByte, and false when the
// byte doesn't match any known flash part (the caller maps that to
// ErrUnsupportedChip per spec §4.4).
func FlashSizeFromID(idByte byte) (uint32, bool) {
	for _, e := range FlashSizeTable {
		if e.IDByte == idByte {
			return e.Size, true
		}
	}
	return 0, false
}
