package proto

// StatusCode is a ROM or stub loader failure reason, carried as the
// second trailing status byte of a response body (original_source:
// private_include/protocol.h error_code_t, logged by
// protocol_serial.c::log_loader_internal_error).
type StatusCode byte

const (
	StatusOK                StatusCode = 0x00
	StatusBadDataLen        StatusCode = 0xC0
	StatusBadDataChecksum   StatusCode = 0xC1
	StatusBadBlocksize      StatusCode = 0xC2
	StatusInvalidCommand    StatusCode = 0xC3
	StatusFailedSPIOp       StatusCode = 0xC4
	StatusFailedSPIUnlock   StatusCode = 0xC5
	StatusNotInFlashMode    StatusCode = 0xC6
	StatusInflateError      StatusCode = 0xC7
	StatusNotEnoughData     StatusCode = 0xC8
	StatusTooMuchData       StatusCode = 0xC9
	StatusCmdNotImplemented StatusCode = 0xFF
)

// Describe returns the debug string the original's
// log_loader_internal_error switch would print for this status code.
func (c StatusCode) Describe() string {
	switch c {
	case StatusOK:
		return "success"
	case StatusBadDataLen:
		return "received message is of invalid length"
	case StatusBadDataChecksum:
		return "checksum of data does not match"
	case StatusBadBlocksize:
		return "data length exceeds max block size"
	case StatusInvalidCommand:
		return "invalid command"
	case StatusFailedSPIOp:
		return "SPI operation failed"
	case StatusFailedSPIUnlock:
		return "SPI unlock failed"
	case StatusNotInFlashMode:
		return "not in flash mode"
	case StatusInflateError:
		return "inflate (decompression) error"
	case StatusNotEnoughData:
		return "not enough data received"
	case StatusTooMuchData:
		return "too much data received"
	case StatusCmdNotImplemented:
		return "command not implemented by stub"
	default:
		return "unknown status code"
	}
}
