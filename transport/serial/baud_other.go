//go:build !linux

package serial

import (
	"errors"

	"go.bug.st/serial"
)

// setCustomBaud has no non-Linux implementation; ChangeBitrate falls
// back to closing the port and reopening it with serial.Open.
func setCustomBaud(_ serial.Port, _ int) error {
	return errors.New("serial: custom ioctl baud rate unsupported on this platform")
}
