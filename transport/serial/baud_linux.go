//go:build linux

package serial

import (
	"fmt"

	"go.bug.st/serial"
	"golang.org/x/sys/unix"
)

// portFder is satisfied by go.bug.st/serial's concrete Linux port type,
// which exposes the underlying file descriptor for raw ioctl access.
// go.bug.st/serial doesn't export this directly; ports that don't
// support it fall back to a close/reopen in ChangeBitrate.
type portFder interface {
	Fd() uintptr
}

// setCustomBaud attempts a TCSETS2 ioctl with BOTHER so bit rates
// outside serial.Mode's fixed table (the ESP32-C2/C3 scaled rates from
// §4.8's change_transmission_rate quirk) can be set without a full
// port close/reopen, grounded on barnettlynn-nfctools/keyswap's
// termios/ioctl raw-mode pattern.
func setCustomBaud(port serial.Port, baud int) error {
	fder, ok := port.(portFder)
	if !ok {
		return fmt.Errorf("serial: port does not expose a file descriptor")
	}
	fd := int(fder.Fd())

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS2)
	if err != nil {
		return fmt.Errorf("serial: TCGETS2: %w", err)
	}

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= unix.BOTHER
	termios.Ispeed = uint32(baud)
	termios.Ospeed = uint32(baud)

	if err := unix.IoctlSetTermios(fd, unix.TCSETS2, termios); err != nil {
		return fmt.Errorf("serial: TCSETS2: %w", err)
	}
	return nil
}
