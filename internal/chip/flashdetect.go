package chip

// RegisterAccess is the minimal register read/write surface
// spi_flash_detect_size's bit-banged SPI command needs from a session
// (spec §4.4), kept separate from any transport concern the same way
// EfuseReader is.
type RegisterAccess interface {
	ReadRegister(address uint32) (uint32, error)
	WriteRegister(address, value uint32) error
}

// SPI USR register control bits and the flash READ_ID opcode, grounded
// on original_source/src/esp_loader.c::spi_flash_command.
const (
	spiUsrCmd   uint32 = 1 << 31
	spiUsrMiso  uint32 = 1 << 28
	spiUsrMosi  uint32 = 1 << 27
	spiCmdUsr   uint32 = 1 << 18
	cmdLenShift        = 28

	spiFlashReadID byte = 0x9F
)

// spiFlashCommand bit-bangs one SPI flash transaction through the
// target's SPI controller registers: save usr/usr2, program the
// MOSI/MISO bit lengths (ESP8266 packs both into usr1; every other
// chip uses separate mosi_dlen/miso_dlen registers), issue the command
// opcode, poll cmd for SPI_CMD_USR to clear (≤10 polls), read w0 back,
// then restore usr/usr2 (spec §4.4).
func spiFlashCommand(p Profile, regs RegisterAccess, cmd byte, txBits, rxBits int) (uint32, error) {
	oldUsr, err := regs.ReadRegister(p.SPIUsrAddr())
	if err != nil {
		return 0, err
	}
	oldUsr2, err := regs.ReadRegister(p.SPIUsr2Addr())
	if err != nil {
		return 0, err
	}

	if p.Kind == ESP8266 {
		mosiMask := uint32(0)
		if txBits > 0 {
			mosiMask = uint32(txBits - 1)
		}
		misoMask := uint32(0)
		if rxBits > 0 {
			misoMask = uint32(rxBits - 1)
		}
		if err := regs.WriteRegister(p.SPIUsr1Addr(), (misoMask<<8)|(mosiMask<<17)); err != nil {
			return 0, err
		}
	} else {
		if txBits > 0 {
			if err := regs.WriteRegister(p.SPIMosiAddr(), uint32(txBits-1)); err != nil {
				return 0, err
			}
		}
		if rxBits > 0 {
			if err := regs.WriteRegister(p.SPIMisoAddr(), uint32(rxBits-1)); err != nil {
				return 0, err
			}
		}
	}

	usrReg2 := uint32(7<<cmdLenShift) | uint32(cmd)
	usrReg := spiUsrCmd
	if rxBits > 0 {
		usrReg |= spiUsrMiso
	}
	if txBits > 0 {
		usrReg |= spiUsrMosi
	}

	if err := regs.WriteRegister(p.SPIUsrAddr(), usrReg); err != nil {
		return 0, err
	}
	if err := regs.WriteRegister(p.SPIUsr2Addr(), usrReg2); err != nil {
		return 0, err
	}
	if txBits == 0 {
		if err := regs.WriteRegister(p.SPIW0Addr(), 0); err != nil {
			return 0, err
		}
	}

	if err := regs.WriteRegister(p.SPICmdAddr(), spiCmdUsr); err != nil {
		return 0, err
	}

	trials := 10
	for {
		cmdReg, err := regs.ReadRegister(p.SPICmdAddr())
		if err != nil {
			return 0, err
		}
		if cmdReg&spiCmdUsr == 0 {
			break
		}
		trials--
		if trials == 0 {
			return 0, &timeoutError{}
		}
	}

	val, err := regs.ReadRegister(p.SPIW0Addr())
	if err != nil {
		return 0, err
	}

	if err := regs.WriteRegister(p.SPIUsrAddr(), oldUsr); err != nil {
		return 0, err
	}
	if err := regs.WriteRegister(p.SPIUsr2Addr(), oldUsr2); err != nil {
		return 0, err
	}

	return val, nil
}

// timeoutError marks the ≤10-poll SPI_CMD_USR timeout; the session
// layer maps this to KindTimeout rather than chip needing to know
// about the library's error taxonomy.
type timeoutError struct{}

func (*timeoutError) Error() string { return "chip: spi flash command timed out" }

// IsTimeout reports whether err came from spiFlashCommand's poll loop
// expiring, so callers can map it to their own timeout error kind.
func IsTimeout(err error) bool {
	_, ok := err.(*timeoutError)
	return ok
}

// DetectFlashIDByte issues SPI_FLASH_READ_ID (0x9F) and returns the
// flash part's third ID byte (bits [16:24) of the 24-bit response),
// the value FlashSizeFromID looks up (spec §4.4).
func DetectFlashIDByte(p Profile, regs RegisterAccess) (byte, error) {
	val, err := spiFlashCommand(p, regs, spiFlashReadID, 0, 24)
	if err != nil {
		return 0, err
	}
	return byte(val >> 16), nil
}
