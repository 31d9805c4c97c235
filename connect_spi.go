package espflasher

// ConnectSPI performs the SPI-slave connect sequence (spec §4.6
// steps 1, 3, 4). The IDLE/READY handshake (spec §4.5.3 step "IDLE →
// host writes READY → wait for slave READY") is wire-level transport
// setup owned by the concrete SPILink behind the port (mirroring
// transport/spi.Transport.Handshake, run once before a Session is
// constructed) rather than a repeatable Session-level step, so this
// only needs to strap/reset, detect the chip, and attach.
func (s *Session) ConnectSPI(args ConnectArgs) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if _, ok := s.link.(*spiLink); !ok {
		return newErr(KindUnsupportedFunc, "ConnectSPI requires a Session built with NewSPISession")
	}

	if err := s.link.EnterBootloader(); err != nil {
		return wrapErr(KindFail, "enter bootloader", err)
	}

	if err := s.detectChip(); err != nil {
		return err
	}

	return s.attach()
}
