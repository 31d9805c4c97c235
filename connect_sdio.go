package espflasher

import (
	"encoding/binary"
	"fmt"
	"time"

	"espflasher/internal/chip"
)

// SDIO CCCR registers, common to every SDIO device (spec §4.5.2),
// grounded on original_source/src/protocol_sdio.c's
// SD_IO_CCCR_FN_ENABLE/SD_IO_CCCR_FN_READY/SD_IO_CCR_FN_ENABLE_FUNC1_EN.
const (
	sdioCCCRFnEnable     uint32 = 0x02
	sdioCCCRFnReady      uint32 = 0x03
	sdioCCCRFunc1EnBit   byte   = 1 << 1
)

// ConnectSDIO performs the SDIO/SIP bring-up sequence (spec §4.5.2
// steps 1-4: card init, CCCR function-1 enable, chip detect via
// slchost date, link setup), then the shared attach step (spec §4.6
// step 4). Upload and handover to the stub is a separate step; see
// ConnectWithStubSDIO.
func (s *Session) ConnectSDIO(args ConnectArgs) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	return s.connectSDIOLocked(args)
}

func (s *Session) connectSDIOLocked(args ConnectArgs) error {
	l, ok := s.link.(*sdioLink)
	if !ok {
		return newErr(KindUnsupportedFunc, "ConnectSDIO requires a Session built with NewSDIOSession")
	}

	if err := s.link.EnterBootloader(); err != nil {
		return wrapErr(KindFail, "enter bootloader", err)
	}

	trials := args.Trials
	if trials <= 0 {
		trials = DefaultConnectArgs().Trials
	}
	var cardErr error
	for i := 0; i < trials; i++ {
		cardErr = l.t.SDIOCardInit()
		if cardErr == nil {
			break
		}
		s.clk.DelayMs(100)
	}
	if cardErr != nil {
		return wrapErr(KindFail, "sdio card init", cardErr)
	}

	if err := sdioWaitReady(l.t, 100*time.Millisecond); err != nil {
		return err
	}
	if err := sdioEnableFunction1(l.t); err != nil {
		return err
	}

	if err := sdioWaitReady(l.t, 100*time.Millisecond); err != nil {
		return err
	}
	target, err := sdioDetectChip(l.t)
	if err != nil {
		return err
	}
	s.target = target
	s.profile = chip.Profiles[target]

	if err := sdioInitLink(s.profile, l.t); err != nil {
		return err
	}

	return s.attach()
}

// sdioWaitReady polls CCCR function-ready (function 0, register 0x03)
// for the function-1-enabled bit, bounded by timeout (spec §4.5.2's
// shared "wait ready" precondition on every bring-up step).
func sdioWaitReady(t SDIOLink, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		buf := make([]byte, 4)
		if res := t.SDIORead(0, sdioCCCRFnReady, buf[:1], time.Until(deadline)); res != ResultOK {
			if res == ResultTimeout {
				return ErrTimeout
			}
			return wrapErr(KindFail, "sdio wait ready", fmt.Errorf("result=%v", res))
		}
		if buf[0]&sdioCCCRFunc1EnBit != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
	}
}

// sdioEnableFunction1 sets CCCR's function-1-enable bit and reads it
// back to verify (spec §4.5.2 step 2).
func sdioEnableFunction1(t SDIOLink) error {
	buf := make([]byte, 4)
	if res := t.SDIORead(0, sdioCCCRFnEnable, buf[:1], ShortTimeout); res != ResultOK {
		return wrapErr(KindFail, "sdio read CCCR fn-enable", fmt.Errorf("result=%v", res))
	}
	buf[0] |= sdioCCCRFunc1EnBit
	want := buf[0]
	if res := t.SDIOWrite(0, sdioCCCRFnEnable, buf[:1], ShortTimeout); res != ResultOK {
		return wrapErr(KindFail, "sdio write CCCR fn-enable", fmt.Errorf("result=%v", res))
	}
	if res := t.SDIORead(0, sdioCCCRFnEnable, buf[:1], ShortTimeout); res != ResultOK {
		return wrapErr(KindFail, "sdio read back CCCR fn-enable", fmt.Errorf("result=%v", res))
	}
	if buf[0] != want {
		return newErr(KindFail, "sdio CCCR function-1 enable did not take")
	}
	return nil
}

// sdioDetectChip scans every SDIO-capable profile's slchost date
// register for a match (spec §4.3 "On SDIO, detection reads the
// slchost date register of each SDIO-capable profile").
func sdioDetectChip(t SDIOLink) (chip.Kind, error) {
	for _, k := range []chip.Kind{chip.ESP32, chip.ESP32C6} {
		p := chip.Profiles[k]
		if !p.SDIOSupported {
			continue
		}
		buf := make([]byte, 4)
		if res := t.SDIORead(1, p.SDIODateRegAddr, buf, ShortTimeout); res != ResultOK {
			continue
		}
		if binary.LittleEndian.Uint32(buf) == p.SDIODateRegValue {
			return k, nil
		}
	}
	return chip.Unknown, newErr(KindInvalidTarget, "sdio chip detection: no slchost date register matched")
}

// slcReadRegister/slcWriteRegister implement protocol_sdio.c's
// slave_read_register/slave_write_register: a command byte packed
// into the window-cmd/conf registers, read back from state-w0 (spec
// §4.5.2's link-setup read-modify-write).
func slcReadRegister(p chip.Profile, t SDIOLink, addr uint32) (uint32, error) {
	buf := make([]byte, 4)
	buf[0] = byte((addr >> 2) & 0x7F)
	buf[1] = 0x80
	if res := t.SDIOWrite(1, p.SLCHostWinCmdAddr, buf, ShortTimeout); res != ResultOK {
		return 0, wrapErr(KindFail, "sdio slc read-register cmd", fmt.Errorf("result=%v", res))
	}
	out := make([]byte, 4)
	if res := t.SDIORead(1, p.SLCHostStateW0Addr, out, ShortTimeout); res != ResultOK {
		return 0, wrapErr(KindFail, "sdio slc read-register state", fmt.Errorf("result=%v", res))
	}
	return binary.LittleEndian.Uint32(out), nil
}

func slcWriteRegister(p chip.Profile, t SDIOLink, addr, val uint32) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], val)
	buf[4] = byte((addr >> 2) & 0x7F)
	buf[5] = 0xC0
	if res := t.SDIOWrite(1, p.SLCHostConfW5Addr, buf, ShortTimeout); res != ResultOK {
		return wrapErr(KindFail, "sdio slc write-register", fmt.Errorf("result=%v", res))
	}
	return nil
}

// sdioInitLink sets the TX/RX stitch-enable bits (verified) then the
// packet-load-enable bit (unverifiable, self-clearing), per spec
// §4.5.2 step 4.
func sdioInitLink(p chip.Profile, t SDIOLink) error {
	if err := sdioWaitReady(t, 100*time.Millisecond); err != nil {
		return err
	}

	reg, err := slcReadRegister(p, t, p.SLCConf1Addr)
	if err != nil {
		return err
	}
	reg |= p.SLCConf1TxStitchEn | p.SLCConf1RxStitchEn
	want := reg
	if err := slcWriteRegister(p, t, p.SLCConf1Addr, reg); err != nil {
		return err
	}
	reg, err = slcReadRegister(p, t, p.SLCConf1Addr)
	if err != nil {
		return err
	}
	if reg != want {
		return newErr(KindFail, "sdio link setup: stitch-enable bits did not take")
	}

	if err := sdioWaitReady(t, 100*time.Millisecond); err != nil {
		return err
	}
	reg, err = slcReadRegister(p, t, p.SLCLenConfAddr)
	if err != nil {
		return err
	}
	reg |= p.SLCLenConfTxPacketLoadEn
	return slcWriteRegister(p, t, p.SLCLenConfAddr, reg)
}
