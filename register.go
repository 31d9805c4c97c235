package espflasher

import (
	"espflasher/internal/chip"
	"espflasher/internal/proto"
)

// ReadRegister issues READ_REG, a straight passthrough (spec §4.8).
func (s *Session) ReadRegister(address uint32) (uint32, error) {
	release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	return s.readRegisterLocked(address)
}

func (s *Session) readRegisterLocked(address uint32) (uint32, error) {
	s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
	resp, err := s.link.Command(s.clk, proto.ReadReg, proto.ReadRegArgs{Address: address}.Encode(), 0, 0)
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// WriteRegister issues WRITE_REG, a straight passthrough (spec §4.8).
func (s *Session) WriteRegister(address, value uint32) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	return s.writeRegisterLocked(address, value)
}

func (s *Session) writeRegisterLocked(address, value uint32) error {
	s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
	args := proto.WriteRegArgs{Address: address, Value: value, Mask: 0xFFFFFFFF, Delay: 0}
	_, err := s.link.Command(s.clk, proto.WriteReg, args.Encode(), 0, 0)
	return err
}

// ReadMAC reads the two eFuse words that encode the station MAC
// address (spec §4.8, §4.4): not available on ESP8266.
func (s *Session) ReadMAC() ([6]byte, error) {
	release, err := s.acquire()
	if err != nil {
		return [6]byte{}, err
	}
	defer release()

	var mac [6]byte
	if s.target == chip.ESP8266 {
		return mac, fmtUnsupported("read_mac", s.target)
	}

	p1, err := s.readRegisterLocked(s.profile.EfuseBase + s.profile.MacEfuseOffset)
	if err != nil {
		return mac, err
	}
	p2, err := s.readRegisterLocked(s.profile.EfuseBase + s.profile.MacEfuseOffset + 4)
	if err != nil {
		return mac, err
	}

	mac[0] = byte(p2 >> 8)
	mac[1] = byte(p2)
	mac[2] = byte(p1 >> 24)
	mac[3] = byte(p1 >> 16)
	mac[4] = byte(p1 >> 8)
	mac[5] = byte(p1)
	return mac, nil
}

// getSecurityInfoRaw issues GET_SECURITY_INFO and decodes either
// response shape, used both by the public GetSecurityInfo and by
// chip detection's first probe (spec §4.3).
func (s *Session) getSecurityInfoRaw() (chip.SecurityInfo, error) {
	s.clk.StartTimer(uint32(ShortTimeout.Milliseconds()))
	resp, err := s.link.Command(s.clk, proto.GetSecInfo, nil, 0, -1)
	if err != nil {
		return chip.SecurityInfo{}, err
	}
	data := resp.Data()
	if info, ok := chip.DecodeSecurityInfoLong(data); ok && len(data) >= 20 {
		return info, nil
	}
	if info, ok := chip.DecodeSecurityInfoShort(data); ok {
		return info, nil
	}
	return chip.SecurityInfo{}, newErr(KindInvalidResponse, "GET_SECURITY_INFO response has an unrecognised size")
}

// GetSecurityInfo decodes GET_SECURITY_INFO, available only on the
// serial/USB transport (spec §4.8).
func (s *Session) GetSecurityInfo() (chip.SecurityInfo, error) {
	release, err := s.acquire()
	if err != nil {
		return chip.SecurityInfo{}, err
	}
	defer release()

	if _, ok := s.link.(*sdioLink); ok {
		return chip.SecurityInfo{}, newErr(KindUnsupportedFunc, "get_security_info is not available on the SDIO transport")
	}
	if !s.link.SupportsResponseData() {
		return chip.SecurityInfo{}, newErr(KindUnsupportedFunc, "get_security_info requires a transport that carries response data")
	}
	return s.getSecurityInfoRaw()
}
