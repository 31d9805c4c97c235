package espflasher

import (
	"testing"

	"espflasher/internal/chip"
	"espflasher/internal/proto"
)

func TestReadRegisterReturnsValue(t *testing.T) {
	l := &fakeLink{queue: []linkResult{{resp: okResponse(proto.ReadReg, 0xDEADBEEF, nil)}}}
	s, _ := newTestSession(l)

	got, err := s.ReadRegister(0x1000)
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if got != 0xDEADBEEF {
		t.Fatalf("ReadRegister() = %#x, want 0xDEADBEEF", got)
	}
	if len(l.calls) != 1 || l.calls[0].op != proto.ReadReg {
		t.Fatalf("expected one READ_REG call, got %+v", l.calls)
	}
}

func TestReadRegisterAcquiresLock(t *testing.T) {
	l := &fakeLink{}
	s, _ := newTestSession(l)

	release, err := s.acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	if _, err := s.ReadRegister(0); err == nil {
		t.Fatal("expected ReadRegister to refuse concurrent use")
	}
}

func TestWriteRegisterEncodesMaskAndDelay(t *testing.T) {
	l := &fakeLink{}
	s, _ := newTestSession(l)

	if err := s.WriteRegister(0x2000, 0x42); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	if len(l.calls) != 1 {
		t.Fatalf("expected one WRITE_REG call, got %d", len(l.calls))
	}
	args := l.calls[0].body
	if len(args) != 16 {
		t.Fatalf("WRITE_REG body length = %d, want 16", len(args))
	}
}

func TestReadMACCombinesEfuseWords(t *testing.T) {
	l := &fakeLink{queue: []linkResult{
		{resp: okResponse(proto.ReadReg, 0x04030201, nil)},
		{resp: okResponse(proto.ReadReg, 0x00000005, nil)},
	}}
	s, _ := newTestSession(l)
	s.target = chip.ESP32
	s.profile = chip.Profiles[chip.ESP32]

	mac, err := s.ReadMAC()
	if err != nil {
		t.Fatalf("ReadMAC: %v", err)
	}
	want := [6]byte{0x00, 0x05, 0x04, 0x03, 0x02, 0x01}
	if mac != want {
		t.Fatalf("ReadMAC() = %x, want %x", mac, want)
	}
}

func TestReadMACUnsupportedOnESP8266(t *testing.T) {
	l := &fakeLink{}
	s, _ := newTestSession(l)
	s.target = chip.ESP8266

	_, err := s.ReadMAC()
	e, ok := err.(*Error)
	if !ok || e.Kind != KindUnsupportedFunc {
		t.Fatalf("ReadMAC() on ESP8266 = %v, want KindUnsupportedFunc", err)
	}
}

func TestGetSecurityInfoRequiresResponseData(t *testing.T) {
	l := &fakeLink{supportsData: false}
	s, _ := newTestSession(l)

	_, err := s.GetSecurityInfo()
	e, ok := err.(*Error)
	if !ok || e.Kind != KindUnsupportedFunc {
		t.Fatalf("GetSecurityInfo() = %v, want KindUnsupportedFunc on a transport without response data", err)
	}
}

func TestGetSecurityInfoDecodesLongForm(t *testing.T) {
	data := make([]byte, 20)
	data[0] = 1 // SecureBootEnabled
	data[12] = 0x05
	data[13] = 0x00
	data[16] = 3

	l := &fakeLink{supportsData: true, queue: []linkResult{
		{resp: okResponse(proto.GetSecInfo, 0, data)},
	}}
	s, _ := newTestSession(l)

	info, err := s.GetSecurityInfo()
	if err != nil {
		t.Fatalf("GetSecurityInfo: %v", err)
	}
	if !info.SecureBootEnabled {
		t.Fatal("expected SecureBootEnabled")
	}
	if info.ChipID != 5 || info.EcoVersion != 3 {
		t.Fatalf("info = %+v, want ChipID=5 EcoVersion=3", info)
	}
	if info.Short {
		t.Fatal("20-byte long-form response should not be marked Short")
	}
}
