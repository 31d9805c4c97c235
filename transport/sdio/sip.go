// Package sdio implements the SDIO/SIP transport (spec §4.5.2),
// grounded on original_source/private_include/sip.h and
// original_source/src/protocol_sdio.c. Host-level SDIO function I/O
// (CMD52/CMD53 equivalents) is out of this library's scope (spec §1:
// "SDIO/SPI driver binding" is Out of scope) and is supplied by the
// caller's board-support code through the Host interface.
package sdio

import "encoding/binary"

// SIP header flag bits (sip.h SIP_HDR_F_*).
const (
	SIPFlagSync uint16 = 0x04
)

// SIP command ids (sip.h sip_cmd_id_t).
const (
	SIPGetVersion   byte = 0
	SIPWriteMemory  byte = 1
	SIPBootup       byte = 5
)

const sipHeaderSize = 8

// BuildWriteMemory packs a SIP WRITE_MEMORY command: an 8-byte SIP
// header followed by an 8-byte {addr, len} command body and then data,
// matching sip_cmd_write_memory.
func BuildWriteMemory(seq uint16, addr uint32, data []byte) []byte {
	out := make([]byte, sipHeaderSize+8+len(data))
	writeHeader(out, SIPWriteMemory, 0, uint16(8+len(data)), seq)
	binary.LittleEndian.PutUint32(out[8:12], addr)
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(data)))
	copy(out[16:], data)
	return out
}

// BuildBootup packs a SIP BOOTUP command with the SYNC flag set and
// discard_link always 1, matching sip_cmd_bootup and spec §4.5.2 step 5.
func BuildBootup(seq uint16, bootAddr uint32) []byte {
	out := make([]byte, sipHeaderSize+8)
	writeHeader(out, SIPBootup, SIPFlagSync, 8, seq)
	binary.LittleEndian.PutUint32(out[8:12], bootAddr)
	binary.LittleEndian.PutUint32(out[12:16], 1) // discard_link
	return out
}

// writeHeader fills the 8-byte SIP header: fc[0]=cmd, fc[1]=flags-low,
// len, then a union word (credits/tx_info, unused here) and sequence.
func writeHeader(out []byte, cmd byte, flags uint16, length uint16, seq uint16) {
	out[0] = cmd
	out[1] = byte(flags)
	binary.LittleEndian.PutUint16(out[2:4], length)
	binary.LittleEndian.PutUint16(out[4:6], 0)
	binary.LittleEndian.PutUint16(out[6:8], seq)
}
