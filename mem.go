package espflasher

import (
	"espflasher/internal/proto"
	"espflasher/internal/stub"
)

// MemStart begins a mem_write stream into target RAM (spec §4.8),
// refusing a region that overlaps the currently running stub's own
// segments (SPEC_FULL supplement #5).
func (s *Session) MemStart(offset, size, blockSize uint32) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	return s.memStartLocked(offset, size, blockSize)
}

func (s *Session) memStartLocked(offset, size, blockSize uint32) error {
	if s.stubRunning {
		if img, ok := stub.Lookup(s.target.String()); ok && img.Overlaps(offset, offset+size) {
			return newErr(KindInvalidParam, "mem_start: region overlaps the running stub's RAM segments")
		}
	}

	packetCount := (size + blockSize - 1) / blockSize
	if size == 0 {
		packetCount = 0
	}
	args := proto.MemBeginArgs{Size: size, PacketCount: packetCount, PacketSize: blockSize, Offset: offset}

	s.clk.StartTimer(uint32(sizeBudget(RAMBudgetPerMiB, size).Milliseconds()))
	if _, err := s.link.Command(s.clk, proto.MemBegin, args.Encode(), 0, 0); err != nil {
		return err
	}

	s.flashBlockSize = blockSize
	s.sequenceNumber = 0
	return nil
}

// MemWrite sends one MEM_DATA packet (spec §4.8): unlike flash_write,
// the original does not pad a short final chunk, it sends payload as-is.
func (s *Session) MemWrite(payload []byte) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	return s.memWriteLocked(payload)
}

func (s *Session) memWriteLocked(payload []byte) error {
	if uint32(len(payload)) > s.flashBlockSize {
		return newErr(KindInvalidParam, "mem_write: payload larger than the block size given to mem_start")
	}

	args := proto.DataArgs{Sequence: s.sequenceNumber, Data: payload}
	body := args.Encode()
	checksum := args.Checksum()

	var lastErr error
	for attempt := 0; attempt < WriteBlockRetries; attempt++ {
		s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
		_, err := s.link.Command(s.clk, proto.MemData, body, checksum, 0)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
	}
	if lastErr != nil {
		return lastErr
	}

	s.sequenceNumber++
	return nil
}

// MemFinish ends a mem_write stream (spec §4.8): entrypoint=0 means
// "load only, do not jump" (stay_in_loader=1); any other entrypoint
// hands control to it (stay_in_loader=0).
func (s *Session) MemFinish(entrypoint uint32) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()
	return s.memFinishLocked(entrypoint)
}

func (s *Session) memFinishLocked(entrypoint uint32) error {
	stay := uint32(0)
	if entrypoint == 0 {
		stay = 1
	}
	args := proto.MemEndArgs{StayInLoader: stay, EntryPoint: entrypoint}
	s.clk.StartTimer(uint32(CommandTimeout.Milliseconds()))
	_, err := s.link.Command(s.clk, proto.MemEnd, args.Encode(), 0, 0)
	return err
}
