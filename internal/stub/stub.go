// Package stub holds the embedded per-target RAM stub images and the
// overlap-guard logic shared by every stub upload path (spec §4.7),
// grounded on original_source/src/esp_loader.c
// (esp_loader_connect_with_stub, esp_loader_mem_start's overlap check)
// and protocol_uart.c::loader_run_stub.
package stub

import "fmt"

// RAMBlockSize is the chunk size stub upload writes are split into
// (spec §4.7: "repeated mem_write chunks of ≤ RAM_BLOCK").
const RAMBlockSize = 0x1800

// MaxSegments bounds a stub image to at most 3 RAM segments (spec §4.7
// StubImage{header, segments[≤3]}).
const MaxSegments = 3

// OHAIMagic is the 4-byte confirmation frame a freshly handed-over
// stub emits over serial/USB once it's alive and listening.
var OHAIMagic = [4]byte{'O', 'H', 'A', 'I'}

// Segment is one RAM-resident piece of a stub image.
type Segment struct {
	Addr uint32
	Data []byte
}

// end returns the half-open interval's exclusive upper bound.
func (s Segment) end() uint32 { return s.Addr + uint32(len(s.Data)) }

// Image is a chip's compiled-in stub: where it loads in RAM and where
// execution starts once mem_finish hands control to it.
type Image struct {
	Entrypoint uint32
	Segments   []Segment
}

// Validate rejects an image with more segments than the wire format
// allows.
func (img Image) Validate() error {
	if len(img.Segments) > MaxSegments {
		return fmt.Errorf("stub: image has %d segments, max %d", len(img.Segments), MaxSegments)
	}
	return nil
}

// Overlaps reports whether the half-open interval [loadStart, loadEnd)
// a caller wants to mem_start into collides with any of this stub's
// own RAM segments, grounded on esp_loader_mem_start's guard
// (`load_start < stub_end && load_end > stub_start`) — SPEC_FULL
// supplement #5.
func (img Image) Overlaps(loadStart, loadEnd uint32) bool {
	for _, seg := range img.Segments {
		if loadStart < seg.end() && loadEnd > seg.Addr {
			return true
		}
	}
	return false
}

// registry holds the process-wide, read-only stub table (spec §5:
// "a build-time per-target stub image table ... read-only"). Real
// firmware bytes are out of scope for this library (spec §1 Non-goals:
// "example firmware blobs"); callers that need connect_with_stub wire
// their own compiled stub images in at program init via Register.
var registry = map[string]Image{}

// Register installs the stub image for a given target key (typically
// the chip.Kind's String()). Intended to be called from an init()
// function in a build that embeds real stub firmware; not safe to
// call once a Session is in use.
func Register(targetKey string, img Image) {
	registry[targetKey] = img
}

// Lookup returns the registered stub image for a target key, if any.
func Lookup(targetKey string) (Image, bool) {
	img, ok := registry[targetKey]
	return img, ok
}
