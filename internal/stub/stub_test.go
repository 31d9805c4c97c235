package stub

import "testing"

func TestImageValidateRejectsTooManySegments(t *testing.T) {
	img := Image{Segments: make([]Segment, MaxSegments+1)}
	if err := img.Validate(); err == nil {
		t.Fatalf("expected error for %d segments", len(img.Segments))
	}
}

func TestOverlapsDetectsHalfOpenIntervalCollision(t *testing.T) {
	img := Image{Segments: []Segment{{Addr: 0x4000, Data: make([]byte, 0x100)}}}

	if !img.Overlaps(0x3F80, 0x4080) {
		t.Fatalf("expected overlap: load window straddles segment start")
	}
	if img.Overlaps(0x3000, 0x4000) {
		t.Fatalf("expected no overlap: load window ends exactly at segment start (half-open)")
	}
	if img.Overlaps(0x4100, 0x5000) {
		t.Fatalf("expected no overlap: load window starts exactly at segment end (half-open)")
	}
}

func TestRegisterAndLookup(t *testing.T) {
	img := Image{Entrypoint: 0x1000, Segments: []Segment{{Addr: 0x1000, Data: []byte{1, 2, 3}}}}
	Register("TEST_KIND", img)

	got, ok := Lookup("TEST_KIND")
	if !ok {
		t.Fatalf("expected registered image to be found")
	}
	if got.Entrypoint != img.Entrypoint {
		t.Fatalf("got entrypoint %x want %x", got.Entrypoint, img.Entrypoint)
	}
}

func TestLookupMissing(t *testing.T) {
	if _, ok := Lookup("NOT_REGISTERED"); ok {
		t.Fatalf("expected no image registered")
	}
}
