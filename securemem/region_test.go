package securemem

import (
	"bytes"
	"fmt"
	"testing"
)

func TestAllocateZeroed(t *testing.T) {
	r := Allocate(32)
	defer r.Destroy()

	if r.Len() != 32 {
		t.Fatalf("Len() = %d, want 32", r.Len())
	}
	for i, b := range r.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, b)
		}
	}
}

func TestNewRegionFromBytesWipesSource(t *testing.T) {
	src := []byte("super secret seed material")
	want := make([]byte, len(src))
	copy(want, src)

	r := NewRegionFromBytes(src)
	defer r.Destroy()

	if !bytes.Equal(r.Bytes(), want) {
		t.Error("region does not hold the moved bytes")
	}
	for i, b := range src {
		if b != 0 {
			t.Fatalf("source byte %d = %#x, want 0 after move", i, b)
		}
	}
}

func TestWriteAndClone(t *testing.T) {
	r := Allocate(8)
	defer r.Destroy()

	if err := r.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	c := r.Clone()
	defer c.Destroy()
	if !bytes.Equal(c.Bytes(), r.Bytes()) {
		t.Error("clone differs from original")
	}

	// The clone must be independent of the original.
	r.Destroy()
	if !c.Alive() {
		t.Error("clone died with the original")
	}
	if !bytes.Equal(c.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Error("clone mutated by destroying the original")
	}
}

func TestWriteTooLarge(t *testing.T) {
	r := Allocate(4)
	defer r.Destroy()

	if err := r.Write(make([]byte, 5)); err == nil {
		t.Error("expected error writing 5 bytes into a 4-byte region")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	r := NewRegionFromBytes([]byte("x"))
	r.Destroy()
	r.Destroy()

	if r.Alive() {
		t.Error("region alive after Destroy")
	}
	if r.Bytes() != nil {
		t.Error("Bytes() non-nil after Destroy")
	}
	if err := r.Write([]byte{1}); err == nil {
		t.Error("Write succeeded on destroyed region")
	}

	var nilRegion *Region
	nilRegion.Destroy()
}

func TestStringRedacted(t *testing.T) {
	r := NewRegionFromBytes([]byte("correct-horse-battery-staple"))
	defer r.Destroy()

	for _, s := range []string{r.String(), fmt.Sprintf("%v", r), fmt.Sprintf("%s", r)} {
		if bytes.Contains([]byte(s), []byte("horse")) {
			t.Fatalf("formatted region leaked contents: %q", s)
		}
	}
}

func TestEqualConstantTime(t *testing.T) {
	r := NewRegionFromBytes([]byte("password"))
	defer r.Destroy()

	if !r.Equal([]byte("password")) {
		t.Error("Equal rejected matching bytes")
	}
	if r.Equal([]byte("Password")) {
		t.Error("Equal accepted differing bytes")
	}
	if r.Equal([]byte("pass")) {
		t.Error("Equal accepted shorter bytes")
	}
}

func TestWipe(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	Wipe(data)
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, b)
		}
	}

	Wipe(nil) // must not panic
}
