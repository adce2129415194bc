package securemem

import (
	"crypto/subtle"
	"errors"
	"runtime"

	"github.com/awnumar/memguard"
)

// Region is an owned allocation for secret bytes. The backing pages are
// guarded and, where supported, locked against swap; Destroy zeroizes them
// before returning the memory to the allocator.
type Region struct {
	buf *memguard.LockedBuffer
}

// Allocate returns a zero-initialized region of n bytes. A non-positive n
// yields an empty region.
func Allocate(n int) *Region {
	if n < 1 {
		return &Region{}
	}
	return &Region{buf: memguard.NewBuffer(n)}
}

// NewRegionFromBytes moves src into a fresh region. The source slice is
// wiped as part of the move, so the only live copy afterwards is the region.
func NewRegionFromBytes(src []byte) *Region {
	if len(src) == 0 {
		return &Region{}
	}
	return &Region{buf: memguard.NewBufferFromBytes(src)}
}

// Bytes exposes the region contents as a view into locked memory. The slice
// must not outlive the region and must not be appended to.
func (r *Region) Bytes() []byte {
	if r == nil || r.buf == nil || !r.buf.IsAlive() {
		return nil
	}
	return r.buf.Bytes()
}

// Len returns the region size in bytes, zero once destroyed.
func (r *Region) Len() int {
	if r == nil || r.buf == nil || !r.buf.IsAlive() {
		return 0
	}
	return r.buf.Size()
}

// Write copies b over the start of the region. It fails if the region has
// been destroyed or b does not fit.
func (r *Region) Write(b []byte) error {
	if r == nil || r.buf == nil || !r.buf.IsAlive() {
		return errors.New("write to destroyed region")
	}
	if len(b) > r.buf.Size() {
		return errors.New("data exceeds region size")
	}
	r.buf.Melt()
	copy(r.buf.Bytes(), b)
	return nil
}

// Clone returns an independent region holding a copy of the contents. The
// copy travels locked-to-locked memory, never through the ordinary heap.
func (r *Region) Clone() *Region {
	if r == nil || r.buf == nil || !r.buf.IsAlive() {
		return nil
	}
	dst := memguard.NewBuffer(r.buf.Size())
	dst.Melt()
	copy(dst.Bytes(), r.buf.Bytes())
	return &Region{buf: dst}
}

// Destroy zeroizes the region and releases it. Safe to call more than once
// and on a nil region.
func (r *Region) Destroy() {
	if r == nil || r.buf == nil {
		return
	}
	r.buf.Destroy()
}

// Alive reports whether the region still holds its bytes.
func (r *Region) Alive() bool {
	return r != nil && r.buf != nil && r.buf.IsAlive()
}

// Equal compares the region against b in constant time.
func (r *Region) Equal(b []byte) bool {
	if !r.Alive() {
		return false
	}
	return subtle.ConstantTimeCompare(r.Bytes(), b) == 1
}

// String implements fmt.Stringer with a redacted form so that formatting a
// region can never print its contents.
func (r *Region) String() string { return "securemem.Region(redacted)" }

// Wipe erases the contents of a loose byte slice holding sensitive data.
// subtle.XORBytes performs a constant-time self-XOR the compiler cannot
// elide, and KeepAlive pins the slice until the wipe completes.
func Wipe(data []byte) {
	if len(data) == 0 {
		return
	}
	subtle.XORBytes(data, data, data)
	runtime.KeepAlive(data)
}
