package ivalue

import "unsafe"

// Storage owns the raw bytes behind one or more tensors. The object itself
// stays alive across runs; only its data slice comes and goes. The memory
// planner rebinds Data to an arena slice at the top of each run and Reset
// drops it at the end, so a tensor can be "defined" while its storage is
// empty between runs.
type Storage struct {
	data   []byte
	nbytes int64
}

// NewStorage returns a storage owning a fresh buffer of n bytes.
func NewStorage(n int64) *Storage {
	s := &Storage{}
	s.EnsureBytes(n)
	return s
}

// Data returns the current data slice, nil after Reset.
func (s *Storage) Data() []byte {
	return s.data
}

// NBytes returns the logical byte size of the storage.
func (s *Storage) NBytes() int64 {
	return s.nbytes
}

// EnsureBytes makes the storage at least n bytes long, reallocating only
// when the current buffer is too small. Out-variant kernels call this on
// every run; in the steady state the planner has already bound a buffer of
// sufficient size and this is a no-op apart from the length bookkeeping.
func (s *Storage) EnsureBytes(n int64) {
	if int64(cap(s.data)) < n {
		s.data = AlignedBytes(n)
	}
	s.data = s.data[:n]
	s.nbytes = n
}

// SetData rebinds the storage to an externally owned buffer without
// copying. Used by the memory planner to point cluster members into the
// arena.
func (s *Storage) SetData(buf []byte, nbytes int64) {
	// Clamp capacity so a later EnsureBytes cannot silently grow into the
	// neighbouring arena region.
	s.data = buf[0:nbytes:nbytes]
	s.nbytes = nbytes
}

// Reset releases the data slice but keeps the Storage itself alive, so
// pointers held by ProcessedNode outputs stay valid across runs.
func (s *Storage) Reset() {
	s.data = nil
	s.nbytes = 0
}

// addr returns the base address of the data slice, 0 when empty. Used only
// by the overlap probe below.
func (s *Storage) addr() uintptr {
	if len(s.data) == 0 {
		return 0
	}
	return sliceAddr(s.data)
}

func sliceAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// MemOverlap reports whether the byte ranges of a and b overlap. Two empty
// storages never overlap; the same Storage object trivially does.
func MemOverlap(a, b *Storage) bool {
	if a == nil || b == nil {
		return false
	}
	if a == b {
		return len(a.data) > 0
	}
	la, lb := int64(len(a.data)), int64(len(b.data))
	if la == 0 || lb == 0 {
		return false
	}
	sa, sb := a.addr(), b.addr()
	return sa < sb+uintptr(lb) && sb < sa+uintptr(la)
}
