package kalloc

import (
	"sync"
	"sync/atomic"
)

// MemoryRegion describes the backing storage handed to Initialize — a
// minimal stand-in for a parsed boot memory map (the out-of-scope ATAG
// reader is the real source of this information on bare metal; here it
// is just a size to allocate).
type MemoryRegion struct {
	Size uintptr
}

var (
	globalMu   sync.Mutex
	globalInit atomic.Bool
	global     *Arena
)

// Initialize constructs the package-level arena once, from a freshly
// allocated byte slice of region.Size bytes. Calling it again returns
// ErrAlreadyInitialized; Alloc and Free are unusable until it has
// succeeded.
func Initialize(region MemoryRegion) error {
	if !globalInit.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	a, err := NewArena(make([]byte, region.Size))
	if err != nil {
		globalInit.Store(false)
		return err
	}
	globalMu.Lock()
	global = a
	globalMu.Unlock()
	return nil
}

// Alloc allocates from the package-level arena, guarded by a mutex so
// it is safe to call from multiple goroutines. It panics if called
// before Initialize succeeds — the same "this is a programming error,
// not a runtime condition" policy the rest of this repo applies to
// misuse that a caller cannot sensibly recover from.
func Alloc(size, align uintptr) (uintptr, bool) {
	if !globalInit.Load() {
		panic("kalloc: Alloc called before Initialize")
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	return global.Alloc(size, align)
}

// Free releases a region back to the package-level arena. See Alloc
// for the panic-before-Initialize policy and its rationale.
func Free(ptr, size, align uintptr) {
	if !globalInit.Load() {
		panic("kalloc: Free called before Initialize")
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	global.Free(ptr, size, align)
}
