package kalloc

import (
	"fmt"
	"unsafe"

	log "github.com/sirupsen/logrus"

	"github.com/rpi-go/bootkit/internal/freelist"
)

// binSizes are the allocator's size classes. 8 bytes is folded into 16
// here (rather than kept as its own class) because internal/freelist's
// node is two machine words — 16 bytes on every hosted 64-bit Go target
// this repo builds for — and a class narrower than a node could never
// actually recycle a freed region of its own size.
var binSizes = [...]uintptr{16, 32, 64, 128, 256, 512, 1024, 2048}

// fallbackThreshold is the largest size a bin will serve; anything
// larger is carved from, and returned to, the fallback list.
const fallbackThreshold = 2048

// Arena is a fixed range of backing memory managed by a segregated-fit
// allocator: one free list per size class, a fallback list of
// uncoalesced regions larger than fallbackThreshold, and a watermark
// that carves fresh memory when nothing free fits.
//
// An Arena is not safe for concurrent use; callers that need a shared
// instance across goroutines should go through the package-level
// singleton in global.go, which adds its own locking.
type Arena struct {
	mem      []byte
	start    uintptr
	end      uintptr
	current  uintptr
	bins     [len(binSizes)]freelist.List
	fallback freelist.List
}

// NewArena builds an allocator over mem. mem must hold at least
// freelist.NodeSize bytes and is owned by the Arena for its lifetime —
// the caller must not read, write, resize, or otherwise alias it
// afterward except through the returned Arena.
func NewArena(mem []byte) (*Arena, error) {
	if uintptr(len(mem)) < freelist.NodeSize {
		return nil, fmt.Errorf("%w: arena of %d bytes smaller than one node (%d)",
			ErrInvalidLayout, len(mem), freelist.NodeSize)
	}
	base := unsafe.Pointer(&mem[0])
	a := &Arena{
		mem:      mem,
		start:    uintptr(base),
		end:      uintptr(base) + uintptr(len(mem)),
		current:  uintptr(base),
		fallback: freelist.New(base),
	}
	for i := range a.bins {
		a.bins[i] = freelist.New(base)
	}
	log.Debugf("[ALLOC] arena ready [0x%x, 0x%x)", a.start, a.end)
	return a, nil
}

// binIndex returns the smallest class able to hold size, folding any
// request narrower than the smallest class up to it. ok is false if
// size exceeds every class (the caller belongs on the fallback path).
func binIndex(size uintptr) (idx int, ok bool) {
	if size < binSizes[0] {
		size = binSizes[0]
	}
	for i, s := range binSizes {
		if s >= size {
			return i, true
		}
	}
	return 0, false
}

// largestFittingBin returns the index of the largest class that still
// fits within size. Callers only reach this with size >= binSizes[0].
func largestFittingBin(size uintptr) int {
	idx := 0
	for i, s := range binSizes {
		if s > size {
			break
		}
		idx = i
	}
	return idx
}

func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// Alloc returns size bytes aligned to align, or (0, false) if no region
// in the arena can satisfy the request. align must be a power of two;
// a violation is treated as a rejected request, not a panic, since it
// is the kind of bad input a caller can recover from by retrying with
// a corrected layout.
func (a *Arena) Alloc(size, align uintptr) (uintptr, bool) {
	if size == 0 || align == 0 || align&(align-1) != 0 {
		log.Warnf("[ALLOC] rejected request size=%d align=%d", size, align)
		return 0, false
	}

	// Classification uses max(size, align), not size alone: a request
	// that's tiny but wants an oversized alignment (e.g. size=1,
	// align=4096) can never be served by a bin smaller than its own
	// alignment, so it has to route to the fallback/watermark path
	// regardless of how small size is.
	s := size
	if align > s {
		s = align
	}

	if idx, ok := binIndex(s); ok && s <= fallbackThreshold {
		classSize := binSizes[idx]
		if ptr, ok := a.allocFromBin(idx, align); ok {
			log.Debugf("[ALLOC][BIN %d] served 0x%x for size=%d align=%d", classSize, ptr, size, align)
			return ptr, true
		}
		if ptr, ok := a.allocFresh(classSize, align); ok {
			log.Debugf("[ALLOC][BIN %d][FRESH] served 0x%x for size=%d align=%d", classSize, ptr, size, align)
			return ptr, true
		}
		log.Warnf("[ALLOC][BIN %d] exhausted for size=%d align=%d", classSize, size, align)
		return 0, false
	}

	if ptr, ok := a.allocFromFallback(size, align); ok {
		log.Debugf("[ALLOC][FALLBACK] served 0x%x for size=%d align=%d", ptr, size, align)
		return ptr, true
	}
	if ptr, ok := a.allocFresh(size, align); ok {
		log.Debugf("[ALLOC][FALLBACK][FRESH] served 0x%x for size=%d align=%d", ptr, size, align)
		return ptr, true
	}
	log.Warnf("[ALLOC] arena exhausted for size=%d align=%d", size, align)
	return 0, false
}

// allocFromBin scans a class's free list for a region whose address
// already satisfies align, removing and returning the first match.
// Bin regions are all exactly classSize, so unlike the fallback path
// there is nothing to carve — a misaligned region is simply skipped.
func (a *Arena) allocFromBin(idx int, align uintptr) (uintptr, bool) {
	cur := a.bins[idx].Cursor()
	for {
		h, ok := cur.Next()
		if !ok {
			return 0, false
		}
		e := h.Value()
		if e.Addr%align == 0 {
			h.Remove()
			return e.Addr, true
		}
	}
}

// allocFromFallback first-fits size+align within the fallback list,
// carving the exact aligned sub-range out of the first region that can
// hold it and recycling whatever remains on either side.
func (a *Arena) allocFromFallback(size, align uintptr) (uintptr, bool) {
	cur := a.fallback.Cursor()
	for {
		h, ok := cur.Next()
		if !ok {
			return 0, false
		}
		e := h.Value()
		alignedStart := alignUp(e.Addr, align)
		regionEnd := e.Addr + e.Size
		if alignedStart < e.Addr || alignedStart+size > regionEnd {
			continue
		}
		h.Remove()
		a.handleGap(e.Addr, alignedStart-e.Addr)
		a.handleGap(alignedStart+size, regionEnd-(alignedStart+size))
		return alignedStart, true
	}
}

// allocFresh carves size+align bytes off the watermark, recycling the
// alignment padding before it as a gap. It is the last resort once no
// free region fits.
func (a *Arena) allocFresh(size, align uintptr) (uintptr, bool) {
	oldCurrent := a.current
	alignedStart := alignUp(oldCurrent, align)
	if alignedStart < oldCurrent || alignedStart+size < alignedStart || alignedStart+size > a.end {
		return 0, false
	}
	a.current = alignedStart + size
	if gap := alignedStart - oldCurrent; gap > 0 {
		a.handleGap(oldCurrent, gap)
	}
	return alignedStart, true
}

// handleGap disposes of a carved region left over after satisfying an
// allocation: dropped if smaller than any free-list node can hold,
// binned by the largest class it fits if it's within the bin range, or
// pushed onto the fallback list. Only one block is ever carved out of
// the gap; any residue past that single block is dropped, not
// recursively re-carved — a deliberate simplification, matching the
// original allocator's fit_in_largest_bin.
func (a *Arena) handleGap(addr, size uintptr) {
	if size < freelist.NodeSize {
		if size > 0 {
			log.Debugf("[ALLOC][GAP] dropped %d bytes at 0x%x (too small to recycle)", size, addr)
		}
		return
	}
	if size > fallbackThreshold {
		a.fallback.Push(addr, size)
		log.Debugf("[ALLOC][GAP] recycled %d bytes at 0x%x into fallback", size, addr)
		return
	}
	idx := largestFittingBin(size)
	classSize := binSizes[idx]
	a.bins[idx].Push(addr, classSize)
	if residue := size - classSize; residue > 0 {
		log.Debugf("[ALLOC][GAP] recycled %d bytes at 0x%x into bin %d, dropped %d bytes residue",
			classSize, addr, classSize, residue)
	} else {
		log.Debugf("[ALLOC][GAP] recycled %d bytes at 0x%x into bin %d", classSize, addr, classSize)
	}
}

// Free returns a previously allocated region to the arena. size and
// align must match the values passed to the Alloc call that produced
// ptr; kalloc trusts this the way its donor's allocator trusts its own
// callers, since there is no metadata stored per allocation to check
// it against.
func (a *Arena) Free(ptr, size, align uintptr) {
	// Classification mirrors Alloc's max(size, align); the fallback
	// push below still uses the raw requested size, not this widened
	// value — any alignment padding Alloc paid internally is silently
	// dropped here, matching the original allocator's dealloc.
	s := size
	if align > s {
		s = align
	}
	if idx, ok := binIndex(s); ok && s <= fallbackThreshold {
		a.bins[idx].Push(ptr, binSizes[idx])
		log.Debugf("[ALLOC][FREE][BIN %d] 0x%x", binSizes[idx], ptr)
		return
	}
	a.fallback.Push(ptr, size)
	log.Debugf("[ALLOC][FREE][FALLBACK] 0x%x size=%d", ptr, size)
}
