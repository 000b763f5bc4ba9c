// Package mem implements the physical frame allocator (spec.md §4.A): a
// free-list over 4KiB frames carved from a boot-time memory map, with a
// per-frame reference count used by the virtual-memory manager's
// copy-on-write fork (spec.md §4.B/§8 invariant 2/3).
//
// Grounded on the teacher's mem/mem.go Physmem_t, generalized from literal
// recursive x86 page tables and a patched-runtime Get_phys() feed to a
// plain free-list over a caller-supplied memory map, since breenix-core has
// no real physical address space to carve frames from (spec.md's
// single-CPU non-goal also lets this drop the teacher's per-CPU free-list
// cache — there is only ever one CPU).
package mem

import (
	"fmt"
	"sync"

	"breenix/internal/defs"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE = 1 << PGSHIFT

/// Pa_t represents a physical address, always page-aligned when it names a
/// frame.
type Pa_t uintptr

/// Frame_t is the content of one physical page.
type Frame_t [PGSIZE]uint8

/// MemKind classifies a boot memory-map entry (spec.md §4.A).
type MemKind int

const (
	Reserved MemKind = iota
	Usable
)

/// MemRegion describes one entry of the boot-time memory map.
type MemRegion struct {
	Start Pa_t
	Len   uintptr
	Kind  MemKind
}

type framerec struct {
	refcnt int32
	nexti  uint32 // index of next free frame, ^uint32(0) if none
	inUse  bool   // owned by something other than {free list}: a mapping, heap, or DMA region
}

/// Physmem_t manages all physical memory usable by the kernel. A frame is
/// owned by exactly one of {free list, a mapping set, the kernel heap, a
/// DMA region} (spec.md §3's PhysFrame invariant); ownership outside the
/// free list is tracked purely via refcnt > 0, so "who maps this frame" is
/// never stored — only a count (spec.md §9's COW back-reference note).
type Physmem_t struct {
	mu      sync.Mutex
	frames  []framerec
	backing []Frame_t
	startn  uint32 // frame number of frames[0]
	freei   uint32 // index of first free frame, ^uint32(0) if none
	freelen int
}

const nilIdx = ^uint32(0)

/// Global is the system-wide physical memory allocator instance, installed
/// by Init during boot (spec.md §2 "A,B come up").
var Global = &Physmem_t{}

/// Init carves Global's frame pool out of the usable regions of a boot
/// memory map. It must be called exactly once before any other operation
/// in this package (mirrors the teacher's Phys_init one-shot handshake,
/// generalized per SPEC_FULL.md §2a's ambient-state convention).
func Init(regions []MemRegion) *Physmem_t {
	phys := Global
	phys.mu.Lock()
	defer phys.mu.Unlock()

	total := uintptr(0)
	var start Pa_t
	haveStart := false
	for _, r := range regions {
		if r.Kind != Usable {
			continue
		}
		if !haveStart || r.Start < start {
			start = r.Start
			haveStart = true
		}
	}
	for _, r := range regions {
		if r.Kind != Usable {
			continue
		}
		total += r.Len / PGSIZE
	}
	n := int(total)
	phys.frames = make([]framerec, n)
	phys.backing = make([]Frame_t, n)
	phys.startn = uint32(start) >> PGSHIFT
	phys.freei = nilIdx
	phys.freelen = 0

	// Build the free list by walking regions in order and linking each
	// usable frame onto the tail of the free list, so frames are handed
	// out in region order.
	last := nilIdx
	for _, r := range regions {
		if r.Kind != Usable {
			continue
		}
		nframes := uintptr(r.Len) / PGSIZE
		for i := uintptr(0); i < nframes; i++ {
			pa := r.Start + Pa_t(i*PGSIZE)
			idx := uint32(pa>>PGSHIFT) - phys.startn
			if int(idx) >= len(phys.frames) {
				continue
			}
			phys.frames[idx].nexti = nilIdx
			if last == nilIdx {
				phys.freei = idx
			} else {
				phys.frames[last].nexti = idx
			}
			last = idx
			phys.freelen++
		}
	}
	fmt.Printf("mem: reserved %d frames (%dKB)\n", phys.freelen, phys.freelen*PGSIZE/1024)
	return phys
}

func (phys *Physmem_t) idx(p Pa_t) uint32 {
	return uint32(p>>PGSHIFT) - phys.startn
}

/// AllocFrame hands out one zeroed physical frame (spec.md §4.A's
/// alloc_frame). Its refcount starts at 0 — callers that intend to keep a
/// mapping to it must call Refup.
func (phys *Physmem_t) AllocFrame() (Pa_t, bool) {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	if phys.freei == nilIdx {
		return 0, false
	}
	idx := phys.freei
	phys.freei = phys.frames[idx].nexti
	phys.freelen--
	phys.frames[idx].refcnt = 0
	phys.frames[idx].inUse = true
	for i := range phys.backing[idx] {
		phys.backing[idx][i] = 0
	}
	return Pa_t(idx+phys.startn) << PGSHIFT, true
}

/// AllocContiguous hands out n contiguous frames, or fails if n > 1 and no
/// contiguous run of that length is free (spec.md §4.A: "may fail for
/// n>1" — breenix-core's free list carries no buddy structure, so any
/// n>1 request is satisfied only by scanning for a literal run, same
/// failure mode the spec allows).
func (phys *Physmem_t) AllocContiguous(n int) (Pa_t, bool) {
	if n == 1 {
		return phys.AllocFrame()
	}
	phys.mu.Lock()
	defer phys.mu.Unlock()
	run := 0
	var runStart uint32
	for idx := range phys.frames {
		if phys.frames[idx].inUse || phys.frames[idx].refcnt != 0 {
			run = 0
			continue
		}
		if run == 0 {
			runStart = uint32(idx)
		}
		run++
		if run == n {
			phys.removeRunLocked(runStart, n)
			return Pa_t(runStart+phys.startn) << PGSHIFT, true
		}
	}
	return 0, false
}

func (phys *Physmem_t) removeRunLocked(start uint32, n int) {
	// Rebuild the free list excluding [start, start+n).
	newHead := nilIdx
	var newTail uint32
	for cur := phys.freei; cur != nilIdx; {
		next := phys.frames[cur].nexti
		if cur >= start && cur < start+uint32(n) {
			phys.frames[cur].inUse = true
			phys.freelen--
		} else {
			if newHead == nilIdx {
				newHead = cur
			} else {
				phys.frames[newTail].nexti = cur
			}
			newTail = cur
			phys.frames[cur].nexti = nilIdx
		}
		cur = next
	}
	phys.freei = newHead
}

/// FreeFrame returns a frame to the free list unconditionally. Callers must
/// ensure no mapping still references it (refcnt must already be 0);
/// Refdown is the usual path that arrives here.
func (phys *Physmem_t) FreeFrame(p Pa_t) {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	phys.freeLocked(p)
}

func (phys *Physmem_t) freeLocked(p Pa_t) {
	idx := phys.idx(p)
	if phys.frames[idx].refcnt != 0 {
		panic("mem: freeing frame with outstanding refs")
	}
	phys.frames[idx].inUse = false
	phys.frames[idx].nexti = phys.freei
	phys.freei = idx
	phys.freelen++
}

/// Refcnt returns the current reference count of a frame.
func (phys *Physmem_t) Refcnt(p Pa_t) int {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	return int(phys.frames[phys.idx(p)].refcnt)
}

/// Refup increments a frame's reference count (called whenever a new
/// mapping is installed for that frame — spec.md §4.B clone_for_fork step
/// (c), §4.I's COW/demand-fault paths).
func (phys *Physmem_t) Refup(p Pa_t) {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	idx := phys.idx(p)
	phys.frames[idx].refcnt++
	phys.frames[idx].inUse = true
}

/// Refdown decrements a frame's reference count and frees it if the count
/// reaches 0 (spec.md §3's AS-destruction and §4.I COW-path rule).  It
/// returns true if the frame was freed.
func (phys *Physmem_t) Refdown(p Pa_t) bool {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	idx := phys.idx(p)
	if phys.frames[idx].refcnt <= 0 {
		panic("mem: refdown of frame with no refs")
	}
	phys.frames[idx].refcnt--
	if phys.frames[idx].refcnt == 0 {
		phys.freeLocked(p)
		return true
	}
	return false
}

/// Bytes returns the backing storage for a frame as a byte slice — the
/// simulation-model stand-in for the teacher's direct-map (Dmap) access,
/// since breenix-core has no hardware address space to map physical pages
/// into.
func (phys *Physmem_t) Bytes(p Pa_t) *Frame_t {
	return &phys.backing[phys.idx(p)]
}

/// ErrOOM is returned (wrapped as defs.ENOMEM by callers) when the frame
/// allocator has no free frames left.
var ErrOOM = defs.ENOMEM

/// Pgcount reports the free/total frame counts, for diagnostics (internal/prof).
func (phys *Physmem_t) Pgcount() (free, total int) {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	return phys.freelen, len(phys.frames)
}
