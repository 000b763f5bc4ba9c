package vm

import (
	"sort"

	"breenix/internal/defs"
	"breenix/internal/mem"
	"breenix/internal/pagetable"
)

/// Mtype classifies a VMA's backing store (spec.md §3's VMA kinds).
type Mtype int

const (
	/// VANON is private, demand-zero anonymous memory.
	VANON Mtype = iota
	/// VFILE is a file-backed mapping, private or shared.
	VFILE
	/// VSANON is shared anonymous memory (always fully mapped, never COW).
	VSANON
)

/// FileBacking is the collaborator a VFILE Vminfo_t uses to resolve a page
/// fault against its backing file, supplied by whatever holds the open
/// file (internal/fdops). Kept as a small local interface, rather than
/// importing fdops directly, to avoid a vm<->fdops import cycle (fdops
/// mmaps through vm.AddressSpace).
type FileBacking interface {
	// Filepage returns the physical frame backing the page at file offset
	// off, faulting it in from storage if necessary.
	Filepage(off int) (mem.Pa_t, defs.Err_t)
	// Shared reports whether writes through this mapping must be visible
	// to every mapper (MAP_SHARED) rather than copy-on-write.
	Shared() bool
}

/// Vminfo_t describes one VMA: a contiguous, page-aligned virtual range
/// with uniform backing and permissions (spec.md §3's VMA).
type Vminfo_t struct {
	Mtype Mtype
	Start uintptr // page-aligned virtual start address
	Pages int     // length in pages
	Perms pagetable.PTEFlags

	foff    int
	backing FileBacking
}

/// End returns the address one past the last byte this VMA covers.
func (vmi *Vminfo_t) End() uintptr {
	return vmi.Start + uintptr(vmi.Pages)*mem.PGSIZE
}

/// Filepage resolves the physical frame backing the page containing va,
/// for a VFILE mapping.
func (vmi *Vminfo_t) Filepage(va uintptr) (mem.Pa_t, defs.Err_t) {
	off := vmi.foff + int(va-vmi.Start)
	return vmi.backing.Filepage(off)
}

/// Shared reports whether this mapping's writes must stay visible to every
/// mapper instead of going through copy-on-write.
func (vmi *Vminfo_t) Shared() bool {
	return vmi.Mtype == VSANON || (vmi.Mtype == VFILE && vmi.backing != nil && vmi.backing.Shared())
}

/// Vmregion_t is the sorted, non-overlapping list of VMAs making up one
/// address space's user mappings (spec.md §3's VMA list invariant).
type Vmregion_t struct {
	regions []*Vminfo_t
}

/// insert adds vmi to the region list, keeping it sorted by start address.
/// Panics if vmi overlaps an existing region — the caller (Vm_t.Mmap et al)
/// is responsible for finding a free range first.
func (vr *Vmregion_t) insert(vmi *Vminfo_t) {
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].Start >= vmi.Start
	})
	if i > 0 && vr.regions[i-1].End() > vmi.Start {
		panic("vmregion: overlapping insert")
	}
	if i < len(vr.regions) && vr.regions[i].Start < vmi.End() {
		panic("vmregion: overlapping insert")
	}
	vr.regions = append(vr.regions, nil)
	copy(vr.regions[i+1:], vr.regions[i:])
	vr.regions[i] = vmi
}

/// Lookup returns the VMA containing va, if any.
func (vr *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].End() > va
	})
	if i < len(vr.regions) && vr.regions[i].Start <= va {
		return vr.regions[i], true
	}
	return nil, false
}

/// remove deletes the VMA starting exactly at start, if any.
func (vr *Vmregion_t) remove(start uintptr) (*Vminfo_t, bool) {
	for i, r := range vr.regions {
		if r.Start == start {
			vmi := r
			vr.regions = append(vr.regions[:i], vr.regions[i+1:]...)
			return vmi, true
		}
	}
	return nil, false
}

/// Clear empties the region list (address space teardown).
func (vr *Vmregion_t) Clear() {
	vr.regions = nil
}

/// Each iterates the VMAs in ascending address order.
func (vr *Vmregion_t) Each(f func(*Vminfo_t)) {
	for _, r := range vr.regions {
		f(r)
	}
}

/// empty finds the lowest unused virtual address range of at least
/// minlen bytes at or above startva, returning its start and the size of
/// the gap found (which may exceed minlen) — grounded on the teacher's
/// Vmregion_t.empty used by Unusedva_inner/mmap address selection.
func (vr *Vmregion_t) empty(startva uintptr, minlen uintptr) (uintptr, uintptr) {
	cur := startva
	for _, r := range vr.regions {
		if r.Start < cur {
			if r.End() > cur {
				cur = r.End()
			}
			continue
		}
		if r.Start-cur >= minlen {
			return cur, r.Start - cur
		}
		cur = r.End()
	}
	return cur, ^uintptr(0) - cur
}
