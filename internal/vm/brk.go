package vm

import (
	"breenix/internal/defs"
	"breenix/internal/mem"
	"breenix/internal/pagetable"
	"breenix/internal/util"
)

/// InitBrk installs the initial (empty) heap VMA starting at start.
func (as *AddressSpace) InitBrk(start uintptr) {
	as.LockPmap()
	defer as.UnlockPmap()
	as.brk = start
	vmi := &Vminfo_t{Mtype: VANON, Start: start, Pages: 0, Perms: pagetable.PTE_U | pagetable.PTE_W}
	as.Vmregion.insert(vmi)
}

/// Brk grows or shrinks the heap VMA to end at newbrk, returning the
/// resulting break address. Shrinking below the original start is
/// rejected; growing into an already-mapped region is rejected.
func (as *AddressSpace) Brk(newbrk uintptr) (uintptr, defs.Err_t) {
	as.LockPmap()
	defer as.UnlockPmap()

	vmi, ok := as.Vmregion.Lookup(as.brk)
	if !ok {
		// brk with nothing mapped yet: find the region starting exactly
		// where brk points, since End() can equal brk for a zero-length VMA.
		var found *Vminfo_t
		as.Vmregion.Each(func(v *Vminfo_t) {
			if v.Start <= as.brk && v.End() >= as.brk {
				found = v
			}
		})
		vmi = found
	}
	if vmi == nil {
		return as.brk, -defs.EINVAL
	}

	newbrk = util.Roundup(newbrk, mem.PGSIZE) // align growth requests up
	if newbrk < vmi.Start {
		return as.brk, -defs.EINVAL
	}

	newPages := (newbrk - vmi.Start) / mem.PGSIZE
	if int(newPages) > vmi.Pages {
		newEnd := vmi.Start + newPages*mem.PGSIZE
		collides := false
		as.Vmregion.Each(func(v *Vminfo_t) {
			if v != vmi && v.Start < newEnd && v.End() > vmi.End() {
				collides = true
			}
		})
		if collides {
			return as.brk, -defs.EINVAL
		}
	}
	if int(newPages) < vmi.Pages {
		// Shrinking: unmap and refdown the pages being dropped.
		for va := vmi.Start + uintptr(newPages)*mem.PGSIZE; va < vmi.End(); va += mem.PGSIZE {
			if frame, ok := as.Table.Unmap(va); ok {
				mem.Global.Refdown(frame)
			}
		}
	}
	vmi.Pages = int(newPages)
	as.brk = vmi.End()
	return as.brk, 0
}
