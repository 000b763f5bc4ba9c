package vm

import (
	"breenix/internal/bounds"
	"breenix/internal/defs"
	"breenix/internal/mem"
	"breenix/internal/res"
)

/// Fork produces a child address space sharing every private-anonymous
/// frame with the parent under copy-on-write, per spec.md §4.B's
/// clone_for_fork: every writable private mapping is downgraded to
/// read-only+COW in BOTH address spaces, and the underlying frame's
/// reference count goes up by exactly one (the child's new mapping).
// The downgrade is done per page by pagetable.Table.Clone, which does not
// look at VMA types: present writable pages of shared mappings (VSANON,
// shared VFILE) are downgraded the same way, and a later write fault on a
// shared VFILE page is resolved through the mapping's backing file.
func (as *AddressSpace) Fork() (*AddressSpace, defs.Err_t) {
	as.LockPmap()
	defer as.UnlockPmap()

	if !res.Resadd_noblock(bounds.Bounds(bounds.B_VM_T_FORK)) {
		return nil, -defs.ENOHEAP
	}
	defer res.Resdel(bounds.Bounds(bounds.B_VM_T_FORK))

	child := NewAddressSpace()
	child.Table = as.Table.Clone(mem.Global.Refup)

	as.Vmregion.Each(func(vmi *Vminfo_t) {
		cp := *vmi
		child.Vmregion.insert(&cp)
	})
	child.brk = as.brk

	return child, 0
}
