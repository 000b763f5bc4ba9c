package vm

import (
	"breenix/internal/bounds"
	"breenix/internal/defs"
	"breenix/internal/mem"
	"breenix/internal/pagetable"
	"breenix/internal/res"
)

/// pagefault resolves a fault at va within vmi (spec.md §4.I's page-fault
/// algorithm, steps 1-7). The caller must hold the address space lock.
// Grounded on the teacher's Sys_pgfault: guard-page/protection check, two
// racing faulters reconciled by re-checking the PTE, COW claim-without-copy
// when the frame's refcount is 1, otherwise copy, demand-zero for VANON,
// read-through for VFILE.
func (as *AddressSpace) pagefault(vmi *Vminfo_t, va uintptr, write bool) defs.Err_t {
	isGuard := vmi.Perms == 0
	writeOK := vmi.Perms&pagetable.PTE_W != 0
	if isGuard || (write && !writeOK) {
		return -defs.EFAULT
	}

	pte := as.Table.Walk(va, true)

	// Two threads may have raced to fault on the same page; if the other
	// one already resolved it the way we need, there's nothing to do.
	if (write && pte.Flags&pagetable.PTE_WASCOW != 0) ||
		(!write && pte.Present()) {
		return 0
	}

	if !res.Resadd_noblock(bounds.Bounds(bounds.B_PAGEFAULT_COW)) {
		return -defs.ENOHEAP
	}
	defer res.Resdel(bounds.Bounds(bounds.B_PAGEFAULT_COW))

	var frame mem.Pa_t
	flags := pagetable.PTE_U | pagetable.PTE_P

	switch {
	case vmi.Mtype == VFILE && vmi.Shared():
		// Shared file mappings resolve the same way for read or write
		// faults: map the backing page directly, no copy, no COW.
		f, err := vmi.Filepage(va)
		if err != 0 {
			return err
		}
		frame = f
		if writeOK {
			flags |= pagetable.PTE_W
		}
		as.Table.Map(va, frame, flags)
		return 0

	case write:
		cow := pte.COW()
		var src *mem.Frame_t
		if cow {
			oldFrame := pte.Frame
			if mem.Global.Refcnt(oldFrame) == 1 {
				// Sole owner: claim the page in place instead of copying.
				as.Table.Protect(va, (pte.Flags&^pagetable.PTE_COW)|pagetable.PTE_W|pagetable.PTE_WASCOW)
				return 0
			}
			src = mem.Global.Bytes(oldFrame)
		} else {
			switch vmi.Mtype {
			case VANON:
				src = nil // demand-zero
			case VFILE:
				f, err := vmi.Filepage(va)
				if err != 0 {
					return err
				}
				src = mem.Global.Bytes(f)
			}
		}

		newFrame, ok := mem.Global.AllocFrame()
		if !ok {
			return -defs.ENOMEM
		}
		if src != nil {
			*mem.Global.Bytes(newFrame) = *src
		}
		frame = newFrame
		flags |= pagetable.PTE_W | pagetable.PTE_WASCOW

		if cow {
			mem.Global.Refdown(pte.Frame)
		}

	default: // read fault, private mapping
		switch vmi.Mtype {
		case VANON:
			newFrame, ok := mem.Global.AllocFrame()
			if !ok {
				return -defs.ENOMEM
			}
			frame = newFrame
		case VFILE:
			f, err := vmi.Filepage(va)
			if err != 0 {
				return err
			}
			frame = f
		}
		if writeOK {
			flags |= pagetable.PTE_COW
		}
	}

	mem.Global.Refup(frame)
	as.Table.Map(va, frame, flags)
	return 0
}
