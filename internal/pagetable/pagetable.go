// Package pagetable simulates the per-process page table (spec.md §3's
// PageTable/PTE model and §4.B's 4-level radix structure). Grounded on the
// teacher's vm/as.go pmap (`mem.Pmap_t`, `PTE_P`/`PTE_W`/`PTE_U`/`PTE_COW`/
// `PTE_WASCOW` bit layout, `pmap_walk`/`Pmap_lookup`), generalized from a
// literal 512-entry recursive x86 radix tree to a Go map keyed by virtual
// page number — there is no MMU for a hosted Go program to program, and a
// map preserves every invariant spec.md cares about (one entry per mapped
// page, present/writable/COW bits, a physical frame number) without
// pretending to walk real hardware levels (see DESIGN.md's Open Question).
package pagetable

import "breenix/internal/mem"

/// PTEFlags mirrors the teacher's PTE_* bit layout, minus the physical
/// address bits (kept in a separate field here since Go maps don't need
/// bit-packing for density).
type PTEFlags uint32

const (
	PTE_P      PTEFlags = 1 << iota // present
	PTE_W                           // writable
	PTE_U                           // user-accessible
	PTE_COW                         // copy-on-write
	PTE_WASCOW                      // was COW, now privately owned
	PTE_D                           // dirty
	PTE_A                           // accessed
)

/// PTE is one page table entry: a physical frame plus permission bits.
type PTE struct {
	Frame mem.Pa_t
	Flags PTEFlags
}

/// Present reports whether this PTE maps a frame.
func (p PTE) Present() bool { return p.Flags&PTE_P != 0 }

/// Writable reports whether a write through this mapping is currently
/// permitted without faulting.
func (p PTE) Writable() bool { return p.Flags&PTE_W != 0 }

/// COW reports whether this mapping must copy-on-write before becoming
/// writable.
func (p PTE) COW() bool { return p.Flags&PTE_COW != 0 }

/// VPN is a virtual page number: a virtual address with the page offset
/// bits shifted off.
type VPN uintptr

/// ToVPN truncates a virtual address to its page number.
func ToVPN(va uintptr) VPN { return VPN(va >> mem.PGSHIFT) }

/// Addr reconstructs the page-aligned virtual address of a page number.
func (v VPN) Addr() uintptr { return uintptr(v) << mem.PGSHIFT }

/// Table is one address space's page table: a sparse map from virtual page
/// number to PTE. The zero value is an empty table ready to use.
type Table struct {
	entries map[VPN]*PTE
}

/// New returns an empty page table.
func New() *Table {
	return &Table{entries: make(map[VPN]*PTE)}
}

/// Walk returns the PTE slot for va, allocating one (initially not
/// present) if create is true and none exists yet — mirrors the teacher's
/// pmap_walk, minus the intermediate-level allocation since a Go map has
/// no levels to walk.
func (t *Table) Walk(va uintptr, create bool) *PTE {
	vpn := ToVPN(va)
	if e, ok := t.entries[vpn]; ok {
		return e
	}
	if !create {
		return nil
	}
	e := &PTE{}
	t.entries[vpn] = e
	return e
}

/// Lookup returns the PTE for va without creating one.
func (t *Table) Lookup(va uintptr) (*PTE, bool) {
	e, ok := t.entries[ToVPN(va)]
	return e, ok
}

/// Map installs a fresh mapping at va, replacing whatever is there. Callers
/// are responsible for adjusting mem.Global's refcount for both the
/// displaced and newly-installed frame (spec.md §4.B clone_for_fork step
/// (c): "refcount tracking lives entirely in the frame allocator").
func (t *Table) Map(va uintptr, frame mem.Pa_t, flags PTEFlags) {
	e := t.Walk(va, true)
	e.Frame = frame
	e.Flags = flags | PTE_P
}

/// Unmap clears the mapping at va, if any, returning the frame that was
/// mapped and whether anything was removed.
func (t *Table) Unmap(va uintptr) (mem.Pa_t, bool) {
	vpn := ToVPN(va)
	e, ok := t.entries[vpn]
	if !ok || !e.Present() {
		return 0, false
	}
	frame := e.Frame
	delete(t.entries, vpn)
	return frame, true
}

/// Protect updates the permission flags of an existing mapping in place,
/// preserving the frame and the present bit.
func (t *Table) Protect(va uintptr, flags PTEFlags) bool {
	e, ok := t.Lookup(va)
	if !ok || !e.Present() {
		return false
	}
	e.Flags = flags | PTE_P
	return true
}

/// Clone produces an independent copy of the table suitable for
/// clone_for_fork: every present, writable mapping is downgraded to
/// read-only+COW in BOTH the parent and child tables, and the frame's
/// reference count is bumped once for the child's new mapping (spec.md
/// §4.B step (c), §8 invariant 2/3). The caller supplies frameUp, a
/// callback to mem.Global.Refup, to avoid importing mem's global singleton
/// directly from this package.
func (t *Table) Clone(frameUp func(mem.Pa_t)) *Table {
	child := New()
	for vpn, e := range t.entries {
		if !e.Present() {
			continue
		}
		flags := e.Flags
		if flags&PTE_W != 0 {
			flags = (flags &^ (PTE_W | PTE_WASCOW)) | PTE_COW
			e.Flags = flags
		}
		childE := &PTE{Frame: e.Frame, Flags: flags}
		child.entries[vpn] = childE
		frameUp(e.Frame)
	}
	return child
}

/// Each iterates every present mapping in the table, in unspecified order.
func (t *Table) Each(f func(va uintptr, e *PTE)) {
	for vpn, e := range t.entries {
		if e.Present() {
			f(vpn.Addr(), e)
		}
	}
}

/// Len reports the number of present mappings.
func (t *Table) Len() int {
	n := 0
	for _, e := range t.entries {
		if e.Present() {
			n++
		}
	}
	return n
}
