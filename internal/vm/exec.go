package vm

import (
	"breenix/internal/defs"
	"breenix/internal/mem"
	"breenix/internal/pagetable"
	"breenix/internal/util"
)

/// ElfSegment is one loadable segment of a program image, already read from
/// storage: spec.md §1's "ELF-segment-map interface" collaborator. Parsing
/// the ELF file itself ("the ELF loader's file reading") stays out of
/// scope; only the already-resolved segment list crosses into this
/// package.
type ElfSegment struct {
	VAddr, FileSize, MemSize uintptr
	Prot                     defs.Prot
	Data                     []byte
}

/// ElfLoader supplies a program image's entry point and segment list for
/// exec_replace (spec.md §4.C), consumed without this package ever reading
/// an ELF header itself.
type ElfLoader interface {
	Entry() uintptr
	Segments() []ElfSegment
}

func protToPTE(p defs.Prot) pagetable.PTEFlags {
	flags := pagetable.PTE_U
	if p&defs.PROT_WRITE != 0 {
		flags |= pagetable.PTE_W
	}
	return flags
}

/// ExecReplace discards every mapping currently in as and installs a fresh
/// address space built from loader's segments plus an anonymous stack of
/// stackSize bytes (spec.md §4.C's exec_replace(new_entry, new_stack,
/// new_vmas)). It returns the entry point and the top of the new stack —
/// the values the caller installs into the replaced thread's trap frame —
/// picking the stack's address itself, the same way Mmap already picks an
/// address for its caller rather than taking one as a hard parameter.
///
/// Segments are first mapped writable so their file-backed bytes can be
/// copied in through the ordinary K2User path, then reprotected down to
/// their real permissions; bytes beyond FileSize up to MemSize are left
/// demand-zero (the BSS tail of a data segment).
func (as *AddressSpace) ExecReplace(loader ElfLoader, stackSize int) (entry, stack uintptr, err defs.Err_t) {
	as.Destroy()

	type pending struct {
		vmi   *Vminfo_t
		final pagetable.PTEFlags
	}
	segs := loader.Segments()
	pendings := make([]pending, 0, len(segs))
	var maxEnd uintptr

	as.LockPmap()
	for _, seg := range segs {
		start := util.Rounddown(seg.VAddr, uintptr(mem.PGSIZE))
		span := int(seg.VAddr-start) + int(seg.MemSize)
		pages := util.Roundup(span, mem.PGSIZE) / mem.PGSIZE
		final := protToPTE(seg.Prot)
		vmi := &Vminfo_t{Mtype: VANON, Start: start, Pages: pages, Perms: final | pagetable.PTE_W}
		as.Vmregion.insert(vmi)
		pendings = append(pendings, pending{vmi: vmi, final: final})
		if end := vmi.End(); end > maxEnd {
			maxEnd = end
		}
	}
	as.UnlockPmap()

	for _, seg := range segs {
		n := len(seg.Data)
		if uintptr(n) > seg.FileSize {
			n = int(seg.FileSize)
		}
		if n == 0 {
			continue
		}
		if e := as.K2User(seg.Data[:n], seg.VAddr); e != 0 {
			return 0, 0, e
		}
	}

	stackPages := util.Roundup(stackSize, mem.PGSIZE) / mem.PGSIZE
	if stackPages == 0 {
		stackPages = 1
	}

	as.LockPmap()
	for _, pd := range pendings {
		pd.vmi.Perms = pd.final | pagetable.PTE_U
		for va := pd.vmi.Start; va < pd.vmi.End(); va += mem.PGSIZE {
			as.Table.Protect(va, pd.final|pagetable.PTE_U)
		}
	}
	stackStart := as.Unusedva(maxEnd, stackPages*mem.PGSIZE)
	stackVmi := &Vminfo_t{Mtype: VANON, Start: stackStart, Pages: stackPages, Perms: pagetable.PTE_U | pagetable.PTE_W}
	as.Vmregion.insert(stackVmi)
	as.UnlockPmap()

	return loader.Entry(), stackVmi.End(), 0
}
