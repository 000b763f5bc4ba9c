package vm

import (
	"os"
	"testing"

	"breenix/internal/defs"
	"breenix/internal/mem"
)

func TestMain(m *testing.M) {
	mem.Init([]mem.MemRegion{{Start: 0, Len: 4 << 20, Kind: mem.Usable}})
	os.Exit(m.Run())
}

// fakeLoader is a minimal ElfLoader test double: a program image already
// resolved into segments, standing in for a real ELF parser (out of
// scope per spec.md §1).
type fakeLoader struct {
	entry uintptr
	segs  []ElfSegment
}

func (f *fakeLoader) Entry() uintptr       { return f.entry }
func (f *fakeLoader) Segments() []ElfSegment { return f.segs }

func TestExecReplaceMapsSegmentsAndStack(t *testing.T) {
	as := NewAddressSpace()
	text := []byte{0x90, 0x90, 0x90, 0x90}
	loader := &fakeLoader{
		entry: USERMIN,
		segs: []ElfSegment{
			{VAddr: USERMIN, FileSize: uintptr(len(text)), MemSize: mem.PGSIZE, Prot: defs.PROT_READ | defs.PROT_EXEC, Data: text},
		},
	}

	entry, stack, err := as.ExecReplace(loader, mem.PGSIZE)
	if err != 0 {
		t.Fatalf("ExecReplace: errno %d", err)
	}
	if entry != USERMIN {
		t.Errorf("entry = %#x, want %#x", entry, USERMIN)
	}
	if stack <= entry {
		t.Errorf("stack %#x should lie above the loaded segment %#x", stack, entry)
	}

	got := make([]byte, len(text))
	if err := as.User2K(got, USERMIN); err != 0 {
		t.Fatalf("User2K: errno %d", err)
	}
	if string(got) != string(text) {
		t.Errorf("segment bytes = %v, want %v", got, text)
	}

	// The segment was reprotected read/execute only: a write fault must
	// now fail instead of silently succeeding.
	if err := as.K2User([]byte{0x00}, USERMIN); err != -defs.EFAULT {
		t.Errorf("write to reprotected text segment: errno %d, want -EFAULT", err)
	}
}

func TestExecReplaceDiscardsPriorMappings(t *testing.T) {
	as := NewAddressSpace()
	// Placed well above USERMIN so it cannot coincide with the segment or
	// stack the new image installs.
	oldVA, err := as.Mmap(0x100000, mem.PGSIZE, 0, false)
	if err != 0 {
		t.Fatalf("Mmap: errno %d", err)
	}

	loader := &fakeLoader{entry: USERMIN, segs: []ElfSegment{
		{VAddr: USERMIN, MemSize: mem.PGSIZE, Prot: defs.PROT_READ | defs.PROT_WRITE},
	}}
	if _, _, err := as.ExecReplace(loader, mem.PGSIZE); err != 0 {
		t.Fatalf("ExecReplace: errno %d", err)
	}

	as.LockPmap()
	_, ok := as.Vmregion.Lookup(oldVA)
	as.UnlockPmap()
	if ok {
		t.Error("ExecReplace left a pre-exec mapping in place")
	}
}
