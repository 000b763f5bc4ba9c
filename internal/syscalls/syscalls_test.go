package syscalls

import (
	"os"
	"testing"
	"time"

	"breenix/internal/defs"
	"breenix/internal/fd"
	"breenix/internal/limits"
	"breenix/internal/mem"
	"breenix/internal/pagetable"
	"breenix/internal/percpu"
	"breenix/internal/proc"
	"breenix/internal/signal"
	"breenix/internal/trap"
	"breenix/internal/ustr"
	"breenix/internal/vfsfake"
	"breenix/internal/vm"
)

// TestMain carves out the global physical frame pool once for the whole
// package: every test needing a real *vm.Userbuf_t (pipe read/write go
// through the concrete type, not an interface) demand-pages against
// mem.Global.
func TestMain(m *testing.M) {
	mem.Init([]mem.MemRegion{{Start: 0, Len: 1 << 20, Kind: mem.Usable}})
	os.Exit(m.Run())
}

// userbufPair maps two pages into as and returns a write-side Userbuf
// (seeded with data) and an empty read-side Userbuf of the same length,
// for round-tripping bytes through a file object that only accepts the
// concrete *vm.Userbuf_t type.
func userbufPair(t *testing.T, as *vm.AddressSpace, data []byte) (wbuf, rbuf *vm.Userbuf_t, readVA uintptr) {
	t.Helper()
	start, err := as.Mmap(0, 2*mem.PGSIZE, pagetable.PTE_U|pagetable.PTE_W, false)
	if err != 0 {
		t.Fatalf("Mmap: errno %d", err)
	}
	writeVA := start
	readVA = start + mem.PGSIZE

	if err := as.K2User(data, writeVA); err != 0 {
		t.Fatalf("K2User: errno %d", err)
	}
	return as.MkUserbuf(writeVA, len(data)), as.MkUserbuf(readVA, len(data)), readVA
}

func newTestThread(t *testing.T, parent *proc.Process) *proc.Thread {
	t.Helper()
	p, err := proc.Global.NewProcess(parent)
	if err != 0 {
		t.Fatalf("NewProcess: errno %d", err)
	}
	p.AS = vm.NewAddressSpace()
	root := vfsfake.OpenDirectory(vfsfake.Root())
	rootFd := &fd.Fd_t{Fops: root, Perms: fd.FD_READ}
	p.Cwd = fd.MkRootCwd(rootFd)

	th, err := proc.Global.NewThread(p)
	if err != 0 {
		t.Fatalf("NewThread: errno %d", err)
	}
	return th
}

func TestPipe2ReadWriteRoundTrip(t *testing.T) {
	th := newTestThread(t, nil)

	rfd, wfd, err := Pipe2(th, false, false)
	if err != 0 {
		t.Fatalf("Pipe2: errno %d", err)
	}

	src := []byte("hello")
	wbuf, rbuf, readVA := userbufPair(t, th.Proc.AS, src)

	n, werr := th.Proc.Fds[wfd].Fops.Write(wbuf)
	if werr != 0 {
		t.Fatalf("write: errno %d", werr)
	}
	if n != len(src) {
		t.Fatalf("write: wrote %d bytes, want %d", n, len(src))
	}

	n, rerr := th.Proc.Fds[rfd].Fops.Read(rbuf)
	if rerr != 0 {
		t.Fatalf("read: errno %d", rerr)
	}
	if n != len(src) {
		t.Fatalf("read: got %d bytes, want %d", n, len(src))
	}

	got := make([]byte, len(src))
	if err := th.Proc.AS.User2K(got, readVA); err != 0 {
		t.Fatalf("User2K: errno %d", err)
	}
	if string(got) != string(src) {
		t.Fatalf("read back %q, want %q", got, src)
	}
}

func TestDup2SelfIsNoop(t *testing.T) {
	th := newTestThread(t, nil)
	rfd, _, err := Pipe2(th, false, false)
	if err != 0 {
		t.Fatalf("Pipe2: errno %d", err)
	}
	n, err := Dup2(th, rfd, rfd)
	if err != 0 {
		t.Fatalf("Dup2 self: errno %d", err)
	}
	if n != rfd {
		t.Errorf("Dup2 self returned %d, want %d", n, rfd)
	}
}

func TestDup2ClosesExistingTarget(t *testing.T) {
	th := newTestThread(t, nil)
	rfd, wfd, err := Pipe2(th, false, false)
	if err != 0 {
		t.Fatalf("Pipe2: errno %d", err)
	}
	rfd2, wfd2, err := Pipe2(th, false, false)
	if err != 0 {
		t.Fatalf("second Pipe2: errno %d", err)
	}

	// dup2(rfd2, rfd): rfd's old file object must be replaced, not leaked.
	if _, err := Dup2(th, rfd2, rfd); err != 0 {
		t.Fatalf("Dup2: errno %d", err)
	}
	if th.Proc.Fds[rfd].Fops != th.Proc.Fds[rfd2].Fops {
		t.Error("dup2 target does not share the source's file object")
	}

	Close(th, rfd)
	Close(th, rfd2)
	Close(th, wfd)
	Close(th, wfd2)
}

func TestForkClonesFdTable(t *testing.T) {
	parent := newTestThread(t, nil)
	rfd, _, err := Pipe2(parent, false, false)
	if err != 0 {
		t.Fatalf("Pipe2: errno %d", err)
	}

	child, ferr := Fork(parent)
	if ferr != 0 {
		t.Fatalf("Fork: errno %d", ferr)
	}
	if child.Proc == parent.Proc {
		t.Fatal("Fork did not create a distinct child process")
	}
	cf, ok := child.Proc.Fds[rfd]
	if !ok {
		t.Fatalf("child missing fd %d after fork", rfd)
	}
	if cf.Fops != parent.Proc.Fds[rfd].Fops {
		t.Error("forked fd does not share the parent's file object")
	}
}

func TestWait4ReapsExitedChild(t *testing.T) {
	parent := newTestThread(t, nil)
	child, ferr := Fork(parent)
	if ferr != 0 {
		t.Fatalf("Fork: errno %d", ferr)
	}

	Exit(child, 7)

	pid, status, werr := Wait4(parent)
	if werr != 0 {
		t.Fatalf("Wait4: errno %d", werr)
	}
	if pid != child.Proc.Pid {
		t.Errorf("Wait4 pid = %d, want %d", pid, child.Proc.Pid)
	}
	if status != 7 {
		t.Errorf("Wait4 status = %d, want 7", status)
	}
}

func TestWait4NoChildrenIsESRCH(t *testing.T) {
	th := newTestThread(t, nil)
	_, _, err := Wait4(th)
	if err != -defs.ESRCH {
		t.Errorf("Wait4 with no children: errno %d, want -ESRCH", err)
	}
}

func TestOpenDevProfInstallsProfDevice(t *testing.T) {
	th := newTestThread(t, nil)
	n, err := Open(th, ustr.Ustr("/dev/prof"), false, true, false, false)
	if err != 0 {
		t.Fatalf("Open /dev/prof: errno %d", err)
	}
	if th.Proc.Fds[n] == nil {
		t.Fatal("Open /dev/prof did not install an fd")
	}
}

func TestOpenExhaustsFdLimit(t *testing.T) {
	th := newTestThread(t, nil)

	taken := 0
	for limits.Syslimit.Fds.Take() {
		taken++
		if taken > 1<<21 {
			t.Fatal("Fds limit never exhausted")
		}
	}
	defer limits.Syslimit.Fds.Given(uint(taken))

	_, err := Open(th, ustr.Ustr("/dev/prof"), false, true, false, false)
	if err != -defs.EMFILE {
		t.Errorf("Open with no fd slots left: errno %d, want -EMFILE", err)
	}
}

func TestOpenFifoNonblockWriteSideWithNoReaderIsENXIO(t *testing.T) {
	th := newTestThread(t, nil)
	path := ustr.Ustr("/nonblock-fifo")
	if err := Mknod(th, path); err != 0 {
		t.Fatalf("Mknod: errno %d", err)
	}
	_, err := Open(th, path, false, false, true, true)
	if err != -defs.ENXIO {
		t.Errorf("nonblocking write-side open with no reader: errno %d, want -ENXIO", err)
	}
}

func TestOpenFifoNonblockReadSideSucceedsImmediately(t *testing.T) {
	th := newTestThread(t, nil)
	path := ustr.Ustr("/nonblock-fifo-r")
	if err := Mknod(th, path); err != 0 {
		t.Fatalf("Mknod: errno %d", err)
	}
	n, err := Open(th, path, false, true, false, true)
	if err != 0 {
		t.Fatalf("nonblocking read-side open: errno %d", err)
	}
	if th.Proc.Fds[n] == nil {
		t.Fatal("Open did not install an fd")
	}
}

func TestOpenFifoBlockingReadSideWaitsForWriter(t *testing.T) {
	th := newTestThread(t, nil)
	path := ustr.Ustr("/blocking-fifo")
	if err := Mknod(th, path); err != 0 {
		t.Fatalf("Mknod: errno %d", err)
	}

	done := make(chan defs.Err_t, 1)
	var rfd int
	go func() {
		// OpenEnd's blocking path fetches the parking thread off percpu
		// (it has no *proc.Thread parameter of its own), so this goroutine
		// must install th as the simulated CPU's current thread first.
		percpu.SetCurrent(th)
		n, err := Open(th, path, false, true, false, false)
		rfd = n
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("blocking read-side open returned before a writer appeared")
	case <-time.After(20 * time.Millisecond):
	}

	wfd, err := Open(th, path, false, false, true, false)
	if err != 0 {
		t.Fatalf("write-side open: errno %d", err)
	}

	select {
	case err := <-done:
		if err != 0 {
			t.Fatalf("blocking read-side open: errno %d", err)
		}
		if th.Proc.Fds[rfd] == nil {
			t.Error("blocking read-side open did not install an fd")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("blocking read-side open never woke after a writer opened")
	}
	_ = wfd
}

// fakeLoader is a minimal vm.ElfLoader test double standing in for a real
// ELF parser (out of scope per spec.md §1).
type fakeLoader struct {
	entry uintptr
	segs  []vm.ElfSegment
}

func (f *fakeLoader) Entry() uintptr          { return f.entry }
func (f *fakeLoader) Segments() []vm.ElfSegment { return f.segs }

func TestExecveInstallsEntryAndStackIntoFrame(t *testing.T) {
	th := newTestThread(t, nil)
	loader := &fakeLoader{
		entry: vm.USERMIN,
		segs: []vm.ElfSegment{
			{VAddr: vm.USERMIN, MemSize: mem.PGSIZE, Prot: defs.PROT_READ | defs.PROT_EXEC},
		},
	}

	f := &trap.Frame{PC: 0xdeadbeef, SP: 0xdeadbeef}
	if err := Execve(th, loader, f); err != 0 {
		t.Fatalf("Execve: errno %d", err)
	}
	if f.PC != vm.USERMIN {
		t.Errorf("frame PC = %#x, want %#x", f.PC, vm.USERMIN)
	}
	if f.SP == 0xdeadbeef || f.SP <= vm.USERMIN {
		t.Errorf("frame SP = %#x, expected a fresh stack above %#x", f.SP, vm.USERMIN)
	}
}

func TestSigsuspendWrapperReturnsEINTR(t *testing.T) {
	th := newTestThread(t, nil)
	signal.Raise(th, defs.SIGUSR1)
	if err := Sigsuspend(th, 0); err != -defs.EINTR {
		t.Errorf("Sigsuspend = %d, want -EINTR", err)
	}
}
