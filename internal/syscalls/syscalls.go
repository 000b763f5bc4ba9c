// Package syscalls implements the dispatcher spec.md §6 describes: one
// function per syscall number, each taking already-typed Go arguments
// (the raw register-decoding/ABI-encoding step belongs to internal/trap's
// entry stub and is architecture-specific, out of this package's remit)
// and returning a result plus a POSIX errno (spec.md §7: handlers return a
// result plus an Err_t; the dispatcher's caller encodes it to -errno on
// the trap frame).
//
// Grounded on the call shapes implied throughout vm/fork.go (AS.Fork),
// internal/ipc/{pipe,unixsock,udp} and internal/vfsfake's exported
// operations, generalized to every syscall spec.md §6 names; no teacher
// syscall-dispatch source was retrieved beyond package stubs.
package syscalls

import (
	"time"

	"breenix/internal/defs"
	"breenix/internal/fd"
	"breenix/internal/fdops"
	"breenix/internal/ipc/pipe"
	"breenix/internal/ipc/udp"
	"breenix/internal/ipc/unixsock"
	"breenix/internal/limits"
	"breenix/internal/proc"
	"breenix/internal/prof"
	"breenix/internal/sched"
	"breenix/internal/signal"
	"breenix/internal/stat"
	"breenix/internal/trap"
	"breenix/internal/ustr"
	"breenix/internal/vfsfake"
	"breenix/internal/vm"
)

// Socket domain/type constants (spec.md §6's socket/socketpair/bind row).
const (
	AF_UNIX = 1
	AF_INET = 2

	SOCK_STREAM = 1
	SOCK_DGRAM  = 2
)

var zeroDeadline time.Time

// allocFd returns the lowest unused descriptor number in p's table. Caller
// must hold p's lock.
func allocFd(p *proc.Process) int {
	for i := 0; ; i++ {
		if _, used := p.Fds[i]; !used {
			return i
		}
	}
}

func install(p *proc.Process, f fdops.Fdops_i, perms int) (int, defs.Err_t) {
	if !limits.Syslimit.Fds.Take() {
		return 0, -defs.EMFILE
	}
	p.Lock()
	defer p.Unlock()
	n := allocFd(p)
	p.Fds[n] = &fd.Fd_t{Fops: f, Perms: perms}
	return n, 0
}

func lookup(p *proc.Process, fdno int) (*fd.Fd_t, defs.Err_t) {
	p.Lock()
	defer p.Unlock()
	f, ok := p.Fds[fdno]
	if !ok {
		return nil, -defs.EBADF
	}
	return f, 0
}

// waitQueues hands every process that has ever had a child wait()ed on a
// dedicated wakeup channel, keyed by the waiting parent's pid. proc.Process
// cannot hold a *sched.WaitQueue field directly (internal/sched imports
// internal/proc, so the reverse import would cycle); this package sits
// above both and can bridge them, mirroring futexQueues below.
var waitQueues = map[defs.Pid_t]*sched.WaitQueue{}

func waitQueueFor(pid defs.Pid_t) *sched.WaitQueue {
	if q, ok := waitQueues[pid]; ok {
		return q
	}
	q := sched.NewWaitQueue()
	waitQueues[pid] = q
	return q
}

/// Exit terminates t's process with the given status, reparenting any live
/// children to PID 1 and waking a parent blocked in wait4 (spec.md §6
/// syscall 0, §4.E's reparenting rule).
func Exit(t *proc.Thread, status int) {
	p := t.Proc
	p.Lock()
	p.State = proc.ProcZombie
	p.ExitStatus = status
	parent := p.Parent
	fds := p.Fds
	p.Fds = map[int]*fd.Fd_t{}
	p.Unlock()

	for _, f := range fds {
		f.Fops.Close()
		limits.Syslimit.Fds.Give()
	}

	proc.Global.Reparent(p)

	t.Lock()
	t.Alive = false
	t.State = proc.StateZombie
	t.Unlock()
	proc.Global.FreeThread(t)

	if parent != nil {
		parent.Lock()
		parent.PendingProc |= 1 << uint(defs.SIGCHLD-1)
		parent.Unlock()
		sched.WakeAll(waitQueueFor(parent.Pid))
	}
}

/// Write implements syscall 1.
func Write(t *proc.Thread, fdno int, buf *vm.Userbuf_t) (int, defs.Err_t) {
	f, err := lookup(t.Proc, fdno)
	if err != 0 {
		return 0, err
	}
	if f.Perms&fd.FD_WRITE == 0 {
		return 0, -defs.EBADF
	}
	return f.Fops.Write(buf)
}

/// Read implements syscall 2.
func Read(t *proc.Thread, fdno int, buf *vm.Userbuf_t) (int, defs.Err_t) {
	f, err := lookup(t.Proc, fdno)
	if err != 0 {
		return 0, err
	}
	if f.Perms&fd.FD_READ == 0 {
		return 0, -defs.EBADF
	}
	return f.Fops.Read(buf)
}

/// SchedYield implements syscall 3.
func SchedYield(t *proc.Thread) { sched.Yield() }

/// Fork implements syscall 5: clones t's process (address space, fd table,
/// signal dispositions, cwd) and starts a new thread for the child. The
/// caller observes the parent/child split by inspecting whether the
/// returned *proc.Thread's Proc differs from t.Proc; spec.md's "0 to the
/// child, pid to the parent" register convention is internal/trap's
/// concern, not this dispatcher's (spec.md §6 syscall 5).
func Fork(t *proc.Thread) (*proc.Thread, defs.Err_t) {
	parent := t.Proc

	child, err := proc.Global.NewProcess(parent)
	if err != 0 {
		return nil, err
	}

	parent.Lock()
	childAS, aserr := parent.AS.Fork()
	if aserr != 0 {
		parent.Unlock()
		proc.Global.Free(child)
		return nil, aserr
	}
	child.AS = childAS

	child.Fds = make(map[int]*fd.Fd_t, len(parent.Fds))
	for n, pf := range parent.Fds {
		if cf, ferr := fd.Copyfd(pf); ferr == 0 {
			child.Fds[n] = cf
		}
	}
	child.Dispositions = parent.Dispositions
	child.Cwd = parent.Cwd
	parent.Unlock()

	ct, err := proc.Global.NewThread(child)
	if err != 0 {
		proc.Global.Free(child)
		return nil, err
	}
	sched.Enqueue(ct)
	return ct, 0
}

/// execStackSize is the anonymous stack execve installs for the replaced
/// image, mirroring a typical Linux default rlimit without modeling
/// RLIMIT_STACK itself (out of this dispatcher's scope).
const execStackSize = 8 * 1 << 20

/// Execve implements syscall 59: replaces the calling thread's address
/// space with the program image loader describes (spec.md §4.C's
/// exec_replace, spec.md §6 syscall 59), resetting f's program counter and
/// stack pointer to the new entry point and stack top. Parsing the program
/// image itself is loader's job, supplied by the caller — this dispatcher
/// only wires the already-resolved segment list into the address space.
func Execve(t *proc.Thread, loader vm.ElfLoader, f *trap.Frame) defs.Err_t {
	entry, stack, err := t.Proc.AS.ExecReplace(loader, execStackSize)
	if err != 0 {
		return err
	}
	f.PC = entry
	f.SP = stack
	return 0
}

/// Getpid implements syscall 39.
func Getpid(t *proc.Thread) defs.Pid_t { return t.Proc.Pid }

/// Wait4 implements syscall 61: blocks t until one of its process's
/// children becomes a zombie, reaps it, and returns its pid and exit
/// status. ESRCH if the process has no children at all (spec.md §6).
func Wait4(t *proc.Thread) (defs.Pid_t, int, defs.Err_t) {
	p := t.Proc
	q := waitQueueFor(p.Pid)
	for {
		p.Lock()
		for cpid, c := range p.Children {
			c.Lock()
			if c.State == proc.ProcZombie {
				status := c.ExitStatus
				c.Unlock()
				delete(p.Children, cpid)
				p.Unlock()
				proc.Global.Free(c)
				return cpid, status, 0
			}
			c.Unlock()
		}
		noChildren := len(p.Children) == 0
		p.Unlock()
		if noChildren {
			return 0, 0, -defs.ESRCH
		}
		if _, err := sched.BlockOn(t, q, sched.ReasonWait4, zeroDeadline, true); err != 0 {
			return 0, 0, err
		}
	}
}

/// Kill implements syscall 62.
func Kill(t *proc.Thread, pid defs.Pid_t, signo defs.Signo_t) defs.Err_t {
	return signal.Target(t.Proc, pid, signo)
}

/// Setpgid implements syscall 109.
func Setpgid(t *proc.Thread, pgid defs.Pid_t) defs.Err_t { return t.Proc.Setpgid(pgid) }

/// Setsid implements syscall 112.
func Setsid(t *proc.Thread) (defs.Pid_t, defs.Err_t) { return t.Proc.Setsid() }

/// Sigaction implements syscall 13.
func Sigaction(t *proc.Thread, signo defs.Signo_t, act, old *proc.Sigaction) defs.Err_t {
	return signal.Sigaction(t.Proc, signo, act, old)
}

/// Sigprocmask implements syscall 14.
func Sigprocmask(t *proc.Thread, how int, set uint64, old *uint64) defs.Err_t {
	return signal.Sigprocmask(t, how, set, old)
}

/// Sigreturn implements syscall 15.
func Sigreturn(t *proc.Thread, f *trap.Frame) defs.Err_t { return signal.Sigreturn(t, f) }

/// Sigaltstack implements syscall 131.
func Sigaltstack(t *proc.Thread, sp, length uintptr, doInstall bool) defs.Err_t {
	return signal.Sigaltstack(t, sp, length, doInstall)
}

/// Sigsuspend implements syscall 130 (x86-64 Linux's rt_sigsuspend number;
/// spec.md §6's own table omits it, but §4.J names sigsuspend(mask) as a
/// core Operation alongside the other four sig* calls wired above).
func Sigsuspend(t *proc.Thread, mask uint64) defs.Err_t {
	return signal.Sigsuspend(t, mask)
}

/// Pipe2 implements syscall 22/293: returns the new [readfd, writefd] pair.
func Pipe2(t *proc.Thread, nonblock, cloexec bool) (int, int, defs.Err_t) {
	p := pipe.New(pipe.MinCap)
	rperms, wperms := fd.FD_READ, fd.FD_WRITE
	if cloexec {
		rperms |= fd.FD_CLOEXEC
		wperms |= fd.FD_CLOEXEC
	}
	rfd, err := install(t.Proc, pipe.NewReadEnd(p, nonblock), rperms)
	if err != 0 {
		return 0, 0, err
	}
	wfd, err := install(t.Proc, pipe.NewWriteEnd(p, nonblock), wperms)
	if err != 0 {
		Close(t, rfd)
		return 0, 0, err
	}
	return rfd, wfd, 0
}

/// Dup implements syscall 32.
func Dup(t *proc.Thread, oldfd int) (int, defs.Err_t) {
	old, err := lookup(t.Proc, oldfd)
	if err != 0 {
		return 0, err
	}
	nf, err := fd.Copyfd(old)
	if err != 0 {
		return 0, err
	}
	return install(t.Proc, nf.Fops, nf.Perms)
}

/// Dup2 implements syscall 33: dup2(fd,fd) is a no-op (spec.md §8's dup2
/// self-targeting invariant); dup2 onto a different, already-open target
/// closes the target first, then shares the source's file object.
func Dup2(t *proc.Thread, oldfd, newfd int) (int, defs.Err_t) {
	if oldfd == newfd {
		if _, err := lookup(t.Proc, oldfd); err != 0 {
			return 0, err
		}
		return newfd, 0
	}
	p := t.Proc
	old, err := lookup(p, oldfd)
	if err != 0 {
		return 0, err
	}
	nf, err := fd.Copyfd(old)
	if err != 0 {
		return 0, err
	}
	p.Lock()
	existing, had := p.Fds[newfd]
	if !had && !limits.Syslimit.Fds.Take() {
		p.Unlock()
		return 0, -defs.EMFILE
	}
	p.Fds[newfd] = nf
	p.Unlock()
	if had {
		fd.Close_panic(existing)
	}
	return newfd, 0
}

/// Close releases a descriptor. Not separately numbered in spec.md's
/// syscall table, but required by every other syscall's fd lifecycle.
func Close(t *proc.Thread, fdno int) defs.Err_t {
	p := t.Proc
	p.Lock()
	f, ok := p.Fds[fdno]
	delete(p.Fds, fdno)
	p.Unlock()
	if !ok {
		return -defs.EBADF
	}
	limits.Syslimit.Fds.Give()
	return f.Fops.Close()
}

// Futex op codes (spec.md §6 syscall 202's minimal FUTEX_WAIT/FUTEX_WAKE
// subset; breenix-core has no PI or bitset futex variants).
const (
	FUTEX_WAIT = 0
	FUTEX_WAKE = 1
)

var futexQueues = map[uintptr]*sched.WaitQueue{}

func futexQueue(addr uintptr) *sched.WaitQueue {
	if q, ok := futexQueues[addr]; ok {
		return q
	}
	q := sched.NewWaitQueue()
	futexQueues[addr] = q
	return q
}

/// Futex implements syscall 202. read re-samples *uaddr under whatever
/// locking the caller's userbuf access path requires; FUTEX_WAIT only
/// blocks if the resampled value still equals val, closing the classic
/// wait/wake race window.
func Futex(t *proc.Thread, op int, addr uintptr, val uint32, read func() (uint32, defs.Err_t)) (int, defs.Err_t) {
	switch op {
	case FUTEX_WAIT:
		cur, err := read()
		if err != 0 {
			return 0, err
		}
		if cur != val {
			return 0, -defs.EAGAIN
		}
		if _, err := sched.BlockOn(t, futexQueue(addr), sched.ReasonFutex, zeroDeadline, true); err != 0 {
			return 0, err
		}
		return 0, 0
	case FUTEX_WAKE:
		return sched.Wake(futexQueue(addr), int(val)), 0
	default:
		return 0, -defs.EINVAL
	}
}

/// Socket implements syscall 41. AF_UNIX/SOCK_STREAM returns an
/// unconnected endpoint whose file object Bind/Connect will later replace
/// in the fd table; AF_INET/SOCK_DGRAM returns a ready UDP socket.
func Socket(t *proc.Thread, domain, typ int, nonblock bool) (int, defs.Err_t) {
	switch {
	case domain == AF_UNIX && typ == SOCK_STREAM:
		return install(t.Proc, unixsock.NewUnconnected(), fd.FD_READ|fd.FD_WRITE)
	case domain == AF_INET && typ == SOCK_DGRAM:
		return install(t.Proc, udp.New(nonblock), fd.FD_READ|fd.FD_WRITE)
	default:
		return 0, -defs.EAFNOSUPPORT
	}
}

/// Socketpair implements syscall 53 (AF_UNIX/SOCK_STREAM only).
func Socketpair(t *proc.Thread) (int, int, defs.Err_t) {
	a, b := unixsock.Socketpair()
	fa, err := install(t.Proc, a, fd.FD_READ|fd.FD_WRITE)
	if err != 0 {
		return 0, 0, err
	}
	fb, err := install(t.Proc, b, fd.FD_READ|fd.FD_WRITE)
	if err != 0 {
		Close(t, fa)
		return 0, 0, err
	}
	return fa, fb, 0
}

/// Bind implements syscall 49. For a UNIX socket descriptor, addr is
/// interpreted as the socket's path name and the descriptor's file object
/// is replaced with the resulting Listener (POSIX bind() turns the
/// descriptor into a bindable, later-listenable name; breenix-core models
/// that as swapping the fd table entry's Fops rather than mutating an
/// Endpoint in place, since Listener and Endpoint are distinct types per
/// the closed file-object sum). For any other socket kind, addr is passed
/// straight through to the file object's own Bind.
func Bind(t *proc.Thread, fdno int, addr []byte) defs.Err_t {
	p := t.Proc
	f, err := lookup(p, fdno)
	if err != 0 {
		return err
	}
	switch f.Fops.(type) {
	case *unixsock.Endpoint:
		l, berr := unixsock.Bind(ustr.Ustr(addr))
		if berr != 0 {
			return berr
		}
		p.Lock()
		f.Fops = l
		p.Unlock()
		return 0
	default:
		return f.Fops.Bind(addr)
	}
}

/// Listen implements syscall 50.
func Listen(t *proc.Thread, fdno int, backlog int) defs.Err_t {
	f, err := lookup(t.Proc, fdno)
	if err != 0 {
		return err
	}
	return f.Fops.Listen(backlog)
}

/// Accept implements syscall 43.
func Accept(t *proc.Thread, fdno int) (int, defs.Err_t) {
	f, err := lookup(t.Proc, fdno)
	if err != 0 {
		return 0, err
	}
	nf, err := f.Fops.Accept()
	if err != 0 {
		return 0, err
	}
	return install(t.Proc, nf, fd.FD_READ|fd.FD_WRITE)
}

/// Connect implements syscall 42. For a UNIX socket descriptor, addr is
/// the target's bound path name and the descriptor's file object is
/// replaced with the connected Endpoint, mirroring Bind's swap-in-place
/// approach. UDP's surface is sendto/recvfrom-addressed rather than
/// connect-then-read/write, so it falls to the default passthrough, which
/// Unsupported answers with EINVAL.
func Connect(t *proc.Thread, fdno int, addr []byte) defs.Err_t {
	p := t.Proc
	f, err := lookup(p, fdno)
	if err != 0 {
		return err
	}
	switch f.Fops.(type) {
	case *unixsock.Endpoint:
		e, cerr := unixsock.Connect(ustr.Ustr(addr))
		if cerr != 0 {
			return cerr
		}
		p.Lock()
		f.Fops = e
		p.Unlock()
		return 0
	default:
		return f.Fops.Connect(addr)
	}
}

/// Sendto implements syscall 44.
func Sendto(t *proc.Thread, fdno int, buf *vm.Userbuf_t, addr []byte) (int, defs.Err_t) {
	f, err := lookup(t.Proc, fdno)
	if err != 0 {
		return 0, err
	}
	return f.Fops.SendTo(buf, addr)
}

/// Recvfrom implements syscall 45.
func Recvfrom(t *proc.Thread, fdno int, buf *vm.Userbuf_t) (int, []byte, defs.Err_t) {
	f, err := lookup(t.Proc, fdno)
	if err != 0 {
		return 0, nil, err
	}
	return f.Fops.RecvFrom(buf)
}

var profPath = ustr.Ustr("/dev/prof")

/// Open implements syscall 257. nonblock carries O_NONBLOCK, relevant only
/// to the FIFO open-mode rendezvous (spec.md §4.K).
func Open(t *proc.Thread, path ustr.Ustr, create, readPerm, writePerm, nonblock bool) (int, defs.Err_t) {
	p := t.Proc
	full := resolve(t, path)
	if full.Eq(profPath) {
		var perms int
		if readPerm {
			perms |= fd.FD_READ
		}
		return install(p, prof.Open(), perms)
	}
	node, err := vfsfake.Open(full, create)
	if err != 0 {
		return 0, err
	}
	var fo fdops.Fdops_i
	switch {
	case node.IsDir():
		fo = vfsfake.OpenDirectory(node)
	default:
		if fifo, isFifo := node.IsFifo(); isFifo {
			write := writePerm && !readPerm
			end, ferr := fifo.OpenEnd(write, nonblock)
			if ferr != 0 {
				return 0, ferr
			}
			fo = end
			break
		}
		fo = vfsfake.OpenRegular(node)
	}
	var perms int
	if readPerm {
		perms |= fd.FD_READ
	}
	if writePerm {
		perms |= fd.FD_WRITE
	}
	return install(p, fo, perms)
}

/// Lseek implements syscall 258.
func Lseek(t *proc.Thread, fdno, off, whence int) (int, defs.Err_t) {
	f, err := lookup(t.Proc, fdno)
	if err != 0 {
		return 0, err
	}
	return f.Fops.Lseek(off, whence)
}

/// Fstat implements syscall 259.
func Fstat(t *proc.Thread, fdno int, st *stat.Stat_t) defs.Err_t {
	f, err := lookup(t.Proc, fdno)
	if err != 0 {
		return err
	}
	return f.Fops.Fstat(st)
}

/// Getdents64 implements syscall 260.
func Getdents64(t *proc.Thread, fdno int) ([]vfsfake.Dirent_t, defs.Err_t) {
	f, err := lookup(t.Proc, fdno)
	if err != 0 {
		return nil, err
	}
	d, ok := f.Fops.(*vfsfake.Directory)
	if !ok {
		return nil, -defs.ENOTDIR
	}
	return d.Getdents(), 0
}

/// Mkdir implements syscall 83.
func Mkdir(t *proc.Thread, path ustr.Ustr) defs.Err_t { return vfsfake.Mkdir(resolve(t, path)) }

/// Rmdir implements syscall 84.
func Rmdir(t *proc.Thread, path ustr.Ustr) defs.Err_t { return vfsfake.Rmdir(resolve(t, path)) }

/// Rename implements syscall 82.
func Rename(t *proc.Thread, oldp, newp ustr.Ustr) defs.Err_t {
	return vfsfake.Rename(resolve(t, oldp), resolve(t, newp))
}

/// Unlink implements syscall 87.
func Unlink(t *proc.Thread, path ustr.Ustr) defs.Err_t { return vfsfake.Unlink(resolve(t, path)) }

/// Mknod implements syscall 133 (FIFO creation only, per spec.md §6).
func Mknod(t *proc.Thread, path ustr.Ustr) defs.Err_t { return vfsfake.Mknod(resolve(t, path), true) }

func resolve(t *proc.Thread, p ustr.Ustr) ustr.Ustr {
	if t.Proc.Cwd != nil {
		return t.Proc.Cwd.Canonicalpath(p)
	}
	return p
}
