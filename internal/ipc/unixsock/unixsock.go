// Package unixsock implements UNIX-domain stream sockets: conjugate
// endpoint pairs (socketpair and the connect side of a named socket), a
// named binding table, and listen/accept (spec.md §3/§4.K: "two conjugate
// endpoints each with its own ring for the peer to write into... Named
// binding uses an in-kernel name table keyed by address; listen/accept
// pairs newly connected endpoints").
//
// Grounded on internal/circbuf.Circbuf_t (one ring per endpoint, the same
// building block internal/ipc/pipe uses) and internal/hashtable for the
// name table (spec.md names it directly as the named-socket lookup
// structure); no teacher unixsock.go was retrieved beyond empty go.mod
// stubs for fd/fdops/socket-shaped packages.
package unixsock

import (
	"sync"
	"time"

	"breenix/internal/bounds"
	"breenix/internal/circbuf"
	"breenix/internal/defs"
	"breenix/internal/fdops"
	"breenix/internal/hashtable"
	"breenix/internal/mem"
	"breenix/internal/percpu"
	"breenix/internal/proc"
	"breenix/internal/res"
	"breenix/internal/sched"
	"breenix/internal/signal"
	"breenix/internal/stat"
	"breenix/internal/ustr"
	"breenix/internal/vm"
)

// ringCap is the per-endpoint ring capacity; a named socket isn't a
// Pipe_t, so unixsock allocates its own circbuf.Circbuf_t rather than
// importing internal/ipc/pipe (that would be a layering inversion —
// unixsock is its own IPC object, not a pipe).
const ringCap = mem.PGSIZE

// zeroTime is the "no deadline" sentinel BlockOn expects.
var zeroTime time.Time

/// Endpoint is one side of a connected UNIX stream socket: a ring that the
/// peer writes into, and a pointer to the peer so Write can reach across.
type Endpoint struct {
	fdops.Unsupported

	mu   sync.Mutex
	ring circbuf.Circbuf_t
	peer *Endpoint

	readq  *sched.WaitQueue
	writeq *sched.WaitQueue

	closed    bool
	closeOnce sync.Once
}

func newEndpoint() *Endpoint {
	e := &Endpoint{readq: sched.NewWaitQueue(), writeq: sched.NewWaitQueue()}
	e.ring.Cb_init(ringCap)
	return e
}

/// NewUnconnected returns a fresh endpoint with no peer, standing in for a
/// socket(2)-created descriptor before bind/listen or connect gives it one.
/// Its Read/Write see an always-EOF/EPIPE peer until the syscall dispatcher
/// replaces the descriptor's file object with the result of Bind or Connect.
func NewUnconnected() *Endpoint {
	return newEndpoint()
}

/// Socketpair creates two connected, unnamed stream endpoints (socketpair(2)
/// with AF_UNIX/SOCK_STREAM).
func Socketpair() (*Endpoint, *Endpoint) {
	a := newEndpoint()
	b := newEndpoint()
	a.peer, b.peer = b, a
	return a, b
}

func (e *Endpoint) Read(dst *vm.Userbuf_t) (int, defs.Err_t) {
	tmp := make([]uint8, dst.Remain())
	for {
		e.mu.Lock()
		if !e.ring.Empty() {
			n := e.ring.Copyout(tmp)
			e.mu.Unlock()
			sched.WakeAll(e.writeq)
			return dst.Uiowrite(tmp[:n])
		}
		peerClosed := e.peer == nil
		e.mu.Unlock()
		if peerClosed {
			return 0, 0 // EOF: peer hung up and our ring is drained
		}
		t, ok := currentThread()
		if !ok {
			return 0, -defs.ESRCH
		}
		if _, err := sched.BlockOn(t, e.readq, sched.ReasonSocket, zeroTime, true); err != 0 {
			return 0, err
		}
	}
}

func (e *Endpoint) Write(src *vm.Userbuf_t) (int, defs.Err_t) {
	tmp := make([]uint8, src.Remain())
	n0, err := src.Uioread(tmp)
	if err != 0 {
		return 0, err
	}
	tmp = tmp[:n0]
	total := 0
	for len(tmp) > 0 {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_PIPE_WRITE)) {
			return total, -defs.ENOHEAP
		}
		e.mu.Lock()
		peer := e.peer
		if peer == nil {
			e.mu.Unlock()
			res.Resdel(bounds.Bounds(bounds.B_PIPE_WRITE))
			if t, ok := currentThread(); ok {
				signal.Raise(t, defs.SIGPIPE)
			}
			return total, -defs.EPIPE
		}
		e.mu.Unlock()

		peer.mu.Lock()
		if peer.closed {
			peer.mu.Unlock()
			res.Resdel(bounds.Bounds(bounds.B_PIPE_WRITE))
			if t, ok := currentThread(); ok {
				signal.Raise(t, defs.SIGPIPE)
			}
			return total, -defs.EPIPE
		}
		if !peer.ring.Full() {
			n := peer.ring.Copyin(tmp)
			peer.mu.Unlock()
			res.Resdel(bounds.Bounds(bounds.B_PIPE_WRITE))
			sched.WakeAll(peer.readq)
			tmp = tmp[n:]
			total += n
			continue
		}
		peer.mu.Unlock()
		res.Resdel(bounds.Bounds(bounds.B_PIPE_WRITE))

		t, ok := currentThread()
		if !ok {
			return total, -defs.ESRCH
		}
		if _, err := sched.BlockOn(t, peer.writeq, sched.ReasonSocket, zeroTime, true); err != 0 {
			return total, err
		}
	}
	return total, 0
}

/// Close severs the connection: the peer's next Read past EOF returns 0
/// once drained and its next Write fails with EPIPE/SIGPIPE.
func (e *Endpoint) Close() defs.Err_t {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		peer := e.peer
		e.peer = nil
		e.mu.Unlock()
		if peer != nil {
			peer.mu.Lock()
			peer.peer = nil
			peer.mu.Unlock()
			sched.WakeAll(peer.readq)
			sched.WakeAll(peer.writeq)
		}
	})
	return 0
}

func (e *Endpoint) Reopen() defs.Err_t { return 0 }

func (e *Endpoint) Fstat(st *stat.Stat_t) defs.Err_t { st.Wmode(0); return 0 }

/// Listener is a bound, listening named socket: Accept blocks until
/// Connect deposits a newly paired Endpoint.
type Listener struct {
	fdops.Unsupported

	mu      sync.Mutex
	backlog []*Endpoint
	acceptq *sched.WaitQueue
	name    ustr.Ustr
}

var (
	namesMu sync.Mutex
	names   = hashtable.MkHash(64)
)

/// Bind registers name in the global named-socket table, returning EADDRINUSE
/// if already bound.
func Bind(name ustr.Ustr) (*Listener, defs.Err_t) {
	namesMu.Lock()
	defer namesMu.Unlock()
	if _, ok := names.Get(name); ok {
		return nil, -defs.EADDRINUSE
	}
	l := &Listener{acceptq: sched.NewWaitQueue(), name: name}
	names.Set(name, l)
	return l, 0
}

/// Listen marks l ready to accept connections (a no-op beyond validating
/// backlog; breenix-core's Accept always pulls from an unbounded Go slice,
/// so backlog is advisory here).
func (l *Listener) Listen(backlog int) defs.Err_t {
	if backlog < 0 {
		return -defs.EINVAL
	}
	return 0
}

/// Connect looks up name in the named-socket table and pairs a fresh
/// Endpoint with the listener's accept queue, returning the caller's side
/// of the new connection.
func Connect(name ustr.Ustr) (*Endpoint, defs.Err_t) {
	namesMu.Lock()
	v, ok := names.Get(name)
	namesMu.Unlock()
	if !ok {
		return nil, -defs.ECONNREFUSED
	}
	l := v.(*Listener)

	a, b := Socketpair()
	l.mu.Lock()
	l.backlog = append(l.backlog, b)
	l.mu.Unlock()
	sched.WakeAll(l.acceptq)
	return a, 0
}

/// Accept blocks until a connection is pending, returning the
/// kernel-side Endpoint of the newly accepted connection.
func (l *Listener) Accept() (fdops.Fdops_i, defs.Err_t) {
	for {
		l.mu.Lock()
		if len(l.backlog) > 0 {
			e := l.backlog[0]
			l.backlog = l.backlog[1:]
			l.mu.Unlock()
			return e, 0
		}
		l.mu.Unlock()

		t, ok := currentThread()
		if !ok {
			return nil, -defs.ESRCH
		}
		if _, err := sched.BlockOn(t, l.acceptq, sched.ReasonSocket, zeroTime, true); err != 0 {
			return nil, err
		}
	}
}

/// Unbind removes name from the named-socket table, called when the
/// listening descriptor is closed.
func Unbind(name ustr.Ustr) {
	namesMu.Lock()
	defer namesMu.Unlock()
	if _, ok := names.Get(name); ok {
		names.Del(name)
	}
}

func currentThread() (*proc.Thread, bool) {
	h, ok := percpu.TryCurrent()
	if !ok {
		return nil, false
	}
	t, ok := h.(*proc.Thread)
	return t, ok
}
