// Package udp implements UDP datagram sockets (spec.md §3/§4.K: "datagram
// queue per socket; sendto enqueues on the destination socket's queue
// (loopback)... recvfrom dequeues one datagram. Bind allocates the
// requested port or, when 0, picks an ephemeral one; EADDRINUSE if the
// (local-addr, port) is already owned").
//
// Grounded on the same queue+waitqueue shape as internal/ipc/pipe/
// unixsock, specialized to whole-datagram (not byte-stream) delivery, and
// on internal/hashtable for the port table. breenix-core has no real NIC
// driver to hand non-loopback datagrams to (VirtIO networking is out of
// SPEC_FULL.md's scope — see DESIGN.md's Non-goals carryover); sendto to
// a bound local port is delivered in-kernel, matching the "loopback" case
// spec.md calls out explicitly.
package udp

import (
	"sync"
	"time"

	"breenix/internal/defs"
	"breenix/internal/fdops"
	"breenix/internal/hashtable"
	"breenix/internal/percpu"
	"breenix/internal/proc"
	"breenix/internal/sched"
	"breenix/internal/stat"
	"breenix/internal/vm"
)

// zeroTime is the "no deadline" sentinel BlockOn expects.
var zeroTime time.Time

const (
	firstEphemeral = 32768
	lastEphemeral  = 60999
	maxQueued      = 256
)

/// Addr is a (local-address, port) tuple. Address is an opaque loopback
/// identifier; breenix-core models only the one loopback interface.
type Addr struct {
	Addr uint32
	Port uint16
}

/// datagram is one enqueued UDP payload plus its sender's address, handed
/// back to recvfrom(2)'s optional source-address output parameter.
type datagram struct {
	from Addr
	data []byte
}

/// Socket is one UDP endpoint: an unbound socket has no queue entry in the
/// port table until Bind (or an implicit bind on first sendto, not
/// modeled here since spec.md only requires explicit bind to be race-free)
/// assigns it a port.
type Socket struct {
	fdops.Unsupported

	mu       sync.Mutex
	bound    bool
	addr     Addr
	queue    []datagram
	recvq    *sched.WaitQueue
	nonblock bool
}

/// New returns an unbound UDP socket.
func New(nonblock bool) *Socket {
	return &Socket{recvq: sched.NewWaitQueue(), nonblock: nonblock}
}

var (
	portsMu  sync.Mutex
	ports    = hashtable.MkHash(256)
	nextEph  uint16 = firstEphemeral
)

func portKey(addr Addr) int32 {
	return int32(addr.Addr)<<16 | int32(addr.Port)
}

/// Bind assigns s the requested port (or an ephemeral one if port == 0),
/// failing with EADDRINUSE if the tuple is already owned.
func (s *Socket) Bind(raw []byte) defs.Err_t {
	addr, err := decodeAddr(raw)
	if err != 0 {
		return err
	}
	portsMu.Lock()
	defer portsMu.Unlock()

	if addr.Port == 0 {
		found := false
		for i := 0; i < lastEphemeral-firstEphemeral+1; i++ {
			p := nextEph
			nextEph++
			if nextEph > lastEphemeral {
				nextEph = firstEphemeral
			}
			cand := Addr{Addr: addr.Addr, Port: p}
			if _, ok := ports.Get(portKey(cand)); !ok {
				addr = cand
				found = true
				break
			}
		}
		if !found {
			return -defs.EADDRINUSE
		}
	} else if _, ok := ports.Get(portKey(addr)); ok {
		return -defs.EADDRINUSE
	}

	ports.Set(portKey(addr), s)
	s.mu.Lock()
	s.addr = addr
	s.bound = true
	s.mu.Unlock()
	return 0
}

/// SendTo enqueues the payload read from src on the bound destination
/// socket's queue, addressed per the raw destination address encoding
/// decodeAddr understands.
func (s *Socket) SendTo(src *vm.Userbuf_t, rawDst []byte) (int, defs.Err_t) {
	dst, err := decodeAddr(rawDst)
	if err != 0 {
		return 0, err
	}
	buf := make([]uint8, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	buf = buf[:n]

	portsMu.Lock()
	v, ok := ports.Get(portKey(dst))
	portsMu.Unlock()
	if !ok {
		return 0, -defs.ECONNREFUSED
	}
	peer := v.(*Socket)

	s.mu.Lock()
	from := s.addr
	s.mu.Unlock()

	peer.mu.Lock()
	if len(peer.queue) >= maxQueued {
		peer.mu.Unlock()
		return 0, -defs.ENOSPC
	}
	peer.queue = append(peer.queue, datagram{from: from, data: append([]byte{}, buf...)})
	peer.mu.Unlock()
	sched.WakeAll(peer.recvq)
	return n, 0
}

/// RecvFrom dequeues one datagram into dst, returning the sender's encoded
/// address. Returns EAGAIN immediately on an empty queue if the socket is
/// non-blocking.
func (s *Socket) RecvFrom(dst *vm.Userbuf_t) (int, []byte, defs.Err_t) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			dg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			n, err := dst.Uiowrite(dg.data)
			return n, encodeAddr(dg.from), err
		}
		nonblock := s.nonblock
		s.mu.Unlock()
		if nonblock {
			return 0, nil, -defs.EAGAIN
		}
		t, ok := currentThread()
		if !ok {
			return 0, nil, -defs.ESRCH
		}
		if _, err := sched.BlockOn(t, s.recvq, sched.ReasonSocket, zeroTime, true); err != 0 {
			return 0, nil, err
		}
	}
}

/// Close releases s's bound port, if any.
func (s *Socket) Close() defs.Err_t {
	s.mu.Lock()
	bound, addr := s.bound, s.addr
	s.bound = false
	s.mu.Unlock()
	if bound {
		portsMu.Lock()
		if _, ok := ports.Get(portKey(addr)); ok {
			ports.Del(portKey(addr))
		}
		portsMu.Unlock()
	}
	return 0
}

func (s *Socket) Reopen() defs.Err_t { return 0 }

func (s *Socket) Fstat(st *stat.Stat_t) defs.Err_t { st.Wmode(0); return 0 }

// decodeAddr/encodeAddr translate between the 6-byte wire form
// (4-byte address, 2-byte port, both big-endian, mirroring sockaddr_in's
// layout minus the address-family field the syscall dispatcher already
// validated) and Addr.
func decodeAddr(raw []byte) (Addr, defs.Err_t) {
	if len(raw) != 6 {
		return Addr{}, -defs.EINVAL
	}
	addr := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	port := uint16(raw[4])<<8 | uint16(raw[5])
	return Addr{Addr: addr, Port: port}, 0
}

func encodeAddr(a Addr) []byte {
	return []byte{
		byte(a.Addr >> 24), byte(a.Addr >> 16), byte(a.Addr >> 8), byte(a.Addr),
		byte(a.Port >> 8), byte(a.Port),
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
