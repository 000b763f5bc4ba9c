package vm

import (
	"breenix/internal/bounds"
	"breenix/internal/defs"
	"breenix/internal/res"
)

/// Userbuf_t assists reading and writing user memory. Address lookups and
/// accesses are atomic with respect to page faults (the address space lock
/// is held for the duration of one Uioread/Uiowrite call).
type Userbuf_t struct {
	userva uintptr
	len    int
	off    int
	as     *AddressSpace
}

/// MkUserbuf returns a Userbuf_t over the range [userva, userva+length) of
/// as's user address space.
func (as *AddressSpace) MkUserbuf(userva uintptr, length int) *Userbuf_t {
	if length < 0 {
		panic("vm: negative length")
	}
	return &Userbuf_t{userva: userva, len: length, as: as}
}

/// Remain returns the number of unread/unwritten bytes left.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

/// Totalsz reports the total configured size of the buffer.
func (ub *Userbuf_t) Totalsz() int { return ub.len }

func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERBUF_T__TX)) {
			return ret, -defs.ENOHEAP
		}
		va := ub.userva + uintptr(ub.off)
		chunk, err := ub.as.Translate(va, write)
		if err != 0 {
			return ret, err
		}
		end := ub.off + len(chunk)
		if end > ub.len {
			chunk = chunk[:ub.len-ub.off]
		}
		var c int
		if write {
			c = copy(chunk, buf)
		} else {
			c = copy(buf, chunk)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
	}
	return ret, 0
}

/// Uioread copies from user memory into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	ub.as.LockPmap()
	defer ub.as.UnlockPmap()
	return ub.tx(dst, false)
}

/// Uiowrite copies src into user memory.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	ub.as.LockPmap()
	defer ub.as.UnlockPmap()
	return ub.tx(src, true)
}

type ioveEntry struct {
	uva uintptr
	sz  int
}

/// Useriovec_t is a sequence of user buffers described by an iovec array
/// already read out of user memory (readv/writev).
type Useriovec_t struct {
	iovs []ioveEntry
	tsz  int
	as   *AddressSpace
}

/// MkUseriovec builds a Useriovec_t directly from (addr, len) pairs already
/// resolved by the caller — the syscall dispatcher is responsible for
/// reading the raw iovec array out of user memory via AddressSpace.ReadN,
/// mirroring the teacher's Iov_init but without baking the wire layout of
/// `struct iovec` into this package.
func (as *AddressSpace) MkUseriovec(entries [][2]uintptr) (*Useriovec_t, defs.Err_t) {
	if len(entries) > 10 {
		return nil, -defs.EINVAL
	}
	iov := &Useriovec_t{as: as, iovs: make([]ioveEntry, len(entries))}
	for i, e := range entries {
		iov.iovs[i] = ioveEntry{uva: e[0], sz: int(e[1])}
		iov.tsz += int(e[1])
	}
	return iov, 0
}

/// Remain returns the number of bytes remaining across all iovecs.
func (iov *Useriovec_t) Remain() int {
	ret := 0
	for _, e := range iov.iovs {
		ret += e.sz
	}
	return ret
}

/// Totalsz returns the total size described by the iovec array.
func (iov *Useriovec_t) Totalsz() int { return iov.tsz }

func (iov *Useriovec_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	did := 0
	for len(buf) > 0 && len(iov.iovs) > 0 {
		cur := &iov.iovs[0]
		ub := iov.as.MkUserbuf(cur.uva, cur.sz)
		c, err := ub.tx(buf, write)
		cur.uva += uintptr(c)
		cur.sz -= c
		if cur.sz == 0 {
			iov.iovs = iov.iovs[1:]
		}
		buf = buf[c:]
		did += c
		if err != 0 {
			return did, err
		}
	}
	return did, 0
}

/// Uioread reads into dst from the set of user buffers.
func (iov *Useriovec_t) Uioread(dst []uint8) (int, defs.Err_t) {
	iov.as.LockPmap()
	defer iov.as.UnlockPmap()
	return iov.tx(dst, false)
}

/// Uiowrite writes src across the set of user buffers.
func (iov *Useriovec_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	iov.as.LockPmap()
	defer iov.as.UnlockPmap()
	return iov.tx(src, true)
}

/// Fakeubuf_t implements the same Uioread/Uiowrite interface as Userbuf_t
/// but operates on a plain kernel byte slice. Used when kernel code needs
/// to hand a "user-like" buffer to code written against the user-copy
/// interface (e.g. feeding command-line args to exec without a real user
/// address space yet).
type Fakeubuf_t struct {
	fbuf []uint8
	len  int
}

/// MkFakeubuf wraps buf as a Fakeubuf_t.
func MkFakeubuf(buf []uint8) *Fakeubuf_t {
	return &Fakeubuf_t{fbuf: buf, len: len(buf)}
}

/// Remain returns the number of bytes left in the fake buffer.
func (fb *Fakeubuf_t) Remain() int { return len(fb.fbuf) }

/// Totalsz returns the fake buffer's original length.
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) tx(buf []uint8, tofbuf bool) (int, defs.Err_t) {
	var c int
	if tofbuf {
		c = copy(fb.fbuf, buf)
	} else {
		c = copy(buf, fb.fbuf)
	}
	fb.fbuf = fb.fbuf[c:]
	return c, 0
}

/// Uioread copies from the fake buffer into dst.
func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t) { return fb.tx(dst, false) }

/// Uiowrite copies src into the fake buffer.
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return fb.tx(src, true) }
