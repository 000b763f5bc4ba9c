// Package fd implements the open-file-descriptor table entry and the
// per-process working-directory tracker, grounded directly on the
// teacher's fd/fd.go.
package fd

import (
	"sync"

	"breenix/internal/bpath"
	"breenix/internal/defs"
	"breenix/internal/fdops"
	"breenix/internal/ustr"
)

// File descriptor permission bits.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

/// Fd_t represents an open file descriptor: a reference to the underlying
/// file object (Fops, an interface value so copies alias the same object)
/// plus the access permissions this particular descriptor was opened with.
type Fd_t struct {
	Fops  fdops.Fdops_i
	Perms int
}

/// Copyfd duplicates an open file descriptor by reopening it, used by
/// dup/dup2/fork to produce a second descriptor referencing the same
/// underlying object.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	err := nfd.Fops.Reopen()
	if err != 0 {
		return nil, err
	}
	return nfd, 0
}

/// Close_panic closes the descriptor and panics on failure; used where the
/// caller holds the last reference and a failed close indicates a kernel
/// bug rather than a recoverable condition.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("fd: close must succeed")
	}
}

/// Cwd_t tracks a process's current working directory: the directory fd
/// it resolves relative paths against, and the canonical path string
/// reported by getcwd(2).
type Cwd_t struct {
	sync.Mutex
	Fd   *Fd_t
	Path ustr.Ustr
}

/// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	full := append(append(ustr.Ustr{}, cwd.Path...), '/')
	return append(full, p...)
}

/// Canonicalpath resolves "."/".." components of p relative to cwd,
/// producing an absolute, normalized path.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	p1 := cwd.Fullpath(p)
	return bpath.Canonicalize(p1)
}

/// MkRootCwd constructs a Cwd_t rooted at "/".
func MkRootCwd(fd *Fd_t) *Cwd_t {
	c := &Cwd_t{}
	c.Fd = fd
	c.Path = ustr.MkUstrRoot()
	return c
}
