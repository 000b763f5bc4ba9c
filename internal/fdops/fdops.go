// Package fdops defines the Fdops_i interface every open file object
// implements (spec.md §3's Fd variants: RegularFile, Directory, PipeEnd,
// UnixStreamEnd, UdpSocket, Fifo) and the request/response types its
// methods share. Grounded on the shape implied by vm/as.go's
// `fdops.Fdops_i` parameter to `Vmadd_file`/`Vmadd_sharefile` (fdops's own
// source was not present in the retrieval pack beyond its go.mod).
package fdops

import (
	"breenix/internal/defs"
	"breenix/internal/stat"
	"breenix/internal/vm"
)

/// Fdops_i is the behavior every kind of open file object must implement.
// Not every operation makes sense for every variant (e.g. Accept on a
// regular file); variants that don't support an operation return
// -defs.EINVAL, including socket operations on non-sockets (breenix-core
// has no distinct ENOTSOCK in its errno table).
type Fdops_i interface {
	Read(dst *vm.Userbuf_t) (int, defs.Err_t)
	Write(src *vm.Userbuf_t) (int, defs.Err_t)
	// Fstat fills st with this object's metadata.
	Fstat(st *stat.Stat_t) defs.Err_t
	// Mmap maps length bytes of this object at the given file offset into
	// as, returning the chosen address.
	Mmap(as *vm.AddressSpace, hint uintptr, length, foff int, perms uint, shared bool) (uintptr, defs.Err_t)
	// Reopen is called when a descriptor is duplicated (dup/dup2/fork):
	// it bumps whatever reference count the underlying object tracks.
	Reopen() defs.Err_t
	// Close drops this descriptor's reference; the underlying object is
	// released once every descriptor referencing it has closed.
	Close() defs.Err_t
	// Lseek repositions a seekable object; non-seekable objects (pipes,
	// sockets) return -defs.ESPIPE.
	Lseek(off int, whence int) (int, defs.Err_t)
	// Accept/Connect/Bind/Listen are no-ops (returning -defs.EINVAL) for
	// every variant except the socket-shaped ones.
	Accept() (Fdops_i, defs.Err_t)
	Connect(addr []byte) defs.Err_t
	Bind(addr []byte) defs.Err_t
	Listen(backlog int) defs.Err_t
	SendTo(src *vm.Userbuf_t, addr []byte) (int, defs.Err_t)
	RecvFrom(dst *vm.Userbuf_t) (int, []byte, defs.Err_t)
}

/// Unsupported embeds into a variant's struct to provide defaults for every
/// Fdops_i method the variant doesn't meaningfully implement (-defs.EINVAL,
/// except Reopen and Close, which return 0, and Lseek, which returns
/// -defs.ESPIPE), so each variant only overrides the handful of methods that
/// apply to it — matching the teacher's closed-sum-type-via-interface
/// idiom (each file kind is its own Go type, not a single struct with a
/// type tag).
type Unsupported struct{}

func (Unsupported) Read(*vm.Userbuf_t) (int, defs.Err_t)  { return 0, -defs.EINVAL }
func (Unsupported) Write(*vm.Userbuf_t) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (Unsupported) Fstat(*stat.Stat_t) defs.Err_t         { return -defs.EINVAL }
func (Unsupported) Mmap(*vm.AddressSpace, uintptr, int, int, uint, bool) (uintptr, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (Unsupported) Reopen() defs.Err_t               { return 0 }
func (Unsupported) Close() defs.Err_t                { return 0 }
func (Unsupported) Lseek(int, int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (Unsupported) Accept() (Fdops_i, defs.Err_t)    { return nil, -defs.EINVAL }
func (Unsupported) Connect([]byte) defs.Err_t        { return -defs.EINVAL }
func (Unsupported) Bind([]byte) defs.Err_t           { return -defs.EINVAL }
func (Unsupported) Listen(int) defs.Err_t            { return -defs.EINVAL }
func (Unsupported) SendTo(*vm.Userbuf_t, []byte) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (Unsupported) RecvFrom(*vm.Userbuf_t) (int, []byte, defs.Err_t) {
	return 0, nil, -defs.EINVAL
}
