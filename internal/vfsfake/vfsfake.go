// Package vfsfake is the in-memory stand-in for the ext2 on-disk
// filesystem spec.md's Out-of-scope list excludes ("the ext2 on-disk
// format parser... The core consumes a block-read/write interface... from
// these"). It implements just enough of a directory tree (RegularFile,
// Directory, FIFO nodes) to drive open/lseek/fstat/getdents64/mkdir/rmdir/
// rename/unlink/mknod, without parsing any real on-disk layout.
//
// Grounded on the teacher's fs/super.go field-accessor style (kept as the
// doc-comment register, not its bitmap/log code, which belongs to the
// excluded on-disk format) and ufs/ufs.go's inode-table-keyed-by-path
// shape; the storage itself is a plain in-memory tree rather than
// block_t-backed pages, since breenix-core never parses a disk image.
package vfsfake

import (
	"sync"

	"breenix/internal/bpath"
	"breenix/internal/defs"
	"breenix/internal/fdops"
	"breenix/internal/ipc/pipe"
	"breenix/internal/mem"
	"breenix/internal/pagetable"
	"breenix/internal/stat"
	"breenix/internal/ustr"
	"breenix/internal/vm"
)

/// Itype classifies a node in the fake tree.
type Itype int

const (
	ITypeFile Itype = iota
	ITypeDir
	ITypeFifo
)

/// Inode_t is one node of the fake filesystem: a regular file's bytes, a
/// directory's child-name table, or a FIFO's backing pipe.
type Inode_t struct {
	sync.Mutex
	typ      Itype
	ino      uint64
	data     []byte
	children map[string]*Inode_t
	fifo     *pipe.Pipe_t
}

var (
	rootMu sync.Mutex
	root   = &Inode_t{typ: ITypeDir, ino: 1, children: map[string]*Inode_t{}}
	nextIno uint64 = 2
)

func allocIno() uint64 {
	rootMu.Lock()
	defer rootMu.Unlock()
	n := nextIno
	nextIno++
	return n
}

// lookup walks comps from root, optionally creating missing directories is
// never implied here — callers that need creation use lookupParent plus an
// explicit child insert.
func lookup(comps []ustr.Ustr) (*Inode_t, defs.Err_t) {
	cur := root
	for _, c := range comps {
		cur.Lock()
		child, ok := cur.children[c.String()]
		cur.Unlock()
		if !ok {
			return nil, -defs.ENOENT
		}
		cur = child
	}
	return cur, 0
}

func lookupParent(p ustr.Ustr) (*Inode_t, ustr.Ustr, defs.Err_t) {
	dir, base := bpath.Split(p)
	parent, err := lookup(bpath.Components(dir))
	if err != 0 {
		return nil, nil, err
	}
	if parent.typ != ITypeDir {
		return nil, nil, -defs.ENOTDIR
	}
	return parent, base, 0
}

/// Mkdir creates an empty directory at p.
func Mkdir(p ustr.Ustr) defs.Err_t {
	parent, base, err := lookupParent(p)
	if err != 0 {
		return err
	}
	parent.Lock()
	defer parent.Unlock()
	if _, exists := parent.children[base.String()]; exists {
		return -defs.EEXIST
	}
	parent.children[base.String()] = &Inode_t{typ: ITypeDir, ino: allocIno(), children: map[string]*Inode_t{}}
	return 0
}

/// Rmdir removes the empty directory at p.
func Rmdir(p ustr.Ustr) defs.Err_t {
	parent, base, err := lookupParent(p)
	if err != 0 {
		return err
	}
	parent.Lock()
	defer parent.Unlock()
	child, ok := parent.children[base.String()]
	if !ok {
		return -defs.ENOENT
	}
	if child.typ != ITypeDir {
		return -defs.ENOTDIR
	}
	child.Lock()
	empty := len(child.children) == 0
	child.Unlock()
	if !empty {
		return -defs.ENOTEMPTY
	}
	delete(parent.children, base.String())
	return 0
}

/// Unlink removes the file or FIFO at p.
func Unlink(p ustr.Ustr) defs.Err_t {
	parent, base, err := lookupParent(p)
	if err != 0 {
		return err
	}
	parent.Lock()
	defer parent.Unlock()
	child, ok := parent.children[base.String()]
	if !ok {
		return -defs.ENOENT
	}
	if child.typ == ITypeDir {
		return -defs.EISDIR
	}
	delete(parent.children, base.String())
	return 0
}

/// Rename moves the node at oldp to newp, overwriting any existing file at
/// newp (directories are not overwritten: EEXIST).
func Rename(oldp, newp ustr.Ustr) defs.Err_t {
	oparent, obase, err := lookupParent(oldp)
	if err != 0 {
		return err
	}
	nparent, nbase, err := lookupParent(newp)
	if err != 0 {
		return err
	}
	oparent.Lock()
	node, ok := oparent.children[obase.String()]
	if !ok {
		oparent.Unlock()
		return -defs.ENOENT
	}
	delete(oparent.children, obase.String())
	oparent.Unlock()

	nparent.Lock()
	defer nparent.Unlock()
	if existing, exists := nparent.children[nbase.String()]; exists {
		if existing.typ == ITypeDir {
			nparent.children[obase.String()] = node // put it back: directories never overwritten
			return -defs.EEXIST
		}
	}
	nparent.children[nbase.String()] = node
	return 0
}

/// Mknod creates a node at p of the requested kind; only FIFOs are
/// supported (spec.md §6's "mknod(fifo)").
func Mknod(p ustr.Ustr, fifo bool) defs.Err_t {
	if !fifo {
		return -defs.EOPNOTSUPP
	}
	parent, base, err := lookupParent(p)
	if err != 0 {
		return err
	}
	parent.Lock()
	defer parent.Unlock()
	if _, exists := parent.children[base.String()]; exists {
		return -defs.EEXIST
	}
	parent.children[base.String()] = &Inode_t{typ: ITypeFifo, ino: allocIno(), fifo: pipe.NewFifo(mem.PGSIZE)}
	return 0
}

/// Creat creates (or truncates, if it already exists and wasn't a
/// directory) a regular file at p.
func Creat(p ustr.Ustr) (*Inode_t, defs.Err_t) {
	parent, base, err := lookupParent(p)
	if err != 0 {
		return nil, err
	}
	parent.Lock()
	defer parent.Unlock()
	if existing, exists := parent.children[base.String()]; exists {
		if existing.typ == ITypeDir {
			return nil, -defs.EISDIR
		}
		existing.Lock()
		existing.data = nil
		existing.Unlock()
		return existing, 0
	}
	n := &Inode_t{typ: ITypeFile, ino: allocIno()}
	parent.children[base.String()] = n
	return n, 0
}

/// Open resolves p to its Inode_t, failing with ENOENT unless create is
/// set (open(2)'s O_CREAT).
func Open(p ustr.Ustr, create bool) (*Inode_t, defs.Err_t) {
	n, err := lookup(bpath.Components(p))
	if err == 0 {
		return n, 0
	}
	if err == -defs.ENOENT && create {
		return Creat(p)
	}
	return nil, err
}

/// Dirent_t is one entry returned by Getdents.
type Dirent_t struct {
	Name ustr.Ustr
	Ino  uint64
	Typ  Itype
}

/// Getdents lists the fake directory's children, in unspecified order.
func (n *Inode_t) Getdents() []Dirent_t {
	n.Lock()
	defer n.Unlock()
	out := make([]Dirent_t, 0, len(n.children))
	for name, c := range n.children {
		out = append(out, Dirent_t{Name: ustr.Ustr(name), Ino: c.ino, Typ: c.typ})
	}
	return out
}

/// RegularFile is the open-file-descriptor object for an ITypeFile Inode_t;
/// implements fdops.Fdops_i and vm.FileBacking (the latter lets mmap(2)
/// page a RegularFile into an address space).
type RegularFile struct {
	fdops.Unsupported
	node   *Inode_t
	off    int
	shared bool
}

/// OpenRegular wraps node as a RegularFile descriptor positioned at 0.
func OpenRegular(node *Inode_t) *RegularFile {
	return &RegularFile{node: node}
}

func (f *RegularFile) Read(dst *vm.Userbuf_t) (int, defs.Err_t) {
	f.node.Lock()
	defer f.node.Unlock()
	if f.off >= len(f.node.data) {
		return 0, 0
	}
	n, err := dst.Uiowrite(f.node.data[f.off:])
	f.off += n
	return n, err
}

func (f *RegularFile) Write(src *vm.Userbuf_t) (int, defs.Err_t) {
	buf := make([]uint8, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	buf = buf[:n]
	f.node.Lock()
	defer f.node.Unlock()
	need := f.off + n
	if need > len(f.node.data) {
		grown := make([]byte, need)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	copy(f.node.data[f.off:], buf)
	f.off += n
	return n, 0
}

/// Mmap maps this file's contents into as starting at hint, via
/// vm.AddressSpace.MmapFile with f itself as the FileBacking collaborator.
func (f *RegularFile) Mmap(as *vm.AddressSpace, hint uintptr, length, foff int, perms uint, shared bool) (uintptr, defs.Err_t) {
	f.shared = shared
	return as.MmapFile(hint, length, foff, pagetable.PTEFlags(perms), f)
}

func (f *RegularFile) Lseek(off, whence int) (int, defs.Err_t) {
	f.node.Lock()
	size := len(f.node.data)
	f.node.Unlock()
	var newoff int
	switch whence {
	case 0: // SEEK_SET
		newoff = off
	case 1: // SEEK_CUR
		newoff = f.off + off
	case 2: // SEEK_END
		newoff = size + off
	default:
		return 0, -defs.EINVAL
	}
	if newoff < 0 {
		return 0, -defs.EINVAL
	}
	f.off = newoff
	return newoff, 0
}

func (f *RegularFile) Fstat(st *stat.Stat_t) defs.Err_t {
	f.node.Lock()
	defer f.node.Unlock()
	st.Wino(f.node.ino)
	st.Wsize(uint64(len(f.node.data)))
	st.Wmode(0100644)
	return 0
}

func (f *RegularFile) Reopen() defs.Err_t { return 0 }
func (f *RegularFile) Close() defs.Err_t  { return 0 }

/// Filepage implements vm.FileBacking: it returns the physical frame
/// backing file offset off, growing the file in place the first time a
/// page past EOF is faulted in (demand-zero extension), matching what a
/// real mmap(MAP_SHARED) over a sparse file does.
func (f *RegularFile) Filepage(off int) (mem.Pa_t, defs.Err_t) {
	f.node.Lock()
	defer f.node.Unlock()
	end := off + mem.PGSIZE
	if end > len(f.node.data) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	pa, ok := mem.Global.AllocFrame()
	if !ok {
		return 0, -defs.ENOMEM
	}
	copy(mem.Global.Bytes(pa)[:], f.node.data[off:end])
	return pa, 0
}

/// Shared reports whether this file's mmap mappings are MAP_SHARED.
func (f *RegularFile) Shared() bool { return f.shared }

/// Directory is the open-file-descriptor object for an ITypeDir Inode_t.
type Directory struct {
	fdops.Unsupported
	node *Inode_t
}

/// OpenDirectory wraps node as a Directory descriptor.
func OpenDirectory(node *Inode_t) *Directory { return &Directory{node: node} }

func (d *Directory) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wino(d.node.ino)
	st.Wmode(040755)
	return 0
}

func (d *Directory) Reopen() defs.Err_t { return 0 }
func (d *Directory) Close() defs.Err_t  { return 0 }

/// Getdents returns the directory's children for getdents64(2).
func (d *Directory) Getdents() []Dirent_t { return d.node.Getdents() }

/// Root returns the fake filesystem's root directory inode.
func Root() *Inode_t { return root }

/// IsFifo reports whether n is a FIFO node, and its backing pipe if so.
func (n *Inode_t) IsFifo() (*pipe.Pipe_t, bool) {
	if n.typ != ITypeFifo {
		return nil, false
	}
	return n.fifo, true
}

/// IsDir reports whether n is a directory node.
func (n *Inode_t) IsDir() bool { return n.typ == ITypeDir }
