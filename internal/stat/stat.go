// Package stat implements the kernel's fstat(2) result structure.
package stat

import "encoding/binary"

/// Stat_t mirrors a file's stat information, kept field-private with
/// accessors so the wire layout (Bytes) stays independent of Go struct
/// layout.
type Stat_t struct {
	dev    uint64
	ino    uint64
	mode   uint64
	size   uint64
	rdev   uint64
	uid    uint64
	blocks uint64
	mSec   uint64
	mNsec  uint64
}

/// Wdev stores the device ID.
func (st *Stat_t) Wdev(v uint64) { st.dev = v }

/// Wino stores the inode number.
func (st *Stat_t) Wino(v uint64) { st.ino = v }

/// Wmode records the file mode.
func (st *Stat_t) Wmode(v uint64) { st.mode = v }

/// Wsize records the file size.
func (st *Stat_t) Wsize(v uint64) { st.size = v }

/// Wrdev stores the rdev field.
func (st *Stat_t) Wrdev(v uint64) { st.rdev = v }

/// Wmtime records the modification time as (seconds, nanoseconds).
func (st *Stat_t) Wmtime(sec, nsec uint64) {
	st.mSec = sec
	st.mNsec = nsec
}

/// Mode returns the stored mode value.
func (st *Stat_t) Mode() uint64 { return st.mode }

/// Size returns the stored size.
func (st *Stat_t) Size() uint64 { return st.size }

/// Rdev returns the stored rdev.
func (st *Stat_t) Rdev() uint64 { return st.rdev }

/// Rino returns the stored inode number.
func (st *Stat_t) Rino() uint64 { return st.ino }

/// Bytes serializes the structure to little-endian wire format suitable for
/// copying to user memory.
func (st *Stat_t) Bytes() []uint8 {
	b := make([]uint8, 9*8)
	fields := []uint64{st.dev, st.ino, st.mode, st.size, st.rdev, st.uid, st.blocks, st.mSec, st.mNsec}
	for i, f := range fields {
		binary.LittleEndian.PutUint64(b[i*8:], f)
	}
	return b
}
