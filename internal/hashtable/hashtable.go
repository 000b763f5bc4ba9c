// Package hashtable implements the generic bucketed hash table used for
// the named UNIX-socket binding table (spec.md §4.K's "named socket
// table"). Grounded on the teacher's hashtable/hashtable.go; simplified
// from its lock-free-Get design (atomic.LoadPointer/StorePointer over
// unsafe.Pointer bucket chains) to a plain per-bucket sync.RWMutex — the
// lock-free read path exists in the teacher for a multi-core hot path this
// kernel's single-CPU non-goal doesn't need, and a bucket RWMutex is the
// idiomatic stdlib-only way to express the same "cheap concurrent Get"
// property.
package hashtable

import (
	"fmt"
	"hash/fnv"
	"sync"
)

type elem_t struct {
	key     interface{}
	value   interface{}
	keyHash uint32
}

type bucket_t struct {
	sync.RWMutex
	elems []elem_t
}

/// Pair_t is a key/value tuple returned by Elems.
type Pair_t struct {
	Key   interface{}
	Value interface{}
}

/// Hashtable_t maps arbitrary comparable keys (ustr.Ustr, string, int,
/// int32) to values, bucketed by an FNV hash of the key.
type Hashtable_t struct {
	table []*bucket_t
}

/// MkHash allocates a hash table with size buckets.
func MkHash(size int) *Hashtable_t {
	if size <= 0 {
		size = 1
	}
	ht := &Hashtable_t{table: make([]*bucket_t, size)}
	for i := range ht.table {
		ht.table[i] = &bucket_t{}
	}
	return ht
}

func (ht *Hashtable_t) bucket(kh uint32) *bucket_t {
	return ht.table[int(kh%uint32(len(ht.table)))]
}

/// Get looks up key, returning its value and whether it was found.
func (ht *Hashtable_t) Get(key interface{}) (interface{}, bool) {
	kh := khash(key)
	b := ht.bucket(kh)
	b.RLock()
	defer b.RUnlock()
	for _, e := range b.elems {
		if e.keyHash == kh && equal(e.key, key) {
			return e.value, true
		}
	}
	return nil, false
}

/// Set inserts key/value, returning false (and leaving the table
/// unchanged) if key already existed.
func (ht *Hashtable_t) Set(key, value interface{}) bool {
	kh := khash(key)
	b := ht.bucket(kh)
	b.Lock()
	defer b.Unlock()
	for _, e := range b.elems {
		if e.keyHash == kh && equal(e.key, key) {
			return false
		}
	}
	b.elems = append(b.elems, elem_t{key: key, value: value, keyHash: kh})
	return true
}

/// Del removes key, panicking if it was not present — callers are
/// expected to have checked Get first, matching the teacher's contract.
func (ht *Hashtable_t) Del(key interface{}) {
	kh := khash(key)
	b := ht.bucket(kh)
	b.Lock()
	defer b.Unlock()
	for i, e := range b.elems {
		if e.keyHash == kh && equal(e.key, key) {
			b.elems = append(b.elems[:i], b.elems[i+1:]...)
			return
		}
	}
	panic("hashtable: del of non-existing key")
}

/// Size returns the total number of stored elements.
func (ht *Hashtable_t) Size() int {
	n := 0
	for _, b := range ht.table {
		b.RLock()
		n += len(b.elems)
		b.RUnlock()
	}
	return n
}

/// Elems returns every stored key/value pair, in unspecified order.
func (ht *Hashtable_t) Elems() []Pair_t {
	var p []Pair_t
	for _, b := range ht.table {
		b.RLock()
		for _, e := range b.elems {
			p = append(p, Pair_t{Key: e.key, Value: e.value})
		}
		b.RUnlock()
	}
	return p
}

type ustrHasher interface {
	String() string
}

func khash(key interface{}) uint32 {
	h := fnv.New32a()
	switch x := key.(type) {
	case string:
		h.Write([]byte(x))
	case int:
		fmt.Fprintf(h, "%d", x)
	case int32:
		fmt.Fprintf(h, "%d", x)
	case ustrHasher:
		h.Write([]byte(x.String()))
	default:
		panic(fmt.Errorf("hashtable: unsupported key type %T", key))
	}
	return h.Sum32() * 2654435761
}

func equal(a, b interface{}) bool {
	switch x := a.(type) {
	case ustrHasher:
		y, ok := b.(ustrHasher)
		return ok && x.String() == y.String()
	default:
		return a == b
	}
}
