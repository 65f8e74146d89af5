// Primary key index: a red-black tree of KeyNodes layered over the
// free-space allocator. Each node maps a key to its record's byte range
// in the data file and drives the allocator on insert, resize and delete.
package strata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/jpl-au/strata/internal/rbtree"
)

// keyNode is the payload carried by every node of the primary index tree:
// the record's byte range in the data file, plus the side-bag recording,
// per secondary index, the derived key this record is currently filed
// under (the index re-resolves it to its DataNode via its own tree).
type keyNode struct {
	offset  int64
	length  int32
	sideBag map[int]any // secondary index ID -> that index's derived key
}

// primaryIndex owns the tree of KeyNodes and the allocator over the same
// table's data file.
type primaryIndex[K any] struct {
	tree  *rbtree.Tree[K, keyNode]
	alloc *dataMap

	offsetIdx      map[int64]rbtree.Handle // lazy, rebuilt on demand
	offsetIdxValid bool
}

func newPrimaryIndex[K any](cmp func(a, b K) int) *primaryIndex[K] {
	return &primaryIndex[K]{
		tree:  rbtree.New[K, keyNode](cmp),
		alloc: newDataMap(nil),
	}
}

// find returns the KeyNode handle for key, if present.
func (p *primaryIndex[K]) find(key K) (rbtree.Handle, bool) {
	return p.tree.Find(key)
}

// update is insert-or-get at length: a new key
// gets its range allocated; an existing key whose stored length differs
// has its old range freed and a new one allocated, possibly at a
// different offset.
func (p *primaryIndex[K]) update(key K, length int32) rbtree.Handle {
	h, inserted := p.tree.Insert(key)
	if inserted {
		off := p.alloc.Allocate(int64(length))
		p.tree.SetValue(h, keyNode{offset: off, length: length, sideBag: map[int]any{}})
		p.offsetIdxValid = false
		return h
	}
	kn := p.tree.Value(h)
	if kn.length != length {
		newOff := p.alloc.Realloc(kn.offset, int64(kn.length), int64(length))
		kn.offset = newOff
		kn.length = length
		p.tree.SetValue(h, kn)
		p.offsetIdxValid = false
	}
	return h
}

// remove frees the node's range and deletes it from the tree, returning
// whether a node was found. Side-bag cleanup is the caller's
// responsibility (it needs the table's secondary index set).
func (p *primaryIndex[K]) remove(key K) (keyNode, bool) {
	h, ok := p.tree.Find(key)
	if !ok {
		return keyNode{}, false
	}
	kn := p.tree.Value(h)
	p.alloc.Free(kn.offset, int64(kn.length))
	p.tree.Delete(h)
	p.offsetIdxValid = false
	return kn, true
}

func (p *primaryIndex[K]) node(h rbtree.Handle) keyNode { return p.tree.Value(h) }

func (p *primaryIndex[K]) sideBag(h rbtree.Handle) map[int]any {
	return p.tree.ValuePtr(h).sideBag
}

func (p *primaryIndex[K]) key(h rbtree.Handle) K { return p.tree.Key(h) }

func (p *primaryIndex[K]) len() int { return p.tree.Len() }

// keyList is an in-order snapshot of keys.
func (p *primaryIndex[K]) keyList() []K {
	out := make([]K, 0, p.tree.Len())
	p.tree.Each(func(h rbtree.Handle) bool {
		out = append(out, p.tree.Key(h))
		return true
	})
	return out
}

// minKey/maxKey return the first and last keys.
func (p *primaryIndex[K]) minKey() (K, bool) {
	h := p.tree.First()
	if h == rbtree.NilHandle {
		var zero K
		return zero, false
	}
	return p.tree.Key(h), true
}

func (p *primaryIndex[K]) maxKey() (K, bool) {
	h := p.tree.Last()
	if h == rbtree.NilHandle {
		var zero K
		return zero, false
	}
	return p.tree.Key(h), true
}

// byOffset resolves a KeyNode by its data-file offset, building a lazy
// reverse index on first use after invalidation. Secondary-index load
// resolves its stored offsets to KeyNodes through this map.
func (p *primaryIndex[K]) byOffset(offset int64) (rbtree.Handle, bool) {
	if !p.offsetIdxValid {
		p.offsetIdx = make(map[int64]rbtree.Handle, p.tree.Len())
		p.tree.Each(func(h rbtree.Handle) bool {
			p.offsetIdx[p.tree.Value(h).offset] = h
			return true
		})
		p.offsetIdxValid = true
	}
	h, ok := p.offsetIdx[offset]
	return h, ok
}

// compact walks the tree in key order, asking copyFn to relocate each
// live range to a tight rolling offset in a fresh data file, then rebuilds
// the allocator from the new ranges.
func (p *primaryIndex[K]) compact(copyFn func(oldOffset int64, length int32) (newOffset int64, err error)) error {
	type move struct {
		h      rbtree.Handle
		newOff int64
	}
	var moves []move
	var walkErr error
	p.tree.Each(func(h rbtree.Handle) bool {
		kn := p.tree.Value(h)
		newOff, err := copyFn(kn.offset, kn.length)
		if err != nil {
			walkErr = err
			return false
		}
		moves = append(moves, move{h: h, newOff: newOff})
		return true
	})
	if walkErr != nil {
		return walkErr
	}

	ranges := make([]allocation, 0, len(moves))
	for _, m := range moves {
		kn := p.tree.Value(m.h)
		kn.offset = m.newOff
		p.tree.SetValue(m.h, kn)
		ranges = append(ranges, allocation{begin: m.newOff, end: m.newOff + int64(kn.length)})
	}
	p.alloc = newDataMap(ranges)
	p.offsetIdxValid = false
	return nil
}

// autoGenerateInt32 implements the "if zero, substitute max+1" integer
// auto-key policy.
func (p *primaryIndex[K]) autoGenerateInt32(current int32) int32 {
	if current != 0 {
		return current
	}
	max, ok := p.maxKeyAsInt32()
	if !ok {
		return 1
	}
	return max + 1
}

func (p *primaryIndex[K]) autoGenerateInt64(current int64) int64 {
	if current != 0 {
		return current
	}
	max, ok := p.maxKeyAsInt64()
	if !ok {
		return 1
	}
	return max + 1
}

// autoGenerateGUID substitutes a fresh random GUID when current is the
// zero value.
func autoGenerateGUID(current uuid.UUID) uuid.UUID {
	if current != uuid.Nil {
		return current
	}
	return uuid.New()
}

func (p *primaryIndex[K]) maxKeyAsInt32() (int32, bool) {
	k, ok := p.maxKey()
	if !ok {
		return 0, false
	}
	v, ok := any(k).(int32)
	return v, ok
}

func (p *primaryIndex[K]) maxKeyAsInt64() (int64, bool) {
	k, ok := p.maxKey()
	if !ok {
		return 0, false
	}
	v, ok := any(k).(int64)
	return v, ok
}

// --- Serialization ---
//
// Pre-order recursive: for each node write color (i8, -1 terminates),
// length (i32), offset (i64), key (encoded per the key's dbType); on load,
// parent pointers are reconstructed by re-inserting in the same traversal
// order.

const pkNodeTerminator = int8(-1)

func writePrimaryIndex[K any](w io.Writer, p *primaryIndex[K], keyType DBType, encodeKey func(K) any) error {
	var walkErr error
	p.tree.EachPreOrder(func(h rbtree.Handle) bool {
		kn := p.tree.Value(h)
		color := int8(0)
		if p.tree.IsRed(h) {
			color = 1
		}
		var buf [13]byte
		buf[0] = byte(color)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(kn.length))
		binary.LittleEndian.PutUint64(buf[5:13], uint64(kn.offset))
		if _, err := w.Write(buf[:]); err != nil {
			walkErr = fmt.Errorf("%w: %v", ErrIoError, err)
			return false
		}
		var keyBuf bytes.Buffer
		if err := encodeRaw(&keyBuf, keyType, encodeKey(p.tree.Key(h))); err != nil {
			walkErr = err
			return false
		}
		if _, err := w.Write(keyBuf.Bytes()); err != nil {
			walkErr = fmt.Errorf("%w: %v", ErrIoError, err)
			return false
		}
		return true
	})
	if walkErr != nil {
		return walkErr
	}
	term := pkNodeTerminator
	_, err := w.Write([]byte{byte(term)})
	return err
}

// readPrimaryIndex reconstructs a primaryIndex from the pre-order stream
// writePrimaryIndex produced. Node color from the stream is discarded:
// re-inserting keys through Insert lets the tree re-balance itself. Only
// the set of live KeyNodes and their offsets/lengths must round-trip, not
// the exact tree shape.
func readPrimaryIndex[K any](r *byteReader, cmp func(a, b K) int, keyType DBType, decodeKey func(any) K) (*primaryIndex[K], error) {
	p := newPrimaryIndex[K](cmp)
	var ranges []allocation
	for {
		tag, err := r.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		if int8(tag) == pkNodeTerminator {
			break
		}
		lb, err := r.readN(4)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		length := int32(binary.LittleEndian.Uint32(lb))
		ob, err := r.readN(8)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		offset := int64(binary.LittleEndian.Uint64(ob))
		rawKey, err := decodeRaw(r, keyType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		key := decodeKey(rawKey)

		h, inserted := p.tree.Insert(key)
		if !inserted {
			return nil, fmt.Errorf("%w: duplicate key in index file", ErrCorruptIndex)
		}
		p.tree.SetValue(h, keyNode{offset: offset, length: length, sideBag: map[int]any{}})
		ranges = append(ranges, allocation{begin: offset, end: offset + int64(length)})
	}
	p.alloc = newDataMap(ranges)
	return p, nil
}
