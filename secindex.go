// Secondary data index: a named, non-unique ordered multimap from a
// derived key to the set of primary keys whose record produces that
// value. Maintained on every write; queried through the range-bounded
// query builder.
//
// dataNode.keys stores primary keys rather than rbtree.Handle values into
// the primary tree. internal/rbtree's Delete preserves the identity of
// the *deleted* handle by splicing the successor's data into its slot
// (see that package's doc comment), which means the successor's own old
// handle is the one invalidated. A secondary index that cached the
// successor's handle would go stale on an unrelated delete elsewhere in
// the primary tree. Keys are stable and re-resolved through the primary
// index's O(log n) Find when the caller needs offset/length, which is a
// cost every load already pays.
//
// The side-bag entry a KeyNode carries for this index stores the derived
// key it is currently filed under, not a handle into s.tree, for the same
// reason: retiring an emptied DataNode with two children splices its
// in-order successor into the deleted slot, and the successor's old
// handle, still held by every other KeyNode filed under that value,
// becomes invalid. update and cleanup re-resolve through s.tree.Find.
package strata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/blake2b"

	"github.com/jpl-au/strata/internal/rbtree"
)

// sideBagID derives a secondary index's side-bag slot from its name via
// blake2b, rather than a runtime-assigned sequential counter, so the slot
// a KeyNode's side-bag uses for "by_email" is the same across a process
// restart regardless of the order Index registered them in.
func sideBagID(name string) int {
	sum := blake2b.Sum256([]byte(name))
	return int(binary.LittleEndian.Uint32(sum[:4]))
}

// dataNode is one node of a secondary index's tree: the set of primary
// keys currently mapping to this derived value.
type dataNode[K comparable] struct {
	keys map[K]struct{}
}

// secondaryIndex is the multimap. id identifies this index's side-bag
// slot on every KeyNode it participates in.
type secondaryIndex[K comparable, DK any] struct {
	id     int
	name   string
	tree   *rbtree.Tree[DK, *dataNode[K]]
	cmp    func(a, b DK) int
	keyCmp func(a, b K) int
}

func newSecondaryIndex[K comparable, DK any](id int, name string, cmp func(a, b DK) int, keyCmp func(a, b K) int) *secondaryIndex[K, DK] {
	return &secondaryIndex[K, DK]{
		id:     id,
		name:   name,
		tree:   rbtree.New[DK, *dataNode[K]](cmp),
		cmp:    cmp,
		keyCmp: keyCmp,
	}
}

// update recomputes this index's membership for primaryKey given its
// freshly-derived value. sideBag is the owning KeyNode's side-bag map,
// shared with the primary index. An unchanged derived value (per the
// comparator) is a no-op.
func (s *secondaryIndex[K, DK]) update(primaryKey K, sideBag map[int]any, derived DK) {
	if prev, ok := sideBag[s.id]; ok {
		prevDK := prev.(DK)
		if s.cmp(prevDK, derived) == 0 {
			return
		}
		s.detach(prevDK, primaryKey)
		delete(sideBag, s.id)
	}

	h, inserted := s.tree.Insert(derived)
	if inserted {
		s.tree.SetValue(h, &dataNode[K]{keys: map[K]struct{}{}})
	}
	s.tree.Value(h).keys[primaryKey] = struct{}{}
	sideBag[s.id] = derived
}

// cleanup removes primaryKey from this index via its side-bag entry,
// called when the owning KeyNode is deleted.
func (s *secondaryIndex[K, DK]) cleanup(primaryKey K, sideBag map[int]any) {
	prev, ok := sideBag[s.id]
	if !ok {
		return
	}
	s.detach(prev.(DK), primaryKey)
	delete(sideBag, s.id)
}

func (s *secondaryIndex[K, DK]) detach(derived DK, primaryKey K) {
	h, ok := s.tree.Find(derived)
	if !ok {
		return
	}
	dn := s.tree.Value(h)
	delete(dn.keys, primaryKey)
	if len(dn.keys) == 0 {
		s.tree.Delete(h)
	}
}

// queryBounds carries the range/filter/paging parameters the index query
// builder exposes.
type queryBounds[DK any] struct {
	min, max         *DK
	minIncl, maxIncl bool
	filter           func(DK) bool
	skip, take       int
	takeSet          bool
}

// list returns the primary keys matching bounds, in ascending
// (derived key, primary key) order, with skip/take applied after
// filtering.
func (s *secondaryIndex[K, DK]) list(b queryBounds[DK]) []K {
	handles := s.tree.Enumerate(b.min, b.minIncl, b.max, b.maxIncl)
	var out []K
	for _, h := range handles {
		dv := s.tree.Key(h)
		if b.filter != nil && !b.filter(dv) {
			continue
		}
		dn := s.tree.Value(h)
		group := make([]K, 0, len(dn.keys))
		for k := range dn.keys {
			group = append(group, k)
		}
		sort.Slice(group, func(i, j int) bool { return s.keyCmp(group[i], group[j]) < 0 })
		out = append(out, group...)
	}

	if b.skip > 0 {
		if b.skip >= len(out) {
			return nil
		}
		out = out[b.skip:]
	}
	if b.takeSet && b.take < len(out) {
		out = out[:b.take]
	}
	return out
}

// count mirrors list but avoids building the result set.
func (s *secondaryIndex[K, DK]) count(b queryBounds[DK]) int {
	handles := s.tree.Enumerate(b.min, b.minIncl, b.max, b.maxIncl)
	n := 0
	for _, h := range handles {
		dv := s.tree.Key(h)
		if b.filter != nil && !b.filter(dv) {
			continue
		}
		n += len(s.tree.Value(h).keys)
	}
	return n
}

// --- Serialization ---

const secNodeTerminator = int8(-1)

func writeSecondaryIndex[K comparable, DK any](
	w io.Writer,
	s *secondaryIndex[K, DK],
	derivedType DBType,
	encodeDerived func(DK) any,
	pk interface{ find(K) (rbtree.Handle, bool) },
	offsetOf func(rbtree.Handle) int64,
) error {
	var walkErr error
	s.tree.EachPreOrder(func(h rbtree.Handle) bool {
		color := byte(0)
		if s.tree.IsRed(h) {
			color = 1
		}
		if _, err := w.Write([]byte{color}); err != nil {
			walkErr = fmt.Errorf("%w: %v", ErrIoError, err)
			return false
		}

		var dkBuf bytes.Buffer
		if err := encodeRaw(&dkBuf, derivedType, encodeDerived(s.tree.Key(h))); err != nil {
			walkErr = err
			return false
		}
		if _, err := w.Write(dkBuf.Bytes()); err != nil {
			walkErr = fmt.Errorf("%w: %v", ErrIoError, err)
			return false
		}

		dn := s.tree.Value(h)
		keys := make([]K, 0, len(dn.keys))
		for k := range dn.keys {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return s.keyCmp(keys[i], keys[j]) < 0 })

		var cb [4]byte
		binary.LittleEndian.PutUint32(cb[:], uint32(len(keys)))
		if _, err := w.Write(cb[:]); err != nil {
			walkErr = fmt.Errorf("%w: %v", ErrIoError, err)
			return false
		}
		for _, k := range keys {
			ph, ok := pk.find(k)
			if !ok {
				walkErr = fmt.Errorf("%w: secondary index %q references a missing primary key", ErrCorruptIndex, s.name)
				return false
			}
			var ob [8]byte
			binary.LittleEndian.PutUint64(ob[:], uint64(offsetOf(ph)))
			if _, err := w.Write(ob[:]); err != nil {
				walkErr = fmt.Errorf("%w: %v", ErrIoError, err)
				return false
			}
		}
		return true
	})
	if walkErr != nil {
		return walkErr
	}
	term := secNodeTerminator
	_, err := w.Write([]byte{byte(term)})
	return err
}

// readSecondaryIndex reconstructs a secondary index from the stream
// writeSecondaryIndex produced, resolving each stored offset back to a
// primary key via byOffset, and installing this index's side-bag entry on
// each referenced KeyNode. legacySingle marks the initial on-disk format,
// whose nodes carry exactly one KeyNode offset with no count word; such
// nodes are converted to key sets as they are read.
func readSecondaryIndex[K comparable, DK any](
	r *byteReader,
	id int,
	name string,
	cmp func(a, b DK) int,
	keyCmp func(a, b K) int,
	derivedType DBType,
	decodeDerived func(any) DK,
	byOffset func(int64) (rbtree.Handle, bool),
	keyOf func(rbtree.Handle) K,
	sideBagOf func(rbtree.Handle) map[int]any,
	legacySingle bool,
) (*secondaryIndex[K, DK], error) {
	s := newSecondaryIndex[K, DK](id, name, cmp, keyCmp)
	for {
		tag, err := r.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		if int8(tag) == secNodeTerminator {
			break
		}
		raw, err := decodeRaw(r, derivedType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		derived := decodeDerived(raw)

		count := uint32(1)
		if !legacySingle {
			cb, err := r.readN(4)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
			}
			count = binary.LittleEndian.Uint32(cb)
		}

		h, inserted := s.tree.Insert(derived)
		var dn *dataNode[K]
		if inserted {
			dn = &dataNode[K]{keys: make(map[K]struct{}, count)}
			s.tree.SetValue(h, dn)
		} else {
			// Legacy streams may repeat a derived value once per KeyNode;
			// fold the repeats into one node's key set.
			dn = s.tree.Value(h)
		}

		for i := uint32(0); i < count; i++ {
			ob, err := r.readN(8)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
			}
			offset := int64(binary.LittleEndian.Uint64(ob))
			ph, ok := byOffset(offset)
			if !ok {
				return nil, fmt.Errorf("%w: secondary index %q references an unknown offset", ErrCorruptIndex, name)
			}
			k := keyOf(ph)
			dn.keys[k] = struct{}{}
			sideBagOf(ph)[id] = derived
		}
	}
	return s, nil
}
