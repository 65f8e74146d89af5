// Secondary-index binding: erases a secondaryIndex[K, DK]'s derived-key
// type parameter behind a per-K interface, so Table[K, T] can hold one
// heterogeneous slice of secondary indexes instead of requiring a single
// DK for every index on a table.
package strata

import (
	"io"

	"github.com/jpl-au/strata/internal/rbtree"
)

// secIndexHandle is the type-erased view of a secondaryIndex[K, DK] that
// Table[K, T] operates through without knowing DK.
type secIndexHandle[K comparable, T any] interface {
	name() string
	slotID() int
	derivedType() DBType

	// update recomputes this index's membership for rec, given its primary
	// key and the KeyNode's side-bag.
	update(primaryKey K, sideBag map[int]any, rec *T)
	cleanup(primaryKey K, sideBag map[int]any)

	write(w io.Writer, pk interface{ find(K) (rbtree.Handle, bool) }, offsetOf func(rbtree.Handle) int64) error
	read(r *byteReader, byOffset func(int64) (rbtree.Handle, bool), keyOf func(rbtree.Handle) K, sideBagOf func(rbtree.Handle) map[int]any, legacySingle bool) (secIndexHandle[K, T], error)

	// unwrap returns the concrete *secondaryIndex[K, DK] boxed as any, for
	// query.go's generic Query[K, DK] to type-assert against.
	unwrap() any
}

// indexFactory builds a fresh secIndexHandle at Table construction time,
// given the side-bag slot ID this index's name hashes to.
type indexFactory[K comparable, T any] func(id int, keyCmp func(a, b K) int) secIndexHandle[K, T]

// boundSecondaryIndex adapts a concrete secondaryIndex[K, DK] to
// secIndexHandle[K, T] by capturing the derive/encode/decode closures a
// caller supplied through Index[K, T, DK].
type boundSecondaryIndex[K comparable, T any, DK any] struct {
	idx           *secondaryIndex[K, DK]
	derivedDBType DBType
	derive        func(rec *T) DK
	encodeDerived func(DK) any
	decodeDerived func(any) DK
}

// Index registers a named secondary index on a mapping: name, comparator,
// wire dbType for the derived key, and a closure that computes the derived
// value from a record.
func Index[K comparable, T any, DK any](
	mapping *EntityMapping[K, T],
	name string,
	derivedType DBType,
	cmp func(a, b DK) int,
	derive func(rec *T) DK,
	encodeDerived func(DK) any,
	decodeDerived func(any) DK,
) {
	mapping.indexes = append(mapping.indexes, func(id int, keyCmp func(a, b K) int) secIndexHandle[K, T] {
		return &boundSecondaryIndex[K, T, DK]{
			idx:           newSecondaryIndex[K, DK](id, name, cmp, keyCmp),
			derivedDBType: derivedType,
			derive:        derive,
			encodeDerived: encodeDerived,
			decodeDerived: decodeDerived,
		}
	})
}

func (b *boundSecondaryIndex[K, T, DK]) name() string        { return b.idx.name }
func (b *boundSecondaryIndex[K, T, DK]) slotID() int         { return b.idx.id }
func (b *boundSecondaryIndex[K, T, DK]) derivedType() DBType { return b.derivedDBType }
func (b *boundSecondaryIndex[K, T, DK]) unwrap() any         { return b.idx }

func (b *boundSecondaryIndex[K, T, DK]) update(primaryKey K, sideBag map[int]any, rec *T) {
	b.idx.update(primaryKey, sideBag, b.derive(rec))
}

func (b *boundSecondaryIndex[K, T, DK]) cleanup(primaryKey K, sideBag map[int]any) {
	b.idx.cleanup(primaryKey, sideBag)
}

func (b *boundSecondaryIndex[K, T, DK]) write(w io.Writer, pk interface{ find(K) (rbtree.Handle, bool) }, offsetOf func(rbtree.Handle) int64) error {
	return writeSecondaryIndex[K, DK](w, b.idx, b.derivedDBType, b.encodeDerived, pk, offsetOf)
}

func (b *boundSecondaryIndex[K, T, DK]) read(r *byteReader, byOffset func(int64) (rbtree.Handle, bool), keyOf func(rbtree.Handle) K, sideBagOf func(rbtree.Handle) map[int]any, legacySingle bool) (secIndexHandle[K, T], error) {
	idx, err := readSecondaryIndex[K, DK](r, b.idx.id, b.idx.name, b.idx.cmp, b.idx.keyCmp, b.derivedDBType, b.decodeDerived, byOffset, keyOf, sideBagOf, legacySingle)
	if err != nil {
		return nil, err
	}
	return &boundSecondaryIndex[K, T, DK]{
		idx:           idx,
		derivedDBType: b.derivedDBType,
		derive:        b.derive,
		encodeDerived: b.encodeDerived,
		decodeDerived: b.decodeDerived,
	}, nil
}
