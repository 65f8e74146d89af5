// Index query builder: Key/GreaterThan/LessThan/Where/Skip/Take,
// terminated by Count/ToList/ToLazyList/ToIDList. A fluent wrapper over
// secindex.go's queryBounds.
package strata

import "fmt"

// Query builds a bounded scan over one named secondary index of Table[K,
// T], whose derived key has Go type DK. Obtain one with QueryIndex; every
// terminal method (Count, ToList, ToLazyList, ToIDList) takes the *Tx
// scope to run under, resolving the index fresh within that scope so a
// stale table reload never hands back a handle into a discarded tree.
type Query[K comparable, T any, DK any] struct {
	tbl    *Table[K, T]
	name   string
	bounds queryBounds[DK]
}

// QueryIndex begins a query over the secondary index named name on t. The
// index must have been registered via Index[K, T, DK] with this same DK;
// a mismatched DK surfaces as ErrUnsupportedType rather than a panic.
func QueryIndex[K comparable, T any, DK any](t *Table[K, T], name string) *Query[K, T, DK] {
	return &Query[K, T, DK]{tbl: t, name: name}
}

// Key restricts the query to the single derived value k.
func (q *Query[K, T, DK]) Key(k DK) *Query[K, T, DK] {
	v := k
	q.bounds.min = &v
	q.bounds.minIncl = true
	q.bounds.max = &v
	q.bounds.maxIncl = true
	return q
}

// GreaterThan sets the lower bound, inclusive per the inclusive flag.
func (q *Query[K, T, DK]) GreaterThan(k DK, inclusive bool) *Query[K, T, DK] {
	v := k
	q.bounds.min = &v
	q.bounds.minIncl = inclusive
	return q
}

// LessThan sets the upper bound, inclusive per the inclusive flag.
func (q *Query[K, T, DK]) LessThan(k DK, inclusive bool) *Query[K, T, DK] {
	v := k
	q.bounds.max = &v
	q.bounds.maxIncl = inclusive
	return q
}

// Where adds a post-range predicate over the derived key.
func (q *Query[K, T, DK]) Where(pred func(DK) bool) *Query[K, T, DK] {
	q.bounds.filter = pred
	return q
}

// Skip drops the first n matches, applied after filtering.
func (q *Query[K, T, DK]) Skip(n int) *Query[K, T, DK] {
	q.bounds.skip = n
	return q
}

// Take caps the result to the first n matches after Skip.
func (q *Query[K, T, DK]) Take(n int) *Query[K, T, DK] {
	q.bounds.take = n
	q.bounds.takeSet = true
	return q
}

// resolve finds this query's backing secondaryIndex within tx's scope,
// reloading the table first so a concurrent writer's commit is observed.
func (q *Query[K, T, DK]) resolve(tx *Tx) (*secondaryIndex[K, DK], error) {
	tx.ensureTable(q.tbl)
	if err := q.tbl.ensureLoaded(); err != nil {
		return nil, err
	}
	for _, h := range q.tbl.secs {
		if h.name() != q.name {
			continue
		}
		idx, ok := h.unwrap().(*secondaryIndex[K, DK])
		if !ok {
			return nil, fmt.Errorf("%w: secondary index %q has a different derived-key type than requested", ErrUnsupportedType, q.name)
		}
		return idx, nil
	}
	return nil, fmt.Errorf("%w: no secondary index named %q", ErrNotFound, q.name)
}

// Count returns the number of primary keys matching the query's bounds.
func (q *Query[K, T, DK]) Count(tx *Tx) (int, error) {
	var n int
	err := tx.Read(func(tx *Tx) error {
		idx, err := q.resolve(tx)
		if err != nil {
			return err
		}
		n = idx.count(q.bounds)
		return nil
	})
	return n, err
}

// ToIDList returns the matching primary keys in ascending (derived key,
// primary key) order.
func (q *Query[K, T, DK]) ToIDList(tx *Tx) ([]K, error) {
	var out []K
	err := tx.Read(func(tx *Tx) error {
		idx, err := q.resolve(tx)
		if err != nil {
			return err
		}
		out = idx.list(q.bounds)
		return nil
	})
	return out, err
}

// ToList decodes and returns every matching record.
func (q *Query[K, T, DK]) ToList(tx *Tx) ([]*T, error) {
	var out []*T
	err := tx.Read(func(tx *Tx) error {
		idx, err := q.resolve(tx)
		if err != nil {
			return err
		}
		ids := idx.list(q.bounds)
		for _, id := range ids {
			rec, err := q.tbl.loadByKey(tx, id)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// ToLazyList returns the matching records as a pull iterator that decodes
// one record per call instead of materializing the full slice up front.
// The primary-key list itself is resolved eagerly within one read scope,
// so the iterator sees a single consistent snapshot of the index; only
// the per-record decode is deferred to each call of the returned
// function. The final call returns ok == false.
func (q *Query[K, T, DK]) ToLazyList(tx *Tx) (func() (rec *T, ok bool, err error), error) {
	ids, err := q.ToIDList(tx)
	if err != nil {
		return nil, err
	}
	i := 0
	return func() (*T, bool, error) {
		if i >= len(ids) {
			return nil, false, nil
		}
		key := ids[i]
		i++
		rec, err := q.tbl.loadByKey(tx, key)
		if err != nil {
			return nil, false, err
		}
		return rec, true, nil
	}, nil
}
