// Public Table surface. Every method threads an explicit *Tx, obtained
// from Database.Read or Database.Write. Thin wrappers only: all
// behavior lives in the unexported methods, which the package's own
// white-box tests exercise directly.
package strata

// Name returns the table's configured entity name.
func (t *Table[K, T]) Name() string { return t.tableName() }

// Save encodes rec, allocates/writes its payload, and maintains every
// secondary index. tx must be a write scope.
func (t *Table[K, T]) Save(tx *Tx, rec *T) error { return t.save(tx, rec) }

// Insert is the non-upsert form of Save: saving a key that already
// exists returns ErrDuplicateKey instead of overwriting. tx must be a
// write scope.
func (t *Table[K, T]) Insert(tx *Tx, rec *T) error { return t.insert(tx, rec) }

// SaveAll is the batch form of Save.
func (t *Table[K, T]) SaveAll(tx *Tx, recs []*T) error { return t.saveAll(tx, recs) }

// LoadByKey returns the record stored under key, or nil if absent.
func (t *Table[K, T]) LoadByKey(tx *Tx, key K) (*T, error) { return t.loadByKey(tx, key) }

// LoadAll decodes every record in primary-key order.
func (t *Table[K, T]) LoadAll(tx *Tx) ([]*T, error) { return t.loadAll(tx) }

// LoadByKeys loads each key in turn. When yieldNotFound is true, a miss
// appends nil instead of being skipped.
func (t *Table[K, T]) LoadByKeys(tx *Tx, keys []K, yieldNotFound bool) ([]*T, error) {
	return t.loadByKeys(tx, keys, yieldNotFound)
}

// DeleteByKey removes one record, returning whether it was present.
func (t *Table[K, T]) DeleteByKey(tx *Tx, key K) (bool, error) { return t.deleteByKey(tx, key) }

// DeleteByKeys applies DeleteByKey to every key, returning the count
// actually removed.
func (t *Table[K, T]) DeleteByKeys(tx *Tx, keys []K) (int, error) { return t.deleteByKeys(tx, keys) }

// Delete removes a record by its own embedded key.
func (t *Table[K, T]) Delete(tx *Tx, rec *T) (bool, error) { return t.delete(tx, rec) }

// Refresh re-decodes the on-disk value for rec's key into rec in place.
// Returns ErrNotFound if the key no longer exists.
func (t *Table[K, T]) Refresh(tx *Tx, rec *T) error { return t.refresh(tx, rec) }

// AllKeys returns an in-order snapshot of every primary key.
func (t *Table[K, T]) AllKeys(tx *Tx) ([]K, error) { return t.allKeys(tx) }

// MinKey returns the smallest primary key, and false if the table is
// empty.
func (t *Table[K, T]) MinKey(tx *Tx) (K, bool, error) { return t.minKey(tx) }

// MaxKey returns the largest primary key, and false if the table is
// empty.
func (t *Table[K, T]) MaxKey(tx *Tx) (K, bool, error) { return t.maxKey(tx) }

// Count returns the number of live records.
func (t *Table[K, T]) Count(tx *Tx) (int, error) { return t.count(tx) }

// Scan decodes every record and keeps those matching pred.
func (t *Table[K, T]) Scan(tx *Tx, pred func(*T) bool) ([]*T, error) { return t.scan(tx, pred) }

// Compact rewrites the data file so live payloads occupy a contiguous
// prefix. tx must be a write scope.
func (t *Table[K, T]) Compact(tx *Tx) error { return t.compact(tx) }

// Crop truncates the data file at commit to the minimum length that
// contains all live records, reclaiming trailing dead bytes without the
// full rewrite a Compact performs. tx must be a write scope.
func (t *Table[K, T]) Crop(tx *Tx) error { return t.crop(tx) }

// Purge truncates both files and clears all in-memory state. tx must be
// a write scope.
func (t *Table[K, T]) Purge(tx *Tx) error { return t.purge(tx) }

// Flush forces the index image to be rewritten at the next commit even
// if nothing changed in this scope. tx must be a write scope.
func (t *Table[K, T]) Flush(tx *Tx) error { return t.flush(tx) }

// GetInfo reports on-disk sizes.
func (t *Table[K, T]) GetInfo() (TableInfo, error) { return t.getInfo() }
