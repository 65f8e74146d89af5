// Table: binds one primary index, its secondary indexes, the record
// codec, and a storage backend. Owns the file handles and the in-memory
// trees; all mutation happens inside a write scope and is committed as
// one index image at scope exit.
package strata

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/jpl-au/strata/internal/rbtree"
)

// Table is the storage binding for one registered entity kind.
type Table[K comparable, T any] struct {
	mapping *EntityMapping[K, T]
	files   tableFiles

	mu sync.RWMutex

	pk         *primaryIndex[K]
	secs       []secIndexHandle[K, T]
	secByID    map[int]secIndexHandle[K, T]
	fieldsByID map[uint16]FieldSpec[T]
	fieldIDs   []uint16 // parallel to mapping.fields, for encodeRecord
	idToType   map[uint16]DBType

	indexModTime int64
	loaded       bool

	maxRecordSize int
	logger        Logger
}

// newTable constructs a Table bound to an already-open tableFiles, with
// fresh (empty) indexes; ensureLoaded populates them from disk on first
// access.
func newTable[K comparable, T any](mapping *EntityMapping[K, T], files tableFiles, cfg Config) *Table[K, T] {
	tbl := &Table[K, T]{
		mapping:       mapping,
		files:         files,
		pk:            newPrimaryIndex[K](mapping.keyCmp),
		maxRecordSize: cfg.MaxRecordSize,
		logger:        cfg.Logger,
	}
	tbl.resetIndexes()
	return tbl
}

func (t *Table[K, T]) tableName() string { return t.mapping.name }

func (t *Table[K, T]) lockTable()    { t.mu.Lock() }
func (t *Table[K, T]) unlockTable()  { t.mu.Unlock() }
func (t *Table[K, T]) rLockTable()   { t.mu.RLock() }
func (t *Table[K, T]) rUnlockTable() { t.mu.RUnlock() }

// ensureLoaded implements the load-or-skip protocol: reload the index
// image only if the backing file's mod time has advanced past what this
// Table last saw.
func (t *Table[K, T]) ensureLoaded() error {
	modTime, err := t.files.IndexModTime()
	if err != nil {
		return err
	}
	if t.loaded && modTime == t.indexModTime {
		return nil
	}
	raw, err := t.files.ReadIndex()
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		t.loaded = true
		t.indexModTime = modTime
		return nil
	}
	if err := t.loadFrom(raw); err != nil {
		return err
	}
	t.loaded = true
	t.indexModTime = modTime
	return nil
}

func (t *Table[K, T]) loadFrom(raw []byte) error {
	header, r, err := readIndexFileHeader(raw)
	if err != nil {
		return err
	}
	configured := t.mapping.schema()
	_, ids, err := upgradeSchema(header.schema, configured)
	if err != nil {
		return err
	}

	fieldsByID := make(map[uint16]FieldSpec[T], len(t.mapping.fields))
	idToType := make(map[uint16]DBType, len(header.schema.Members))
	for _, m := range header.schema.Members {
		idToType[m.ID] = m.Type
	}
	fieldIDs := make([]uint16, len(t.mapping.fields))
	for i, f := range t.mapping.fields {
		id := ids[f.Name]
		fieldsByID[id] = f
		idToType[id] = f.Type
		fieldIDs[i] = id
	}
	t.fieldsByID = fieldsByID
	t.idToType = idToType
	t.fieldIDs = fieldIDs

	pk, err := readPrimaryIndex[K](r, t.mapping.keyCmp, t.mapping.keyType, func(v any) K { return v.(K) })
	if err != nil {
		return err
	}
	t.pk = pk

	secs := make([]secIndexHandle[K, T], 0, len(t.secs))
	secByID := make(map[int]secIndexHandle[K, T], len(t.secs))
	for {
		name, err := readSecondaryIndexName(r)
		if err != nil {
			return err
		}
		if name == "" {
			break
		}
		var matched secIndexHandle[K, T]
		for _, h := range t.secs {
			if h.name() == name {
				matched = h
				break
			}
		}
		if matched == nil {
			return fmt.Errorf("%w: index file references unmapped secondary index %q", ErrCorruptIndex, name)
		}
		loaded, err := matched.read(r, t.pk.byOffset, t.pk.key, t.pk.sideBag, header.formatVersion == schemaFormatInitial)
		if err != nil {
			return err
		}
		secs = append(secs, loaded)
		secByID[loaded.slotID()] = loaded
	}
	t.secs = secs
	t.secByID = secByID
	return nil
}

// currentSchema builds the Schema actually in force for this table's
// loaded state: member IDs follow t.fieldIDs (the reconciled IDs from the
// last load, or sequential IDs for a never-loaded table), not a fresh
// sequential assignment. Reusing mapping.schema()'s sequential IDs here
// would silently re-ID every member after an upgrade reconciliation and
// desynchronize the header from what encodeRecord actually wrote.
func (t *Table[K, T]) currentSchema() Schema {
	members := make([]MemberDescriptor, len(t.mapping.fields))
	for i, f := range t.mapping.fields {
		members[i] = MemberDescriptor{ID: t.fieldIDs[i], Name: f.Name, Type: f.Type}
	}
	return Schema{KeyType: t.mapping.keyType, Members: members}
}

// commitLocked re-serializes the full index image in one pass. Caller
// (Tx.commit) already holds this table's write lock.
func (t *Table[K, T]) commitLocked() error {
	schema := t.currentSchema()
	header := schemaHeader{
		formatVersion: schemaFormatVersion,
		schema:        schema,
		schemaHash:    schema.Hash(),
	}
	writers := make([]secondaryIndexWriter, 0, len(t.secs))
	for _, h := range t.secs {
		h := h
		writers = append(writers, secondaryIndexWriter{
			descriptor: secondaryIndexDescriptor{id: h.slotID(), name: h.name(), derivedType: h.derivedType()},
			write: func(w io.Writer) error {
				return h.write(w, t.pk, func(hd rbtree.Handle) int64 { return t.pk.node(hd).offset })
			},
		})
	}

	var buf writeBuffer
	if err := writeIndexFile[K](&buf, header, t.pk, t.mapping.keyType, func(k K) any { return k }, writers); err != nil {
		return err
	}
	return t.files.WriteIndex(buf.Bytes())
}

// save encodes rec, allocates/writes its payload, maintains every
// secondary index, and marks the table dirty on tx.
func (t *Table[K, T]) save(tx *Tx, rec *T) error {
	return tx.Write(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}

		key := t.mapping.keyGet(rec)
		if t.mapping.keyAuto {
			key = t.autoGenerateKey(key)
			t.mapping.keySet(rec, key)
		}

		payload, err := t.encodeRecord(rec)
		if err != nil {
			return err
		}
		if t.maxRecordSize > 0 && len(payload) > t.maxRecordSize {
			return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(payload))
		}
		h := t.pk.update(key, int32(len(payload)))
		kn := t.pk.node(h)
		if err := t.files.WriteData(kn.offset, payload); err != nil {
			return err
		}

		sideBag := t.pk.sideBag(h)
		for _, sec := range t.secs {
			sec.update(key, sideBag, rec)
		}

		tx.markDirty(t)
		return nil
	})
}

// insert is the non-upsert form of save: an existing key is an error
// instead of an overwrite.
func (t *Table[K, T]) insert(tx *Tx, rec *T) error {
	return tx.Write(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}
		key := t.mapping.keyGet(rec)
		if !t.mapping.keyAuto || !isZeroKey(key) {
			if _, exists := t.pk.find(key); exists {
				return fmt.Errorf("%w: %v", ErrDuplicateKey, key)
			}
		}
		return t.save(tx, rec)
	})
}

// isZeroKey reports whether key is its type's zero value, the signal
// auto-generation replaces.
func isZeroKey[K comparable](key K) bool {
	var zero K
	return key == zero
}

// saveAll is the batch form of save.
func (t *Table[K, T]) saveAll(tx *Tx, recs []*T) error {
	for _, rec := range recs {
		if err := t.save(tx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table[K, T]) autoGenerateKey(current K) K {
	switch c := any(current).(type) {
	case int32:
		return any(t.pk.autoGenerateInt32(c)).(K)
	case int64:
		return any(t.pk.autoGenerateInt64(c)).(K)
	case uuid.UUID:
		return any(autoGenerateGUID(c)).(K)
	default:
		return current
	}
}

// loadByKey reads a single record by key.
func (t *Table[K, T]) loadByKey(tx *Tx, key K) (*T, error) {
	var out *T
	err := tx.Read(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}
		h, ok := t.pk.find(key)
		if !ok {
			return nil
		}
		kn := t.pk.node(h)
		raw, err := t.files.ReadData(kn.offset, kn.length)
		if err != nil {
			return err
		}
		rec, err := t.decodeRecord(raw)
		if err != nil {
			return err
		}
		t.mapping.keySet(rec, key)
		out = rec
		return nil
	})
	return out, err
}

// loadAll walks the primary index in key order, decoding every record.
func (t *Table[K, T]) loadAll(tx *Tx) ([]*T, error) {
	var out []*T
	err := tx.Read(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}
		var walkErr error
		t.pk.tree.Each(func(h rbtree.Handle) bool {
			kn := t.pk.tree.Value(h)
			raw, err := t.files.ReadData(kn.offset, kn.length)
			if err != nil {
				walkErr = err
				return false
			}
			rec, err := t.decodeRecord(raw)
			if err != nil {
				walkErr = err
				return false
			}
			t.mapping.keySet(rec, t.pk.tree.Key(h))
			out = append(out, rec)
			return true
		})
		return walkErr
	})
	return out, err
}

// loadByKeys loads each key in turn; if yieldNotFound, a miss appends nil
// rather than being skipped.
func (t *Table[K, T]) loadByKeys(tx *Tx, keys []K, yieldNotFound bool) ([]*T, error) {
	var out []*T
	err := tx.Read(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}
		for _, key := range keys {
			h, ok := t.pk.find(key)
			if !ok {
				if yieldNotFound {
					out = append(out, nil)
				}
				continue
			}
			kn := t.pk.node(h)
			raw, err := t.files.ReadData(kn.offset, kn.length)
			if err != nil {
				return err
			}
			rec, err := t.decodeRecord(raw)
			if err != nil {
				return err
			}
			t.mapping.keySet(rec, key)
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// deleteByKey removes one record; secondary indexes self-clean via the
// side-bag.
func (t *Table[K, T]) deleteByKey(tx *Tx, key K) (bool, error) {
	var removed bool
	err := tx.Write(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}
		h, ok := t.pk.find(key)
		if !ok {
			return nil
		}
		sideBag := t.pk.sideBag(h)
		for _, sec := range t.secs {
			sec.cleanup(key, sideBag)
		}
		if _, ok := t.pk.remove(key); ok {
			removed = true
			tx.markDirty(t)
		}
		return nil
	})
	return removed, err
}

// deleteByKeys applies deleteByKey to every key, returning the count
// actually removed.
func (t *Table[K, T]) deleteByKeys(tx *Tx, keys []K) (int, error) {
	n := 0
	for _, key := range keys {
		ok, err := t.deleteByKey(tx, key)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// delete removes a record by its own embedded key.
func (t *Table[K, T]) delete(tx *Tx, rec *T) (bool, error) {
	return t.deleteByKey(tx, t.mapping.keyGet(rec))
}

// refresh re-decodes the on-disk value for rec's key into rec in place.
func (t *Table[K, T]) refresh(tx *Tx, rec *T) error {
	key := t.mapping.keyGet(rec)
	fresh, err := t.loadByKey(tx, key)
	if err != nil {
		return err
	}
	if fresh == nil {
		return ErrNotFound
	}
	for _, f := range t.mapping.fields {
		f.Set(rec, f.Get(fresh))
	}
	return nil
}

// allKeys, minKey, maxKey, count are read-only primary-index queries.
func (t *Table[K, T]) allKeys(tx *Tx) ([]K, error) {
	var out []K
	err := tx.Read(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}
		out = t.pk.keyList()
		return nil
	})
	return out, err
}

func (t *Table[K, T]) minKey(tx *Tx) (K, bool, error) {
	var k K
	var ok bool
	err := tx.Read(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}
		k, ok = t.pk.minKey()
		return nil
	})
	return k, ok, err
}

func (t *Table[K, T]) maxKey(tx *Tx) (K, bool, error) {
	var k K
	var ok bool
	err := tx.Read(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}
		k, ok = t.pk.maxKey()
		return nil
	})
	return k, ok, err
}

func (t *Table[K, T]) count(tx *Tx) (int, error) {
	var n int
	err := tx.Read(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}
		n = t.pk.len()
		return nil
	})
	return n, err
}

// scan walks every record and keeps those matching pred.
func (t *Table[K, T]) scan(tx *Tx, pred func(*T) bool) ([]*T, error) {
	all, err := t.loadAll(tx)
	if err != nil {
		return nil, err
	}
	var out []*T
	for _, rec := range all {
		if pred(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// compact copies every live range to a fresh data file at tight rolling
// offsets, rebuilds the allocator, and marks the table dirty so the index
// image is rewritten with the new offsets.
func (t *Table[K, T]) compact(tx *Tx) error {
	return tx.Write(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}
		scratch, finish, abort, err := t.files.BeginCompact()
		if err != nil {
			return err
		}
		var writeOffset int64
		copyErr := t.pk.compact(func(oldOffset int64, length int32) (int64, error) {
			raw, err := t.files.ReadData(oldOffset, length)
			if err != nil {
				return 0, err
			}
			if _, err := scratch.Write(raw); err != nil {
				return 0, fmt.Errorf("%w: %v", ErrIoError, err)
			}
			newOffset := writeOffset
			writeOffset += int64(length)
			return newOffset, nil
		})
		if copyErr != nil {
			abort()
			return copyErr
		}
		if err := finish(); err != nil {
			return err
		}
		tx.markDirty(t)
		return nil
	})
}

// purge truncates both files and clears all in-memory state, including
// every secondary index and any reconciled member IDs.
func (t *Table[K, T]) purge(tx *Tx) error {
	return tx.Write(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.files.Purge(); err != nil {
			return err
		}
		t.pk = newPrimaryIndex[K](t.mapping.keyCmp)
		t.resetIndexes()
		t.loaded = false
		// Not marked dirty: commit would re-create a header in the file
		// this operation just truncated. Both files stay empty until the
		// next save.
		return nil
	})
}

// resetIndexes rebuilds empty secondary indexes and restores the default
// sequential member IDs, as on a freshly constructed table.
func (t *Table[K, T]) resetIndexes() {
	t.secs = t.secs[:0]
	t.secByID = make(map[int]secIndexHandle[K, T])
	for _, factory := range t.mapping.indexes {
		// Build once to learn the index's name, then rebuild with the
		// name-derived slot ID it will actually use.
		probe := factory(0, t.mapping.keyCmp)
		id := sideBagID(probe.name())
		h := factory(id, t.mapping.keyCmp)
		t.secs = append(t.secs, h)
		t.secByID[id] = h
	}
	t.fieldsByID = make(map[uint16]FieldSpec[T])
	t.idToType = make(map[uint16]DBType)
	t.fieldIDs = make([]uint16, len(t.mapping.fields))
	for i, f := range t.mapping.fields {
		id := uint16(i + 1)
		t.fieldsByID[id] = f
		t.idToType[id] = f.Type
		t.fieldIDs[i] = id
	}
}

// cropLocked truncates the data file to the allocator's max, dropping
// trailing dead bytes. Called from Tx.commit after the index image is
// written, under this table's write lock.
func (t *Table[K, T]) cropLocked() error {
	return t.files.CropData(t.pk.alloc.Max())
}

// crop marks the table for a crop-at-commit alongside dirtying it.
func (t *Table[K, T]) crop(tx *Tx) error {
	return tx.Write(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}
		tx.markDirty(t)
		tx.markCrop(t)
		return nil
	})
}

// flush forces the index image to be rewritten at the next commit even if
// no record was mutated in this scope. The rewrite is fsynced only when
// Config.SyncWrites is set.
func (t *Table[K, T]) flush(tx *Tx) error {
	return tx.Write(func(tx *Tx) error {
		tx.ensureTable(t)
		if err := t.ensureLoaded(); err != nil {
			return err
		}
		tx.markDirty(t)
		return nil
	})
}

// close releases this table's open file handles (Database.Close).
func (t *Table[K, T]) close() error {
	return t.files.Close()
}

// TableInfo reports a table's on-disk sizes.
type TableInfo struct {
	DataSize, IndexSize int64
}

func (t *Table[K, T]) getInfo() (TableInfo, error) {
	d, i, err := t.files.Sizes()
	if err != nil {
		return TableInfo{}, err
	}
	return TableInfo{DataSize: d, IndexSize: i}, nil
}

// --- record (de)serialization, driven by the mapping's field list ---

func (t *Table[K, T]) encodeRecord(rec *T) ([]byte, error) {
	e := &encoder{}
	for i, f := range t.mapping.fields {
		if err := e.writeMember(t.fieldIDs[i], f.Type, f.Get(rec)); err != nil {
			return nil, err
		}
	}
	return e.finish(), nil
}

func (t *Table[K, T]) decodeRecord(data []byte) (*T, error) {
	r := &byteReader{data: data}
	rec := new(T)
	for {
		id, err := r.readInt16()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIncompatibleUpgrade, err)
		}
		if id == memberTerminator {
			break
		}
		uid := uint16(id)
		if f, ok := t.fieldsByID[uid]; ok {
			v, err := decodeValue(r, f.Type)
			if err != nil {
				return nil, err
			}
			f.Set(rec, v)
			continue
		}
		dt, ok := t.idToType[uid]
		if !ok {
			return nil, fmt.Errorf("%w: member id %d has no known dbType to skip", ErrIncompatibleUpgrade, uid)
		}
		if err := skipValue(r, dt); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// writeBuffer is a growable byte sink matching the io.Writer contract
// writeIndexFile/writePrimaryIndex/writeSecondaryIndex need, without
// importing bytes here just for Bytes().
type writeBuffer struct {
	data []byte
}

func (b *writeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *writeBuffer) Bytes() []byte { return b.data }
