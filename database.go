// Database: the directory-level handle that owns the storage backend's
// advisory lock, holds the registry of mapped tables, and hands out
// transaction scopes. Each table has its own index/data file pair.
package strata

import (
	"fmt"
	"strings"
	"sync"
)

// registeredTable is the type-erased view of a Table[K, T] that Database
// needs for whole-database operations (Purge, Compact, Flush, GetInfo,
// Close) without knowing K or T.
type registeredTable interface {
	lockableTable
	purge(tx *Tx) error
	compact(tx *Tx) error
	flush(tx *Tx) error
	getInfo() (TableInfo, error)
	close() error
}

// Database is the directory-level handle for one embedded key-value
// store. Obtain one with Open, register entity kinds with MapTable, then
// call Initialize before any Read/Write scope.
type Database struct {
	dir     string
	backend backend
	cfg     Config
	logger  Logger

	// scopeMu serializes top-level scopes database-wide. A reload inside
	// a read scope mutates the table's in-memory trees, so scopes cannot
	// safely overlap even when both only read.
	scopeMu sync.Mutex

	mu         sync.Mutex // guards tables/order/sealed during registration
	tables     map[string]registeredTable
	tableNames map[string]string // lowercased name -> configured name, for case-insensitive DuplicateTableName detection
	order      []string          // registration order, for deterministic bulk operations
	sealed     bool
	closed     bool
}

// Open opens (creating if absent) the database directory at dir, taking
// a process-exclusive advisory lock on it. Register entity kinds with
// MapTable and call Initialize before any Read or Write scope.
func Open(dir string, cfg Config) (*Database, error) {
	full := cfg.withDefaults()
	b, err := openFSBackend(dir, full)
	if err != nil {
		return nil, err
	}
	return &Database{
		dir:        dir,
		backend:    b,
		cfg:        full,
		logger:     full.Logger,
		tables:     make(map[string]registeredTable),
		tableNames: make(map[string]string),
	}, nil
}

// MapTable registers an entity kind on db and returns its Table handle.
// Must be called before Initialize; no schema changes are accepted once
// the database has sealed. Two mappings sharing a case-insensitive name
// is an error.
func MapTable[K comparable, T any](db *Database, mapping *EntityMapping[K, T]) (*Table[K, T], error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	if db.sealed {
		return nil, ErrAlreadyInitialized
	}
	if mapping.keyGet == nil || mapping.keySet == nil {
		return nil, fmt.Errorf("%w: %q", ErrMissingPrimaryKey, mapping.name)
	}
	lower := strings.ToLower(mapping.name)
	if _, exists := db.tableNames[lower]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateTableName, mapping.name)
	}

	files, err := db.backend.Open(mapping.name)
	if err != nil {
		return nil, err
	}
	tbl := newTable[K, T](mapping, files, db.cfg)

	db.tableNames[lower] = mapping.name
	db.tables[mapping.name] = tbl
	db.order = append(db.order, mapping.name)
	return tbl, nil
}

// Initialize seals the database's table registry: no further MapTable
// calls are accepted, and Read/Write scopes become usable.
func (db *Database) Initialize() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	if db.sealed {
		return ErrAlreadyInitialized
	}
	db.sealed = true
	db.logger.Debugw("database initialized", "dir", db.dir, "tables", len(db.order))
	return nil
}

func (db *Database) requireSealed() error {
	if db.closed {
		return ErrClosed
	}
	if !db.sealed {
		return ErrNotInitialized
	}
	return nil
}

func (db *Database) registeredInOrder() []registeredTable {
	out := make([]registeredTable, 0, len(db.order))
	for _, name := range db.order {
		out = append(out, db.tables[name])
	}
	return out
}

// Read runs fn as a new top-level read scope. Tables are locked for
// reading lazily, as fn first touches each one. Nest further scopes by
// calling tx.Read/tx.Write on the *Tx fn receives, not Database.Read/
// Write again.
func (db *Database) Read(fn func(tx *Tx) error) error {
	if err := db.requireSealed(); err != nil {
		return err
	}
	db.scopeMu.Lock()
	defer db.scopeMu.Unlock()
	tx := newTx(txRead)
	err := fn(tx)
	tx.release()
	return err
}

// Write runs fn as a new top-level write scope, committing every table fn
// marked dirty in one pass each at exit. A write error aborts without
// committing.
func (db *Database) Write(fn func(tx *Tx) error) error {
	if err := db.requireSealed(); err != nil {
		return err
	}
	db.scopeMu.Lock()
	defer db.scopeMu.Unlock()
	tx := newTx(txWrite)
	err := fn(tx)
	if err == nil {
		err = tx.commit()
	}
	tx.release()
	return err
}

// BulkRead is Read under the name hosts use for a scope spanning multiple
// tables; behaviorally identical to Read (any scope already spans every
// table fn touches).
func (db *Database) BulkRead(fn func(tx *Tx) error) error { return db.Read(fn) }

// BulkWrite is Write for a scope spanning multiple tables; behaviorally
// identical to Write.
func (db *Database) BulkWrite(fn func(tx *Tx) error) error { return db.Write(fn) }

// Purge truncates every registered table's index and data files and
// clears their in-memory state.
func (db *Database) Purge() error {
	if err := db.requireSealed(); err != nil {
		return err
	}
	return db.Write(func(tx *Tx) error {
		for _, t := range db.registeredInOrder() {
			if err := t.purge(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Compact rewrites every registered table's data file to drop reclaimable
// space.
func (db *Database) Compact() error {
	if err := db.requireSealed(); err != nil {
		return err
	}
	return db.Write(func(tx *Tx) error {
		for _, t := range db.registeredInOrder() {
			db.logger.Debugw("compacting table", "table", t.tableName())
			if err := t.compact(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Flush forces every registered table's index image to be rewritten right
// now, regardless of whether anything changed this scope.
func (db *Database) Flush() error {
	if err := db.requireSealed(); err != nil {
		return err
	}
	return db.Write(func(tx *Tx) error {
		for _, t := range db.registeredInOrder() {
			if err := t.flush(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// DatabaseInfo reports aggregate on-disk sizes across every registered
// table.
type DatabaseInfo struct {
	DataSize, IndexSize int64
	Tables              map[string]TableInfo
}

// GetInfo returns per-table and aggregate {data_size, index_size}.
func (db *Database) GetInfo() (DatabaseInfo, error) {
	if err := db.requireSealed(); err != nil {
		return DatabaseInfo{}, err
	}
	out := DatabaseInfo{Tables: make(map[string]TableInfo, len(db.order))}
	for _, t := range db.registeredInOrder() {
		info, err := t.getInfo()
		if err != nil {
			return DatabaseInfo{}, err
		}
		out.Tables[t.tableName()] = info
		out.DataSize += info.DataSize
		out.IndexSize += info.IndexSize
	}
	return out, nil
}

// Close releases every table's file handles and the directory's advisory
// lock. The Database must not be used afterward.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	var firstErr error
	for _, name := range db.order {
		if err := db.tables[name].close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
