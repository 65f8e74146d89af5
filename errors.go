// Package strata is an embedded, single-process, file-backed key-value
// storage engine for strongly-typed records. Each database is a directory
// on disk; each table stores records of one registered entity kind under
// an index file (a small, fully in-memory mirror) and a data file
// (an append/overwrite blob arena).
package strata

import "errors"

// Sentinel errors returned by database and table operations. Each is a
// distinct value so callers can use errors.Is; wrapped with fmt.Errorf's
// %w at call sites to retain context.
var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("strata: key not found")

	// ErrNotInitialized is returned when an operation is attempted
	// before Database.Initialize has run.
	ErrNotInitialized = errors.New("strata: database not initialized")

	// ErrAlreadyInitialized is returned by Initialize called twice, or
	// by a schema change attempted after a table has sealed.
	ErrAlreadyInitialized = errors.New("strata: already initialized")

	// ErrDuplicateTableName is returned by MapTable when two mappings
	// share a case-insensitive table name.
	ErrDuplicateTableName = errors.New("strata: duplicate table name")

	// ErrMissingPrimaryKey is returned by MapTable when a mapping has
	// no configured primary key member.
	ErrMissingPrimaryKey = errors.New("strata: mapping has no primary key")

	// ErrDuplicateKey is returned by non-upsert insert paths on a
	// primary key collision.
	ErrDuplicateKey = errors.New("strata: duplicate primary key")

	// ErrUnsupportedType is returned by an index query whose requested
	// derived-key type differs from the secondary index's own.
	ErrUnsupportedType = errors.New("strata: unsupported member type")

	// ErrSchemaMismatch is returned at load when the on-disk primary
	// key dbType does not match the configured key dbType.
	ErrSchemaMismatch = errors.New("strata: schema mismatch")

	// ErrIncompatibleUpgrade is returned at load when the on-disk
	// schema carries data the codec cannot skip.
	ErrIncompatibleUpgrade = errors.New("strata: incompatible schema upgrade")

	// ErrIoError wraps backend read/write failures that abort a scope.
	ErrIoError = errors.New("strata: I/O error")

	// ErrNestedWriteInRead is returned when a write scope is begun
	// inside an outer read scope (the same *Tx).
	ErrNestedWriteInRead = errors.New("strata: nested write scope inside read scope")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("strata: database is closed")

	// ErrAlreadyOpen is returned by Database.Open when another process
	// already holds the directory's advisory lock.
	ErrAlreadyOpen = errors.New("strata: database directory already open by another process")

	// ErrCorruptHeader is returned when a file header cannot be parsed.
	ErrCorruptHeader = errors.New("strata: corrupt header")

	// ErrCorruptIndex is returned when the index file cannot be parsed.
	ErrCorruptIndex = errors.New("strata: corrupt index file")

	// ErrRecordTooLarge is returned by Save when a record's encoded
	// payload exceeds Config.MaxRecordSize.
	ErrRecordTooLarge = errors.New("strata: record exceeds MaxRecordSize")
)
