// Storage backend: the narrow contract a table needs from the
// filesystem: open, positional read, append/overwrite, truncate, and a
// compaction swap. Kept separate from fsBackend (the OS implementation)
// so table.go never imports os/syscall directly.
package strata

import "io"

// tableFiles is everything one table needs from the backend: its index
// file and data file, opened together and locked together.
type tableFiles interface {
	// ReadIndex returns the full contents of the index file.
	ReadIndex() ([]byte, error)

	// WriteIndex replaces the index file's contents in one pass.
	WriteIndex(data []byte) error

	// ReadData reads length bytes at offset from the data file.
	ReadData(offset int64, length int32) ([]byte, error)

	// WriteData writes data at offset in the data file, extending it if
	// needed.
	WriteData(offset int64, data []byte) error

	// CropData truncates the data file to length, typically the
	// allocator's max.
	CropData(length int64) error

	// BeginCompact returns a writer for a fresh side data file plus a
	// finish function that atomically swaps it in for the live data
	// file.
	BeginCompact() (scratch io.Writer, finish func() error, abort func(), err error)

	// IndexModTime is used by the load-or-skip staleness protocol.
	IndexModTime() (int64, error)

	// Sizes returns the current data and index file sizes.
	Sizes() (dataSize, indexSize int64, err error)

	// Purge truncates both files to empty.
	Purge() error

	// Close releases any open file handles for this table.
	Close() error
}

// backend opens and names the per-table file pair for a database
// directory.
type backend interface {
	// Open returns the tableFiles for tableName, creating both files if
	// absent.
	Open(tableName string) (tableFiles, error)

	// Purge removes every table's files under this backend's root.
	Purge() error

	// Close releases the backend's own handle (e.g. the directory lock).
	Close() error
}
