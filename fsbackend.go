// OS filesystem implementation of the storage backend: os.Root-sandboxed
// per-table file pairs, positional reads, and a side-file-then-rename
// swap for compaction.
package strata

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// fsBackend roots every table's files under one database directory and
// holds the open-time advisory lock guard. The lock only fails fast at
// Open; it does not arbitrate cross-process access per operation.
type fsBackend struct {
	root *os.Root
	dir  string
	lock *fileLock

	syncWrites  bool
	readBufSize int
}

func openFSBackend(dir string, cfg Config) (*fsBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	lockPath := filepath.Join(dir, ".lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		root.Close()
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	fl := &fileLock{}
	fl.setFile(lockFile)
	if err := fl.Lock(LockExclusive); err != nil {
		lockFile.Close()
		root.Close()
		return nil, err
	}

	return &fsBackend{
		root:        root,
		dir:         dir,
		lock:        fl,
		syncWrites:  cfg.SyncWrites,
		readBufSize: cfg.ReadBufferSize,
	}, nil
}

func (b *fsBackend) Open(tableName string) (tableFiles, error) {
	idxName := tableName + ".index"
	datName := tableName + ".data"

	idx, err := b.openOrCreate(idxName)
	if err != nil {
		return nil, err
	}
	dat, err := b.openOrCreate(datName)
	if err != nil {
		idx.Close()
		return nil, err
	}

	return &fsTableFiles{
		root:        b.root,
		dir:         b.dir,
		idxName:     idxName,
		datName:     datName,
		idxFile:     idx,
		datFile:     dat,
		syncWrites:  b.syncWrites,
		readBufSize: b.readBufSize,
	}, nil
}

func (b *fsBackend) openOrCreate(name string) (*os.File, error) {
	f, err := b.root.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return f, nil
}

func (b *fsBackend) Purge() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	for _, e := range entries {
		if e.Name() == ".lock" {
			continue
		}
		if err := b.root.Remove(e.Name()); err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
	}
	return nil
}

func (b *fsBackend) Close() error {
	b.lock.Unlock()
	lockFile := b.lock.f
	b.lock.setFile(nil)
	if lockFile != nil {
		lockFile.Close()
	}
	return b.root.Close()
}

// fsTableFiles is the OS-backed tableFiles for one table: an index file
// rewritten whole at commit, and a data file addressed positionally at
// allocator-managed byte ranges.
type fsTableFiles struct {
	root             *os.Root
	dir              string
	idxName, datName string
	idxFile, datFile *os.File

	syncWrites  bool
	readBufSize int
}

func (f *fsTableFiles) ReadIndex() ([]byte, error) {
	info, err := f.idxFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	buf := make([]byte, info.Size())
	if _, err := f.idxFile.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return buf, nil
}

func (f *fsTableFiles) WriteIndex(data []byte) error {
	if err := f.idxFile.Truncate(0); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if _, err := f.idxFile.WriteAt(data, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if !f.syncWrites {
		return nil
	}
	if err := f.idxFile.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return nil
}

func (f *fsTableFiles) ReadData(offset int64, length int32) ([]byte, error) {
	section := io.NewSectionReader(f.datFile, offset, int64(length))
	r := bufio.NewReaderSize(section, f.readBufSize)
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return buf, nil
}

func (f *fsTableFiles) WriteData(offset int64, data []byte) error {
	if _, err := f.datFile.WriteAt(data, offset); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if !f.syncWrites {
		return nil
	}
	if err := f.datFile.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return nil
}

func (f *fsTableFiles) CropData(length int64) error {
	if err := f.datFile.Truncate(length); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return nil
}

// BeginCompact opens a side data file and returns finish/abort closures
// that either rename it over the live data file or discard it. The side
// file exists only while a compact is in flight.
func (f *fsTableFiles) BeginCompact() (io.Writer, func() error, func(), error) {
	tmpName := f.datName + ".bak"
	tmp, err := f.root.OpenFile(tmpName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	finish := func() error {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
		if err := f.datFile.Close(); err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
		if err := f.root.Rename(tmpName, f.datName); err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
		newDat, err := f.root.OpenFile(f.datName, os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
		f.datFile = newDat
		return nil
	}
	abort := func() {
		tmp.Close()
		f.root.Remove(tmpName)
	}
	return tmp, finish, abort, nil
}

func (f *fsTableFiles) IndexModTime() (int64, error) {
	info, err := f.idxFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return info.ModTime().UnixNano(), nil
}

func (f *fsTableFiles) Sizes() (dataSize, indexSize int64, err error) {
	di, err := f.datFile.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	ii, err := f.idxFile.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return di.Size(), ii.Size(), nil
}

func (f *fsTableFiles) Purge() error {
	if err := f.idxFile.Truncate(0); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	if err := f.datFile.Truncate(0); err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return nil
}

func (f *fsTableFiles) Close() error {
	idxErr := f.idxFile.Close()
	datErr := f.datFile.Close()
	if idxErr != nil {
		return fmt.Errorf("%w: %v", ErrIoError, idxErr)
	}
	if datErr != nil {
		return fmt.Errorf("%w: %v", ErrIoError, datErr)
	}
	return nil
}
