package strata

import "time"

// Schema hash algorithm selectors for Config.HashAlgorithm. Only xxh3 is
// currently wired; the field stays an int so a future algorithm can be
// added without an API break.
const (
	HashXXHash3 = 1
)

// Config holds database-wide configuration plus the injected ambient
// collaborators (Logger, Clock).
type Config struct {
	// HashAlgorithm selects the schema-hash algorithm. Zero selects
	// HashXXHash3.
	HashAlgorithm int

	// ReadBufferSize sizes the buffered reader used for every data-file
	// read (single-record loads, load_all, compaction). Zero selects 64KiB.
	ReadBufferSize int

	// MaxRecordSize bounds a single encoded record payload. Zero
	// selects 16MiB.
	MaxRecordSize int

	// SyncWrites calls fsync after every index-file commit and every
	// data-file write. Off by default for throughput; durability is
	// best-effort regardless.
	SyncWrites bool

	// Logger receives diagnostic events. Defaults to a no-op logger;
	// pass NewZapLogger(nil) (or your own *zap.Logger via
	// NewZapLogger) for structured output.
	Logger Logger

	// Clock returns the current time, substituted in tests for
	// deterministic timestamps. Defaults to time.Now.
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	out := c
	if out.HashAlgorithm == 0 {
		out.HashAlgorithm = HashXXHash3
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = 64 * 1024
	}
	if out.MaxRecordSize == 0 {
		out.MaxRecordSize = 16 * 1024 * 1024
	}
	if out.Logger == nil {
		out.Logger = nopLogger{}
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	return out
}
