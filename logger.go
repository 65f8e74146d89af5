package strata

import "go.uber.org/zap"

// Logger receives diagnostic events from the engine: database
// initialization, each table's compaction, and each file a snapshot
// restore writes. Never called on a hot path (Get/Save/index scans stay
// log-free).
type Logger interface {
	Debugw(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
}

// zapLogger adapts *zap.SugaredLogger to Logger, matching the structured
// logging convention used throughout edirooss-zmux-server.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps an existing zap.Logger. Pass nil to build a
// production default via zap.NewProduction.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l, _ = zap.NewProduction()
		if l == nil {
			l = zap.NewNop()
		}
	}
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Debugw(msg string, kv ...any) { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Warnw(msg string, kv ...any)  { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Errorw(msg string, kv ...any) { z.s.Errorw(msg, kv...) }

// nopLogger discards everything; used as the zero-value default so
// Config{} need not construct a zap logger just to open a database.
type nopLogger struct{}

func (nopLogger) Debugw(string, ...any) {}
func (nopLogger) Warnw(string, ...any)  {}
func (nopLogger) Errorw(string, ...any) {}
