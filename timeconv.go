package strata

import "time"

// Tick conversion: ticks are 100ns units since 0001-01-01 00:00:00 UTC.
// A timestamp packs as ticks | (kind << 62).
const (
	ticksPerSecond  = int64(10_000_000)
	unixEpochTicks  = int64(621_355_968_000_000_000) // ticks at 1970-01-01
	kindUnspecified = 0
	kindUTC         = 1
	kindLocal       = 2
)

func timeToTicks(t time.Time) int64 {
	sec := t.Unix()
	nsec := int64(t.Nanosecond())
	return unixEpochTicks + sec*ticksPerSecond + nsec/100
}

func ticksToTime(ticks int64, kind int) time.Time {
	rel := ticks - unixEpochTicks
	sec := rel / ticksPerSecond
	nsec := (rel % ticksPerSecond) * 100
	t := time.Unix(sec, nsec).UTC()
	if kind == kindLocal {
		return t.Local()
	}
	return t
}

func kindOf(t time.Time) int {
	if t.Location() == time.Local {
		return kindLocal
	}
	if t.Location() == time.UTC {
		return kindUTC
	}
	return kindUnspecified
}
