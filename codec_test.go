package strata

import (
	"bytes"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func roundTripValue(t *testing.T, dt DBType, v any) any {
	t.Helper()
	var buf bytes.Buffer
	if err := encodeValue(&buf, dt, v); err != nil {
		t.Fatalf("encodeValue(%v): %v", v, err)
	}
	r := &byteReader{data: buf.Bytes()}
	got, err := decodeValue(r, dt)
	if err != nil {
		t.Fatalf("decodeValue: %v", err)
	}
	if r.pos != len(r.data) {
		t.Fatalf("decode consumed %d of %d bytes", r.pos, len(r.data))
	}
	return got
}

func TestCodecScalarRoundTrips(t *testing.T) {
	g := uuid.New()
	cases := []struct {
		name string
		dt   DBType
		v    any
	}{
		{"bool-true", Bool(), true},
		{"bool-false", Bool(), false},
		{"byte", Byte(), byte(0xAB)},
		{"int32-negative", Int32(), int32(-12345)},
		{"int64", Int64(), int64(1) << 40},
		{"float32", Float32(), float32(3.5)},
		{"float64", Float64(), 2.25},
		{"string-empty", String(), ""},
		{"string-utf8", String(), "héllo wörld"},
		{"guid", GUID(), g},
		{"bytes", Bytes(), []byte{1, 2, 3}},
		{"enum32", EnumInt32(), int64(-7)},
		{"enum64", EnumInt64(), int64(1) << 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := roundTripValue(t, tc.dt, tc.v)
			switch want := tc.v.(type) {
			case []byte:
				if !bytes.Equal(got.([]byte), want) {
					t.Fatalf("got %v, want %v", got, want)
				}
			default:
				if got != tc.v {
					t.Fatalf("got %v (%T), want %v (%T)", got, got, tc.v, tc.v)
				}
			}
		})
	}
}

func TestCodecNullValues(t *testing.T) {
	for _, dt := range []DBType{Bool(), Int32(), String(), GUID(), Bytes(), List(Int32())} {
		got := roundTripValue(t, dt, nil)
		if got != nil {
			t.Fatalf("null %v round-tripped to %v, want nil", dt.Tag, got)
		}
	}
}

func TestCodecDecimalRoundTrips(t *testing.T) {
	for _, s := range []string{"0", "1", "-1", "123.456", "-0.001", "79228162514264337593543950335", "1000"} {
		d := decimal.RequireFromString(s)
		got := roundTripValue(t, Decimal(), d).(decimal.Decimal)
		if !got.Equal(d) {
			t.Fatalf("decimal %s round-tripped to %s", d, got)
		}
	}
}

func TestCodecDateTimeRoundTrips(t *testing.T) {
	utc := time.Date(2024, 3, 15, 10, 30, 0, 123456700, time.UTC)
	got := roundTripValue(t, DateTime(), utc).(time.Time)
	if !got.Equal(utc) {
		t.Fatalf("DateTime round-trip = %v, want %v", got, utc)
	}
}

func TestCodecDateTimeOffsetKeepsZoneOffset(t *testing.T) {
	loc := time.FixedZone("", 5*3600+30*60)
	v := time.Date(2024, 3, 15, 10, 30, 0, 0, loc)
	got := roundTripValue(t, DateTimeOffset(), v).(time.Time)
	if !got.Equal(v) {
		t.Fatalf("instant changed: %v vs %v", got, v)
	}
	_, wantOff := v.Zone()
	_, gotOff := got.Zone()
	if gotOff != wantOff {
		t.Fatalf("zone offset = %d, want %d", gotOff, wantOff)
	}
}

func TestCodecTimeSpanRoundTrips(t *testing.T) {
	d := 90*time.Minute + 12*time.Second + 300*time.Nanosecond
	got := roundTripValue(t, TimeSpan(), d).(time.Duration)
	// Ticks are 100ns units; sub-tick precision is truncated.
	want := d / 100 * 100
	if got != want {
		t.Fatalf("TimeSpan round-trip = %v, want %v", got, want)
	}
}

func TestCodecURIRoundTrips(t *testing.T) {
	u, _ := url.Parse("https://example.com/a?b=c")
	got := roundTripValue(t, URI(), u).(*url.URL)
	if got.String() != u.String() {
		t.Fatalf("URI round-trip = %s, want %s", got, u)
	}
}

func TestCodecListAndDictRoundTrips(t *testing.T) {
	list := []any{int32(1), int32(2), int32(3)}
	got := roundTripValue(t, List(Int32()), list).([]any)
	if len(got) != 3 || got[0] != int32(1) || got[2] != int32(3) {
		t.Fatalf("list round-trip = %v", got)
	}

	dict := []DictEntry{{Key: "a", Val: int64(1)}, {Key: "b", Val: int64(2)}}
	gotDict := roundTripValue(t, Dict(String(), Int64()), dict).([]DictEntry)
	if len(gotDict) != 2 || gotDict[0] != dict[0] || gotDict[1] != dict[1] {
		t.Fatalf("dict round-trip = %v", gotDict)
	}
}

func TestCodecSkipValueConsumesExactly(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, List(String()), []any{"x", "yy"}); err != nil {
		t.Fatalf("encodeValue: %v", err)
	}
	if err := encodeValue(&buf, Int32(), int32(7)); err != nil {
		t.Fatalf("encodeValue: %v", err)
	}

	r := &byteReader{data: buf.Bytes()}
	if err := skipValue(r, List(String())); err != nil {
		t.Fatalf("skipValue: %v", err)
	}
	got, err := decodeValue(r, Int32())
	if err != nil {
		t.Fatalf("decodeValue after skip: %v", err)
	}
	if got != int32(7) {
		t.Fatalf("value after skip = %v, want 7", got)
	}
}

func TestCodecTruncatedValueFails(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, String(), "hello"); err != nil {
		t.Fatalf("encodeValue: %v", err)
	}
	r := &byteReader{data: buf.Bytes()[:3]}
	if _, err := decodeValue(r, String()); err == nil {
		t.Fatal("truncated value should fail to decode")
	}
}
