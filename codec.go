// Record codec: encodes a record's members as a {memberId, value}*
// terminated stream. The terminator is memberId -1; each value carries a
// one-byte null flag ahead of its raw encoding so any value can be
// skipped without knowing its meaning.
package strata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memberTerminator is the memberId value (-1) that ends a record's stream.
const memberTerminator = int16(-1)

const (
	nullFlag    byte = 0x01
	presentFlag byte = 0x00
)

// encoder writes a record's member stream.
type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) writeMember(id uint16, dt DBType, v any) error {
	var idBuf [2]byte
	binary.LittleEndian.PutUint16(idBuf[:], id)
	e.buf.Write(idBuf[:])
	return encodeValue(&e.buf, dt, v)
}

func (e *encoder) finish() []byte {
	var term [2]byte
	mt := memberTerminator
	binary.LittleEndian.PutUint16(term[:], uint16(mt))
	e.buf.Write(term[:])
	return e.buf.Bytes()
}

// encodeValue writes the one-byte null flag followed by the raw encoding.
// v == nil encodes as null.
func encodeValue(buf *bytes.Buffer, dt DBType, v any) error {
	if v == nil {
		buf.WriteByte(nullFlag)
		return nil
	}
	buf.WriteByte(presentFlag)
	return encodeRaw(buf, dt, v)
}

func encodeRaw(buf *bytes.Buffer, dt DBType, v any) error {
	switch dt.Tag {
	case TagBool:
		b := v.(bool)
		if b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case TagByte:
		buf.WriteByte(v.(byte))
	case TagInt32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.(int32)))
		buf.Write(b[:])
	case TagInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.(int64)))
		buf.Write(b[:])
	case TagFloat32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v.(float32)))
		buf.Write(b[:])
	case TagFloat64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.(float64)))
		buf.Write(b[:])
	case TagDecimal:
		low, mid, high, flags := decimalToParts(v.(decimal.Decimal))
		for _, part := range [4]int32{low, mid, high, flags} {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(part))
			buf.Write(b[:])
		}
	case TagString:
		writeString(buf, v.(string))
	case TagGUID:
		g := v.(uuid.UUID)
		buf.Write(g[:])
	case TagDateTime:
		ticks := timeToTicks(v.(time.Time))
		kind := kindOf(v.(time.Time))
		packed := uint64(ticks) | (uint64(kind) << 62)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], packed)
		buf.Write(b[:])
	case TagDateTimeOffset:
		t := v.(time.Time)
		ticks := timeToTicks(t)
		_, offsetSec := t.Zone()
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(ticks))
		buf.Write(b[:])
		var ob [2]byte
		binary.LittleEndian.PutUint16(ob[:], uint16(int16(offsetSec/60)))
		buf.Write(ob[:])
	case TagTimeSpan:
		d := v.(time.Duration)
		ticks := int64(d / 100)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(ticks))
		buf.Write(b[:])
	case TagURI:
		u := v.(*url.URL)
		writeString(buf, u.String())
		if u.IsAbs() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case TagBytes:
		bs := v.([]byte)
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(bs)))
		buf.Write(lb[:])
		buf.Write(bs)
	case TagEnum:
		switch dt.Underlying {
		case TagInt32:
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(v.(int64)))
			buf.Write(b[:])
		case TagInt64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(v.(int64)))
			buf.Write(b[:])
		default:
			return fmt.Errorf("strata: enum with unsupported underlying tag %v", dt.Underlying)
		}
	case TagList:
		items := v.([]any)
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(items)))
		buf.Write(lb[:])
		for _, item := range items {
			if err := encodeRaw(buf, *dt.Elem, item); err != nil {
				return err
			}
		}
	case TagDict:
		entries := v.([]DictEntry)
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(entries)))
		buf.Write(lb[:])
		for _, e := range entries {
			if err := encodeRaw(buf, *dt.Key, e.Key); err != nil {
				return err
			}
			if err := encodeRaw(buf, *dt.Val, e.Val); err != nil {
				return err
			}
		}
	case TagTuple:
		parts := v.([]any)
		if len(parts) != len(dt.Components) {
			return fmt.Errorf("strata: tuple arity %d, want %d", len(parts), len(dt.Components))
		}
		for i, c := range dt.Components {
			if err := encodeValue(buf, c, parts[i]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("strata: unknown dbType tag %d", dt.Tag)
	}
	return nil
}

// writeString writes a 7-bit variable-length count prefix followed by the
// UTF-8 bytes.
func writeString(buf *bytes.Buffer, s string) {
	writeVarUint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func writeVarUint(buf *bytes.Buffer, n uint64) {
	for n >= 0x80 {
		buf.WriteByte(byte(n) | 0x80)
		n >>= 7
	}
	buf.WriteByte(byte(n))
}

// byteReader is a minimal cursor over an in-memory payload, used for
// decoding and for skipping members whose IDs are no longer configured.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("%w: unexpected end of record", ErrIncompatibleUpgrade)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readN(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("%w: unexpected end of record", ErrIncompatibleUpgrade)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) readInt16() (int16, error) {
	b, err := r.readN(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (r *byteReader) readVarUint() (uint64, error) {
	var out uint64
	var shift uint
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		out |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return out, nil
		}
		shift += 7
	}
}

func (r *byteReader) readString() (string, error) {
	n, err := r.readVarUint()
	if err != nil {
		return "", err
	}
	b, err := r.readN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeValue reads the null flag, then the raw encoding if present.
// Returns (nil, nil) for a null value.
func decodeValue(r *byteReader, dt DBType) (any, error) {
	flag, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if flag == nullFlag {
		return nil, nil
	}
	return decodeRaw(r, dt)
}

func decodeRaw(r *byteReader, dt DBType) (any, error) {
	switch dt.Tag {
	case TagBool:
		b, err := r.readByte()
		return b != 0, err
	case TagByte:
		return r.readByte()
	case TagInt32:
		b, err := r.readN(4)
		if err != nil {
			return nil, err
		}
		return int32(binary.LittleEndian.Uint32(b)), nil
	case TagInt64:
		b, err := r.readN(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(b)), nil
	case TagFloat32:
		b, err := r.readN(4)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
	case TagFloat64:
		b, err := r.readN(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	case TagDecimal:
		var parts [4]int32
		for i := range parts {
			b, err := r.readN(4)
			if err != nil {
				return nil, err
			}
			parts[i] = int32(binary.LittleEndian.Uint32(b))
		}
		return decimalFromParts(parts[0], parts[1], parts[2], parts[3]), nil
	case TagString:
		return r.readString()
	case TagGUID:
		b, err := r.readN(16)
		if err != nil {
			return nil, err
		}
		var g uuid.UUID
		copy(g[:], b)
		return g, nil
	case TagDateTime:
		b, err := r.readN(8)
		if err != nil {
			return nil, err
		}
		packed := binary.LittleEndian.Uint64(b)
		ticks := int64(packed & ((1 << 62) - 1))
		kind := int(packed >> 62)
		return ticksToTime(ticks, kind), nil
	case TagDateTimeOffset:
		b, err := r.readN(8)
		if err != nil {
			return nil, err
		}
		ticks := int64(binary.LittleEndian.Uint64(b))
		ob, err := r.readN(2)
		if err != nil {
			return nil, err
		}
		offsetMin := int16(binary.LittleEndian.Uint16(ob))
		loc := time.FixedZone("", int(offsetMin)*60)
		return ticksToTime(ticks, 1).In(loc), nil
	case TagTimeSpan:
		b, err := r.readN(8)
		if err != nil {
			return nil, err
		}
		ticks := int64(binary.LittleEndian.Uint64(b))
		return time.Duration(ticks * 100), nil
	case TagURI:
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		if _, err := r.readByte(); err != nil { // absolute flag, informational only
			return nil, err
		}
		return url.Parse(s)
	case TagBytes:
		b, err := r.readN(4)
		if err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(b)
		data, err := r.readN(int(n))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case TagEnum:
		switch dt.Underlying {
		case TagInt32:
			b, err := r.readN(4)
			if err != nil {
				return nil, err
			}
			return int64(int32(binary.LittleEndian.Uint32(b))), nil
		case TagInt64:
			b, err := r.readN(8)
			if err != nil {
				return nil, err
			}
			return int64(binary.LittleEndian.Uint64(b)), nil
		default:
			return nil, fmt.Errorf("strata: enum with unsupported underlying tag %d", dt.Underlying)
		}
	case TagList:
		b, err := r.readN(4)
		if err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(b)
		items := make([]any, n)
		for i := range items {
			v, err := decodeRaw(r, *dt.Elem)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	case TagDict:
		b, err := r.readN(4)
		if err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(b)
		entries := make([]DictEntry, n)
		for i := range entries {
			k, err := decodeRaw(r, *dt.Key)
			if err != nil {
				return nil, err
			}
			v, err := decodeRaw(r, *dt.Val)
			if err != nil {
				return nil, err
			}
			entries[i] = DictEntry{Key: k, Val: v}
		}
		return entries, nil
	case TagTuple:
		parts := make([]any, len(dt.Components))
		for i, c := range dt.Components {
			v, err := decodeValue(r, c)
			if err != nil {
				return nil, err
			}
			parts[i] = v
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("strata: unknown dbType tag %d", dt.Tag)
	}
}

// skipValue advances past one value without keeping it, used when a
// member ID on disk is no longer configured. decodeRaw already does the
// minimal parse needed to know a value's length, so skipValue simply
// discards the decoded result.
func skipValue(r *byteReader, dt DBType) error {
	_, err := decodeValue(r, dt)
	return err
}

// --- 128-bit decimal <-> shopspring/decimal.Decimal, 4 x i32
// (low, mid, high, flags) with a 96-bit magnitude and the scale carried
// in bits 16-23 of flags, sign in bit 31. ---

func decimalToParts(d decimal.Decimal) (low, mid, high, flags int32) {
	coeff := d.Coefficient() // *big.Int, unscaled
	neg := coeff.Sign() < 0
	mag := new(big.Int).Abs(coeff)

	scale := int32(-d.Exponent())
	if scale < 0 {
		// A positive exponent has no flags encoding; fold it into the
		// magnitude so the scale is zero.
		exp := big.NewInt(int64(-scale))
		mag.Mul(mag, new(big.Int).Exp(big.NewInt(10), exp, nil))
		scale = 0
	}

	b := mag.Bytes() // big-endian
	var buf [12]byte
	// Right-align into a 12-byte (96-bit) little-endian buffer.
	for i := 0; i < len(b) && i < 12; i++ {
		buf[i] = b[len(b)-1-i]
	}

	low = int32(binary.LittleEndian.Uint32(buf[0:4]))
	mid = int32(binary.LittleEndian.Uint32(buf[4:8]))
	high = int32(binary.LittleEndian.Uint32(buf[8:12]))

	flags = scale << 16
	if neg {
		flags |= math.MinInt32
	}
	return
}

func decimalFromParts(low, mid, high, flags int32) decimal.Decimal {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(low))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(mid))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(high))

	be := make([]byte, 12)
	for i := 0; i < 12; i++ {
		be[i] = buf[11-i]
	}

	coeff := new(big.Int).SetBytes(be)
	scale := (flags >> 16) & 0xff
	neg := flags&math.MinInt32 != 0
	if neg {
		coeff.Neg(coeff)
	}
	return decimal.NewFromBigInt(coeff, -scale)
}
