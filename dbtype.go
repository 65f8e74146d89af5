package strata

// DBTypeTag is a compact tag identifying a value's on-disk encoding.
type DBTypeTag uint8

const (
	TagBool DBTypeTag = iota + 1
	TagByte
	TagInt32
	TagInt64
	TagFloat32
	TagFloat64
	TagDecimal
	TagString
	TagGUID
	TagDateTime
	TagDateTimeOffset
	TagTimeSpan
	TagURI
	TagBytes
	TagEnum
	TagList
	TagDict
	TagTuple
)

// String renders a tag for debugging and schema-blob dumps.
func (t DBTypeTag) String() string {
	switch t {
	case TagBool:
		return "Boolean"
	case TagByte:
		return "Byte"
	case TagInt32:
		return "Integer"
	case TagInt64:
		return "Long"
	case TagFloat32:
		return "Float"
	case TagFloat64:
		return "Double"
	case TagDecimal:
		return "Decimal"
	case TagString:
		return "String"
	case TagGUID:
		return "Guid"
	case TagDateTime:
		return "DateTime"
	case TagDateTimeOffset:
		return "DateTimeOffset"
	case TagTimeSpan:
		return "TimeSpan"
	case TagURI:
		return "Uri"
	case TagBytes:
		return "ByteArray"
	case TagEnum:
		return "Enum"
	case TagList:
		return "List"
	case TagDict:
		return "Dict"
	case TagTuple:
		return "Tuple"
	default:
		return "Unknown"
	}
}

// DBType fully describes a member's wire encoding, including the nested
// descriptors List/Dict/Enum need. Built once per Member at mapping
// registration time; never constructed via reflection on the hot path.
type DBType struct {
	Tag DBTypeTag

	// Elem is the element dbType for TagList.
	Elem *DBType

	// Key/Val are the component dbTypes for TagDict.
	Key *DBType
	Val *DBType

	// Underlying is the storage width for TagEnum (TagInt32 or TagInt64).
	Underlying DBTypeTag

	// Components are the member dbTypes for TagTuple, in order.
	Components []DBType
}

// Simple built-in dbType constructors, for use when registering members.
func Bool() DBType           { return DBType{Tag: TagBool} }
func Byte() DBType           { return DBType{Tag: TagByte} }
func Int32() DBType          { return DBType{Tag: TagInt32} }
func Int64() DBType          { return DBType{Tag: TagInt64} }
func Float32() DBType        { return DBType{Tag: TagFloat32} }
func Float64() DBType        { return DBType{Tag: TagFloat64} }
func Decimal() DBType        { return DBType{Tag: TagDecimal} }
func String() DBType         { return DBType{Tag: TagString} }
func GUID() DBType           { return DBType{Tag: TagGUID} }
func DateTime() DBType       { return DBType{Tag: TagDateTime} }
func DateTimeOffset() DBType { return DBType{Tag: TagDateTimeOffset} }
func TimeSpan() DBType       { return DBType{Tag: TagTimeSpan} }
func URI() DBType            { return DBType{Tag: TagURI} }
func Bytes() DBType          { return DBType{Tag: TagBytes} }

// EnumInt32/EnumInt64 describe an enum member encoded as its underlying
// integer width.
func EnumInt32() DBType { return DBType{Tag: TagEnum, Underlying: TagInt32} }
func EnumInt64() DBType { return DBType{Tag: TagEnum, Underlying: TagInt64} }

// List describes a homogeneous array-of-elem member.
func List(elem DBType) DBType {
	e := elem
	return DBType{Tag: TagList, Elem: &e}
}

// Dict describes a map member with the given key/value dbTypes.
func Dict(key, val DBType) DBType {
	k, v := key, val
	return DBType{Tag: TagDict, Key: &k, Val: &v}
}

// Tuple describes a fixed-arity composite value, used mainly as the
// derived key of a multi-member secondary index. Encoded as each
// component's value encoding in order; compared lexicographically by
// the comparator built with CompareKey2 or CompareKey3.
func Tuple(components ...DBType) DBType {
	return DBType{Tag: TagTuple, Components: append([]DBType(nil), components...)}
}

// DictEntry is one key/value pair of a Dict-typed value. Dict keys have no
// Go map key-comparability guarantee across all supported dbTypes
// (e.g. []byte keys), so entries are carried as an ordered slice.
type DictEntry struct {
	Key any
	Val any
}

// equalDBType reports whether two descriptors denote the same wire shape.
// Schema upgrade uses it to decide whether an on-disk member can be
// reused by name.
func equalDBType(a, b DBType) bool {
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case TagEnum:
		return a.Underlying == b.Underlying
	case TagList:
		return equalDBType(*a.Elem, *b.Elem)
	case TagDict:
		return equalDBType(*a.Key, *b.Key) && equalDBType(*a.Val, *b.Val)
	case TagTuple:
		if len(a.Components) != len(b.Components) {
			return false
		}
		for i := range a.Components {
			if !equalDBType(a.Components[i], b.Components[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
