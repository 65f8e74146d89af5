// Composite derived keys for secondary indexes spanning two or three
// members. Components compare lexicographically, each with its own
// comparator; CaseInsensitiveCompare is the folded-string option.
package strata

import "strings"

// CaseInsensitiveCompare orders strings by their lower-cased form, for
// indexes that should treat "Test" and "TEST" as the same derived value.
func CaseInsensitiveCompare(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// Key2 is a two-member derived key.
type Key2[A, B any] struct {
	A A
	B B
}

// Key3 is a three-member derived key.
type Key3[A, B, C any] struct {
	A A
	B B
	C C
}

// CompareKey2 builds a lexicographic comparator over Key2 from
// per-component comparators.
func CompareKey2[A, B any](cmpA func(a, b A) int, cmpB func(a, b B) int) func(x, y Key2[A, B]) int {
	return func(x, y Key2[A, B]) int {
		if c := cmpA(x.A, y.A); c != 0 {
			return c
		}
		return cmpB(x.B, y.B)
	}
}

// CompareKey3 builds a lexicographic comparator over Key3 from
// per-component comparators.
func CompareKey3[A, B, C any](cmpA func(a, b A) int, cmpB func(a, b B) int, cmpC func(a, b C) int) func(x, y Key3[A, B, C]) int {
	return func(x, y Key3[A, B, C]) int {
		if c := cmpA(x.A, y.A); c != 0 {
			return c
		}
		if c := cmpB(x.B, y.B); c != 0 {
			return c
		}
		return cmpC(x.C, y.C)
	}
}

// EncodeKey2/DecodeKey2 adapt a Key2 to the []any a Tuple dbType
// encodes, for use as an Index registration's encode/decode pair.
func EncodeKey2[A, B any](k Key2[A, B]) any { return []any{k.A, k.B} }

func DecodeKey2[A, B any](v any) Key2[A, B] {
	parts := v.([]any)
	return Key2[A, B]{A: parts[0].(A), B: parts[1].(B)}
}

// EncodeKey3/DecodeKey3 are the three-member forms.
func EncodeKey3[A, B, C any](k Key3[A, B, C]) any { return []any{k.A, k.B, k.C} }

func DecodeKey3[A, B, C any](v any) Key3[A, B, C] {
	parts := v.([]any)
	return Key3[A, B, C]{A: parts[0].(A), B: parts[1].(B), C: parts[2].(C)}
}
