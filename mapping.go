// Entity mapping: callers describe a Go struct's storable shape with a
// precomputed slice of typed accessor closures instead of a schema
// derived by reflection.
package strata

// FieldSpec binds one data member's stored name and dbType to typed
// getter/setter closures captured once at mapping registration time, so
// Table[K, T]'s hot path never reflects on T.
type FieldSpec[T any] struct {
	Name string
	Type DBType
	Get  func(rec *T) any
	Set  func(rec *T, v any)
}

// EntityMapping is the full registration for one entity kind: its table
// name, primary key accessors, data fields, and secondary index
// definitions.
type EntityMapping[K comparable, T any] struct {
	name    string
	keyType DBType
	keyGet  func(rec *T) K
	keySet  func(rec *T, k K)
	keyCmp  func(a, b K) int
	keyAuto bool

	fields  []FieldSpec[T]
	indexes []indexFactory[K, T]
}

// NewMapping begins a registration for entity kind name, keyed by a member
// of dbType keyType addressed through keyGet/keySet.
func NewMapping[K comparable, T any](name string, keyType DBType, keyCmp func(a, b K) int, keyGet func(*T) K, keySet func(*T, K)) *EntityMapping[K, T] {
	return &EntityMapping[K, T]{
		name:    name,
		keyType: keyType,
		keyGet:  keyGet,
		keySet:  keySet,
		keyCmp:  keyCmp,
	}
}

// AutoGenerate marks the primary key as eligible for substitution when a
// saved record carries the zero key value.
func (m *EntityMapping[K, T]) AutoGenerate() *EntityMapping[K, T] {
	m.keyAuto = true
	return m
}

// Field registers one data member.
func (m *EntityMapping[K, T]) Field(spec FieldSpec[T]) *EntityMapping[K, T] {
	m.fields = append(m.fields, spec)
	return m
}

// schema builds the Schema used for header hashing/upgrade, assigning
// sequential member IDs in registration order (reconciled against any
// on-disk schema by upgradeSchema at load time).
func (m *EntityMapping[K, T]) schema() Schema {
	members := make([]MemberDescriptor, len(m.fields))
	for i, f := range m.fields {
		members[i] = MemberDescriptor{ID: uint16(i + 1), Name: f.Name, Type: f.Type}
	}
	return Schema{KeyType: m.keyType, Members: members}
}
