// Per-entity schema: an ordered list of member descriptors, a hash over
// that list, and the key descriptor. The hash (xxh3) detects drift between
// the configured mapping and the on-disk header without comparing blobs.
package strata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/zeebo/xxh3"
)

// schemaSignature and schemaFormatVersion frame the on-disk schema header.
// formatVersion 0 ("Initial") has no signature prefix and marks the
// single-KeyNode-per-DataNode secondary index layout; this module only
// ever writes Current (1).
const (
	schemaSignature     = int32(0x0058454C)
	schemaFormatVersion = int32(1)
	schemaFormatInitial = int32(0)
)

// MemberDescriptor names one serializable field of a mapped entity.
type MemberDescriptor struct {
	ID   uint16
	Name string
	Type DBType
}

// Schema is the full per-entity schema: the key's dbType plus every data
// member, sorted by ID on disk but addressable by name for upgrade
// matching.
type Schema struct {
	KeyType DBType
	Members []MemberDescriptor
}

// Hash computes the schema hash used to detect drift between the
// in-memory mapping and the on-disk header.
func (s Schema) Hash() uint32 {
	var buf bytes.Buffer
	encodeDBType(&buf, s.KeyType)
	ids := make([]int, len(s.Members))
	for i := range s.Members {
		ids[i] = i
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.Members[ids[i]].ID < s.Members[ids[j]].ID
	})
	for _, i := range ids {
		m := s.Members[i]
		var idb [2]byte
		binary.LittleEndian.PutUint16(idb[:], m.ID)
		buf.Write(idb[:])
		writeString(&buf, m.Name)
		encodeDBType(&buf, m.Type)
	}
	return uint32(xxh3.Hash(buf.Bytes()))
}

// encodeDBType writes a compact type descriptor (not a value) into the
// schema blob: tag byte, then nested descriptors for List/Dict/Enum.
func encodeDBType(buf *bytes.Buffer, dt DBType) {
	buf.WriteByte(byte(dt.Tag))
	switch dt.Tag {
	case TagEnum:
		buf.WriteByte(byte(dt.Underlying))
	case TagList:
		encodeDBType(buf, *dt.Elem)
	case TagDict:
		encodeDBType(buf, *dt.Key)
		encodeDBType(buf, *dt.Val)
	case TagTuple:
		buf.WriteByte(byte(len(dt.Components)))
		for _, c := range dt.Components {
			encodeDBType(buf, c)
		}
	}
}

func decodeDBType(r *byteReader) (DBType, error) {
	tagByte, err := r.readByte()
	if err != nil {
		return DBType{}, err
	}
	tag := DBTypeTag(tagByte)
	dt := DBType{Tag: tag}
	switch tag {
	case TagEnum:
		u, err := r.readByte()
		if err != nil {
			return DBType{}, err
		}
		dt.Underlying = DBTypeTag(u)
	case TagList:
		elem, err := decodeDBType(r)
		if err != nil {
			return DBType{}, err
		}
		dt.Elem = &elem
	case TagDict:
		key, err := decodeDBType(r)
		if err != nil {
			return DBType{}, err
		}
		val, err := decodeDBType(r)
		if err != nil {
			return DBType{}, err
		}
		dt.Key = &key
		dt.Val = &val
	case TagTuple:
		n, err := r.readByte()
		if err != nil {
			return DBType{}, err
		}
		dt.Components = make([]DBType, n)
		for i := range dt.Components {
			c, err := decodeDBType(r)
			if err != nil {
				return DBType{}, err
			}
			dt.Components[i] = c
		}
	}
	return dt, nil
}

// encodeSchemaBlob writes the key dbType, a member count, then
// (memberId, name, dbType) per member in ID order.
func encodeSchemaBlob(s Schema) []byte {
	var buf bytes.Buffer
	encodeDBType(&buf, s.KeyType)

	ordered := append([]MemberDescriptor(nil), s.Members...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var cb [4]byte
	binary.LittleEndian.PutUint32(cb[:], uint32(len(ordered)))
	buf.Write(cb[:])
	for _, m := range ordered {
		var idb [2]byte
		binary.LittleEndian.PutUint16(idb[:], m.ID)
		buf.Write(idb[:])
		writeString(&buf, m.Name)
		encodeDBType(&buf, m.Type)
	}
	return buf.Bytes()
}

func decodeSchemaBlob(data []byte) (Schema, error) {
	r := &byteReader{data: data}
	keyType, err := decodeDBType(r)
	if err != nil {
		return Schema{}, fmt.Errorf("%w: key dbType: %v", ErrCorruptHeader, err)
	}
	cb, err := r.readN(4)
	if err != nil {
		return Schema{}, fmt.Errorf("%w: member count: %v", ErrCorruptHeader, err)
	}
	count := binary.LittleEndian.Uint32(cb)
	members := make([]MemberDescriptor, count)
	for i := range members {
		idb, err := r.readN(2)
		if err != nil {
			return Schema{}, fmt.Errorf("%w: member id: %v", ErrCorruptHeader, err)
		}
		name, err := r.readString()
		if err != nil {
			return Schema{}, fmt.Errorf("%w: member name: %v", ErrCorruptHeader, err)
		}
		dt, err := decodeDBType(r)
		if err != nil {
			return Schema{}, fmt.Errorf("%w: member dbType: %v", ErrCorruptHeader, err)
		}
		members[i] = MemberDescriptor{
			ID:   binary.LittleEndian.Uint16(idb),
			Name: name,
			Type: dt,
		}
	}
	return Schema{KeyType: keyType, Members: members}, nil
}

// upgradeSchema reconciles an on-disk schema with the configured one.
// Members matching by (name, dbType) keep their on-disk ID; new configured
// members receive fresh IDs strictly above the highest ID in the on-disk
// schema (the configured IDs are not consulted). The key dbType must match exactly (ErrSchemaMismatch).
//
// Returns the reconciled schema (in configured-member order, for the
// mapping layer to address by name) and a map from configured member name
// to final ID for the codec to use when encoding.
func upgradeSchema(onDisk, configured Schema) (Schema, map[string]uint16, error) {
	if !equalDBType(onDisk.KeyType, configured.KeyType) {
		return Schema{}, nil, fmt.Errorf("%w: on-disk key dbType %s, configured %s",
			ErrSchemaMismatch, onDisk.KeyType.Tag, configured.KeyType.Tag)
	}

	byName := make(map[string]MemberDescriptor, len(onDisk.Members))
	maxID := uint16(0)
	for _, m := range onDisk.Members {
		byName[m.Name] = m
		if m.ID > maxID {
			maxID = m.ID
		}
	}

	ids := make(map[string]uint16, len(configured.Members))
	reconciled := make([]MemberDescriptor, 0, len(configured.Members))
	for _, cm := range configured.Members {
		if existing, ok := byName[cm.Name]; ok && equalDBType(existing.Type, cm.Type) {
			ids[cm.Name] = existing.ID
			reconciled = append(reconciled, MemberDescriptor{ID: existing.ID, Name: cm.Name, Type: cm.Type})
			continue
		}
		maxID++
		ids[cm.Name] = maxID
		reconciled = append(reconciled, MemberDescriptor{ID: maxID, Name: cm.Name, Type: cm.Type})
	}

	return Schema{KeyType: configured.KeyType, Members: reconciled}, ids, nil
}
