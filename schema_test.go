package strata

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestSchemaBlobRoundTrip(t *testing.T) {
	s := Schema{
		KeyType: Int64(),
		Members: []MemberDescriptor{
			{ID: 1, Name: "Name", Type: String()},
			{ID: 2, Name: "Tags", Type: List(String())},
			{ID: 3, Name: "Status", Type: EnumInt32()},
			{ID: 4, Name: "Meta", Type: Dict(String(), Int32())},
		},
	}

	blob := encodeSchemaBlob(s)
	got, err := decodeSchemaBlob(blob)
	if err != nil {
		t.Fatalf("decodeSchemaBlob: %v", err)
	}
	if !equalDBType(got.KeyType, s.KeyType) {
		t.Fatalf("key dbType mismatch: %+v vs %+v", got.KeyType, s.KeyType)
	}
	if len(got.Members) != len(s.Members) {
		t.Fatalf("member count = %d, want %d", len(got.Members), len(s.Members))
	}
	for i, m := range s.Members {
		g := got.Members[i]
		if g.ID != m.ID || g.Name != m.Name || !equalDBType(g.Type, m.Type) {
			t.Fatalf("member %d mismatch: got %+v want %+v", i, g, m)
		}
	}
}

func TestSchemaHashStableUnderReordering(t *testing.T) {
	a := Schema{
		KeyType: Int32(),
		Members: []MemberDescriptor{
			{ID: 1, Name: "A", Type: String()},
			{ID: 2, Name: "B", Type: Int32()},
		},
	}
	b := Schema{
		KeyType: Int32(),
		Members: []MemberDescriptor{
			{ID: 2, Name: "B", Type: Int32()},
			{ID: 1, Name: "A", Type: String()},
		},
	}
	if a.Hash() != b.Hash() {
		t.Fatal("hash should be independent of in-memory member slice order")
	}
}

func TestSchemaHashChangesOnMemberEdit(t *testing.T) {
	base := Schema{
		KeyType: Int32(),
		Members: []MemberDescriptor{{ID: 1, Name: "A", Type: String()}},
	}
	changed := Schema{
		KeyType: Int32(),
		Members: []MemberDescriptor{{ID: 1, Name: "A", Type: Int32()}},
	}
	if base.Hash() == changed.Hash() {
		t.Fatal("hash must change when a member's dbType changes")
	}
}

func TestUpgradeSchemaReusesMatchingIDs(t *testing.T) {
	onDisk := Schema{
		KeyType: Int64(),
		Members: []MemberDescriptor{
			{ID: 1, Name: "Name", Type: String()},
			{ID: 2, Name: "Age", Type: Int32()},
		},
	}
	configured := Schema{
		KeyType: Int64(),
		Members: []MemberDescriptor{
			{ID: 0, Name: "Name", Type: String()}, // configured IDs are placeholders
			{ID: 0, Name: "Age", Type: Int32()},
			{ID: 0, Name: "Nickname", Type: String()}, // new member
		},
	}

	reconciled, ids, err := upgradeSchema(onDisk, configured)
	if err != nil {
		t.Fatalf("upgradeSchema: %v", err)
	}
	if ids["Name"] != 1 {
		t.Fatalf("Name should keep ID 1, got %d", ids["Name"])
	}
	if ids["Age"] != 2 {
		t.Fatalf("Age should keep ID 2, got %d", ids["Age"])
	}
	if ids["Nickname"] <= 2 {
		t.Fatalf("Nickname should get a fresh ID above 2, got %d", ids["Nickname"])
	}
	if len(reconciled.Members) != 3 {
		t.Fatalf("reconciled member count = %d, want 3", len(reconciled.Members))
	}
}

func TestUpgradeSchemaRetypedMemberGetsFreshID(t *testing.T) {
	onDisk := Schema{
		KeyType: Int64(),
		Members: []MemberDescriptor{{ID: 1, Name: "Count", Type: Int32()}},
	}
	configured := Schema{
		KeyType: Int64(),
		Members: []MemberDescriptor{{ID: 0, Name: "Count", Type: Int64()}},
	}

	_, ids, err := upgradeSchema(onDisk, configured)
	if err != nil {
		t.Fatalf("upgradeSchema: %v", err)
	}
	if ids["Count"] != 2 {
		t.Fatalf("retyped member must get a fresh ID, got %d", ids["Count"])
	}
}

func TestUpgradeSchemaKeyTypeMismatchIsHardError(t *testing.T) {
	onDisk := Schema{KeyType: Int64()}
	configured := Schema{KeyType: GUID()}

	if _, _, err := upgradeSchema(onDisk, configured); err == nil {
		t.Fatal("expected an error on key dbType mismatch")
	}
}

func TestReadSchemaHeaderAcceptsInitialFormat(t *testing.T) {
	s := Schema{
		KeyType: Int64(),
		Members: []MemberDescriptor{{ID: 1, Name: "Name", Type: String()}},
	}
	blob := encodeSchemaBlob(s)

	// Initial-format files have no signature; the stream opens with the
	// version word (0), then hash, schema blob, and properties.
	var buf bytes.Buffer
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], uint32(schemaFormatInitial))
	buf.Write(w[:])
	binary.LittleEndian.PutUint32(w[:], s.Hash())
	buf.Write(w[:])
	binary.LittleEndian.PutUint32(w[:], uint32(len(blob)))
	buf.Write(w[:])
	buf.Write(blob)
	binary.LittleEndian.PutUint32(w[:], 0) // empty properties
	buf.Write(w[:])

	h, err := readSchemaHeader(&byteReader{data: buf.Bytes()})
	if err != nil {
		t.Fatalf("readSchemaHeader: %v", err)
	}
	if h.formatVersion != schemaFormatInitial {
		t.Fatalf("formatVersion = %d, want %d", h.formatVersion, schemaFormatInitial)
	}
	if len(h.schema.Members) != 1 || h.schema.Members[0].Name != "Name" {
		t.Fatalf("schema = %+v, want the single Name member", h.schema)
	}
}
