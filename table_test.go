package strata

import "testing"

type gadgetV1 struct {
	ID   int64
	Name string
}

func gadgetMappingV1() *EntityMapping[int64, gadgetV1] {
	m := NewMapping[int64, gadgetV1]("gadgets", Int64(), func(a, b int64) int { return int(a - b) },
		func(g *gadgetV1) int64 { return g.ID },
		func(g *gadgetV1, id int64) { g.ID = id },
	)
	m.Field(FieldSpec[gadgetV1]{
		Name: "Name", Type: String(),
		Get: func(g *gadgetV1) any { return g.Name },
		Set: func(g *gadgetV1, v any) { g.Name = v.(string) },
	})
	return m
}

type gadgetV2 struct {
	ID     int64
	Name   string
	Weight int32
}

// gadgetMappingV2 registers Weight after Name, so a fresh table's sequential
// IDs would assign it 2, but an upgrade from a v1 on-disk schema must keep
// Name at its original ID and give Weight a new one strictly above it, not
// reuse ID 2 if the v1 schema already used it for something else.
func gadgetMappingV2() *EntityMapping[int64, gadgetV2] {
	m := NewMapping[int64, gadgetV2]("gadgets", Int64(), func(a, b int64) int { return int(a - b) },
		func(g *gadgetV2) int64 { return g.ID },
		func(g *gadgetV2, id int64) { g.ID = id },
	)
	m.Field(FieldSpec[gadgetV2]{
		Name: "Name", Type: String(),
		Get: func(g *gadgetV2) any { return g.Name },
		Set: func(g *gadgetV2, v any) { g.Name = v.(string) },
	})
	m.Field(FieldSpec[gadgetV2]{
		Name: "Weight", Type: Int32(),
		Get: func(g *gadgetV2) any { return g.Weight },
		Set: func(g *gadgetV2, v any) { g.Weight = v.(int32) },
	})
	return m
}

// TestTableSchemaUpgradeKeepsReconciledIDsAcrossCommit is a regression test
// for encodeRecord/currentSchema disagreeing about a member's ID after a
// reload reconciles it to something other than its sequential registration
// position.
func TestTableSchemaUpgradeKeepsReconciledIDsAcrossCommit(t *testing.T) {
	dir := t.TempDir()
	b, err := openFSBackend(dir, Config{})
	if err != nil {
		t.Fatalf("openFSBackend: %v", err)
	}
	defer b.Close()

	files, err := b.Open("gadgets")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tbl1 := newTable[int64, gadgetV1](gadgetMappingV1(), files, Config{}.withDefaults())
	tx1 := newTx(txWrite)
	if err := tbl1.save(tx1, &gadgetV1{ID: 1, Name: "widget"}); err != nil {
		t.Fatalf("save v1: %v", err)
	}
	if err := tx1.commit(); err != nil {
		t.Fatalf("commit v1: %v", err)
	}
	tx1.release()

	tbl2 := newTable[int64, gadgetV2](gadgetMappingV2(), files, Config{}.withDefaults())
	if err := tbl2.ensureLoaded(); err != nil {
		t.Fatalf("ensureLoaded v2: %v", err)
	}
	if tbl2.fieldIDs[0] != 1 {
		t.Fatalf("reconciled Name id = %d, want 1 (kept from v1)", tbl2.fieldIDs[0])
	}
	if tbl2.fieldIDs[1] != 2 {
		t.Fatalf("reconciled Weight id = %d, want 2 (freshly assigned)", tbl2.fieldIDs[1])
	}

	tx2 := newTx(txWrite)
	g := &gadgetV2{ID: 2, Name: "sprocket", Weight: 7}
	if err := tbl2.save(tx2, g); err != nil {
		t.Fatalf("save v2: %v", err)
	}
	if err := tx2.commit(); err != nil {
		t.Fatalf("commit v2: %v", err)
	}
	tx2.release()

	// currentSchema must reflect the reconciled IDs, not a fresh sequential
	// recomputation, or the header written at commit would disagree with
	// what encodeRecord actually wrote for every record in the table.
	schema := tbl2.currentSchema()
	byName := make(map[string]uint16, len(schema.Members))
	for _, m := range schema.Members {
		byName[m.Name] = m.ID
	}
	if byName["Name"] != 1 {
		t.Fatalf("currentSchema Name id = %d, want 1", byName["Name"])
	}
	if byName["Weight"] != 2 {
		t.Fatalf("currentSchema Weight id = %d, want 2", byName["Weight"])
	}

	tbl3 := newTable[int64, gadgetV2](gadgetMappingV2(), files, Config{}.withDefaults())
	tx3 := newTx(txRead)
	g1, err := tbl3.loadByKey(tx3, 1)
	if err != nil {
		t.Fatalf("loadByKey(1): %v", err)
	}
	g2, err := tbl3.loadByKey(tx3, 2)
	if err != nil {
		t.Fatalf("loadByKey(2): %v", err)
	}
	tx3.release()

	if g1 == nil || g1.Name != "widget" || g1.Weight != 0 {
		t.Fatalf("g1 = %+v, want Name=widget Weight=0 (field absent from v1 record)", g1)
	}
	if g2 == nil || g2.Name != "sprocket" || g2.Weight != 7 {
		t.Fatalf("g2 = %+v, want Name=sprocket Weight=7", g2)
	}
}

func TestTableEncodeRecordUsesReconciledFieldIDs(t *testing.T) {
	dir := t.TempDir()
	b, err := openFSBackend(dir, Config{})
	if err != nil {
		t.Fatalf("openFSBackend: %v", err)
	}
	defer b.Close()
	files, err := b.Open("gadgets")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tbl := newTable[int64, gadgetV1](gadgetMappingV1(), files, Config{}.withDefaults())
	tbl.fieldIDs[0] = 9 // simulate a reconciled, non-sequential ID
	tbl.fieldsByID = map[uint16]FieldSpec[gadgetV1]{9: tbl.mapping.fields[0]}

	encoded, err := tbl.encodeRecord(&gadgetV1{ID: 1, Name: "x"})
	if err != nil {
		t.Fatalf("encodeRecord: %v", err)
	}
	decoded, err := tbl.decodeRecord(encoded)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if decoded.Name != "x" {
		t.Fatalf("decoded.Name = %q, want %q (round trip through id 9)", decoded.Name, "x")
	}
}
