package strata

import (
	"cmp"
	"testing"
)

func openQueryTestDB(t *testing.T) (*Database, *Table[int64, widget]) {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := widgetMapping("widgets")
	Index[int64, widget, int32](m, "by_type", Int32(), cmp.Compare[int32],
		func(w *widget) int32 { return w.Type },
		func(v int32) any { return v },
		func(v any) int32 { return v.(int32) },
	)
	tbl, err := MapTable(db, m)
	if err != nil {
		t.Fatalf("MapTable: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	err = db.Write(func(tx *Tx) error {
		for i := int64(1); i <= 10; i++ {
			if err := tbl.Save(tx, &widget{ID: i, Type: int32(i)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed Write: %v", err)
	}
	return db, tbl
}

func TestQueryGreaterThanLessThanBounds(t *testing.T) {
	db, tbl := openQueryTestDB(t)

	var ids []int64
	err := db.Read(func(tx *Tx) error {
		var err error
		ids, err = QueryIndex[int64, widget, int32](tbl, "by_type").
			GreaterThan(3, false).
			LessThan(7, true).
			ToIDList(tx)
		return err
	})
	if err != nil {
		t.Fatalf("ToIDList: %v", err)
	}
	want := []int64{4, 5, 6, 7}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i, id := range ids {
		if id != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestQueryWhereSkipTake(t *testing.T) {
	db, tbl := openQueryTestDB(t)

	var ids []int64
	err := db.Read(func(tx *Tx) error {
		var err error
		ids, err = QueryIndex[int64, widget, int32](tbl, "by_type").
			Where(func(v int32) bool { return v%2 == 0 }).
			Skip(1).
			Take(2).
			ToIDList(tx)
		return err
	})
	if err != nil {
		t.Fatalf("ToIDList: %v", err)
	}
	// even Types are 2,4,6,8,10; skip 1 -> 4,6,8,10; take 2 -> 4,6
	want := []int64{4, 6}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i, id := range ids {
		if id != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestQueryToListDecodesRecords(t *testing.T) {
	db, tbl := openQueryTestDB(t)

	var recs []*widget
	err := db.Read(func(tx *Tx) error {
		var err error
		recs, err = QueryIndex[int64, widget, int32](tbl, "by_type").Key(5).ToList(tx)
		return err
	})
	if err != nil {
		t.Fatalf("ToList: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != 5 {
		t.Fatalf("recs = %+v, want one record with ID 5", recs)
	}
}

func TestQueryToLazyListIteratesInOrder(t *testing.T) {
	db, tbl := openQueryTestDB(t)

	var got []int64
	err := db.Read(func(tx *Tx) error {
		next, err := QueryIndex[int64, widget, int32](tbl, "by_type").
			GreaterThan(7, true).
			ToLazyList(tx)
		if err != nil {
			return err
		}
		for {
			rec, ok, err := next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			got = append(got, rec.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ToLazyList: %v", err)
	}
	want := []int64{7, 8, 9, 10}
	if len(got) != len(want) {
		t.Fatalf("got = %v, want %v", got, want)
	}
	for i, id := range got {
		if id != want[i] {
			t.Fatalf("got = %v, want %v", got, want)
		}
	}
}

func TestQueryUnknownIndexNameFails(t *testing.T) {
	db, tbl := openQueryTestDB(t)

	err := db.Read(func(tx *Tx) error {
		_, err := QueryIndex[int64, widget, int32](tbl, "no_such_index").Key(1).Count(tx)
		return err
	})
	if err == nil {
		t.Fatal("expected an error for an unknown index name")
	}
}

func TestQueryMismatchedDerivedKeyTypeFails(t *testing.T) {
	db, tbl := openQueryTestDB(t)

	err := db.Read(func(tx *Tx) error {
		_, err := QueryIndex[int64, widget, string](tbl, "by_type").Key("3").Count(tx)
		return err
	})
	if err == nil {
		t.Fatal("expected ErrUnsupportedType for a mismatched derived key type")
	}
}

func TestQueryCountMatchesToIDListLength(t *testing.T) {
	db, tbl := openQueryTestDB(t)

	var n int
	var ids []int64
	err := db.Read(func(tx *Tx) error {
		var err error
		n, err = QueryIndex[int64, widget, int32](tbl, "by_type").GreaterThan(5, true).Count(tx)
		if err != nil {
			return err
		}
		ids, err = QueryIndex[int64, widget, int32](tbl, "by_type").GreaterThan(5, true).ToIDList(tx)
		return err
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(ids) {
		t.Fatalf("Count = %d, len(ToIDList) = %d", n, len(ids))
	}
}
