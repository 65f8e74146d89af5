package strata

import "testing"

func TestDataMapAllocateIntoEmptyFile(t *testing.T) {
	dm := newDataMap(nil)
	off := dm.Allocate(10)
	if off != 0 {
		t.Fatalf("offset = %d, want 0", off)
	}
	if dm.Max() != 10 {
		t.Fatalf("Max() = %d, want 10", dm.Max())
	}
}

func TestDataMapConstructionMergesAdjacent(t *testing.T) {
	dm := newDataMap([]allocation{
		{begin: 10, end: 20},
		{begin: 0, end: 10},
		{begin: 30, end: 40},
	})
	got := dm.Ranges()
	want := []allocation{{0, 20}, {30, 40}}
	if len(got) != len(want) {
		t.Fatalf("ranges = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranges = %v, want %v", got, want)
		}
	}
}

func TestDataMapAllocateFillsGapExactly(t *testing.T) {
	dm := newDataMap([]allocation{{0, 10}, {20, 30}})
	off := dm.Allocate(10) // exactly fills [10,20)
	if off != 10 {
		t.Fatalf("offset = %d, want 10", off)
	}
	got := dm.Ranges()
	want := []allocation{{0, 30}}
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("ranges = %v, want %v", got, want)
	}
}

func TestDataMapAllocateExtendsLeftmostOfGap(t *testing.T) {
	dm := newDataMap([]allocation{{0, 10}, {25, 30}})
	off := dm.Allocate(5) // gap is [10,25), doesn't fill exactly
	if off != 10 {
		t.Fatalf("offset = %d, want 10", off)
	}
	got := dm.Ranges()
	want := []allocation{{0, 15}, {25, 30}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ranges = %v, want %v", got, want)
	}
}

func TestDataMapAllocateExtendsLastWhenNoGapFits(t *testing.T) {
	dm := newDataMap([]allocation{{0, 10}, {20, 30}})
	off := dm.Allocate(50) // no internal gap fits
	if off != 30 {
		t.Fatalf("offset = %d, want 30", off)
	}
	if dm.Max() != 80 {
		t.Fatalf("Max() = %d, want 80", dm.Max())
	}
}

func TestDataMapFreeExactMatch(t *testing.T) {
	dm := newDataMap([]allocation{{0, 10}})
	dm.Free(0, 10)
	if len(dm.Ranges()) != 0 {
		t.Fatalf("ranges should be empty after freeing the whole allocation")
	}
}

func TestDataMapFreeBeginMatch(t *testing.T) {
	dm := newDataMap([]allocation{{0, 10}})
	dm.Free(0, 4)
	got := dm.Ranges()
	want := allocation{4, 10}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("ranges = %v, want [%v]", got, want)
	}
}

func TestDataMapFreeEndMatch(t *testing.T) {
	dm := newDataMap([]allocation{{0, 10}})
	dm.Free(6, 4)
	got := dm.Ranges()
	want := allocation{0, 6}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("ranges = %v, want [%v]", got, want)
	}
}

func TestDataMapFreeInteriorSplits(t *testing.T) {
	dm := newDataMap([]allocation{{0, 10}})
	dm.Free(4, 2) // frees [4,6) inside [0,10)
	got := dm.Ranges()
	want := []allocation{{0, 4}, {6, 10}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ranges = %v, want %v", got, want)
	}
}

func TestDataMapReallocReusesFreedRangeAndResizes(t *testing.T) {
	dm := newDataMap([]allocation{{0, 10}})
	off := dm.Realloc(0, 10, 20)
	if off != 0 {
		t.Fatalf("realloc in place should reuse offset 0, got %d", off)
	}
	if dm.Max() != 20 {
		t.Fatalf("Max() = %d, want 20", dm.Max())
	}
}

func TestDataMapFreeOfUncoveredRangePanics(t *testing.T) {
	dm := newDataMap([]allocation{{0, 10}})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic freeing a range not covered by any allocation")
		}
	}()
	dm.Free(50, 10)
}
