package rbtree

import (
	"cmp"
	"math/rand"
	"slices"
	"testing"
)

func newIntTree() *Tree[int, string] {
	return New[int, string](cmp.Compare[int])
}

func collect(t *Tree[int, string]) []int {
	var out []int
	t.Each(func(h Handle) bool {
		out = append(out, t.Key(h))
		return true
	})
	return out
}

func TestInsertFindOrder(t *testing.T) {
	tr := newIntTree()
	vals := []int{5, 2, 8, 1, 9, 3, 7, 4, 6, 0}
	for _, v := range vals {
		h, inserted := tr.Insert(v)
		if !inserted {
			t.Fatalf("expected insert of %d to be new", v)
		}
		tr.SetValue(h, "v")
	}

	if tr.Len() != len(vals) {
		t.Fatalf("len = %d, want %d", tr.Len(), len(vals))
	}

	sorted := slices.Clone(vals)
	slices.Sort(sorted)
	if got := collect(tr); !slices.Equal(got, sorted) {
		t.Fatalf("in-order walk = %v, want %v", got, sorted)
	}

	for _, v := range vals {
		h, ok := tr.Find(v)
		if !ok {
			t.Fatalf("Find(%d) not found", v)
		}
		if tr.Key(h) != v {
			t.Fatalf("Find(%d) key = %d", v, tr.Key(h))
		}
	}

	if _, ok := tr.Find(42); ok {
		t.Fatal("Find(42) should not be found")
	}
}

func TestDuplicateInsertReturnsExisting(t *testing.T) {
	tr := newIntTree()
	h1, inserted := tr.Insert(5)
	if !inserted {
		t.Fatal("first insert should report new")
	}
	tr.SetValue(h1, "first")

	h2, inserted := tr.Insert(5)
	if inserted {
		t.Fatal("duplicate insert should not report new")
	}
	if h1 != h2 {
		t.Fatal("duplicate insert should return the same handle")
	}
	if tr.Value(h2) != "first" {
		t.Fatal("duplicate insert must not clobber existing value")
	}
	if tr.Len() != 1 {
		t.Fatalf("len = %d, want 1", tr.Len())
	}
}

func TestDeleteMaintainsOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tr := newIntTree()
	const n = 500
	present := map[int]bool{}
	for present == nil || len(present) < n {
		if present == nil {
			present = map[int]bool{}
		}
		v := rng.Intn(10000)
		if !present[v] {
			present[v] = true
			tr.Insert(v)
		}
	}

	var keys []int
	for k := range present {
		keys = append(keys, k)
	}
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	for i, k := range keys {
		if i%2 == 0 {
			h, ok := tr.Find(k)
			if !ok {
				t.Fatalf("Find(%d) missing before delete", k)
			}
			tr.Delete(h)
			delete(present, k)

			var want []int
			for rk := range present {
				want = append(want, rk)
			}
			slices.Sort(want)
			if got := collect(tr); !slices.Equal(got, want) {
				t.Fatalf("after deleting %d: got %v want %v", k, got, want)
			}
		}
	}
}

func TestFirstLastNextPrev(t *testing.T) {
	tr := newIntTree()
	for _, v := range []int{10, 20, 30, 40} {
		tr.Insert(v)
	}
	first := tr.First()
	if tr.Key(first) != 10 {
		t.Fatalf("First() = %d, want 10", tr.Key(first))
	}
	last := tr.Last()
	if tr.Key(last) != 40 {
		t.Fatalf("Last() = %d, want 40", tr.Key(last))
	}

	h, _ := tr.Find(20)
	n := tr.Next(h)
	if tr.Key(n) != 30 {
		t.Fatalf("Next(20) = %d, want 30", tr.Key(n))
	}
	p := tr.Prev(h)
	if tr.Key(p) != 10 {
		t.Fatalf("Prev(20) = %d, want 10", tr.Key(p))
	}

	if tr.Next(last) != NilHandle {
		t.Fatal("Next(last) should be NilHandle")
	}
	if tr.Prev(first) != NilHandle {
		t.Fatal("Prev(first) should be NilHandle")
	}
}

func TestEnumerateBounds(t *testing.T) {
	tr := newIntTree()
	for i := 0; i < 20; i++ {
		tr.Insert(i)
	}

	keysOf := func(hs []Handle) []int {
		out := make([]int, len(hs))
		for i, h := range hs {
			out[i] = tr.Key(h)
		}
		return out
	}

	lo, hi := 5, 10
	got := keysOf(tr.Enumerate(&lo, true, &hi, false))
	want := []int{5, 6, 7, 8, 9}
	if !slices.Equal(got, want) {
		t.Fatalf("[5,10) = %v, want %v", got, want)
	}

	got = keysOf(tr.Enumerate(&lo, false, &hi, true))
	want = []int{6, 7, 8, 9, 10}
	if !slices.Equal(got, want) {
		t.Fatalf("(5,10] = %v, want %v", got, want)
	}

	single := 7
	got = keysOf(tr.Enumerate(&single, true, &single, true))
	want = []int{7}
	if !slices.Equal(got, want) {
		t.Fatalf("[7,7] = %v, want %v", got, want)
	}

	badLo, badHi := 10, 5
	got = keysOf(tr.Enumerate(&badLo, true, &badHi, true))
	if len(got) != 0 {
		t.Fatalf("min>max should yield empty, got %v", got)
	}

	got = keysOf(tr.Enumerate(nil, false, nil, false))
	if len(got) != 20 {
		t.Fatalf("unbounded enumerate = %d items, want 20", len(got))
	}
}

func TestHandleSurvivesDeleteOfOtherNodes(t *testing.T) {
	tr := newIntTree()
	h50, _ := tr.Insert(50)
	tr.SetValue(h50, "fifty")
	for _, v := range []int{20, 80, 10, 30, 70, 90} {
		tr.Insert(v)
	}

	h10, _ := tr.Find(10)
	tr.Delete(h10)

	if tr.Key(h50) != 50 || tr.Value(h50) != "fifty" {
		t.Fatal("unrelated handle must survive an unrelated delete")
	}

	var got []int
	tr.Each(func(h Handle) bool { got = append(got, tr.Key(h)); return true })
	want := []int{20, 30, 50, 70, 80, 90}
	if !slices.Equal(got, want) {
		t.Fatalf("after delete(10): %v, want %v", got, want)
	}
}
