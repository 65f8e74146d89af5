// Package rbtree is a generic, arena-backed red-black tree: a parameterized
// ordered associative container supporting range enumeration.
//
// Nodes are addressed by a stable integer Handle rather than a pointer, so
// that rotations during insertion and deletion never move a live node's
// slot (in strata, the primary index's transient offset map holds handles
// while secondary indexes load).
//
// Handles are not stable across an arbitrary Delete. Structures that
// outlive a deletion must store keys and re-resolve through Find, the
// way strata's
// secondary indexes record the primary keys and derived keys they file
// under rather than handles into either tree.
//
// Deletion follows the textbook CLRS shape but, critically, preserves node
// *identity*: deleting a node with two children copies its in-order
// successor's key/value into the deleted node's slot and removes the
// successor's slot instead. So Handle(X) survives a delete of X when X has
// two children, but Handle(successor) does not. Callers that hold a
// Handle across a Delete must not assume it still denotes the same key;
// at most one of {the deleted node, its successor} has its handle
// invalidated per Delete.
package rbtree

// Handle addresses a node. Handles are slot indexes starting at 0;
// NilHandle (-1) is never a valid handle.
type Handle int32

// NilHandle denotes "no node": an absent child, parent, or search result.
const NilHandle Handle = -1

type color int8

const (
	black color = iota
	red
)

type node[K any, V any] struct {
	key                 K
	val                 V
	c                   color
	parent, left, right Handle
}

// Tree is a red-black tree ordered by K via Compare, carrying an arbitrary
// payload V per node.
type Tree[K any, V any] struct {
	nodes   []*node[K, V]
	free    []Handle
	root    Handle
	size    int
	Compare func(a, b K) int
}

// New builds an empty tree. cmp must implement a total order over K;
// negative/zero/positive exactly like cmp.Compare. A nil cmp panics lazily
// on first use; callers of strata always supply one (natural ordering per
// value type, or a case-insensitive string comparator).
func New[K any, V any](cmp func(a, b K) int) *Tree[K, V] {
	return &Tree[K, V]{root: NilHandle, Compare: cmp}
}

// Len returns the number of live nodes.
func (t *Tree[K, V]) Len() int { return t.size }

func (t *Tree[K, V]) colorOf(h Handle) color {
	if h == NilHandle {
		return black
	}
	return t.nodes[h].c
}

// Key returns the node's key. Panics if h is not a live handle.
func (t *Tree[K, V]) Key(h Handle) K { return t.nodes[h].key }

// Value returns the node's payload.
func (t *Tree[K, V]) Value(h Handle) V { return t.nodes[h].val }

// SetValue overwrites the node's payload in place.
func (t *Tree[K, V]) SetValue(h Handle, v V) { t.nodes[h].val = v }

// ValuePtr returns a pointer to the node's payload for in-place mutation
// (used by pkindex's side-bag and secindex's key-set). The pointer is
// valid only until the next Delete that might relink this handle's slot;
// see the package doc.
func (t *Tree[K, V]) ValuePtr(h Handle) *V { return &t.nodes[h].val }

// Find returns the handle for key, or (NilHandle, false).
func (t *Tree[K, V]) Find(key K) (Handle, bool) {
	h := t.root
	for h != NilHandle {
		nd := t.nodes[h]
		c := t.Compare(key, nd.key)
		switch {
		case c == 0:
			return h, true
		case c < 0:
			h = nd.left
		default:
			h = nd.right
		}
	}
	return NilHandle, false
}

func (t *Tree[K, V]) alloc(key K) Handle {
	nd := &node[K, V]{key: key, left: NilHandle, right: NilHandle, parent: NilHandle, c: red}
	if len(t.free) > 0 {
		h := t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		t.nodes[h] = nd
		return h
	}
	t.nodes = append(t.nodes, nd)
	return Handle(len(t.nodes) - 1)
}

// Insert finds or creates the node for key. wasInserted is true iff a new
// node was created; duplicate keys are never created.
func (t *Tree[K, V]) Insert(key K) (h Handle, wasInserted bool) {
	var parent Handle = NilHandle
	cur := t.root
	var dir int
	for cur != NilHandle {
		nd := t.nodes[cur]
		c := t.Compare(key, nd.key)
		if c == 0 {
			return cur, false
		}
		parent = cur
		if c < 0 {
			cur = nd.left
			dir = -1
		} else {
			cur = nd.right
			dir = 1
		}
	}

	h = t.alloc(key)
	nd := t.nodes[h]
	nd.parent = parent
	if parent == NilHandle {
		t.root = h
	} else if dir < 0 {
		t.nodes[parent].left = h
	} else {
		t.nodes[parent].right = h
	}
	t.size++
	t.insertFixup(h)
	return h, true
}

func (t *Tree[K, V]) rotateLeft(x Handle) {
	xn := t.nodes[x]
	y := xn.right
	yn := t.nodes[y]
	xn.right = yn.left
	if yn.left != NilHandle {
		t.nodes[yn.left].parent = x
	}
	yn.parent = xn.parent
	if xn.parent == NilHandle {
		t.root = y
	} else {
		p := t.nodes[xn.parent]
		if p.left == x {
			p.left = y
		} else {
			p.right = y
		}
	}
	yn.left = x
	xn.parent = y
}

func (t *Tree[K, V]) rotateRight(x Handle) {
	xn := t.nodes[x]
	y := xn.left
	yn := t.nodes[y]
	xn.left = yn.right
	if yn.right != NilHandle {
		t.nodes[yn.right].parent = x
	}
	yn.parent = xn.parent
	if xn.parent == NilHandle {
		t.root = y
	} else {
		p := t.nodes[xn.parent]
		if p.right == x {
			p.right = y
		} else {
			p.left = y
		}
	}
	yn.right = x
	xn.parent = y
}

func (t *Tree[K, V]) insertFixup(z Handle) {
	for t.colorOf(t.nodes[z].parent) == red {
		zn := t.nodes[z]
		parent := zn.parent
		pn := t.nodes[parent]
		grandparent := pn.parent
		gn := t.nodes[grandparent]
		if parent == gn.left {
			uncle := gn.right
			if t.colorOf(uncle) == red {
				pn.c = black
				t.nodes[uncle].c = black
				gn.c = red
				z = grandparent
				continue
			}
			if z == pn.right {
				z = parent
				t.rotateLeft(z)
				zn = t.nodes[z]
				parent = zn.parent
				pn = t.nodes[parent]
				grandparent = pn.parent
				gn = t.nodes[grandparent]
			}
			pn.c = black
			gn.c = red
			t.rotateRight(grandparent)
		} else {
			uncle := gn.left
			if t.colorOf(uncle) == red {
				pn.c = black
				t.nodes[uncle].c = black
				gn.c = red
				z = grandparent
				continue
			}
			if z == pn.left {
				z = parent
				t.rotateRight(z)
				zn = t.nodes[z]
				parent = zn.parent
				pn = t.nodes[parent]
				grandparent = pn.parent
				gn = t.nodes[grandparent]
			}
			pn.c = black
			gn.c = red
			t.rotateLeft(grandparent)
		}
	}
	t.nodes[t.root].c = black
}

// min returns the leftmost handle of the subtree rooted at h.
func (t *Tree[K, V]) min(h Handle) Handle {
	for t.nodes[h].left != NilHandle {
		h = t.nodes[h].left
	}
	return h
}

// max returns the rightmost handle of the subtree rooted at h.
func (t *Tree[K, V]) max(h Handle) Handle {
	for t.nodes[h].right != NilHandle {
		h = t.nodes[h].right
	}
	return h
}

// Next returns the in-order successor of h, or NilHandle if h is last.
func (t *Tree[K, V]) Next(h Handle) Handle {
	nd := t.nodes[h]
	if nd.right != NilHandle {
		return t.min(nd.right)
	}
	p := nd.parent
	cur := h
	for p != NilHandle && cur == t.nodes[p].right {
		cur = p
		p = t.nodes[p].parent
	}
	return p
}

// Prev returns the in-order predecessor of h, or NilHandle if h is first.
func (t *Tree[K, V]) Prev(h Handle) Handle {
	nd := t.nodes[h]
	if nd.left != NilHandle {
		return t.max(nd.left)
	}
	p := nd.parent
	cur := h
	for p != NilHandle && cur == t.nodes[p].left {
		cur = p
		p = t.nodes[p].parent
	}
	return p
}

// First returns the smallest-keyed handle, or NilHandle if empty.
func (t *Tree[K, V]) First() Handle {
	if t.root == NilHandle {
		return NilHandle
	}
	return t.min(t.root)
}

// Last returns the largest-keyed handle, or NilHandle if empty.
func (t *Tree[K, V]) Last() Handle {
	if t.root == NilHandle {
		return NilHandle
	}
	return t.max(t.root)
}

func (t *Tree[K, V]) transplant(u, v Handle) {
	un := t.nodes[u]
	if un.parent == NilHandle {
		t.root = v
	} else {
		p := t.nodes[un.parent]
		if p.left == u {
			p.left = v
		} else {
			p.right = v
		}
	}
	if v != NilHandle {
		t.nodes[v].parent = un.parent
	}
}

// Delete removes h from the tree. Per the package doc, if h has two
// children its in-order successor's key/value are copied into h's slot
// and the successor's slot is the one actually unlinked and freed; h
// remains a valid, live handle denoting the (relinked) node; the
// successor's old handle becomes invalid.
func (t *Tree[K, V]) Delete(h Handle) {
	zn := t.nodes[h]
	y := h
	yOriginalColor := t.colorOf(y)
	var x, xParent Handle

	if zn.left == NilHandle {
		x = zn.right
		xParent = zn.parent
		t.transplant(h, zn.right)
	} else if zn.right == NilHandle {
		x = zn.left
		xParent = zn.parent
		t.transplant(h, zn.left)
	} else {
		y = t.min(zn.right)
		yn := t.nodes[y]
		yOriginalColor = yn.c
		x = yn.right
		xParent = yn.parent
		t.transplant(y, yn.right)

		// Identity preservation: copy the successor's key/value into
		// h's slot instead of leaving the tree pointing at y. From the
		// caller's perspective node h now represents what was node y.
		zn.key = yn.key
		zn.val = yn.val
		t.free = append(t.free, y)
		t.nodes[y] = nil
		t.size--
		if yOriginalColor == black {
			t.deleteFixup(x, xParent)
		}
		return
	}

	t.free = append(t.free, h)
	t.nodes[h] = nil
	t.size--
	if yOriginalColor == black {
		t.deleteFixup(x, xParent)
	}
}

func (t *Tree[K, V]) deleteFixup(x, parent Handle) {
	for x != t.root && t.colorOf(x) == black {
		pn := t.nodes[parent]
		if x == pn.left {
			w := pn.right
			wn := t.nodes[w]
			if wn.c == red {
				wn.c = black
				pn.c = red
				t.rotateLeft(parent)
				pn = t.nodes[parent]
				w = pn.right
				wn = t.nodes[w]
			}
			if t.colorOf(wn.left) == black && t.colorOf(wn.right) == black {
				wn.c = red
				x = parent
				parent = t.nodes[x].parent
				continue
			}
			if t.colorOf(wn.right) == black {
				if wn.left != NilHandle {
					t.nodes[wn.left].c = black
				}
				wn.c = red
				t.rotateRight(w)
				pn = t.nodes[parent]
				w = pn.right
				wn = t.nodes[w]
			}
			wn.c = pn.c
			pn.c = black
			if wn.right != NilHandle {
				t.nodes[wn.right].c = black
			}
			t.rotateLeft(parent)
			x = t.root
		} else {
			w := pn.left
			wn := t.nodes[w]
			if wn.c == red {
				wn.c = black
				pn.c = red
				t.rotateRight(parent)
				pn = t.nodes[parent]
				w = pn.left
				wn = t.nodes[w]
			}
			if t.colorOf(wn.right) == black && t.colorOf(wn.left) == black {
				wn.c = red
				x = parent
				parent = t.nodes[x].parent
				continue
			}
			if t.colorOf(wn.left) == black {
				if wn.right != NilHandle {
					t.nodes[wn.right].c = black
				}
				wn.c = red
				t.rotateLeft(w)
				pn = t.nodes[parent]
				w = pn.left
				wn = t.nodes[w]
			}
			wn.c = pn.c
			pn.c = black
			if wn.left != NilHandle {
				t.nodes[wn.left].c = black
			}
			t.rotateRight(parent)
			x = t.root
		}
	}
	if x != NilHandle {
		t.nodes[x].c = black
	}
}

// Clear empties the tree. Existing handles become invalid.
func (t *Tree[K, V]) Clear() {
	t.nodes = nil
	t.free = nil
	t.root = NilHandle
	t.size = 0
}

// Each calls fn for every node in ascending key order. fn returning false
// stops the walk early.
func (t *Tree[K, V]) Each(fn func(h Handle) bool) {
	for h := t.First(); h != NilHandle; h = t.Next(h) {
		if !fn(h) {
			return
		}
	}
}

// IsRed reports a live node's color, for callers that persist the tree's
// shape on disk.
func (t *Tree[K, V]) IsRed(h Handle) bool { return t.nodes[h].c == red }

// EachPreOrder calls fn for every node in root-left-right order, matching
// the on-disk index layout. fn returning false stops the walk early.
func (t *Tree[K, V]) EachPreOrder(fn func(h Handle) bool) {
	t.eachPreOrder(t.root, fn)
}

func (t *Tree[K, V]) eachPreOrder(h Handle, fn func(h Handle) bool) bool {
	if h == NilHandle {
		return true
	}
	if !fn(h) {
		return false
	}
	nd := t.nodes[h]
	if !t.eachPreOrder(nd.left, fn) {
		return false
	}
	return t.eachPreOrder(nd.right, fn)
}

// Enumerate returns handles in ascending order whose key satisfies the
// bounds: (minIncl ? key >= *min : key > *min) && (maxIncl ? key <= *max :
// key < *max). A nil min/max means unbounded on that side. If both bounds
// collapse to the same key with both inclusive, the result is the
// single-key equality match. If the effective bounds are empty (min > max),
// Enumerate yields nothing.
func (t *Tree[K, V]) Enumerate(min *K, minIncl bool, max *K, maxIncl bool) []Handle {
	var start Handle
	if min == nil {
		start = t.First()
	} else {
		start = t.seekLower(*min, minIncl)
	}

	var out []Handle
	for h := start; h != NilHandle; h = t.Next(h) {
		key := t.nodes[h].key
		if max != nil {
			c := t.Compare(key, *max)
			if maxIncl {
				if c > 0 {
					break
				}
			} else {
				if c >= 0 {
					break
				}
			}
		}
		out = append(out, h)
	}
	return out
}

// seekLower returns the first handle whose key is >= lo (minIncl) or > lo
// (!minIncl), or NilHandle if none.
func (t *Tree[K, V]) seekLower(lo K, incl bool) Handle {
	h := t.root
	var candidate Handle = NilHandle
	for h != NilHandle {
		nd := t.nodes[h]
		c := t.Compare(nd.key, lo)
		match := false
		if incl {
			match = c >= 0
		} else {
			match = c > 0
		}
		if match {
			candidate = h
			h = nd.left
		} else {
			h = nd.right
		}
	}
	return candidate
}
