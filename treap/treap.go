// Package treap implements the canonical shard engine: a randomized,
// order-statistics binary search tree that can be split at a key and merged
// with a treap of greater keys in expected O(log n) rotations.
//
// Nodes live in an arena and refer to each other by integer handle, so a
// treap is a flat slice that can be snapshotted without chasing pointers.
// Every node carries a random priority; the tree is a BST on keys and a
// min-heap on priorities, which keeps its expected height logarithmic.
package treap

import (
	"cmp"
	"math"
	"math/rand/v2"
	"unsafe"

	"github.com/a-poor/shardset/shard"
)

// handle addresses a node in the arena.
type handle int32

const nilHandle handle = -1

const (
	// pivotPriority is reserved for split pivots, which must rise to the root.
	pivotPriority int32 = math.MinInt32

	// sinkPriority is reserved for the transient merge node, which must sink
	// to a leaf.
	sinkPriority int32 = math.MaxInt32

	// treapOverhead is the fixed cost of an empty treap in ByteSize.
	treapOverhead = 96
)

type node[K cmp.Ordered] struct {
	key      K
	priority int32
	left     handle
	right    handle
	parent   handle
	size     uint32 // Nodes in the subtree rooted here, including this one
}

// Treap is an ordered set of keys. It is not safe for concurrent use.
type Treap[K cmp.Ordered] struct {
	nodes    []node[K]
	free     []handle // Released arena slots, reused before growing
	root     handle
	keyBytes uint64 // Heap bytes held by keys, beyond the node itself

	src *rand.PCG
	rng *rand.Rand

	dirty bool
}

var _ shard.Set[string] = (*Treap[string])(nil)

// New returns an empty treap drawing priorities from src.
func New[K cmp.Ordered](src *rand.PCG) *Treap[K] {
	return &Treap[K]{
		root: nilHandle,
		src:  src,
		rng:  rand.New(src),
	}
}

// NewSeeded returns an empty treap whose shape is fully determined by seed
// and the sequence of operations applied to it.
func NewSeeded[K cmp.Ordered](seed uint64) *Treap[K] {
	return New[K](rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewSet returns an empty treap. Its random source is seeded from the
// receiver's, so a whole family of shards stays reproducible.
func (t *Treap[K]) NewSet() shard.Set[K] {
	return t.spawn()
}

func (t *Treap[K]) spawn() *Treap[K] {
	return New[K](rand.NewPCG(t.rng.Uint64(), t.rng.Uint64()))
}

// Size returns the number of keys in the treap.
func (t *Treap[K]) Size() int {
	return int(t.sizeOf(t.root))
}

// Dirty reports whether the treap changed since the last MarkClean.
func (t *Treap[K]) Dirty() bool {
	return t.dirty
}

// MarkClean clears the dirty flag.
func (t *Treap[K]) MarkClean() {
	t.dirty = false
}

// ByteSize estimates the memory held by the treap. It is kept up to date
// incrementally and costs O(1).
func (t *Treap[K]) ByteSize() uint64 {
	var zero node[K]
	nodeSize := uint64(unsafe.Sizeof(zero))
	return treapOverhead +
		uint64(cap(t.nodes))*nodeSize +
		uint64(cap(t.free))*uint64(unsafe.Sizeof(handle(0))) +
		t.keyBytes
}

// Add inserts k and reports whether it was absent.
func (t *Treap[K]) Add(k K) bool {
	if shard.Invalid(k) {
		return false
	}

	h, ok := t.insertLeaf(k, 0)
	if !ok {
		return false
	}
	t.nodes[h].priority = t.randomPriority()
	t.bubbleUp(h)
	t.dirty = true
	return true
}

// Remove deletes k and reports whether it was present.
func (t *Treap[K]) Remove(k K) bool {
	h := t.find(k)
	if h == nilHandle {
		return false
	}

	t.trickleDown(h, true)
	t.detachLeaf(h)
	t.release(h)
	t.dirty = true
	return true
}

// Contains reports whether k is in the treap.
func (t *Treap[K]) Contains(k K) bool {
	return t.find(k) != nilHandle
}

// randomPriority draws a priority strictly between the two reserved values.
func (t *Treap[K]) randomPriority() int32 {
	return int32(int64(math.MinInt32) + 1 + int64(t.rng.Uint32N(math.MaxUint32-1)))
}

func (t *Treap[K]) sizeOf(h handle) uint32 {
	if h == nilHandle {
		return 0
	}
	return t.nodes[h].size
}

func (t *Treap[K]) alloc(k K, priority int32) handle {
	n := node[K]{
		key:      k,
		priority: priority,
		left:     nilHandle,
		right:    nilHandle,
		parent:   nilHandle,
		size:     1,
	}
	t.keyBytes += keyExtra(k)

	if l := len(t.free); l > 0 {
		h := t.free[l-1]
		t.free = t.free[:l-1]
		t.nodes[h] = n
		return h
	}
	t.nodes = append(t.nodes, n)
	return handle(len(t.nodes) - 1)
}

func (t *Treap[K]) release(h handle) {
	t.keyBytes -= keyExtra(t.nodes[h].key)
	t.nodes[h] = node[K]{left: nilHandle, right: nilHandle, parent: nilHandle}
	t.free = append(t.free, h)
}

// reset drops every node but keeps the random source.
func (t *Treap[K]) reset() {
	t.nodes = nil
	t.free = nil
	t.root = nilHandle
	t.keyBytes = 0
}

// keyExtra is the heap memory owned by k outside of its node.
func keyExtra[K cmp.Ordered](k K) uint64 {
	if s, ok := any(k).(string); ok {
		return uint64(len(s))
	}
	return 0
}

func (t *Treap[K]) find(k K) handle {
	h := t.root
	for h != nilHandle {
		n := &t.nodes[h]
		switch {
		case k < n.key:
			h = n.left
		case k > n.key:
			h = n.right
		default:
			return h
		}
	}
	return nilHandle
}

// insertLeaf attaches a new leaf for k at its BST position and bumps the
// sizes on the path to the root. If k is already present it returns the
// existing node and false.
func (t *Treap[K]) insertLeaf(k K, priority int32) (handle, bool) {
	if t.root == nilHandle {
		t.root = t.alloc(k, priority)
		return t.root, true
	}

	cur := t.root
	for {
		n := &t.nodes[cur]
		if k == n.key {
			return cur, false
		}
		next := n.right
		if k < n.key {
			next = n.left
		}
		if next == nilHandle {
			break
		}
		cur = next
	}

	// alloc may grow the arena, so no node pointers past this point
	h := t.alloc(k, priority)
	t.nodes[h].parent = cur
	if k < t.nodes[cur].key {
		t.nodes[cur].left = h
	} else {
		t.nodes[cur].right = h
	}
	for a := cur; a != nilHandle; a = t.nodes[a].parent {
		t.nodes[a].size++
	}
	return h, true
}

// detachLeaf unlinks the leaf h and shrinks the sizes above it.
func (t *Treap[K]) detachLeaf(h handle) {
	p := t.nodes[h].parent
	t.replaceChild(p, h, nilHandle)
	for a := p; a != nilHandle; a = t.nodes[a].parent {
		t.nodes[a].size--
	}
	t.nodes[h].parent = nilHandle
}

func (t *Treap[K]) replaceChild(parent, old, repl handle) {
	if parent == nilHandle {
		t.root = repl
		return
	}
	if t.nodes[parent].left == old {
		t.nodes[parent].left = repl
	} else {
		t.nodes[parent].right = repl
	}
}

// rotateUp lifts h above its parent: a right rotation when h is a left
// child, a left rotation otherwise. Only the two swapped nodes change size.
func (t *Treap[K]) rotateUp(h handle) {
	p := t.nodes[h].parent
	g := t.nodes[p].parent

	if t.nodes[p].left == h {
		b := t.nodes[h].right
		t.nodes[p].left = b
		if b != nilHandle {
			t.nodes[b].parent = p
		}
		t.nodes[h].right = p
	} else {
		b := t.nodes[h].left
		t.nodes[p].right = b
		if b != nilHandle {
			t.nodes[b].parent = p
		}
		t.nodes[h].left = p
	}
	t.nodes[p].parent = h
	t.nodes[h].parent = g
	t.replaceChild(g, p, h)

	t.nodes[h].size = t.nodes[p].size
	t.nodes[p].size = 1 + t.sizeOf(t.nodes[p].left) + t.sizeOf(t.nodes[p].right)
}

// bubbleUp rotates h upward while its priority is below its parent's.
func (t *Treap[K]) bubbleUp(h handle) {
	for {
		p := t.nodes[h].parent
		if p == nilHandle || t.nodes[h].priority >= t.nodes[p].priority {
			return
		}
		t.rotateUp(h)
	}
}

// trickleDown rotates h downward, always lifting the child with the lower
// priority (the left one on ties). With toLeaf it continues until h is a
// leaf, otherwise it stops once heap order holds below h.
func (t *Treap[K]) trickleDown(h handle, toLeaf bool) {
	for {
		l, r := t.nodes[h].left, t.nodes[h].right

		var c handle
		switch {
		case l == nilHandle && r == nilHandle:
			return
		case l == nilHandle:
			c = r
		case r == nilHandle:
			c = l
		case t.nodes[r].priority < t.nodes[l].priority:
			c = r
		default:
			c = l
		}

		if !toLeaf && t.nodes[c].priority >= t.nodes[h].priority {
			return
		}
		t.rotateUp(c)
	}
}
