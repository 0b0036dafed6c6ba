package treap

import "github.com/a-poor/shardset/shard"

// Split moves every key >= k into a new treap and returns it, keeping the
// keys < k.
//
// The node for k (or a temporary sentinel when k is absent) gets the lowest
// possible priority and bubbles up to the root, where its two subtrees are
// exactly the two halves. A present k goes to the high half with its
// original priority restored; a sentinel is discarded.
func (t *Treap[K]) Split(k K) shard.Set[K] {
	return t.split(k)
}

func (t *Treap[K]) split(k K) *Treap[K] {
	high := t.spawn()
	if shard.Invalid(k) || t.root == nilHandle {
		return high
	}

	pivot, sentinel := t.insertLeaf(k, pivotPriority)
	original := t.nodes[pivot].priority
	t.nodes[pivot].priority = pivotPriority
	t.bubbleUp(pivot)

	low, right := t.nodes[pivot].left, t.nodes[pivot].right
	if sentinel {
		high.root = high.copyFrom(t, right, nilHandle)
	} else {
		top := high.alloc(k, original)
		child := high.copyFrom(t, right, top)
		high.root = top
		high.nodes[top].right = child
		high.nodes[top].size = 1 + high.sizeOf(child)
		high.trickleDown(top, false)
		high.bubbleUp(top)
	}

	// Drop the moved half from this arena
	t.releaseTree(right)
	t.release(pivot)
	t.root = low
	if low != nilHandle {
		t.nodes[low].parent = nilHandle
	}
	t.maybeCompact()

	t.dirty = true
	high.dirty = true
	return high
}

// Merge moves every key of other into t. Every key of other must be
// greater than every key of t, otherwise Merge returns false and changes
// nothing. On success other is left empty.
//
// Both roots are hung under a transient node with the highest possible
// priority, which then trickles down to a leaf and is cut off.
func (t *Treap[K]) Merge(other shard.Set[K]) bool {
	o, ok := other.(*Treap[K])
	if !ok {
		return t.mergeForeign(other)
	}
	if o == t {
		return t.root == nilHandle
	}
	if o.root == nilHandle {
		return true
	}
	if !t.precedes(other) {
		return false
	}

	if t.root == nilHandle {
		// Take over the other arena wholesale
		t.nodes, t.free, t.root, t.keyBytes = o.nodes, o.free, o.root, o.keyBytes
		o.reset()
		t.dirty, o.dirty = true, true
		return true
	}

	r := t.copyFrom(o, o.root, nilHandle)
	l := t.root

	var zero K
	x := t.alloc(zero, sinkPriority)
	t.nodes[x].left = l
	t.nodes[x].right = r
	t.nodes[x].size = 1 + t.sizeOf(l) + t.sizeOf(r)
	t.nodes[l].parent = x
	t.nodes[r].parent = x
	t.root = x

	t.trickleDown(x, true)
	t.detachLeaf(x)
	t.release(x)

	o.reset()
	t.dirty, o.dirty = true, true
	return true
}

// precedes reports whether every key of t is below every key of other.
func (t *Treap[K]) precedes(other shard.Set[K]) bool {
	last, ok := t.Last()
	if !ok {
		return true
	}
	first, ok := other.First()
	if !ok {
		return true
	}
	return last < first
}

// mergeForeign merges a set of a different concrete type key by key.
func (t *Treap[K]) mergeForeign(other shard.Set[K]) bool {
	if !t.precedes(other) {
		return false
	}

	it := other.Iterator(shard.Unbound[K](), shard.Unbound[K]())
	for it.Next() {
		t.Add(it.Key())
		it.Remove()
	}
	return true
}

// copyFrom copies the subtree h of src into t, returning the new root.
func (t *Treap[K]) copyFrom(src *Treap[K], h, parent handle) handle {
	if h == nilHandle {
		return nilHandle
	}

	sn := src.nodes[h]
	c := t.alloc(sn.key, sn.priority)
	t.nodes[c].parent = parent
	t.nodes[c].size = sn.size

	l := t.copyFrom(src, sn.left, c)
	r := t.copyFrom(src, sn.right, c)
	t.nodes[c].left = l
	t.nodes[c].right = r
	return c
}

func (t *Treap[K]) releaseTree(h handle) {
	if h == nilHandle {
		return
	}
	l, r := t.nodes[h].left, t.nodes[h].right
	t.release(h)
	t.releaseTree(l)
	t.releaseTree(r)
}

// maybeCompact rebuilds the arena once more than half of it is free.
func (t *Treap[K]) maybeCompact() {
	if len(t.free) <= len(t.nodes)/2 {
		return
	}

	old := *t
	t.reset()
	t.root = t.copyFrom(&old, old.root, nilHandle)
}
