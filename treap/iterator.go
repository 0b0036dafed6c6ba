package treap

import (
	"cmp"

	"github.com/a-poor/shardset/shard"
)

// Iterator walks a key range of a treap in ascending order.
//
// It remembers the last key it returned rather than a node, and finds the
// successor from the root on every step. That keeps it valid across
// Remove, which rotates nodes around.
type Iterator[K cmp.Ordered] struct {
	t       *Treap[K]
	from    shard.Bound[K]
	to      shard.Bound[K]
	started bool
	done    bool
	valid   bool // Whether key is a live, unremoved position
	key     K
}

// Iterator returns an iterator over the keys in [from, to).
func (t *Treap[K]) Iterator(from, to shard.Bound[K]) shard.Iterator[K] {
	return t.Range(from, to)
}

// Range is Iterator with the concrete return type.
func (t *Treap[K]) Range(from, to shard.Bound[K]) *Iterator[K] {
	return &Iterator[K]{t: t, from: from, to: to}
}

// Next advances to the next key in range.
func (it *Iterator[K]) Next() bool {
	if it.done {
		return false
	}

	var h handle
	if !it.started {
		it.started = true
		switch it.from.Kind {
		case shard.Included:
			h = it.t.ceilingNode(it.from.Key, true)
		case shard.Excluded:
			h = it.t.ceilingNode(it.from.Key, false)
		default:
			h = it.t.firstNode()
		}
	} else {
		h = it.t.ceilingNode(it.key, false)
	}

	if h == nilHandle || !it.to.Before(it.t.nodes[h].key) {
		it.done = true
		it.valid = false
		return false
	}

	it.key = it.t.nodes[h].key
	it.valid = true
	return true
}

// Key returns the current key.
func (it *Iterator[K]) Key() K {
	return it.key
}

// Remove deletes the current key from the treap.
func (it *Iterator[K]) Remove() bool {
	if !it.valid {
		return false
	}
	it.valid = false
	return it.t.Remove(it.key)
}
