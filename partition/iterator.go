package partition

import (
	"cmp"
	"iter"

	"github.com/a-poor/shardset/shard"
)

// Iterator walks a key range of a Manager in ascending order, shard after
// shard. Shard ranges are disjoint, so concatenating them in boundary order
// yields a globally ordered scan.
//
// Like the treap iterator, it resumes from the last key it returned rather
// than holding on to a shard, so shards may be evicted, split or merged
// between calls, including by Remove.
//
//	it := m.Iterator(shard.Include("a"), shard.Exclude("b"))
//	for it.Next() {
//		fmt.Println(it.Key())
//	}
//	if err := it.Err(); err != nil {
//		return err
//	}
type Iterator[K cmp.Ordered] struct {
	m       *Manager[K]
	from    shard.Bound[K]
	to      shard.Bound[K]
	started bool
	done    bool
	valid   bool
	key     K
	err     error
}

// Iterator returns an iterator over the keys in [from, to).
func (m *Manager[K]) Iterator(from, to shard.Bound[K]) *Iterator[K] {
	return &Iterator[K]{m: m, from: from, to: to}
}

// All returns the keys in [from, to) as a sequence. An error ends the
// sequence with a zero key and the error.
func (m *Manager[K]) All(from, to shard.Bound[K]) iter.Seq2[K, error] {
	return func(yield func(K, error) bool) {
		it := m.Iterator(from, to)
		for it.Next() {
			if !yield(it.Key(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			var zero K
			yield(zero, err)
		}
	}
}

// Prefix returns an iterator over the keys of m that start with prefix.
func Prefix(m *Manager[string], prefix string) *Iterator[string] {
	from, to := shard.PrefixBounds(prefix)
	return m.Iterator(from, to)
}

// Next advances to the next key in range.
func (it *Iterator[K]) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if it.m.closed {
		it.err = ErrClosed
		return false
	}

	lo := it.from
	if it.started {
		lo = shard.Exclude(it.key)
	}
	it.started = true
	it.valid = false

	// Start in the shard owning the lower end of the range
	var (
		id      string
		b       boundary[K]
		bounded bool
	)
	if lo.IsUnbounded() {
		id = it.m.lowest
	} else {
		id, b, bounded = it.m.owner(lo.Key)
	}

	for {
		s, err := it.m.cache.Get(id)
		if err != nil {
			it.err = err
			return false
		}

		si := s.Iterator(lo, it.to)
		if si.Next() {
			it.key = si.Key()
			it.valid = true
			return true
		}

		// Nothing left here, move on to the next shard if it can
		// still hold keys in range
		nb, ok := it.m.bounds.after(b.key, bounded)
		if !ok || !it.to.Before(nb.key) {
			it.done = true
			return false
		}
		id, b, bounded = nb.id, nb, true
	}
}

// Key returns the current key.
func (it *Iterator[K]) Key() K {
	return it.key
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator[K]) Err() error {
	return it.err
}

// Remove deletes the current key from the set. Iteration continues with
// the key that followed it.
func (it *Iterator[K]) Remove() (bool, error) {
	if !it.valid {
		return false, nil
	}
	it.valid = false
	return it.m.Remove(it.key)
}
