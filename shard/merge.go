package shard

import "cmp"

// mergeIterator yields the union of several ordered iterators.
type mergeIterator[K cmp.Ordered] struct {
	itrs    []Iterator[K]
	live    []bool // Whether itrs[i] is positioned on a key
	started bool
	current K
}

// MergeIterators returns an iterator over the ordered union of its. Keys
// found in more than one input are yielded once. Removal through the
// merged iterator is not supported and always returns false.
//
// This is what scans use when shard layers can overlap; shards with
// disjoint ranges can simply be concatenated.
func MergeIterators[K cmp.Ordered](its ...Iterator[K]) Iterator[K] {
	return &mergeIterator[K]{
		itrs: its,
		live: make([]bool, len(its)),
	}
}

func (m *mergeIterator[K]) Next() bool {
	// Prime every input on the first call, otherwise advance every
	// input that sits on the key we returned last
	for i, itr := range m.itrs {
		if !m.started || (m.live[i] && itr.Key() == m.current) {
			m.live[i] = itr.Next()
		}
	}
	m.started = true

	// Pick the lowest key, the first input wins ties
	best := -1
	for i, itr := range m.itrs {
		if !m.live[i] {
			continue
		}
		if best == -1 || itr.Key() < m.itrs[best].Key() {
			best = i
		}
	}
	if best == -1 {
		return false
	}

	m.current = m.itrs[best].Key()
	return true
}

func (m *mergeIterator[K]) Key() K {
	return m.current
}

func (m *mergeIterator[K]) Remove() bool {
	return false
}
