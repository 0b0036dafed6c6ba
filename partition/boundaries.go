package partition

import (
	"cmp"

	"github.com/google/btree"
)

// DefaultTreeOrder is the degree of the b-tree holding the boundaries.
const DefaultTreeOrder = 16

// boundary maps the lowest key a shard may hold to the shard's id.
type boundary[K cmp.Ordered] struct {
	key K
	id  string
}

// boundaryMap is the ordered set of shard boundaries. The shard below the
// first boundary has no entry; the manager tracks it separately.
type boundaryMap[K cmp.Ordered] struct {
	tree *btree.BTreeG[boundary[K]]
}

func newBoundaryMap[K cmp.Ordered]() *boundaryMap[K] {
	return &boundaryMap[K]{
		tree: btree.NewG(DefaultTreeOrder, func(a, b boundary[K]) bool {
			return a.key < b.key
		}),
	}
}

func (m *boundaryMap[K]) len() int {
	return m.tree.Len()
}

func (m *boundaryMap[K]) set(k K, id string) {
	m.tree.ReplaceOrInsert(boundary[K]{key: k, id: id})
}

func (m *boundaryMap[K]) delete(k K) {
	m.tree.Delete(boundary[K]{key: k})
}

// floor returns the greatest boundary <= k.
func (m *boundaryMap[K]) floor(k K) (boundary[K], bool) {
	var (
		found boundary[K]
		ok    bool
	)
	m.tree.DescendLessOrEqual(boundary[K]{key: k}, func(b boundary[K]) bool {
		found, ok = b, true
		return false
	})
	return found, ok
}

// before returns the greatest boundary < k.
func (m *boundaryMap[K]) before(k K) (boundary[K], bool) {
	var (
		found boundary[K]
		ok    bool
	)
	m.tree.DescendLessOrEqual(boundary[K]{key: k}, func(b boundary[K]) bool {
		if b.key == k {
			return true
		}
		found, ok = b, true
		return false
	})
	return found, ok
}

// after returns the least boundary > k. Without bounded it returns the
// first boundary.
func (m *boundaryMap[K]) after(k K, bounded bool) (boundary[K], bool) {
	if !bounded {
		return m.tree.Min()
	}

	var (
		found boundary[K]
		ok    bool
	)
	m.tree.AscendGreaterOrEqual(boundary[K]{key: k}, func(b boundary[K]) bool {
		if b.key == k {
			return true
		}
		found, ok = b, true
		return false
	})
	return found, ok
}

func (m *boundaryMap[K]) ascend(fn func(b boundary[K]) bool) {
	m.tree.Ascend(fn)
}
