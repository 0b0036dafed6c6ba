package treap

import "github.com/cockroachdb/errors"

// Check walks the whole treap and verifies BST order on keys, heap order on
// priorities, subtree sizes and parent links. It is meant for tests and
// for validating snapshots, not for the hot path.
func (t *Treap[K]) Check() error {
	if t.root == nilHandle {
		return nil
	}
	if p := t.nodes[t.root].parent; p != nilHandle {
		return errors.Newf("root %d has parent %d", t.root, p)
	}
	_, err := t.check(t.root, nil, nil)
	return err
}

func (t *Treap[K]) check(h handle, lo, hi *K) (uint32, error) {
	if h == nilHandle {
		return 0, nil
	}
	n := t.nodes[h]

	// BST order against the bounds inherited from the ancestors
	if lo != nil && n.key <= *lo {
		return 0, errors.Newf("node %d key %v not above %v", h, n.key, *lo)
	}
	if hi != nil && n.key >= *hi {
		return 0, errors.Newf("node %d key %v not below %v", h, n.key, *hi)
	}

	for _, c := range []handle{n.left, n.right} {
		if c == nilHandle {
			continue
		}
		if t.nodes[c].parent != h {
			return 0, errors.Newf("node %d has parent %d, want %d", c, t.nodes[c].parent, h)
		}
		if t.nodes[c].priority < n.priority {
			return 0, errors.Newf("node %d priority %d below parent %d priority %d",
				c, t.nodes[c].priority, h, n.priority)
		}
	}

	ls, err := t.check(n.left, lo, &n.key)
	if err != nil {
		return 0, err
	}
	rs, err := t.check(n.right, &n.key, hi)
	if err != nil {
		return 0, err
	}
	if n.size != 1+ls+rs {
		return 0, errors.Newf("node %d size %d, want %d", h, n.size, 1+ls+rs)
	}
	return n.size, nil
}
