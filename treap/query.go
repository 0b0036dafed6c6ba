package treap

// Get returns the key of rank i, where rank 0 is the smallest key.
func (t *Treap[K]) Get(i int) (K, bool) {
	var zero K
	if i < 0 || i >= t.Size() {
		return zero, false
	}

	h := t.root
	for h != nilHandle {
		ls := int(t.sizeOf(t.nodes[h].left))
		switch {
		case i < ls:
			h = t.nodes[h].left
		case i > ls:
			i -= ls + 1
			h = t.nodes[h].right
		default:
			return t.nodes[h].key, true
		}
	}
	return zero, false
}

// Floor returns the greatest key <= k.
func (t *Treap[K]) Floor(k K) (K, bool) {
	return t.keyOf(t.floorNode(k, true))
}

// Lower returns the greatest key < k.
func (t *Treap[K]) Lower(k K) (K, bool) {
	return t.keyOf(t.floorNode(k, false))
}

// Ceiling returns the least key >= k.
func (t *Treap[K]) Ceiling(k K) (K, bool) {
	return t.keyOf(t.ceilingNode(k, true))
}

// Higher returns the least key > k.
func (t *Treap[K]) Higher(k K) (K, bool) {
	return t.keyOf(t.ceilingNode(k, false))
}

// First returns the smallest key.
func (t *Treap[K]) First() (K, bool) {
	return t.keyOf(t.firstNode())
}

// Last returns the largest key.
func (t *Treap[K]) Last() (K, bool) {
	h := t.root
	for h != nilHandle && t.nodes[h].right != nilHandle {
		h = t.nodes[h].right
	}
	return t.keyOf(h)
}

func (t *Treap[K]) keyOf(h handle) (K, bool) {
	if h == nilHandle {
		var zero K
		return zero, false
	}
	return t.nodes[h].key, true
}

func (t *Treap[K]) firstNode() handle {
	h := t.root
	for h != nilHandle && t.nodes[h].left != nilHandle {
		h = t.nodes[h].left
	}
	return h
}

// floorNode tracks the last node visited whose key is below k (or equal,
// with inclusive).
func (t *Treap[K]) floorNode(k K, inclusive bool) handle {
	best := nilHandle
	h := t.root
	for h != nilHandle {
		n := &t.nodes[h]
		if inclusive && n.key == k {
			return h
		}
		if n.key < k {
			best = h
			h = n.right
		} else {
			h = n.left
		}
	}
	return best
}

func (t *Treap[K]) ceilingNode(k K, inclusive bool) handle {
	best := nilHandle
	h := t.root
	for h != nilHandle {
		n := &t.nodes[h]
		if inclusive && n.key == k {
			return h
		}
		if n.key > k {
			best = h
			h = n.left
		} else {
			h = n.right
		}
	}
	return best
}

// LocateMiddleValue picks the split key that leaves floor(n/2) keys below
// it, found by descending from the root on subtree sizes. For n >= 2 that
// is never the smallest key, so both sides of the split are non-empty, and
// the low side is never the larger one.
func (t *Treap[K]) LocateMiddleValue() (K, bool) {
	n := t.Size()
	if n < 2 {
		var zero K
		return zero, false
	}
	return t.Get(n / 2)
}

// Ascend calls fn on every key in order until fn returns false.
func (t *Treap[K]) Ascend(fn func(k K) bool) {
	var stack []handle
	h := t.root
	for h != nilHandle || len(stack) > 0 {
		for h != nilHandle {
			stack = append(stack, h)
			h = t.nodes[h].left
		}
		h = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(t.nodes[h].key) {
			return
		}
		h = t.nodes[h].right
	}
}
