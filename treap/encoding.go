package treap

import (
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"

	"github.com/a-poor/shardset/shard"
)

// ErrCorrupt is returned by UnmarshalBinary for snapshots that do not
// describe a valid arena.
var ErrCorrupt = errors.New("corrupt treap snapshot")

// wireNode is one arena slot in a snapshot. Child indices point into the
// snapshot's own node list, -1 meaning none. Keys are stored in their
// shard.EncodeKey form, which JSON carries as base64.
type wireNode struct {
	Key      []byte `json:"k"`
	Priority int32  `json:"p"`
	Left     int32  `json:"l"`
	Right    int32  `json:"r"`
	Size     uint32 `json:"s"`
}

type wireTreap struct {
	Root  int32      `json:"root"`
	Nodes []wireNode `json:"nodes"`
	Rand  []byte     `json:"rand,omitempty"` // PCG state
}

// MarshalBinary snapshots the treap as a compact, preorder arena plus the
// state of its random source.
func (t *Treap[K]) MarshalBinary() ([]byte, error) {
	w := wireTreap{
		Root:  -1,
		Nodes: make([]wireNode, 0, t.Size()),
	}
	if t.root != nilHandle {
		w.Root = t.snapshot(t.root, &w.Nodes)
	}

	// Save the random source
	r, err := t.src.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal treap random source")
	}
	w.Rand = r

	// Encode the snapshot
	b, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal treap")
	}
	return b, nil
}

func (t *Treap[K]) snapshot(h handle, out *[]wireNode) int32 {
	n := t.nodes[h]
	i := int32(len(*out))
	*out = append(*out, wireNode{
		Key:      shard.EncodeKey(n.key),
		Priority: n.priority,
		Left:     -1,
		Right:    -1,
		Size:     n.size,
	})

	if n.left != nilHandle {
		l := t.snapshot(n.left, out)
		(*out)[i].Left = l
	}
	if n.right != nilHandle {
		r := t.snapshot(n.right, out)
		(*out)[i].Right = r
	}
	return i
}

// UnmarshalBinary replaces the treap's contents with a snapshot. The result
// starts clean: it matches what is on disk. On error the treap is left
// unchanged.
func (t *Treap[K]) UnmarshalBinary(data []byte) error {
	var w wireTreap
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Mark(errors.Wrap(err, "failed to unmarshal treap"), ErrCorrupt)
	}

	// Check the indices before building anything from them
	count := int32(len(w.Nodes))
	if w.Root < -1 || w.Root >= count || (w.Root == -1) != (count == 0) {
		return errors.Wrapf(ErrCorrupt, "root %d out of range for %d nodes", w.Root, count)
	}
	for i, n := range w.Nodes {
		if n.Left < -1 || n.Left >= count || n.Right < -1 || n.Right >= count {
			return errors.Wrapf(ErrCorrupt, "node %d has a child out of range", i)
		}
	}

	// Build the new arena off to the side
	nt := &Treap[K]{
		nodes: make([]node[K], len(w.Nodes)),
		root:  handle(w.Root),
	}
	for i, n := range w.Nodes {
		k, err := shard.DecodeKey[K](n.Key)
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "node %d", i), ErrCorrupt)
		}
		if shard.Invalid(k) {
			return errors.Wrapf(ErrCorrupt, "node %d has an unordered key", i)
		}
		nt.nodes[i] = node[K]{
			key:      k,
			priority: n.Priority,
			left:     handle(n.Left),
			right:    handle(n.Right),
			parent:   nilHandle,
			size:     n.Size,
		}
		nt.keyBytes += keyExtra(k)
	}
	for i, n := range nt.nodes {
		for _, c := range []handle{n.left, n.right} {
			if c == nilHandle {
				continue
			}
			if nt.nodes[c].parent != nilHandle || c == nt.root {
				return errors.Wrapf(ErrCorrupt, "node %d is linked more than once", c)
			}
			nt.nodes[c].parent = handle(i)
		}
	}

	// Every node must hang off the root, in order
	if err := nt.Check(); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid treap snapshot"), ErrCorrupt)
	}
	if nt.Size() != len(nt.nodes) {
		return errors.Wrapf(ErrCorrupt, "%d of %d nodes reachable", nt.Size(), len(nt.nodes))
	}

	// Restore the random source, keeping the current one if the snapshot
	// has none
	src := t.src
	if len(w.Rand) > 0 {
		src = rand.NewPCG(0, 0)
		if err := src.UnmarshalBinary(w.Rand); err != nil {
			return errors.Mark(errors.Wrap(err, "failed to unmarshal treap random source"), ErrCorrupt)
		}
	} else if src == nil {
		src = rand.NewPCG(0, 0)
	}

	// Swap it in
	t.nodes, t.free, t.root, t.keyBytes = nt.nodes, nil, nt.root, nt.keyBytes
	t.src, t.rng = src, rand.New(src)
	t.dirty = false

	// Done
	return nil
}

// EachKey calls fn with the filter bytes of every key, in order.
func (t *Treap[K]) EachKey(fn func(key []byte)) {
	t.Ascend(func(k K) bool {
		fn(shard.KeyBytes(k))
		return true
	})
}
