package partition

import (
	"cmp"
	"log/slog"
	"math/rand/v2"

	"github.com/cockroachdb/errors"

	"github.com/a-poor/shardset/shard"
	"github.com/a-poor/shardset/storage"
	"github.com/a-poor/shardset/treap"
)

// Manager is an ordered set split across shards that live in an object
// cache, so it can grow past memory.
//
// Every key is routed to the shard whose boundary is the greatest one at or
// below the key. A shard that grows past MaxShardSize is split near its
// median; one that shrinks to the merge threshold is merged with its
// smaller neighbor. A Manager is not safe for concurrent use.
type Manager[K cmp.Ordered] struct {
	cfg     Config
	proto   shard.Set[K]
	cache   *storage.Cache[shard.Set[K]]
	bounds  *boundaryMap[K]
	lowest  string // Shard below the first boundary
	size    uint64
	maxSize int
	mergeAt int
	log     *slog.Logger
	closed  bool
}

// Open opens the set stored in cfg.Dir, or creates an empty one. New
// shards are created with proto.NewSet, and loaded shards are decoded into
// such sets, so every shard has proto's concrete type.
func Open[K cmp.Ordered](cfg Config, proto shard.Set[K]) (*Manager[K], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if proto == nil {
		return nil, errors.New("a shard prototype is required")
	}

	m := &Manager[K]{
		cfg:     cfg,
		proto:   proto,
		bounds:  newBoundaryMap[K](),
		maxSize: cfg.maxShardSize(),
		mergeAt: cfg.mergeThreshold(),
		log:     cfg.logger(),
	}

	// Open the cache, decoding shards into sets of the prototype's type
	cache, err := storage.Open[shard.Set[K]](cfg.Config, func(b []byte) (shard.Set[K], error) {
		s := proto.NewSet()
		if err := s.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	m.cache = cache

	// Restore the boundaries if the set exists on disk
	meta, ok, err := readMeta[K](cfg.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open set in %q", cfg.Dir)
	}
	if ok {
		m.lowest = meta.Lowest
		m.size = meta.Size
		for _, b := range meta.Boundaries {
			m.bounds.set(b.Key, b.ID)
		}
		m.log.Debug("set reopened",
			slog.String("dir", cfg.Dir),
			slog.Uint64("size", m.size),
			slog.Int("shards", m.Shards()),
		)
		return m, nil
	}

	// Otherwise start with one shard covering every key
	id, err := storage.NewShardID()
	if err != nil {
		return nil, err
	}
	if err := m.cache.Register(id, proto.NewSet()); err != nil {
		return nil, err
	}
	m.lowest = id
	return m, nil
}

// OpenDefault opens a set whose shards are treaps.
func OpenDefault[K cmp.Ordered](cfg Config) (*Manager[K], error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return Open[K](cfg, treap.NewSeeded[K](seed))
}

// Add inserts k. It reports false if k was already present.
func (m *Manager[K]) Add(k K) (bool, error) {
	if err := m.checkKey(k); err != nil {
		return false, err
	}

	id, _, _ := m.owner(k)
	s, err := m.cache.Get(id)
	if err != nil {
		return false, err
	}
	if !s.Add(k) {
		return false, nil
	}
	m.size++

	if s.Size() > m.maxSize {
		if err := m.split(id, s); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Remove deletes k. It reports false if k was absent.
func (m *Manager[K]) Remove(k K) (bool, error) {
	if err := m.checkKey(k); err != nil {
		return false, err
	}

	id, b, bounded := m.owner(k)
	s, err := m.cache.Get(id)
	if err != nil {
		return false, err
	}
	if !s.Remove(k) {
		return false, nil
	}
	m.size--

	if m.mergeAt >= 0 && s.Size() <= m.mergeAt && m.bounds.len() > 0 {
		if err := m.merge(id, s, b.key, bounded); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Contains reports whether k is in the set. Shards that are not resident
// are only loaded when their key filter cannot rule k out.
func (m *Manager[K]) Contains(k K) (bool, error) {
	if err := m.checkKey(k); err != nil {
		return false, err
	}

	id, _, _ := m.owner(k)
	if !m.cache.MightContain(id, shard.KeyBytes(k)) {
		return false, nil
	}
	s, err := m.cache.Get(id)
	if err != nil {
		return false, err
	}
	return s.Contains(k), nil
}

// Size returns the number of keys in the set.
func (m *Manager[K]) Size() uint64 {
	return m.size
}

// Shards returns the number of shards.
func (m *Manager[K]) Shards() int {
	return m.bounds.len() + 1
}

// Boundaries returns the shard boundaries in ascending order.
func (m *Manager[K]) Boundaries() []K {
	keys := make([]K, 0, m.bounds.len())
	m.bounds.ascend(func(b boundary[K]) bool {
		keys = append(keys, b.key)
		return true
	})
	return keys
}

// Floor returns the greatest key <= k.
func (m *Manager[K]) Floor(k K) (K, bool, error) {
	return m.descend(k, true)
}

// Lower returns the greatest key < k.
func (m *Manager[K]) Lower(k K) (K, bool, error) {
	return m.descend(k, false)
}

// Ceiling returns the least key >= k.
func (m *Manager[K]) Ceiling(k K) (K, bool, error) {
	return m.first(shard.Include(k))
}

// Higher returns the least key > k.
func (m *Manager[K]) Higher(k K) (K, bool, error) {
	return m.first(shard.Exclude(k))
}

// CacheStats returns the counters of the underlying object cache.
func (m *Manager[K]) CacheStats() storage.Stats {
	return m.cache.Stats()
}

// Sync writes every changed shard and the boundary map to disk without
// closing the set.
func (m *Manager[K]) Sync() error {
	if m.closed {
		return ErrClosed
	}
	if err := m.cache.Flush(); err != nil {
		return err
	}
	return writeMeta(m.cfg.Dir, m.meta())
}

// Close writes every changed shard and the boundary map to disk. Calling
// Close again is a no-op.
func (m *Manager[K]) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	if err := m.cache.Close(); err != nil {
		return errors.Wrap(err, "failed to flush shards")
	}
	return writeMeta(m.cfg.Dir, m.meta())
}

func (m *Manager[K]) meta() Meta[K] {
	meta := Meta[K]{
		Lowest:       m.lowest,
		Size:         m.size,
		MaxShardSize: m.maxSize,
		Boundaries:   make([]BoundaryMeta[K], 0, m.bounds.len()),
	}
	m.bounds.ascend(func(b boundary[K]) bool {
		meta.Boundaries = append(meta.Boundaries, BoundaryMeta[K]{Key: b.key, ID: b.id})
		return true
	})
	return meta
}

func (m *Manager[K]) checkKey(k K) error {
	if m.closed {
		return ErrClosed
	}
	if shard.Invalid(k) {
		return errors.Wrapf(ErrInvalidKey, "key %v", k)
	}
	return nil
}

// owner resolves the shard holding k, along with its boundary. bounded is
// false for the lowest shard, which has none.
func (m *Manager[K]) owner(k K) (id string, b boundary[K], bounded bool) {
	if b, ok := m.bounds.floor(k); ok {
		return b.id, b, true
	}
	return m.lowest, boundary[K]{}, false
}

// shardBefore returns the shard just below the boundary at k.
func (m *Manager[K]) shardBefore(k K) (string, boundary[K], bool) {
	if b, ok := m.bounds.before(k); ok {
		return b.id, b, true
	}
	return m.lowest, boundary[K]{}, false
}

// split divides s, the shard id, near its median and registers the upper
// half as a new shard.
func (m *Manager[K]) split(id string, s shard.Set[K]) error {
	mid, ok := s.LocateMiddleValue()
	if !ok {
		return nil
	}

	m.cache.Pin(id)
	defer m.cache.Unpin(id)

	high := s.Split(mid)
	newID, err := storage.NewShardID()
	if err != nil {
		return err
	}
	m.bounds.set(mid, newID)
	if err := m.cache.Register(newID, high); err != nil {
		return errors.Wrapf(err, "failed to register split shard id=%q", newID)
	}

	m.log.Debug("shard split",
		slog.String("id", id),
		slog.String("new_id", newID),
		slog.Any("boundary", mid),
		slog.Int("low_size", s.Size()),
		slog.Int("high_size", high.Size()),
	)
	return nil
}

// merge folds the underflowing shard id into a neighbor, or a neighbor
// into it, whichever neighbor holds fewer keys. lo is the shard's boundary
// when bounded is set.
func (m *Manager[K]) merge(id string, s shard.Set[K], lo K, bounded bool) error {
	m.cache.Pin(id)
	defer m.cache.Unpin(id)

	// Find the neighbors
	var (
		prevID, nextID string
		prev, next     shard.Set[K]
		nextB          boundary[K]
		err            error
	)
	if bounded {
		prevID, _, _ = m.shardBefore(lo)
		m.cache.Pin(prevID)
		defer m.cache.Unpin(prevID)
		if prev, err = m.cache.Get(prevID); err != nil {
			return err
		}
	}
	if b, ok := m.bounds.after(lo, bounded); ok {
		nextID, nextB = b.id, b
		m.cache.Pin(nextID)
		defer m.cache.Unpin(nextID)
		if next, err = m.cache.Get(nextID); err != nil {
			return err
		}
	}

	// Merge with the smaller one, the lower one on ties
	var (
		survivorID, absorbedID string
		survivor               shard.Set[K]
		dropped                K
	)
	switch {
	case prev != nil && (next == nil || prev.Size() <= next.Size()):
		if !prev.Merge(s) {
			return errors.Wrapf(ErrBrokenPartition, "shards id=%q and id=%q", prevID, id)
		}
		survivorID, absorbedID, survivor, dropped = prevID, id, prev, lo
	case next != nil:
		if !s.Merge(next) {
			return errors.Wrapf(ErrBrokenPartition, "shards id=%q and id=%q", id, nextID)
		}
		survivorID, absorbedID, survivor, dropped = id, nextID, s, nextB.key
	default:
		return nil
	}

	// Drop the absorbed shard
	m.bounds.delete(dropped)
	if err := m.cache.Unregister(absorbedID); err != nil {
		return err
	}
	m.log.Debug("shard merged",
		slog.String("id", survivorID),
		slog.String("absorbed_id", absorbedID),
		slog.Int("size", survivor.Size()),
	)

	// Re-measure the survivor, which may now be too big
	if _, err := m.cache.Get(survivorID); err != nil {
		return err
	}
	if survivor.Size() > m.maxSize {
		return m.split(survivorID, survivor)
	}
	return nil
}

// descend finds the greatest key below k (or equal, with inclusive),
// walking down through lower shards while they come up empty.
func (m *Manager[K]) descend(k K, inclusive bool) (K, bool, error) {
	var zero K
	if err := m.checkKey(k); err != nil {
		return zero, false, err
	}

	id, b, bounded := m.owner(k)
	s, err := m.cache.Get(id)
	if err != nil {
		return zero, false, err
	}
	var (
		v  K
		ok bool
	)
	if inclusive {
		v, ok = s.Floor(k)
	} else {
		v, ok = s.Lower(k)
	}

	for !ok && bounded {
		id, b, bounded = m.shardBefore(b.key)
		if s, err = m.cache.Get(id); err != nil {
			return zero, false, err
		}
		v, ok = s.Last()
	}
	return v, ok, nil
}

func (m *Manager[K]) first(from shard.Bound[K]) (K, bool, error) {
	var zero K
	if err := m.checkKey(from.Key); err != nil {
		return zero, false, err
	}

	it := m.Iterator(from, shard.Unbound[K]())
	if it.Next() {
		return it.Key(), true, nil
	}
	return zero, false, it.Err()
}

// Check loads every shard and verifies that the boundaries are strictly
// increasing, that every key lies in its shard's range, that no shard is
// over the split threshold, and that the shard sizes add up to Size.
func (m *Manager[K]) Check() error {
	if m.closed {
		return ErrClosed
	}

	type span struct {
		id      string
		lo      boundary[K]
		bounded bool
	}
	spans := []span{{id: m.lowest}}
	m.bounds.ascend(func(b boundary[K]) bool {
		spans = append(spans, span{id: b.id, lo: b, bounded: true})
		return true
	})

	var total uint64
	for i, sp := range spans {
		if i > 1 && !(spans[i-1].lo.key < sp.lo.key) {
			return errors.Wrapf(ErrBrokenPartition, "boundary %v not above %v", sp.lo.key, spans[i-1].lo.key)
		}
		s, err := m.cache.Get(sp.id)
		if err != nil {
			return err
		}
		if s.Size() > m.maxSize {
			return errors.Newf("shard id=%q holds %d keys, max is %d", sp.id, s.Size(), m.maxSize)
		}
		if first, ok := s.First(); ok && sp.bounded && first < sp.lo.key {
			return errors.Wrapf(ErrBrokenPartition, "shard id=%q key %v below boundary %v", sp.id, first, sp.lo.key)
		}
		if last, ok := s.Last(); ok && i+1 < len(spans) && last >= spans[i+1].lo.key {
			return errors.Wrapf(ErrBrokenPartition, "shard id=%q key %v not below next boundary %v", sp.id, last, spans[i+1].lo.key)
		}
		total += uint64(s.Size())
	}
	if total != m.size {
		return errors.Newf("shards hold %d keys, size is %d", total, m.size)
	}
	return nil
}
