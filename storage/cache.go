package storage

import (
	"log/slog"
	"math"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultFilterFPR is the false positive rate of the key filters kept for
// shards that are not resident.
const DefaultFilterFPR = 0.01

// Object is a value the cache can hold and spill to its store.
type Object interface {
	// ByteSize estimates the object's memory footprint. It is only an
	// estimate, so the budget is a soft bound.
	ByteSize() uint64

	// Dirty reports whether the object changed since it was persisted.
	Dirty() bool

	// MarkClean is called once the object has been persisted.
	MarkClean()

	MarshalBinary() ([]byte, error)
}

// Filterable objects get a bloom filter of their keys when they are
// persisted, which lets MightContain rule keys out without a load.
type Filterable interface {
	Size() int
	EachKey(fn func(key []byte))
}

// Decoder turns a loaded payload back into an object. The object it
// returns must report itself clean.
type Decoder[T Object] func(data []byte) (T, error)

// Stats are running counters for a cache.
type Stats struct {
	Resident      int    // Resident entries
	ResidentBytes uint64 // Sum of resident byte estimates
	Loads         uint64 // Misses served from the store
	Evictions     uint64 // Entries dropped from memory
	Writes        uint64 // Payloads written to the store
}

type entry[T Object] struct {
	obj       T
	bytes     uint64 // Byte estimate at the last refresh
	persisted bool   // Whether the store holds a copy of this object
}

// Cache holds objects by id, partly in memory and partly in a Store.
//
// Resident entries are kept in least-recently-used order. After every Get
// and Register, while the resident byte estimates exceed the budget, the
// least recently used entry is evicted: written to the store first if it
// is dirty, dropped without I/O if it is clean. The entry being returned
// and pinned entries are never evicted.
//
// Objects returned by Get are borrowed: the caller may mutate them until
// its next call into the cache, which re-measures them. A Cache is not
// safe for concurrent use.
type Cache[T Object] struct {
	store   Store
	decode  Decoder[T]
	budget  uint64
	log     *slog.Logger
	lru     *simplelru.LRU[string, *entry[T]]
	pinned  map[string]int
	filters map[string]*bloom.BloomFilter

	resident uint64
	last     string // Entry handed out by the previous call
	stats    Stats
	closed   bool
}

// New creates a cache over store.
func New[T Object](cfg Config, store Store, decode Decoder[T]) (*Cache[T], error) {
	lru, err := simplelru.NewLRU[string, *entry[T]](math.MaxInt, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create lru")
	}
	return &Cache[T]{
		store:   store,
		decode:  decode,
		budget:  cfg.budget(),
		log:     cfg.logger(),
		lru:     lru,
		pinned:  make(map[string]int),
		filters: make(map[string]*bloom.BloomFilter),
	}, nil
}

// Open creates a cache over a FileStore in cfg.Dir.
func Open[T Object](cfg Config, decode Decoder[T]) (*Cache[T], error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache dir is required")
	}
	store, err := NewFileStore(cfg.Dir, cfg.Compress)
	if err != nil {
		return nil, err
	}
	return New(cfg, store, decode)
}

// Register adds obj under id as a resident entry. The object is written to
// the store the first time it is evicted or flushed, dirty or not.
func (c *Cache[T]) Register(id string, obj T) error {
	if c.closed {
		return ErrClosed
	}
	c.refresh(c.last)

	// Replace any previous entry
	if old, ok := c.lru.Peek(id); ok {
		c.resident -= old.bytes
	}
	e := &entry[T]{obj: obj, bytes: obj.ByteSize()}
	c.lru.Add(id, e)
	c.resident += e.bytes
	delete(c.filters, id)

	c.last = id
	return c.evict(id)
}

// Get returns the object for id, loading it from the store on a miss.
func (c *Cache[T]) Get(id string) (T, error) {
	var zero T
	if c.closed {
		return zero, ErrClosed
	}
	c.refresh(c.last)

	// Hit
	if e, ok := c.lru.Get(id); ok {
		c.refresh(id)
		c.last = id
		if err := c.evict(id); err != nil {
			return zero, err
		}
		return e.obj, nil
	}

	// Miss, load it from the store
	b, err := c.store.Load(id)
	if err != nil {
		return zero, errors.Wrapf(err, "failed to load shard id=%q", id)
	}
	obj, err := c.decode(b)
	if err != nil {
		return zero, errors.Mark(errors.Wrapf(err, "failed to decode shard id=%q", id), ErrCorrupt)
	}
	obj.MarkClean()

	e := &entry[T]{obj: obj, bytes: obj.ByteSize(), persisted: true}
	c.lru.Add(id, e)
	c.resident += e.bytes
	c.stats.Loads++
	delete(c.filters, id)
	c.log.Debug("shard loaded", slog.String("id", id), slog.Uint64("bytes", e.bytes))

	c.last = id
	if err := c.evict(id); err != nil {
		return zero, err
	}
	return obj, nil
}

// Unregister drops id from the cache and deletes its artifacts.
func (c *Cache[T]) Unregister(id string) error {
	if c.closed {
		return ErrClosed
	}
	if e, ok := c.lru.Peek(id); ok {
		c.resident -= e.bytes
		c.lru.Remove(id)
	}
	delete(c.filters, id)
	delete(c.pinned, id)
	if c.last == id {
		c.last = ""
	}

	if err := c.store.Delete(id); err != nil {
		return errors.Wrapf(err, "failed to delete shard id=%q", id)
	}
	return nil
}

// Pin keeps id resident until a matching Unpin. Pins nest.
func (c *Cache[T]) Pin(id string) {
	c.pinned[id]++
}

// Unpin releases one Pin of id.
func (c *Cache[T]) Unpin(id string) {
	if c.pinned[id] <= 1 {
		delete(c.pinned, id)
		return
	}
	c.pinned[id]--
}

// Resident reports whether id is held in memory.
func (c *Cache[T]) Resident(id string) bool {
	return c.lru.Contains(id)
}

// MightContain reports whether the object for id might hold key, as
// encoded by the object's EachKey. Resident objects always might; for the
// others the filter written with their last persist decides. When there
// is no usable filter the answer is true.
func (c *Cache[T]) MightContain(id string, key []byte) bool {
	if c.closed || c.lru.Contains(id) {
		return true
	}

	bf, ok := c.filters[id]
	if !ok {
		var err error
		bf, err = c.store.LoadFilter(id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				c.log.Warn("failed to load shard filter", slog.String("id", id), slog.Any("error", err))
			}
			return true
		}
		c.filters[id] = bf
	}
	return bf.Test(key)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[T]) Stats() Stats {
	s := c.stats
	s.Resident = c.lru.Len()
	s.ResidentBytes = c.resident
	return s
}

// Flush writes every resident entry that is dirty or was never persisted.
func (c *Cache[T]) Flush() error {
	if c.closed {
		return ErrClosed
	}
	c.refresh(c.last)

	var errs error
	for _, id := range c.lru.Keys() {
		e, _ := c.lru.Peek(id)
		if e.persisted && !e.obj.Dirty() {
			continue
		}
		if _, err := c.persist(id, e); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// Close flushes the cache and releases it. Calling Close again is a no-op.
func (c *Cache[T]) Close() error {
	if c.closed {
		return nil
	}
	err := c.Flush()
	c.closed = true
	c.lru.Purge()
	c.filters = nil
	c.resident = 0
	return err
}

// refresh re-measures a resident entry that may have changed size.
func (c *Cache[T]) refresh(id string) {
	if id == "" {
		return
	}
	e, ok := c.lru.Peek(id)
	if !ok {
		return
	}
	nb := e.obj.ByteSize()
	c.resident = c.resident - e.bytes + nb
	e.bytes = nb
}

// evict drops least recently used entries until the resident estimate
// fits the budget, skipping keep and pinned entries.
func (c *Cache[T]) evict(keep string) error {
	for tries := c.lru.Len(); c.resident > c.budget && tries > 0; tries-- {
		id, e, ok := c.lru.GetOldest()
		if !ok {
			break
		}

		// Protected, move it to the front and look at the next one
		if id == keep || c.pinned[id] > 0 {
			c.lru.Get(id)
			continue
		}

		// Write it out if the store does not have this version
		var bf *bloom.BloomFilter
		if !e.persisted || e.obj.Dirty() {
			var err error
			if bf, err = c.persist(id, e); err != nil {
				return err
			}
		} else {
			bf = buildFilter(e.obj)
		}
		if bf != nil {
			c.filters[id] = bf
		}

		c.lru.Remove(id)
		c.resident -= e.bytes
		c.stats.Evictions++
		if c.last == id {
			c.last = ""
		}
		c.log.Debug("shard evicted",
			slog.String("id", id),
			slog.Uint64("bytes", e.bytes),
			slog.Uint64("resident", c.resident),
		)
	}
	return nil
}

// persist writes e and its key filter to the store and marks it clean.
func (c *Cache[T]) persist(id string, e *entry[T]) (*bloom.BloomFilter, error) {
	b, err := e.obj.MarshalBinary()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal shard id=%q", id)
	}
	if err := c.store.Save(id, b); err != nil {
		return nil, errors.Wrapf(err, "failed to save shard id=%q", id)
	}

	bf := buildFilter(e.obj)
	if bf != nil {
		if err := c.store.SaveFilter(id, bf); err != nil {
			return nil, errors.Wrapf(err, "failed to save shard id=%q filter", id)
		}
	}

	e.obj.MarkClean()
	e.persisted = true
	c.stats.Writes++
	return bf, nil
}

// buildFilter returns a bloom filter of obj's keys, or nil if obj does not
// expose them.
func buildFilter(obj any) *bloom.BloomFilter {
	f, ok := obj.(Filterable)
	if !ok {
		return nil
	}
	bf := bloom.NewWithEstimates(uint(max(f.Size(), 1)), DefaultFilterFPR)
	f.EachKey(func(key []byte) {
		bf.Add(key)
	})
	return bf
}
