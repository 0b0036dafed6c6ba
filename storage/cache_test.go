package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

// blob is a cache object with a fixed, settable footprint.
type blob struct {
	Keys   []string `json:"keys"`
	Weight uint64   `json:"weight"`
	dirty  bool
}

func newBlob(weight uint64, keys ...string) *blob {
	return &blob{Keys: keys, Weight: weight, dirty: true}
}

func (b *blob) ByteSize() uint64 { return b.Weight }
func (b *blob) Dirty() bool      { return b.dirty }
func (b *blob) MarkClean()       { b.dirty = false }
func (b *blob) Size() int        { return len(b.Keys) }

func (b *blob) MarshalBinary() ([]byte, error) {
	return json.Marshal(b)
}

func (b *blob) EachKey(fn func(key []byte)) {
	for _, k := range b.Keys {
		fn([]byte(k))
	}
}

func decodeBlob(data []byte) (*blob, error) {
	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// countingStore counts the calls that reach the wrapped store.
type countingStore struct {
	Store
	saves, loads, deletes int
}

func (s *countingStore) Save(id string, data []byte) error {
	s.saves++
	return s.Store.Save(id, data)
}

func (s *countingStore) Load(id string) ([]byte, error) {
	s.loads++
	return s.Store.Load(id)
}

func (s *countingStore) Delete(id string) error {
	s.deletes++
	return s.Store.Delete(id)
}

func newTestCache(t *testing.T, budget uint64) (*Cache[*blob], *countingStore) {
	t.Helper()
	store := &countingStore{Store: NewMemStore(false)}
	c, err := New(Config{MemoryBudget: budget}, store, decodeBlob)
	require.NoError(t, err)
	return c, store
}

func TestCache_Eviction(t *testing.T) {
	t.Run("should keep everything under budget", func(t *testing.T) {
		c, store := newTestCache(t, 1000)
		for i := 0; i < 5; i++ {
			require.NoError(t, c.Register(fmt.Sprint(i), newBlob(100)))
		}
		for i := 0; i < 5; i++ {
			_, err := c.Get(fmt.Sprint(i))
			require.NoError(t, err)
		}

		s := c.Stats()
		require.Equal(t, 5, s.Resident)
		require.Equal(t, uint64(500), s.ResidentBytes)
		require.Zero(t, s.Evictions)
		require.Zero(t, store.saves)
		require.Zero(t, store.loads)
	})

	t.Run("should evict the least recently used entry", func(t *testing.T) {
		c, store := newTestCache(t, 250)
		require.NoError(t, c.Register("a", newBlob(100, "x")))
		require.NoError(t, c.Register("b", newBlob(100, "y")))

		// Touch a so b becomes the oldest
		_, err := c.Get("a")
		require.NoError(t, err)
		require.NoError(t, c.Register("c", newBlob(100, "z")))

		require.True(t, c.Resident("a"))
		require.False(t, c.Resident("b"))
		require.True(t, c.Resident("c"))
		require.Equal(t, 1, store.saves)

		s := c.Stats()
		require.Equal(t, uint64(1), s.Evictions)
		require.Equal(t, uint64(1), s.Writes)
		require.Equal(t, uint64(200), s.ResidentBytes)
	})

	t.Run("should reload evicted entries", func(t *testing.T) {
		c, store := newTestCache(t, 250)
		require.NoError(t, c.Register("a", newBlob(100, "x", "y")))
		require.NoError(t, c.Register("b", newBlob(100)))
		require.NoError(t, c.Register("c", newBlob(100)))
		require.False(t, c.Resident("a"))

		a, err := c.Get("a")
		require.NoError(t, err)
		require.Equal(t, []string{"x", "y"}, a.Keys)
		require.False(t, a.Dirty())
		require.Equal(t, 1, store.loads)
		require.Equal(t, uint64(1), c.Stats().Loads)

		// b was the oldest and had never been written
		require.False(t, c.Resident("b"))
		require.Equal(t, 2, store.saves)
	})

	t.Run("should drop clean entries without writing", func(t *testing.T) {
		c, store := newTestCache(t, 250)
		require.NoError(t, c.Register("a", newBlob(100)))
		require.NoError(t, c.Register("b", newBlob(100)))
		require.NoError(t, c.Flush())
		require.Equal(t, 2, store.saves)

		require.NoError(t, c.Register("c", newBlob(100)))
		require.False(t, c.Resident("a"))
		require.Equal(t, 2, store.saves)
		require.Equal(t, uint64(1), c.Stats().Evictions)
	})

	t.Run("should write dirty entries on eviction", func(t *testing.T) {
		c, store := newTestCache(t, 250)
		require.NoError(t, c.Register("a", newBlob(100, "x")))
		require.NoError(t, c.Flush())

		a, err := c.Get("a")
		require.NoError(t, err)
		a.Keys = append(a.Keys, "y")
		a.dirty = true

		require.NoError(t, c.Register("b", newBlob(100)))
		require.NoError(t, c.Register("c", newBlob(100)))
		require.False(t, c.Resident("a"))
		require.Equal(t, 2, store.saves)

		a, err = c.Get("a")
		require.NoError(t, err)
		require.Equal(t, []string{"x", "y"}, a.Keys)
	})

	t.Run("should not evict pinned entries", func(t *testing.T) {
		c, _ := newTestCache(t, 250)
		c.Pin("a")
		require.NoError(t, c.Register("a", newBlob(100)))
		require.NoError(t, c.Register("b", newBlob(100)))
		require.NoError(t, c.Register("c", newBlob(100)))

		require.True(t, c.Resident("a"))
		require.False(t, c.Resident("b"))

		// Once unpinned it is fair game again. The skipped a went to the
		// front, so c goes first
		c.Unpin("a")
		require.NoError(t, c.Register("d", newBlob(100)))
		require.False(t, c.Resident("c"))
		require.True(t, c.Resident("a"))
		require.NoError(t, c.Register("e", newBlob(100)))
		require.False(t, c.Resident("a"))
	})

	t.Run("should nest pins", func(t *testing.T) {
		c, _ := newTestCache(t, 150)
		c.Pin("a")
		c.Pin("a")
		require.NoError(t, c.Register("a", newBlob(100)))
		c.Unpin("a")
		require.NoError(t, c.Register("b", newBlob(100)))
		require.True(t, c.Resident("a"))
	})

	t.Run("should not evict the entry being returned", func(t *testing.T) {
		c, _ := newTestCache(t, 50)
		require.NoError(t, c.Register("a", newBlob(100)))
		require.True(t, c.Resident("a"))

		require.NoError(t, c.Register("b", newBlob(100)))
		require.False(t, c.Resident("a"))
		require.True(t, c.Resident("b"))

		a, err := c.Get("a")
		require.NoError(t, err)
		require.NotNil(t, a)
		require.True(t, c.Resident("a"))
		require.False(t, c.Resident("b"))
	})

	t.Run("should re-measure borrowed entries", func(t *testing.T) {
		c, _ := newTestCache(t, 1000)
		require.NoError(t, c.Register("a", newBlob(100)))
		require.NoError(t, c.Register("b", newBlob(100)))

		a, err := c.Get("a")
		require.NoError(t, err)
		a.Weight = 300

		_, err = c.Get("b")
		require.NoError(t, err)
		require.Equal(t, uint64(400), c.Stats().ResidentBytes)
	})
}

func TestCache_Unregister(t *testing.T) {
	c, store := newTestCache(t, 1000)
	require.NoError(t, c.Register("a", newBlob(100)))
	require.NoError(t, c.Flush())

	require.NoError(t, c.Unregister("a"))
	require.False(t, c.Resident("a"))
	require.Equal(t, 1, store.deletes)
	require.Zero(t, c.Stats().ResidentBytes)

	_, err := c.Get("a")
	require.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestCache_Flush(t *testing.T) {
	c, store := newTestCache(t, 1000)
	require.NoError(t, c.Register("a", newBlob(100)))
	require.NoError(t, c.Register("b", newBlob(100)))
	require.NoError(t, c.Flush())
	require.Equal(t, 2, store.saves)

	// Nothing changed, nothing to write
	require.NoError(t, c.Flush())
	require.Equal(t, 2, store.saves)

	b, err := c.Get("b")
	require.NoError(t, err)
	b.dirty = true
	require.NoError(t, c.Flush())
	require.Equal(t, 3, store.saves)
}

func TestCache_Close(t *testing.T) {
	c, store := newTestCache(t, 1000)
	require.NoError(t, c.Register("a", newBlob(100)))

	require.NoError(t, c.Close())
	require.Equal(t, 1, store.saves)
	require.NoError(t, c.Close())

	_, err := c.Get("a")
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(c.Register("b", newBlob(1)), ErrClosed))
	require.True(t, errors.Is(c.Flush(), ErrClosed))
	require.True(t, errors.Is(c.Unregister("a"), ErrClosed))
}

func TestCache_MightContain(t *testing.T) {
	absent := []string{"q1", "q2", "q3", "q4", "q5", "q6", "q7", "q8", "q9", "q10"}
	anyRuledOut := func(c *Cache[*blob], id string) bool {
		for _, k := range absent {
			if !c.MightContain(id, []byte(k)) {
				return true
			}
		}
		return false
	}

	t.Run("should answer yes for resident entries", func(t *testing.T) {
		c, _ := newTestCache(t, 1000)
		require.NoError(t, c.Register("a", newBlob(100, "x")))
		require.False(t, anyRuledOut(c, "a"))
	})

	t.Run("should answer yes without a filter", func(t *testing.T) {
		c, _ := newTestCache(t, 1000)
		require.True(t, c.MightContain("unknown", []byte("x")))
	})

	t.Run("should rule keys out for evicted entries", func(t *testing.T) {
		c, store := newTestCache(t, 150)
		require.NoError(t, c.Register("a", newBlob(100, "x", "y")))
		require.NoError(t, c.Register("b", newBlob(100)))
		require.False(t, c.Resident("a"))

		require.True(t, c.MightContain("a", []byte("x")))
		require.True(t, c.MightContain("a", []byte("y")))
		require.True(t, anyRuledOut(c, "a"))
		require.Zero(t, store.loads)
	})

	t.Run("should use filters written by an earlier cache", func(t *testing.T) {
		d := t.TempDir()
		cfg := Config{Dir: d}

		c, err := Open(cfg, decodeBlob)
		require.NoError(t, err)
		require.NoError(t, c.Register("a", newBlob(100, "x")))
		require.NoError(t, c.Close())

		c, err = Open(cfg, decodeBlob)
		require.NoError(t, err)
		require.True(t, c.MightContain("a", []byte("x")))
		require.True(t, anyRuledOut(c, "a"))
	})
}

func TestCache_Persistence(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%t", compress), func(t *testing.T) {
			d := t.TempDir()
			cfg := Config{Dir: d, Compress: compress}

			c, err := Open(cfg, decodeBlob)
			require.NoError(t, err)
			require.NoError(t, c.Register("a", newBlob(100, "x", "y", "z")))
			require.NoError(t, c.Close())

			c, err = Open(cfg, decodeBlob)
			require.NoError(t, err)
			a, err := c.Get("a")
			require.NoError(t, err)
			require.Equal(t, []string{"x", "y", "z"}, a.Keys)
			require.NoError(t, c.Close())
		})
	}

	t.Run("should report corrupt artifacts", func(t *testing.T) {
		for _, compress := range []bool{false, true} {
			d := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(d, "a.data"), []byte("garbage"), 0644))

			c, err := Open(Config{Dir: d, Compress: compress}, decodeBlob)
			require.NoError(t, err)
			_, err = c.Get("a")
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrCorrupt), "compress=%t: %v", compress, err)
		}
	})

	t.Run("should require a dir", func(t *testing.T) {
		_, err := Open(Config{}, decodeBlob)
		require.Error(t, err)
	})
}
