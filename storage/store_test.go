package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T, compress bool) Store{
		"file": func(t *testing.T, compress bool) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "shards"), compress)
			require.NoError(t, err)
			return s
		},
		"mem": func(t *testing.T, compress bool) Store {
			return NewMemStore(compress)
		},
	}

	for name, newStore := range stores {
		for _, compress := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s compress=%t", name, compress), func(t *testing.T) {
				t.Run("should round trip a payload", func(t *testing.T) {
					s := newStore(t, compress)
					data := []byte(`{"hello":"world"}`)
					require.NoError(t, s.Save("a", data))

					got, err := s.Load("a")
					require.NoError(t, err)
					require.Equal(t, data, got)
				})

				t.Run("should replace a payload", func(t *testing.T) {
					s := newStore(t, compress)
					require.NoError(t, s.Save("a", []byte("one")))
					require.NoError(t, s.Save("a", []byte("two")))

					got, err := s.Load("a")
					require.NoError(t, err)
					require.Equal(t, []byte("two"), got)
				})

				t.Run("should report missing payloads", func(t *testing.T) {
					s := newStore(t, compress)
					_, err := s.Load("missing")
					require.True(t, errors.Is(err, ErrNotFound), "got %v", err)

					_, err = s.LoadFilter("missing")
					require.True(t, errors.Is(err, ErrNotFound), "got %v", err)
				})

				t.Run("should keep filters until the payload changes", func(t *testing.T) {
					s := newStore(t, compress)
					require.NoError(t, s.Save("a", []byte("one")))

					bf := bloom.NewWithEstimates(10, 0.01)
					bf.Add([]byte("key"))
					require.NoError(t, s.SaveFilter("a", bf))

					got, err := s.LoadFilter("a")
					require.NoError(t, err)
					require.True(t, got.Test([]byte("key")))

					require.NoError(t, s.Save("a", []byte("two")))
					_, err = s.LoadFilter("a")
					require.True(t, errors.Is(err, ErrNotFound), "got %v", err)
				})

				t.Run("should delete payloads and filters", func(t *testing.T) {
					s := newStore(t, compress)
					require.NoError(t, s.Save("a", []byte("one")))
					require.NoError(t, s.SaveFilter("a", bloom.NewWithEstimates(10, 0.01)))

					require.NoError(t, s.Delete("a"))
					_, err := s.Load("a")
					require.True(t, errors.Is(err, ErrNotFound))
					_, err = s.LoadFilter("a")
					require.True(t, errors.Is(err, ErrNotFound))

					// Deleting again is fine
					require.NoError(t, s.Delete("a"))
				})
			})
		}
	}
}

func TestFileStore(t *testing.T) {
	t.Run("should lay out one file per artifact", func(t *testing.T) {
		d := t.TempDir()
		s, err := NewFileStore(d, false)
		require.NoError(t, err)
		require.Equal(t, d, s.Dir())

		require.NoError(t, s.Save("abc", []byte("data")))
		require.NoError(t, s.SaveFilter("abc", bloom.NewWithEstimates(10, 0.01)))

		entries, err := os.ReadDir(d)
		require.NoError(t, err)
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		require.ElementsMatch(t, []string{"abc.data", "abc.bloom"}, names)
	})

	t.Run("should compress payloads", func(t *testing.T) {
		d := t.TempDir()
		s, err := NewFileStore(d, true)
		require.NoError(t, err)

		data := bytes.Repeat([]byte("shard-key-"), 1000)
		require.NoError(t, s.Save("a", data))

		fi, err := os.Stat(filepath.Join(d, "a.data"))
		require.NoError(t, err)
		require.Less(t, fi.Size(), int64(len(data)))

		got, err := s.Load("a")
		require.NoError(t, err)
		require.Equal(t, data, got)
	})

	t.Run("should reject corrupt compressed payloads", func(t *testing.T) {
		d := t.TempDir()
		s, err := NewFileStore(d, true)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(d, "a.data"), []byte("garbage"), 0644))

		_, err = s.Load("a")
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
	})

	t.Run("should reject corrupt filters", func(t *testing.T) {
		d := t.TempDir()
		s, err := NewFileStore(d, false)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(d, "a.bloom"), []byte("x"), 0644))

		_, err = s.LoadFilter("a")
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
	})

	t.Run("should reject invalid ids", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir(), false)
		require.NoError(t, err)

		require.True(t, errors.Is(s.Save("../x", nil), ErrInvalidID))
		_, err = s.Load("")
		require.True(t, errors.Is(err, ErrInvalidID))
		require.True(t, errors.Is(s.Delete("a/b"), ErrInvalidID))
	})
}
