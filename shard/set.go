// Package shard defines the splittable-set contract shared by every shard
// engine, along with the range bounds and iterators used to scan them.
//
// A Set holds one contiguous slice of a larger ordered key space. The
// partition manager only ever talks to shards through this interface, so a
// different engine (a trie, a skip list, a sorted slice) can be dropped in
// without touching the manager or the object cache.
package shard

import (
	"cmp"
	"encoding"
)

// Set is an ordered set of keys that can be split at a key and merged with
// a set holding strictly greater keys.
type Set[K cmp.Ordered] interface {
	// Add inserts k. It returns false if k was already present.
	Add(k K) bool

	// Remove deletes k. It returns false if k was absent.
	Remove(k K) bool

	// Contains reports whether k is present.
	Contains(k K) bool

	// Size returns the number of keys in the set.
	Size() int

	// Get returns the key of rank i (0 is the smallest).
	Get(i int) (K, bool)

	// Floor returns the greatest key <= k.
	Floor(k K) (K, bool)

	// Ceiling returns the least key >= k.
	Ceiling(k K) (K, bool)

	// Lower returns the greatest key < k.
	Lower(k K) (K, bool)

	// Higher returns the least key > k.
	Higher(k K) (K, bool)

	// First returns the smallest key.
	First() (K, bool)

	// Last returns the largest key.
	Last() (K, bool)

	// Iterator scans the keys within [from, to) in ascending order.
	Iterator(from, to Bound[K]) Iterator[K]

	// Split moves every key >= k into a new set of the same concrete type
	// and returns it. Keys < k stay in the receiver.
	Split(k K) Set[K]

	// Merge moves every key of other into the receiver. It requires every
	// key of other to be greater than every key of the receiver; when that
	// does not hold it returns false and neither set is changed.
	Merge(other Set[K]) bool

	// LocateMiddleValue picks a split key that divides the set into two
	// roughly equal halves. It returns false for sets smaller than two.
	LocateMiddleValue() (K, bool)

	// NewSet returns an empty set of the same concrete type.
	NewSet() Set[K]

	// ByteSize estimates the in-memory footprint of the set.
	ByteSize() uint64

	// Dirty reports whether the set changed since it was last persisted.
	Dirty() bool

	// MarkClean clears the dirty flag after a successful persist.
	MarkClean()

	// EachKey calls fn with the KeyBytes form of every key.
	EachKey(fn func(key []byte))

	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Iterator walks keys in ascending order.
//
//	it := s.Iterator(shard.Unbound[string](), shard.Unbound[string]())
//	for it.Next() {
//		fmt.Println(it.Key())
//	}
type Iterator[K cmp.Ordered] interface {
	// Next advances to the next key and reports whether there is one.
	Next() bool

	// Key returns the key the iterator is positioned on.
	Key() K

	// Remove deletes the current key from the underlying set. The
	// iterator stays valid and the next call to Next continues with the
	// key that followed it.
	Remove() bool
}

// Invalid reports whether k cannot take part in an ordering. Only NaN
// floating point values are invalid.
func Invalid[K cmp.Ordered](k K) bool {
	return k != k
}
