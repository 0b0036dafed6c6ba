package shard

import "cmp"

// BoundKind says how a Bound limits a range.
type BoundKind uint8

const (
	Unbounded BoundKind = iota // No limit
	Included                   // The bound key is part of the range
	Excluded                   // The bound key is not part of the range
)

// Bound is one end of a key range.
type Bound[K cmp.Ordered] struct {
	Key  K
	Kind BoundKind
}

// Unbound returns a bound that does not limit the range.
func Unbound[K cmp.Ordered]() Bound[K] {
	return Bound[K]{}
}

// Include returns a bound that includes k.
func Include[K cmp.Ordered](k K) Bound[K] {
	return Bound[K]{Key: k, Kind: Included}
}

// Exclude returns a bound that excludes k.
func Exclude[K cmp.Ordered](k K) Bound[K] {
	return Bound[K]{Key: k, Kind: Excluded}
}

// IsUnbounded reports whether b leaves its end of the range open.
func (b Bound[K]) IsUnbounded() bool {
	return b.Kind == Unbounded
}

// Admits reports whether k lies on the inner side of b when b is used as
// the lower end of a range.
func (b Bound[K]) Admits(k K) bool {
	switch b.Kind {
	case Included:
		return k >= b.Key
	case Excluded:
		return k > b.Key
	default:
		return true
	}
}

// Before reports whether k lies on the inner side of b when b is used as
// the upper end of a range.
func (b Bound[K]) Before(k K) bool {
	switch b.Kind {
	case Included:
		return k <= b.Key
	case Excluded:
		return k < b.Key
	default:
		return true
	}
}

// PrefixBounds returns the range holding exactly the strings that start
// with prefix.
func PrefixBounds(prefix string) (from, to Bound[string]) {
	from = Include(prefix)
	if prefix == "" {
		return from, Unbound[string]()
	}

	// The upper bound is the prefix with its last non-0xff byte
	// incremented and everything after it dropped
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return from, Exclude(string(end[:i+1]))
		}
	}

	// All 0xff, nothing sorts after it with the same prefix
	return from, Unbound[string]()
}
