package shard

import (
	"cmp"
	"fmt"
)

// KeyBytes returns the byte form of k that is fed to membership filters.
// Equal keys always produce equal bytes.
func KeyBytes[K cmp.Ordered](k K) []byte {
	switch v := any(k).(type) {
	case string:
		return []byte(v)
	default:
		b := fmt.Append(nil, k)

		// Negative zero orders equal to zero
		if string(b) == "-0" {
			return []byte("0")
		}
		return b
	}
}
