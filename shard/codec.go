package shard

import (
	"cmp"
	"encoding/binary"
	"math"
	"reflect"

	"github.com/cockroachdb/errors"
)

// ErrBadKey is returned by DecodeKey for bytes that do not hold a key of
// the requested type.
var ErrBadKey = errors.New("bad encoded key")

// EncodeKey returns the exact byte form of k used when a shard or its
// boundaries are saved. Strings are their raw bytes, which need not be
// valid UTF-8. Numbers are 8 bytes big-endian; floats keep their full bit
// pattern, so infinities and negative zero survive.
func EncodeKey[K cmp.Ordered](k K) []byte {
	v := reflect.ValueOf(k)
	switch v.Kind() {
	case reflect.String:
		return []byte(v.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return binary.BigEndian.AppendUint64(nil, uint64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return binary.BigEndian.AppendUint64(nil, v.Uint())
	case reflect.Float32, reflect.Float64:
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(v.Float()))
	}
	panic("shard: unsupported key kind " + v.Kind().String())
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey[K cmp.Ordered](b []byte) (K, error) {
	var k K
	v := reflect.ValueOf(&k).Elem()
	if v.Kind() == reflect.String {
		v.SetString(string(b))
		return k, nil
	}

	if len(b) != 8 {
		return k, errors.Wrapf(ErrBadKey, "%d bytes for a %s key", len(b), v.Kind())
	}
	u := binary.BigEndian.Uint64(b)

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.OverflowInt(int64(u)) {
			return k, errors.Wrapf(ErrBadKey, "%d overflows %s", int64(u), v.Kind())
		}
		v.SetInt(int64(u))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if v.OverflowUint(u) {
			return k, errors.Wrapf(ErrBadKey, "%d overflows %s", u, v.Kind())
		}
		v.SetUint(u)
	default:
		f := math.Float64frombits(u)
		if v.Kind() == reflect.Float32 && float64(float32(f)) != f && f == f {
			return k, errors.Wrapf(ErrBadKey, "%v does not fit a float32", f)
		}
		v.SetFloat(f)
	}
	return k, nil
}
