package partition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundaryMap(t *testing.T) {
	m := newBoundaryMap[int]()
	for _, k := range []int{40, 10, 30, 20} {
		m.set(k, string(rune('a'+k/10)))
	}
	require.Equal(t, 4, m.len())

	tests := []struct {
		name    string
		fn      func(int) (boundary[int], bool)
		in      int
		wantKey int
		ok      bool
	}{
		{"floor exact", m.floor, 20, 20, true},
		{"floor between", m.floor, 25, 20, true},
		{"floor below", m.floor, 5, 0, false},
		{"before exact", m.before, 20, 10, true},
		{"before between", m.before, 25, 20, true},
		{"before first", m.before, 10, 0, false},
		{"after exact", func(k int) (boundary[int], bool) { return m.after(k, true) }, 20, 30, true},
		{"after between", func(k int) (boundary[int], bool) { return m.after(k, true) }, 25, 30, true},
		{"after last", func(k int) (boundary[int], bool) { return m.after(k, true) }, 40, 0, false},
		{"after unbounded", func(k int) (boundary[int], bool) { return m.after(k, false) }, 1000, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ok := tt.fn(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.wantKey, b.key)
				require.Equal(t, string(rune('a'+tt.wantKey/10)), b.id)
			}
		})
	}

	t.Run("should replace and delete", func(t *testing.T) {
		m := newBoundaryMap[int]()
		m.set(1, "a")
		m.set(1, "b")
		require.Equal(t, 1, m.len())
		b, ok := m.floor(1)
		require.True(t, ok)
		require.Equal(t, "b", b.id)

		m.delete(1)
		require.Equal(t, 0, m.len())
		_, ok = m.after(0, false)
		require.False(t, ok)
	})
}
