package pagetree

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt64RowsOrder(t *testing.T) {
	t.Parallel()

	p := Int64Rows()
	vals := []int64{math.MinInt64, -1 << 40, -2, -1, 0, 1, 2, 1 << 40, math.MaxInt64}

	enc := make([][]byte, len(vals))
	for i, v := range vals {
		enc[i] = make([]byte, p.RowSize)
		p.Encode(enc[i], v)
		assert.Equal(t, v, p.Extract(enc[i]))
	}

	// Encoded bytes sort like the values
	assert.True(t, sort.SliceIsSorted(enc, func(i, j int) bool {
		return string(enc[i]) < string(enc[j])
	}))
	for i := range vals {
		for j := range vals {
			want := 0
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			assert.Equal(t, want, p.Compare(enc[i], vals[j]))
		}
	}
}

func TestKVRows(t *testing.T) {
	t.Parallel()

	p := KVRows(8, 10)
	require.Equal(t, 20, p.RowSize)

	row := make([]byte, p.RowSize)
	p.Encode(row, KV{Key: []byte("abc"), Value: []byte("hello")})
	got := p.Extract(row)
	assert.Equal(t, "abc", string(got.Key))
	assert.Equal(t, "hello", string(got.Value))

	assert.Equal(t, 0, p.Compare(row, KV{Key: []byte("abc")}))
	assert.Equal(t, 1, p.Compare(row, KV{Key: []byte("ab")}))
	assert.Equal(t, -1, p.Compare(row, KV{Key: []byte("abd")}))
	assert.Equal(t, -1, p.Compare(row, KV{Key: []byte("abc\x01")}))

	// Separators hold only the key bytes
	assert.Equal(t, 0, p.Compare(row[:8], KV{Key: []byte("abc")}))

	// Oversized keys and values are truncated
	p.Encode(row, KV{Key: []byte("0123456789"), Value: []byte("0123456789abc")})
	got = p.Extract(row)
	assert.Equal(t, "01234567", string(got.Key))
	assert.Equal(t, "0123456789", string(got.Value))
}

func TestKVRowsTree(t *testing.T) {
	t.Parallel()

	mem := newMemory(t)
	tree, err := Create(mem, KVRows(16, 32), WithMaxPerPage(4))
	require.NoError(t, err)

	words := []string{"pear", "apple", "fig", "kiwi", "banana", "cherry", "date", "grape", "lemon", "mango"}
	for _, w := range words {
		_, _, err := tree.Put(KV{Key: []byte(w), Value: []byte("v-" + w)})
		require.NoError(t, err)
	}
	require.NoError(t, tree.ValidateTree())

	row, found, err := tree.FindOne(KV{Key: []byte("kiwi")})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v-kiwi", string(row.Value))

	lo, hi := KV{Key: []byte("c")}, KV{Key: []byte("g")}
	c, err := tree.Find(&lo, &hi)
	require.NoError(t, err)
	var got []string
	for c.Next() {
		got = append(got, string(c.Row().Key))
	}
	require.NoError(t, c.Err())
	assert.Equal(t, []string{"cherry", "date", "fig"}, got)
}
