package pagetree

import (
	"bytes"
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/pagetree/internal/pageio"
	"github.com/alexhholmes/pagetree/pagemem"
	"github.com/alexhholmes/pagetree/reuse"
)

var slow = flag.Bool("slow", false, "run slow tests")

const testPageSize = 512

func newMemory(t testing.TB, opts ...pagemem.Option) *pagemem.Memory {
	t.Helper()

	mem, err := pagemem.New(append([]pagemem.Option{pagemem.WithPageSize(testPageSize)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	return mem
}

func setup(t testing.TB, opts ...Option) (*pagemem.Memory, *Tree[int64]) {
	t.Helper()

	mem := newMemory(t)
	tree, err := Create(mem, Int64Rows(), opts...)
	require.NoError(t, err)
	return mem, tree
}

// setupReuse builds a tree whose freed pages go through a reuse list.
func setupReuse(t testing.TB, opts ...Option) (*pagemem.Memory, *Tree[int64], *reuse.List) {
	t.Helper()

	mem := newMemory(t)
	list, err := reuse.Create(mem, 0)
	require.NoError(t, err)
	tree, err := Create(mem, Int64Rows(), append(opts, WithReuseList(list))...)
	require.NoError(t, err)
	return mem, tree, list
}

func put(t testing.TB, tree *Tree[int64], v int64) {
	t.Helper()
	_, _, err := tree.Put(v)
	require.NoError(t, err)
}

func collect(t testing.TB, tree *Tree[int64], lower, upper *int64) []int64 {
	t.Helper()

	c, err := tree.Find(lower, upper)
	require.NoError(t, err)
	var rows []int64
	for c.Next() {
		rows = append(rows, c.Row())
	}
	require.NoError(t, c.Err())
	return rows
}

func keys(lo, hi int64) []int64 {
	var out []int64
	for k := lo; k < hi; k++ {
		out = append(out, k)
	}
	return out
}

func TestTreeBasicOps(t *testing.T) {
	t.Parallel()

	mem, tree := setup(t)

	_, found, err := tree.FindOne(1)
	require.NoError(t, err)
	assert.False(t, found)

	old, replaced, err := tree.Put(1)
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Zero(t, old)

	row, found, err := tree.FindOne(1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), row)

	// Same key again replaces
	old, replaced, err = tree.Put(1)
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, int64(1), old)

	n, err := tree.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, found, err = tree.Remove(1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), old)

	// Removing an absent key is not an error
	_, found, err = tree.Remove(1)
	require.NoError(t, err)
	assert.False(t, found)

	n, err = tree.Size()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(0), mem.AcquiredPages())
}

func TestTreeNegativeKeys(t *testing.T) {
	t.Parallel()

	_, tree := setup(t, WithMaxPerPage(3))

	for _, v := range []int64{5, -3, 0, -100, 42, -1, 7} {
		put(t, tree, v)
	}
	assert.Equal(t, []int64{-100, -3, -1, 0, 5, 7, 42}, collect(t, tree, nil, nil))
	require.NoError(t, tree.ValidateTree())
}

// TestTreePutRemoveCombos inserts and removes CNT keys in direct and reverse
// order at tiny page capacities, validating the whole tree after each step.
func TestTreePutRemoveCombos(t *testing.T) {
	t.Parallel()

	for _, maxPerPage := range []int{1, 2, 3} {
		for _, cnt := range []int64{20, 40, 60} {
			for _, innerRows := range []bool{false, true} {
				for _, putReverse := range []bool{false, true} {
					for _, removeReverse := range []bool{false, true} {
						name := fmt.Sprintf("max=%d/cnt=%d/innerRows=%t/putReverse=%t/removeReverse=%t",
							maxPerPage, cnt, innerRows, putReverse, removeReverse)
						t.Run(name, func(t *testing.T) {
							t.Parallel()
							runPutRemove(t, maxPerPage, cnt, innerRows, putReverse, removeReverse)
						})
					}
				}
			}
		}
	}
}

func runPutRemove(t *testing.T, maxPerPage int, cnt int64, innerRows, putReverse, removeReverse bool) {
	opts := []Option{WithMaxPerPage(maxPerPage)}
	if innerRows {
		opts = append(opts, WithInnerRows())
	}
	mem, tree := setup(t, opts...)

	order := func(reverse bool) []int64 {
		ks := keys(0, cnt)
		if reverse {
			for i, j := 0, len(ks)-1; i < j; i, j = i+1, j-1 {
				ks[i], ks[j] = ks[j], ks[i]
			}
		}
		return ks
	}

	for _, k := range order(putReverse) {
		put(t, tree, k)
		require.NoError(t, tree.ValidateTree(), "after put %d", k)
	}
	level, err := tree.RootLevel()
	require.NoError(t, err)
	assert.Positive(t, level)

	for k := int64(0); k < cnt; k++ {
		row, found, err := tree.FindOne(k)
		require.NoError(t, err)
		require.True(t, found, "key %d", k)
		assert.Equal(t, k, row)
	}
	_, found, err := tree.FindOne(cnt)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, keys(0, cnt), collect(t, tree, nil, nil))

	for i, k := range order(removeReverse) {
		old, found, err := tree.Remove(k)
		require.NoError(t, err)
		require.True(t, found, "key %d", k)
		assert.Equal(t, k, old)
		require.NoError(t, tree.ValidateTree(), "after remove %d", k)

		n, err := tree.Size()
		require.NoError(t, err)
		require.Equal(t, int(cnt)-i-1, n)
	}

	level, err = tree.RootLevel()
	require.NoError(t, err)
	assert.Zero(t, level)
	assert.Equal(t, int64(0), mem.AcquiredPages())
}

func TestTreeRemoveMiddleOut(t *testing.T) {
	t.Parallel()

	_, tree := setup(t, WithMaxPerPage(2))

	const cnt = 100
	for k := int64(0); k < cnt; k++ {
		put(t, tree, k)
	}

	// Alternate between both ends of the middle so merges go left and right
	for lo, hi := int64(cnt/2-1), int64(cnt/2); lo >= 0; lo, hi = lo-1, hi+1 {
		_, found, err := tree.Remove(lo)
		require.NoError(t, err)
		require.True(t, found)
		_, found, err = tree.Remove(hi)
		require.NoError(t, err)
		require.True(t, found)
		require.NoError(t, tree.ValidateTree())
	}
	n, err := tree.Size()
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestTreeRandomPutRemove runs random puts and removes against google/btree
// as the reference ordered map.
func TestTreeRandomPutRemove(t *testing.T) {
	t.Parallel()

	ops, keyRange := 20_000, int64(2_000)
	if *slow {
		ops, keyRange = 1_000_000, 50_000
	}

	for _, innerRows := range []bool{false, true} {
		t.Run(fmt.Sprintf("innerRows=%t", innerRows), func(t *testing.T) {
			t.Parallel()

			opts := []Option{WithMaxPerPage(5)}
			if innerRows {
				opts = append(opts, WithInnerRows())
			}
			mem, tree, _ := setupReuse(t, opts...)
			ref := btree.NewG(32, func(a, b int64) bool { return a < b })
			rng := rand.New(rand.NewSource(int64(ops)))

			// Pages outside the tree and the list: the meta page and the
			// list anchor.
			const fixed = 2
			var peakLive, warm uint64

			for i := 0; i < ops; i++ {
				k := rng.Int63n(keyRange)
				if rng.Intn(2) == 0 {
					_, replaced, err := tree.Put(k)
					require.NoError(t, err)
					_, had := ref.ReplaceOrInsert(k)
					require.Equal(t, had, replaced, "put %d", k)
				} else {
					_, found, err := tree.Remove(k)
					require.NoError(t, err)
					_, had := ref.Delete(k)
					require.Equal(t, had, found, "remove %d", k)

					_, found, err = tree.Remove(k)
					require.NoError(t, err)
					require.False(t, found, "second remove %d", k)
				}

				// Fresh pages are only allocated while the list is empty, so
				// page memory never exceeds the peak of pages in use.
				allocated := mem.Stats().Allocated
				recycled := uint64(tree.RecycledPages())
				peakLive = max(peakLive, allocated-fixed-recycled)
				require.LessOrEqual(t, allocated, peakLive+fixed, "op %d", i)
				require.LessOrEqual(t, recycled, peakLive, "op %d", i)
				if i == ops/2 {
					warm = allocated
				}

				if i%1000 == 0 {
					require.NoError(t, tree.ValidateTree())
				}
			}
			require.NoError(t, tree.ValidateTree())

			// Once the row count settles, page memory levels off
			assert.LessOrEqual(t, mem.Stats().Allocated, warm+warm/5)

			var want []int64
			ref.Ascend(func(k int64) bool {
				want = append(want, k)
				return true
			})
			assert.Equal(t, want, collect(t, tree, nil, nil))

			assert.Equal(t, int64(0), mem.AcquiredPages())
		})
	}
}

func TestTreeReusesFreedPages(t *testing.T) {
	t.Parallel()

	mem, tree, _ := setupReuse(t, WithMaxPerPage(3))

	for k := int64(0); k < 300; k++ {
		put(t, tree, k)
	}
	allocated := mem.Stats().Allocated

	for round := 0; round < 5; round++ {
		for k := int64(0); k < 300; k++ {
			_, _, err := tree.Remove(k)
			require.NoError(t, err)
		}
		assert.Positive(t, tree.RecycledPages())
		for k := int64(0); k < 300; k++ {
			put(t, tree, k)
		}
		require.NoError(t, tree.ValidateTree())
	}

	// Refilling draws from the reuse list, so page memory barely grows
	assert.LessOrEqual(t, mem.Stats().Allocated, allocated+10)
}

func TestTreeInnerRowsServeFindOne(t *testing.T) {
	t.Parallel()

	mem := newMemory(t)
	tree, err := Create(mem, KVRows(8, 16), WithMaxPerPage(2), WithInnerRows())
	require.NoError(t, err)

	key := func(i int) []byte { return []byte(fmt.Sprintf("k%05d", i)) }
	for i := 0; i < 50; i++ {
		_, _, err := tree.Put(KV{Key: key(i), Value: []byte("old")})
		require.NoError(t, err)
	}

	// Every key is replaced, including those mirrored in inner pages
	for i := 0; i < 50; i++ {
		old, replaced, err := tree.Put(KV{Key: key(i), Value: []byte(fmt.Sprintf("new%d", i))})
		require.NoError(t, err)
		require.True(t, replaced)
		assert.Equal(t, "old", string(old.Value))
	}
	require.NoError(t, tree.ValidateTree())

	for i := 0; i < 50; i++ {
		row, found, err := tree.FindOne(KV{Key: key(i)})
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, fmt.Sprintf("new%d", i), string(row.Value), "key %s", key(i))
	}
}

func TestTreeOpen(t *testing.T) {
	t.Parallel()

	mem := newMemory(t)
	tree, err := Create(mem, Int64Rows(), WithMaxPerPage(4), WithName("orders"))
	require.NoError(t, err)
	assert.Equal(t, "orders", tree.Name())

	for k := int64(0); k < 100; k++ {
		put(t, tree, k)
	}

	reopened, err := Open(mem, Int64Rows(), tree.MetaPageID(), WithMaxPerPage(4))
	require.NoError(t, err)
	assert.Equal(t, keys(0, 100), collect(t, reopened, nil, nil))
	require.NoError(t, reopened.ValidateTree())

	// Opening anything but a meta page fails
	root, err := Create(mem, Int64Rows())
	require.NoError(t, err)
	_, err = Open(mem, Int64Rows(), root.MetaPageID()+1)
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestTreeDestroy(t *testing.T) {
	t.Parallel()

	mem, tree, list := setupReuse(t, WithMaxPerPage(3))
	for k := int64(0); k < 200; k++ {
		put(t, tree, k)
	}
	before := tree.RecycledPages()

	n, err := tree.Destroy()
	require.NoError(t, err)
	assert.Greater(t, n, 1)
	assert.Equal(t, before+int64(n), list.RecycledCount())
	assert.Equal(t, int64(0), mem.AcquiredPages())

	_, _, err = tree.Put(1)
	assert.ErrorIs(t, err, ErrTreeDestroyed)
	_, _, err = tree.FindOne(1)
	assert.ErrorIs(t, err, ErrTreeDestroyed)
	_, err = tree.Find(nil, nil)
	assert.ErrorIs(t, err, ErrTreeDestroyed)
	_, err = tree.Destroy()
	assert.ErrorIs(t, err, ErrTreeDestroyed)

	// A new tree is built from the recycled pages
	allocated := mem.Stats().Allocated
	next, err := Create(mem, Int64Rows(), WithMaxPerPage(3), WithReuseList(list))
	require.NoError(t, err)
	for k := int64(0); k < 200; k++ {
		put(t, next, k)
	}
	require.NoError(t, next.ValidateTree())
	assert.Equal(t, allocated, mem.Stats().Allocated)
}

func TestTreeBorrowFromSiblings(t *testing.T) {
	t.Parallel()

	leaves := func(t *testing.T, tree *Tree[int64]) string {
		var buf bytes.Buffer
		require.NoError(t, tree.Print(&buf))
		return buf.String()
	}

	t.Run("right", func(t *testing.T) {
		t.Parallel()

		_, tree := setup(t, WithMaxPerPage(4))
		for k := int64(0); k < 6; k++ {
			put(t, tree, k)
		}
		require.Contains(t, leaves(t, tree), "[0 1]")
		require.Contains(t, leaves(t, tree), "[2 3 4 5]")

		_, found, err := tree.Remove(0)
		require.NoError(t, err)
		require.True(t, found)
		require.NoError(t, tree.ValidateTree())

		out := leaves(t, tree)
		assert.Contains(t, out, "[1 2]")
		assert.Contains(t, out, "[3 4 5]")
		assert.Equal(t, []int64{1, 2, 3, 4, 5}, collect(t, tree, nil, nil))
	})

	t.Run("left", func(t *testing.T) {
		t.Parallel()

		_, tree := setup(t, WithMaxPerPage(4))
		for k := int64(0); k < 6; k++ {
			put(t, tree, k)
		}
		put(t, tree, -1)
		require.Contains(t, leaves(t, tree), "[-1 0 1]")

		for _, k := range []int64{2, 3, 4} {
			_, found, err := tree.Remove(k)
			require.NoError(t, err)
			require.True(t, found)
			require.NoError(t, tree.ValidateTree())
		}

		out := leaves(t, tree)
		assert.Contains(t, out, "[-1 0]")
		assert.Contains(t, out, "[1 5]")
		assert.Equal(t, []int64{-1, 0, 1, 5}, collect(t, tree, nil, nil))

		row, found, err := tree.FindOne(1)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(1), row)
	})
}

func TestTreePrint(t *testing.T) {
	t.Parallel()

	_, tree := setup(t, WithMaxPerPage(2), WithName("print"))
	for k := int64(0); k < 10; k++ {
		put(t, tree, k)
	}

	var buf bytes.Buffer
	require.NoError(t, tree.Print(&buf))
	out := buf.String()
	assert.Contains(t, out, "print meta=")
	assert.Contains(t, out, "inner ")
	assert.Contains(t, out, "leaf ")
	assert.Contains(t, out, "[8 9]")
}

func TestTreeOutOfPages(t *testing.T) {
	t.Parallel()

	mem := newMemory(t, pagemem.WithMaxPages(12))
	tree, err := Create(mem, Int64Rows(), WithMaxPerPage(2))
	require.NoError(t, err)

	var stored []int64
	for k := int64(0); ; k++ {
		_, _, err := tree.Put(k)
		if err != nil {
			require.ErrorIs(t, err, ErrPageAllocation)
			break
		}
		stored = append(stored, k)
	}

	// The failed split changed nothing
	require.NoError(t, tree.ValidateTree())
	assert.Equal(t, stored, collect(t, tree, nil, nil))
	assert.Equal(t, int64(0), mem.AcquiredPages())
}

func TestTreeCreateOutOfPages(t *testing.T) {
	t.Parallel()

	// Room for the reuse anchor and one more page: the meta page fits,
	// the root leaf does not.
	mem := newMemory(t, pagemem.WithMaxPages(2))
	list, err := reuse.Create(mem, 0)
	require.NoError(t, err)

	_, err = Create(mem, Int64Rows(), WithReuseList(list))
	require.ErrorIs(t, err, ErrPageAllocation)

	// The meta page went back to the list
	assert.Equal(t, int64(1), list.RecycledCount())
	assert.Equal(t, uint64(2), mem.Stats().Allocated)
	assert.Equal(t, int64(0), mem.AcquiredPages())

	var ids []pagemem.PageID
	require.NoError(t, list.Walk(func(id pagemem.PageID) error {
		ids = append(ids, id)
		return nil
	}))
	assert.Len(t, ids, 1)
}

func TestTreeInvalidConfig(t *testing.T) {
	t.Parallel()

	mem := newMemory(t)

	policy := Int64Rows()
	policy.KeySize = 9
	_, err := Create(mem, policy)
	assert.ErrorIs(t, err, ErrInvalidRowPolicy)

	policy = Int64Rows()
	policy.Compare = nil
	_, err = Create(mem, policy)
	assert.ErrorIs(t, err, ErrInvalidRowPolicy)

	// A row that does not fit a page
	_, err = Create(mem, KVRows(8, 1024))
	assert.ErrorIs(t, err, ErrInvalidRowPolicy)

	list, err := reuse.Create(mem, 7)
	require.NoError(t, err)
	_, err = Create(mem, Int64Rows(), WithGroup(1), WithReuseList(list))
	assert.ErrorIs(t, err, ErrReuseGroupMismatch)
}

// firstLeaf returns the leftmost leaf of the tree.
func firstLeaf(t *testing.T, tree *Tree[int64]) pagemem.PageID {
	t.Helper()

	meta, mio, err := tree.readMeta()
	require.NoError(t, err)
	defer tree.runlock(meta)
	return mio.Level(meta.Data(), 0)
}

func overwrite(t *testing.T, mem *pagemem.Memory, id pagemem.PageID, fn func(data []byte)) {
	t.Helper()

	p, err := mem.Acquire(pagemem.FullPageID{ID: id})
	require.NoError(t, err)
	p.Lock()
	fn(p.Data())
	p.Unlock()
	mem.Release(p)
}

type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (l *recordingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(string, ...any) {}

func TestTreeDetectsCorruption(t *testing.T) {
	t.Parallel()

	t.Run("self id", func(t *testing.T) {
		t.Parallel()

		log := &recordingLogger{}
		mem, tree := setup(t, WithMaxPerPage(2), WithLogger(log))
		for k := int64(0); k < 20; k++ {
			put(t, tree, k)
		}

		leaf := firstLeaf(t, tree)
		overwrite(t, mem, leaf, func(data []byte) {
			wrong := pageio.Self(data) + 1
			pageio.WriteHeader(data[:pageio.HeaderSize], pageio.TypeLeaf, pageio.Version1, wrong)
		})

		_, _, err := tree.FindOne(0)
		require.ErrorIs(t, err, ErrCorruption)
		var cerr *CorruptionError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, leaf, cerr.Page)
		log.mu.Lock()
		assert.Contains(t, log.errors, "tree corruption detected")
		log.mu.Unlock()
		assert.Equal(t, int64(0), mem.AcquiredPages())
	})

	t.Run("meta checksum", func(t *testing.T) {
		t.Parallel()

		mem, tree := setup(t)
		put(t, tree, 1)
		overwrite(t, mem, tree.MetaPageID(), func(data []byte) {
			data[pageio.HeaderSize+8] ^= 0xFF
		})

		_, _, err := tree.FindOne(1)
		assert.ErrorIs(t, err, ErrCorruption)
		_, err = Open(mem, Int64Rows(), tree.MetaPageID())
		assert.ErrorIs(t, err, ErrCorruption)
	})

	t.Run("row order", func(t *testing.T) {
		t.Parallel()

		mem, tree := setup(t, WithMaxPerPage(4))
		for k := int64(0); k < 4; k++ {
			put(t, tree, k)
		}
		require.NoError(t, tree.ValidateTree())

		leaf := firstLeaf(t, tree)
		overwrite(t, mem, leaf, func(data []byte) {
			io := tree.reg.LatestLeaf()
			a := bytes.Clone(io.Item(data, 0))
			io.SetItem(data, 0, io.Item(data, 1))
			io.SetItem(data, 1, a)
		})

		err := tree.ValidateTree()
		require.ErrorIs(t, err, ErrCorruption)
		var cerr *CorruptionError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, leaf, cerr.Page)
	})
}

func TestTreeLogsRootChanges(t *testing.T) {
	t.Parallel()

	log := &recordingLogger{}
	_, tree := setup(t, WithMaxPerPage(2), WithLogger(log))

	for k := int64(0); k < 3; k++ {
		put(t, tree, k)
	}
	for k := int64(0); k < 3; k++ {
		_, _, err := tree.Remove(k)
		require.NoError(t, err)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Contains(t, log.infos, "tree created")
	assert.Contains(t, log.infos, "tree root grew")
	assert.Contains(t, log.infos, "tree root shrank")
}
