package pagetree

import (
	"bytes"

	"github.com/google/btree"

	"github.com/alexhholmes/pagetree/internal/pageio"
	"github.com/alexhholmes/pagetree/pagemem"
)

// ValidateTree walks every page and checks the structural invariants:
// key order, separator placement, page occupancy, level links, the leaf
// chain, and that no recycled page is still reachable. It is meant for
// tests and diagnostics on a quiescent tree; the error names the first
// offending page.
func (t *Tree[R]) ValidateTree() error {
	meta, mio, err := t.readMeta()
	if err != nil {
		return err
	}
	defer t.runlock(meta)

	v := &validator[R]{
		t:       t,
		levels:  mio.Levels(meta.Data()),
		visited: make([]bool, mio.RootLevel(meta.Data())+1),
		seen:    btree.NewG(32, func(a, b pagemem.PageID) bool { return a < b }),
	}
	v.seen.ReplaceOrInsert(t.meta)

	root := mio.Root(meta.Data())
	if _, _, err := v.walk(root, len(v.levels)-1, nil, nil, true); err != nil {
		return t.corrupt(err)
	}
	if v.forward != 0 {
		return t.corrupt(pageio.Corruptf(v.lastLeaf, "rightmost leaf links forward to %s", v.forward))
	}

	if t.reuse != nil {
		err := t.reuse.Walk(func(id pagemem.PageID) error {
			if v.seen.Has(id) {
				return pageio.Corruptf(id, "recycled page is still reachable from the tree")
			}
			return nil
		})
		if err != nil {
			return t.corrupt(err)
		}
	}
	return nil
}

type validator[R any] struct {
	t       *Tree[R]
	levels  []pagemem.PageID
	visited []bool // a page of this level has been seen
	seen    *btree.BTreeG[pagemem.PageID]

	lastLeaf pagemem.PageID
	forward  pagemem.PageID // forward link of lastLeaf
}

// snapshot copies a page under its read latch.
func (v *validator[R]) snapshot(id pagemem.PageID) ([]byte, error) {
	p, err := v.t.acquire(id)
	if err != nil {
		return nil, err
	}
	p.RLock()
	data := bytes.Clone(p.Data())
	v.t.runlock(p)
	return data, nil
}

// walk checks the subtree at id, whose keys must lie in [lo, hi). It
// returns the subtree's smallest row and its row count.
func (v *validator[R]) walk(id pagemem.PageID, level int, lo, hi []byte, isRoot bool) ([]byte, int, error) {
	t := v.t
	if _, dup := v.seen.ReplaceOrInsert(id); dup {
		return nil, 0, pageio.Corruptf(id, "page is reachable twice")
	}
	if !v.visited[level] {
		v.visited[level] = true
		if v.levels[level] != id {
			return nil, 0, pageio.Corruptf(id, "leftmost page of level %d is recorded as %s", level, v.levels[level])
		}
	}

	data, err := v.snapshot(id)
	if err != nil {
		return nil, 0, err
	}
	if level == 0 {
		return v.leaf(id, data, lo, hi, isRoot)
	}

	io, err := t.reg.Inner(data, id)
	if err != nil {
		return nil, 0, err
	}
	n := io.Count(data)
	switch {
	case n > t.innerMax:
		return nil, 0, pageio.Corruptf(id, "%d separators, max %d", n, t.innerMax)
	case isRoot && n < 1:
		return nil, 0, pageio.Corruptf(id, "inner root has no separators")
	case !isRoot && n < t.innerMin:
		return nil, 0, pageio.Corruptf(id, "%d separators, min %d", n, t.innerMin)
	}

	for i := 1; i < n; i++ {
		if t.policy.Compare(io.Item(data, i-1), t.keyRow(io.Item(data, i))) >= 0 {
			return nil, 0, pageio.Corruptf(id, "separator %d not above separator %d", i, i-1)
		}
	}

	var (
		first []byte
		total int
	)
	for i := 0; i <= n; i++ {
		clo, chi := lo, hi
		if i > 0 {
			clo = io.Item(data, i-1)
		}
		if i < n {
			chi = io.Item(data, i)
		}

		cmin, rows, err := v.walk(io.Link(data, i), level-1, clo, chi, false)
		if err != nil {
			return nil, 0, err
		}
		if i == 0 {
			first = cmin
		} else if !bytes.Equal(t.separator(cmin), io.Item(data, i-1)) {
			return nil, 0, pageio.Corruptf(id, "separator %d is not the smallest key of its right child", i-1)
		}
		total += rows
	}
	return first, total, nil
}

func (v *validator[R]) leaf(id pagemem.PageID, data, lo, hi []byte, isRoot bool) ([]byte, int, error) {
	t := v.t
	io, err := t.reg.Leaf(data, id)
	if err != nil {
		return nil, 0, err
	}

	n := io.Count(data)
	switch {
	case n > t.leafMax:
		return nil, 0, pageio.Corruptf(id, "%d rows, max %d", n, t.leafMax)
	case !isRoot && n < t.leafMin:
		return nil, 0, pageio.Corruptf(id, "%d rows, min %d", n, t.leafMin)
	}

	for i := 0; i < n; i++ {
		item := io.Item(data, i)
		if i > 0 && t.policy.Compare(io.Item(data, i-1), t.policy.Extract(item)) >= 0 {
			return nil, 0, pageio.Corruptf(id, "row %d not above row %d", i, i-1)
		}
		if lo != nil && t.policy.Compare(item, t.keyRow(lo)) < 0 {
			return nil, 0, pageio.Corruptf(id, "row %d below its separator", i)
		}
		if hi != nil && t.policy.Compare(item, t.keyRow(hi)) >= 0 {
			return nil, 0, pageio.Corruptf(id, "row %d not below the next separator", i)
		}
	}

	if v.lastLeaf != 0 && v.forward != id {
		return nil, 0, pageio.Corruptf(v.lastLeaf, "leaf links forward to %s, next leaf is %s", v.forward, id)
	}
	v.lastLeaf, v.forward = id, io.Forward(data)

	if n == 0 {
		return nil, 0, nil
	}
	return io.Item(data, 0), n, nil
}
