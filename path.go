package pagetree

import (
	"github.com/alexhholmes/pagetree/internal/pageio"
	"github.com/alexhholmes/pagetree/pagemem"
)

// frame is one write-latched page on a pessimistic descent.
type frame struct {
	page  *pagemem.Page
	id    pagemem.PageID
	level int
	idx   int  // child followed (inner) or row position (leaf)
	exact bool // inner: separator idx-1 equals the key; leaf: row idx matches

	leaf  pageio.LeafIO  // set on level 0
	inner pageio.InnerIO // set above level 0
}

// writePath holds the write latches a structure modification may need:
// the meta page while the root may change, and a contiguous run of pages
// ending at the leaf.
type writePath struct {
	meta      *pagemem.Page // nil once released
	mio       pageio.MetaIO
	rootLevel int
	frames    []frame
	leftmost  bool // every child followed so far was the first one

	extra []*pagemem.Page // latched siblings and new pages
	freed []*pagemem.Page // latched pages already unlinked from the tree
}

// safeFunc reports whether the operation can complete without touching
// any page above f.
type safeFunc func(f *frame, count int, isRoot, leftmost bool) bool

// lockPath descends from the meta page taking write latches, releasing
// every held ancestor as soon as the current page is safe.
func (t *Tree[R]) lockPath(key R, safe safeFunc) (*writePath, error) {
	meta, mio, err := t.writeMeta()
	if err != nil {
		return nil, err
	}

	wp := &writePath{
		meta:      meta,
		mio:       mio,
		rootLevel: mio.RootLevel(meta.Data()),
		leftmost:  true,
	}

	id := mio.Root(meta.Data())
	for level := wp.rootLevel; ; level-- {
		p, err := t.acquire(id)
		if err != nil {
			t.unlockPath(wp)
			return nil, err
		}
		p.Lock()
		wp.frames = append(wp.frames, frame{page: p, id: id, level: level})
		f := &wp.frames[len(wp.frames)-1]

		var n int
		if level == 0 {
			io, err := t.reg.Leaf(p.Data(), id)
			if err != nil {
				t.unlockPath(wp)
				return nil, t.corrupt(err)
			}
			n = io.Count(p.Data())
			f.leaf = io
			f.idx, f.exact = t.searchLeaf(io, p.Data(), key)
		} else {
			io, err := t.reg.Inner(p.Data(), id)
			if err != nil {
				t.unlockPath(wp)
				return nil, t.corrupt(err)
			}
			n = io.Count(p.Data())
			f.inner = io
			f.idx, f.exact = t.searchInner(io, p.Data(), key)
			id = io.Link(p.Data(), f.idx)
		}

		idx := f.idx
		if safe(f, n, level == wp.rootLevel, wp.leftmost) {
			t.releaseAbove(wp)
		}
		if idx != 0 {
			wp.leftmost = false
		}
		if level == 0 {
			return wp, nil
		}
	}
}

// releaseAbove drops every latch above the last frame.
func (t *Tree[R]) releaseAbove(wp *writePath) {
	if wp.meta != nil {
		t.unlock(wp.meta)
		wp.meta = nil
	}
	last := len(wp.frames) - 1
	for i := 0; i < last; i++ {
		t.unlock(wp.frames[i].page)
	}
	wp.frames = append(wp.frames[:0], wp.frames[last])
}

func (t *Tree[R]) unlockPath(wp *writePath) {
	for _, p := range wp.extra {
		t.unlock(p)
	}
	wp.extra = nil
	for i := len(wp.frames) - 1; i >= 0; i-- {
		t.unlock(wp.frames[i].page)
	}
	wp.frames = nil
	if wp.meta != nil {
		t.unlock(wp.meta)
		wp.meta = nil
	}
}

// finish completes a pessimistic operation. A structure modification is
// published on the counter before any latch is dropped; freed pages are
// recycled once the whole path is released.
func (t *Tree[R]) finish(wp *writePath, structural bool) error {
	if structural {
		t.smo.Add(1)
	}

	freed := wp.freed
	wp.freed = nil
	for _, p := range freed {
		pageio.MarkFree(p.Data(), p.ID().ID)
	}
	t.unlockPath(wp)

	ids := make([]pagemem.PageID, len(freed))
	for i, p := range freed {
		ids[i] = p.ID().ID
		t.unlock(p)
	}
	return t.recycle(ids)
}

// dropFrame moves frame j onto the freed list and parks the frames below it
// as extra latches.
func (wp *writePath) dropFrame(j int) {
	wp.freed = append(wp.freed, wp.frames[j].page)
	for _, f := range wp.frames[j+1:] {
		wp.extra = append(wp.extra, f.page)
	}
	wp.frames = wp.frames[:j]
}

// writeLeaf descends with read latch coupling and write-latches the leaf
// that would hold key. leftmost reports that the leaf is the first one, so
// no separator refers to its first row.
func (t *Tree[R]) writeLeaf(key R) (p *pagemem.Page, io pageio.LeafIO, isRoot, leftmost bool, err error) {
	meta, mio, err := t.readMeta()
	if err != nil {
		return nil, nil, false, false, err
	}

	level := mio.RootLevel(meta.Data())
	id := mio.Root(meta.Data())
	isRoot, leftmost = level == 0, true

	lock := func(p *pagemem.Page, level int) {
		if level == 0 {
			p.Lock()
		} else {
			p.RLock()
		}
	}

	if p, err = t.acquire(id); err != nil {
		t.runlock(meta)
		return nil, nil, false, false, err
	}
	lock(p, level)
	t.runlock(meta)

	for ; level > 0; level-- {
		inner, err := t.reg.Inner(p.Data(), id)
		if err != nil {
			t.runlock(p)
			return nil, nil, false, false, t.corrupt(err)
		}

		child, _ := t.searchInner(inner, p.Data(), key)
		if child != 0 {
			leftmost = false
		}
		id = inner.Link(p.Data(), child)
		next, err := t.acquire(id)
		if err != nil {
			t.runlock(p)
			return nil, nil, false, false, err
		}
		lock(next, level-1)
		t.runlock(p)
		p = next
	}

	if io, err = t.reg.Leaf(p.Data(), id); err != nil {
		t.unlock(p)
		return nil, nil, false, false, t.corrupt(err)
	}
	return p, io, isRoot, leftmost, nil
}

// separatorFrame returns the lowest held inner frame that routes through a
// separator to the leaf, or nil when the leaf is leftmost below every held
// frame. That separator equals the leaf's first row.
func (wp *writePath) separatorFrame() *frame {
	for i := len(wp.frames) - 2; i >= 0; i-- {
		if wp.frames[i].idx > 0 {
			return &wp.frames[i]
		}
	}
	return nil
}

// setSeparator rewrites the separator routing to the leaf with row.
func (t *Tree[R]) setSeparator(wp *writePath, row []byte) {
	f := wp.separatorFrame()
	if f == nil {
		return
	}
	f.inner.SetItem(f.page.Data(), f.idx-1, t.separator(row))
}

// setLevels rewrites the meta level table; the meta latch must be held.
func (t *Tree[R]) setLevels(wp *writePath, levels []pagemem.PageID) {
	wp.mio.SetLevels(wp.meta.Data(), levels)
	wp.rootLevel = len(levels) - 1
}
