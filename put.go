package pagetree

import (
	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/pagetree/pagemem"
)

// Put inserts row, or replaces the row with the same key. It returns the
// replaced row, if any.
func (t *Tree[R]) Put(row R) (R, bool, error) {
	enc := t.encode(row)

	old, found, done, err := t.putFast(row, enc)
	if err != nil || done {
		return old, found, err
	}
	return t.putLocked(row, enc)
}

// putFast handles puts that stay inside one leaf: replacing a row that no
// separator mirrors, or inserting into a leaf with room.
func (t *Tree[R]) putFast(row R, enc []byte) (old R, found, done bool, err error) {
	p, io, _, leftmost, err := t.writeLeaf(row)
	if err != nil {
		return old, false, false, err
	}
	defer t.unlock(p)

	data := p.Data()
	idx, found := t.searchLeaf(io, data, row)
	switch {
	case found && (!t.innerRows || idx > 0 || leftmost):
		old = t.policy.Extract(io.Item(data, idx))
		io.SetItem(data, idx, enc)
		return old, true, true, nil

	case !found && io.Count(data) < t.leafMax && (idx > 0 || leftmost):
		io.Insert(data, idx, enc)
		return old, false, true, nil
	}
	return old, false, false, nil
}

// putSafe reports whether a put below f can finish without f's ancestors.
func (t *Tree[R]) putSafe(f *frame, n int, isRoot, leftmost bool) bool {
	mirrorSafe := !t.innerRows || f.idx > 0 || leftmost
	if f.level > 0 {
		return n < t.innerMax && mirrorSafe
	}
	if f.exact {
		return mirrorSafe
	}
	return n < t.leafMax
}

func (t *Tree[R]) putLocked(row R, enc []byte) (R, bool, error) {
	var zero R

	wp, err := t.lockPath(row, t.putSafe)
	if err != nil {
		return zero, false, err
	}

	leaf := &wp.frames[len(wp.frames)-1]
	data := leaf.page.Data()
	io := leaf.leaf

	if leaf.exact {
		old := t.policy.Extract(io.Item(data, leaf.idx))
		io.SetItem(data, leaf.idx, enc)
		if t.innerRows && leaf.idx == 0 {
			t.setSeparator(wp, enc)
		}
		return old, true, t.finish(wp, false)
	}

	if io.Count(data) < t.leafMax {
		io.Insert(data, leaf.idx, enc)
		return zero, false, t.finish(wp, false)
	}

	if err := t.split(wp, enc); err != nil {
		t.unlockPath(wp)
		return zero, false, err
	}
	return zero, false, t.finish(wp, true)
}

// split inserts enc into the full leaf at the end of wp, splitting it and
// as many ancestors as needed. All new pages are reserved before the first
// byte changes, so a failed allocation leaves the tree untouched.
func (t *Tree[R]) split(wp *writePath, enc []byte) error {
	leaf := len(wp.frames) - 1

	need, top := 1, leaf-1
	for ; top >= 0; top-- {
		f := &wp.frames[top]
		if f.inner.Count(f.page.Data()) < t.innerMax {
			break
		}
		need++
	}
	grow := top < 0
	if grow {
		if wp.meta == nil || wp.frames[0].level != wp.rootLevel {
			return errors.AssertionFailedf("split reached page %s without holding the root", wp.frames[0].id)
		}
		if wp.rootLevel+2 > t.maxLevels {
			return errors.Wrapf(ErrTreeTooDeep, "%d levels", wp.rootLevel+2)
		}
		need++
	}

	pages, err := t.reserve(need)
	if err != nil {
		return err
	}
	wp.extra = append(wp.extra, pages...)

	sep := t.splitLeaf(&wp.frames[leaf], enc, pages[0])
	right := pages[0].ID().ID
	pages = pages[1:]

	for j := leaf - 1; j >= 0; j-- {
		f := &wp.frames[j]
		if f.inner.Count(f.page.Data()) < t.innerMax {
			f.inner.Insert(f.page.Data(), f.idx, sep, right)
			return nil
		}
		sep = t.splitInner(f, sep, right, pages[0])
		right = pages[0].ID().ID
		pages = pages[1:]
	}

	// The root split: a new root routes to the old root and its sibling.
	root := pages[0]
	rootID := root.ID().ID
	inner := t.reg.LatestInner()
	inner.Init(root.Data(), rootID, wp.frames[0].id)
	inner.Insert(root.Data(), 0, sep, right)

	levels := append(wp.mio.Levels(wp.meta.Data()), rootID)
	t.setLevels(wp, levels)
	t.log.Info("tree root grew", "name", t.name, "root", rootID, "level", wp.rootLevel)
	return nil
}

// splitLeaf moves the upper half of the leaf, with enc inserted, into the
// empty page right and links right after the leaf. It returns the separator
// for right.
func (t *Tree[R]) splitLeaf(f *frame, enc []byte, right *pagemem.Page) []byte {
	io := f.leaf
	data := f.page.Data()
	n := io.Count(data)

	scratch := make([]byte, len(data)+len(enc))
	copy(scratch, data)
	io.Insert(scratch, f.idx, enc)
	total := n + 1
	left := total / 2

	rid := right.ID().ID
	rdata := right.Data()
	nio := t.reg.LatestLeaf()
	nio.Init(rdata, rid)
	nio.WriteItems(rdata, 0, io.Items(scratch, left, total))
	nio.SetCount(rdata, total-left)
	nio.SetForward(rdata, io.Forward(data))

	clear(io.Items(data, 0, n))
	io.WriteItems(data, 0, io.Items(scratch, 0, left))
	io.SetCount(data, left)
	io.SetForward(data, rid)

	return t.separator(io.Item(scratch, left))
}

// splitInner inserts separator sep with right child child into the full
// inner page, then moves the pairs above the middle separator into the
// empty page right. It returns the middle separator, which moves up.
func (t *Tree[R]) splitInner(f *frame, sep []byte, child pagemem.PageID, right *pagemem.Page) []byte {
	io := f.inner
	data := f.page.Data()
	n := io.Count(data)

	scratch := make([]byte, len(data)+io.PairSize())
	copy(scratch, data)
	io.Insert(scratch, f.idx, sep, child)
	total := n + 1
	left := total / 2

	rid := right.ID().ID
	rdata := right.Data()
	nio := t.reg.LatestInner()
	nio.Init(rdata, rid, io.Link(scratch, left+1))
	nio.WritePairs(rdata, 0, io.Pairs(scratch, left+1, total))
	nio.SetCount(rdata, total-left-1)

	clear(io.Pairs(data, 0, n))
	io.WritePairs(data, 0, io.Pairs(scratch, 0, left))
	io.SetCount(data, left)

	return io.Item(scratch, left)
}
