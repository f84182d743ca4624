package pagetree

import (
	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/pagetree/internal/pageio"
	"github.com/alexhholmes/pagetree/pagemem"
)

// Remove deletes the row matching key and returns it. Removing an absent
// key is not an error.
func (t *Tree[R]) Remove(key R) (R, bool, error) {
	old, found, done, err := t.removeFast(key)
	if err != nil || done {
		return old, found, err
	}
	return t.removeLocked(key)
}

// removeFast handles removals that leave the leaf above its minimum and do
// not change the first row of a leaf some separator refers to.
func (t *Tree[R]) removeFast(key R) (old R, found, done bool, err error) {
	p, io, isRoot, leftmost, err := t.writeLeaf(key)
	if err != nil {
		return old, false, false, err
	}
	defer t.unlock(p)

	data := p.Data()
	idx, found := t.searchLeaf(io, data, key)
	if !found {
		return old, false, true, nil
	}
	if (isRoot || io.Count(data)-1 >= t.leafMin) && (idx > 0 || leftmost) {
		old = t.policy.Extract(io.Item(data, idx))
		io.Remove(data, idx)
		return old, true, true, nil
	}
	return old, false, false, nil
}

// removeSafe reports whether a removal below f can finish without f's
// ancestors.
func (t *Tree[R]) removeSafe(f *frame, n int, isRoot, leftmost bool) bool {
	switch {
	case f.level == 0:
		if !f.exact {
			return true
		}
		return (isRoot || n-1 >= t.leafMin) && (f.idx > 0 || leftmost)
	case isRoot:
		return n >= 2
	default:
		return n-1 >= t.innerMin && (f.idx > 0 || leftmost)
	}
}

func (t *Tree[R]) removeLocked(key R) (R, bool, error) {
	var zero R

	wp, err := t.lockPath(key, t.removeSafe)
	if err != nil {
		return zero, false, err
	}

	last := len(wp.frames) - 1
	leaf := wp.frames[last]
	if !leaf.exact {
		t.unlockPath(wp)
		return zero, false, nil
	}

	data := leaf.page.Data()
	io := leaf.leaf
	old := t.policy.Extract(io.Item(data, leaf.idx))
	io.Remove(data, leaf.idx)

	underflow := last > 0 && io.Count(data) < t.leafMin
	gone := false
	if underflow {
		if gone, err = t.rebalance(wp, last); err != nil {
			t.unlockPath(wp)
			return zero, false, err
		}
	}

	// The separator mirroring the leaf's first row is fixed before any
	// inner page is rebalanced, so rotations carry the right key.
	if leaf.idx == 0 && !gone && io.Count(data) > 0 {
		t.setSeparator(wp, io.Item(data, 0))
	}

	if underflow {
		if err := t.rebalanceUp(wp, last-1); err != nil {
			t.unlockPath(wp)
			return zero, false, err
		}
	}
	return old, true, t.finish(wp, underflow)
}

// rebalanceUp walks from frame j upward, fixing inner pages that lost a
// separator, and shrinks the root when it is left with a single child.
func (t *Tree[R]) rebalanceUp(wp *writePath, j int) error {
	for ; j >= 0; j-- {
		f := &wp.frames[j]
		n := f.inner.Count(f.page.Data())

		if f.level == wp.rootLevel {
			if n == 0 {
				return t.shrink(wp)
			}
			return nil
		}
		if n >= t.innerMin {
			return nil
		}
		if j == 0 {
			return errors.AssertionFailedf("inner page %s underflowed without its parent latched", f.id)
		}
		if _, err := t.rebalance(wp, j); err != nil {
			return err
		}
	}
	return nil
}

// shrink replaces an inner root holding no separators with its only child.
func (t *Tree[R]) shrink(wp *writePath) error {
	if wp.meta == nil {
		return errors.AssertionFailedf("root shrink without the meta page latched")
	}

	root := wp.frames[0]
	child := root.inner.Link(root.page.Data(), 0)

	levels := wp.mio.Levels(wp.meta.Data())
	levels = levels[:len(levels)-1]
	levels[len(levels)-1] = child
	t.setLevels(wp, levels)
	wp.dropFrame(0)

	t.log.Info("tree root shrank", "name", t.name, "root", child, "level", wp.rootLevel)
	return nil
}

// rebalance fixes the underflowed frame j by borrowing one item from a
// sibling under the same parent, or by merging with it. The right sibling
// is used when there is one. Merges keep the left page and free the right
// one. It reports whether frame j's page was freed.
func (t *Tree[R]) rebalance(wp *writePath, j int) (bool, error) {
	parent := &wp.frames[j-1]
	pdata := parent.page.Data()
	c := parent.idx
	useRight := c < parent.inner.Count(pdata)

	var sid pagemem.PageID
	switch {
	case useRight:
		sid = parent.inner.Link(pdata, c+1)
	case c > 0:
		sid = parent.inner.Link(pdata, c-1)
	default:
		return false, t.corrupt(pageio.Corruptf(parent.id, "inner page has no separators"))
	}
	sib, err := t.acquire(sid)
	if err != nil {
		return false, err
	}
	sib.Lock()

	var gone bool
	if wp.frames[j].level == 0 {
		gone, err = t.rebalanceLeaf(wp, j, sib, useRight)
	} else {
		gone, err = t.rebalanceInner(wp, j, sib, useRight)
	}
	if err != nil {
		t.unlock(sib)
		return false, t.corrupt(err)
	}
	return gone, nil
}

func (t *Tree[R]) rebalanceLeaf(wp *writePath, j int, sib *pagemem.Page, useRight bool) (bool, error) {
	parent, f := &wp.frames[j-1], &wp.frames[j]
	pio, pdata, c := parent.inner, parent.page.Data(), parent.idx
	lio, ldata := f.leaf, f.page.Data()

	sdata := sib.Data()
	sio, err := t.reg.Leaf(sdata, sib.ID().ID)
	if err != nil {
		return false, err
	}
	sn, ln := sio.Count(sdata), lio.Count(ldata)

	switch {
	case sn > t.leafMin && useRight:
		lio.Store(ldata, ln, sdata, 0)
		lio.SetCount(ldata, ln+1)
		sio.Remove(sdata, 0)
		pio.SetItem(pdata, c, t.separator(sio.Item(sdata, 0)))
		wp.extra = append(wp.extra, sib)
		return false, nil

	case sn > t.leafMin:
		lio.WriteItems(ldata, 1, lio.Items(ldata, 0, ln))
		lio.Store(ldata, 0, sdata, sn-1)
		lio.SetCount(ldata, ln+1)
		sio.Remove(sdata, sn-1)
		pio.SetItem(pdata, c-1, t.separator(lio.Item(ldata, 0)))
		wp.extra = append(wp.extra, sib)
		return false, nil

	case useRight:
		lio.WriteItems(ldata, ln, sio.Items(sdata, 0, sn))
		lio.SetCount(ldata, ln+sn)
		lio.SetForward(ldata, sio.Forward(sdata))
		pio.RemoveRight(pdata, c)
		wp.freed = append(wp.freed, sib)
		return false, nil

	default:
		sio.WriteItems(sdata, sn, lio.Items(ldata, 0, ln))
		sio.SetCount(sdata, sn+ln)
		sio.SetForward(sdata, lio.Forward(ldata))
		pio.RemoveRight(pdata, c-1)
		wp.extra = append(wp.extra, sib)
		wp.dropFrame(j)
		return true, nil
	}
}

func (t *Tree[R]) rebalanceInner(wp *writePath, j int, sib *pagemem.Page, useRight bool) (bool, error) {
	parent, f := &wp.frames[j-1], &wp.frames[j]
	pio, pdata, c := parent.inner, parent.page.Data(), parent.idx
	cio, cdata := f.inner, f.page.Data()

	sdata := sib.Data()
	sio, err := t.reg.Inner(sdata, sib.ID().ID)
	if err != nil {
		return false, err
	}
	sn, cn := sio.Count(sdata), cio.Count(cdata)

	switch {
	case sn > t.innerMin && useRight:
		// Rotate left: the parent separator comes down, the sibling's
		// first separator goes up.
		cio.Insert(cdata, cn, pio.Item(pdata, c), sio.Link(sdata, 0))
		pio.Store(pdata, c, sdata, 0)
		sio.RemoveLeft(sdata, 0)
		wp.extra = append(wp.extra, sib)
		return false, nil

	case sn > t.innerMin:
		// Rotate right.
		cio.InsertLeft(cdata, 0, sio.Link(sdata, sn), pio.Item(pdata, c-1))
		pio.Store(pdata, c-1, sdata, sn-1)
		sio.RemoveRight(sdata, sn-1)
		wp.extra = append(wp.extra, sib)
		return false, nil

	case useRight:
		cio.Insert(cdata, cn, pio.Item(pdata, c), sio.Link(sdata, 0))
		cio.WritePairs(cdata, cn+1, sio.Pairs(sdata, 0, sn))
		cio.SetCount(cdata, cn+1+sn)
		pio.RemoveRight(pdata, c)
		wp.freed = append(wp.freed, sib)
		return false, nil

	default:
		sio.Insert(sdata, sn, pio.Item(pdata, c-1), cio.Link(cdata, 0))
		sio.WritePairs(sdata, sn+1, cio.Pairs(cdata, 0, cn))
		sio.SetCount(sdata, sn+1+cn)
		pio.RemoveRight(pdata, c-1)
		wp.extra = append(wp.extra, sib)
		wp.dropFrame(j)
		return true, nil
	}
}
