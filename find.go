package pagetree

import (
	"github.com/alexhholmes/pagetree/internal/pageio"
	"github.com/alexhholmes/pagetree/pagemem"
)

// FindOne returns the row matching key.
func (t *Tree[R]) FindOne(key R) (R, bool, error) {
	var zero R

	meta, mio, err := t.readMeta()
	if err != nil {
		return zero, false, err
	}
	level := mio.RootLevel(meta.Data())
	id := mio.Root(meta.Data())

	p, err := t.acquire(id)
	if err != nil {
		t.runlock(meta)
		return zero, false, err
	}
	p.RLock()
	t.runlock(meta)

	for ; level > 0; level-- {
		io, err := t.reg.Inner(p.Data(), id)
		if err != nil {
			t.runlock(p)
			return zero, false, t.corrupt(err)
		}

		child, exact := t.searchInner(io, p.Data(), key)
		if exact && t.innerRows {
			row := t.policy.Extract(io.Item(p.Data(), child-1))
			t.runlock(p)
			return row, true, nil
		}

		id = io.Link(p.Data(), child)
		next, err := t.acquire(id)
		if err != nil {
			t.runlock(p)
			return zero, false, err
		}
		next.RLock()
		t.runlock(p)
		p = next
	}
	defer t.runlock(p)

	io, err := t.reg.Leaf(p.Data(), id)
	if err != nil {
		return zero, false, t.corrupt(err)
	}
	idx, found := t.searchLeaf(io, p.Data(), key)
	if !found {
		return zero, false, nil
	}
	return t.policy.Extract(io.Item(p.Data(), idx)), true, nil
}

// readLeaf descends with read latch coupling to the leaf that would hold
// key, or to the leftmost leaf when key is nil. The leaf is returned read
// latched.
func (t *Tree[R]) readLeaf(key *R) (*pagemem.Page, pageio.LeafIO, error) {
	meta, mio, err := t.readMeta()
	if err != nil {
		return nil, nil, err
	}

	level := mio.RootLevel(meta.Data())
	id := mio.Root(meta.Data())
	if key == nil {
		level, id = 0, mio.Level(meta.Data(), 0)
	}

	p, err := t.acquire(id)
	if err != nil {
		t.runlock(meta)
		return nil, nil, err
	}
	p.RLock()
	t.runlock(meta)

	for ; level > 0; level-- {
		io, err := t.reg.Inner(p.Data(), id)
		if err != nil {
			t.runlock(p)
			return nil, nil, t.corrupt(err)
		}

		child, _ := t.searchInner(io, p.Data(), *key)
		id = io.Link(p.Data(), child)
		next, err := t.acquire(id)
		if err != nil {
			t.runlock(p)
			return nil, nil, err
		}
		next.RLock()
		t.runlock(p)
		p = next
	}

	io, err := t.reg.Leaf(p.Data(), id)
	if err != nil {
		t.runlock(p)
		return nil, nil, t.corrupt(err)
	}
	return p, io, nil
}

// Find returns a cursor over rows in [lower, upper]. A nil bound is
// unbounded on that side.
func (t *Tree[R]) Find(lower, upper *R) (*Cursor[R], error) {
	c := &Cursor[R]{
		tree:  t,
		lower: lower,
		upper: upper,
	}
	if err := c.descend(); err != nil {
		return nil, err
	}
	return c, nil
}

// Size counts the rows by walking the leaves.
func (t *Tree[R]) Size() (int, error) {
	c, err := t.Find(nil, nil)
	if err != nil {
		return 0, err
	}

	n := 0
	for c.Next() {
		n++
	}
	return n, c.Err()
}
