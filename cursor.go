package pagetree

import (
	"github.com/alexhholmes/pagetree/internal/pageio"
	"github.com/alexhholmes/pagetree/pagemem"
)

// Cursor iterates rows in key order within inclusive bounds.
//
// It buffers the matching rows of one leaf at a time and holds no latch or
// pin between calls. Following a leaf's forward link is only trusted when
// no structure modification happened since the link was read; otherwise
// the cursor descends again from the root, resuming after the last row it
// returned. Rows changed concurrently may or may not be observed.
//
//	c, err := tree.Find(&lo, &hi)
//	for c.Next() {
//		use(c.Row())
//	}
//	err = c.Err()
type Cursor[R any] struct {
	tree  *Tree[R]
	lower *R
	upper *R

	rows []R
	pos  int
	row  R

	last    R
	hasLast bool

	next pagemem.PageID // forward link of the buffered leaf
	smo  uint64         // structure counter when next was read
	done bool
	err  error
}

// Next advances to the next row and reports whether there is one.
func (c *Cursor[R]) Next() bool {
	for {
		if c.pos < len(c.rows) {
			c.row = c.rows[c.pos]
			c.pos++
			c.last, c.hasLast = c.row, true
			return true
		}
		if c.done || c.err != nil {
			return false
		}
		if c.next == 0 {
			c.done = true
			return false
		}

		if err := c.advance(); err != nil {
			c.err = err
			return false
		}
	}
}

// Row returns the current row.
func (c *Cursor[R]) Row() R {
	return c.row
}

// Err returns the error that stopped iteration, if any.
func (c *Cursor[R]) Err() error {
	return c.err
}

// descend buffers the leaf holding the resume point, found from the root.
func (c *Cursor[R]) descend() error {
	t := c.tree

	var key *R
	switch {
	case c.hasLast:
		key = &c.last
	case c.lower != nil:
		key = c.lower
	}

	p, io, err := t.readLeaf(key)
	if err != nil {
		return err
	}
	c.fill(io, p.Data())
	t.runlock(p)
	return nil
}

// advance follows the forward link of the buffered leaf.
func (c *Cursor[R]) advance() error {
	t := c.tree

	p, err := t.acquire(c.next)
	if err != nil {
		return err
	}
	p.RLock()

	data := p.Data()
	if t.smo.Load() != c.smo || pageio.Type(data) != pageio.TypeLeaf || pageio.Self(data) != c.next {
		t.runlock(p)
		return c.descend()
	}

	io, err := t.reg.Leaf(data, c.next)
	if err != nil {
		t.runlock(p)
		return t.corrupt(err)
	}
	c.fill(io, data)
	t.runlock(p)
	return nil
}

// fill buffers the rows of a read-latched leaf that lie after the resume
// point and within the upper bound.
func (c *Cursor[R]) fill(io pageio.LeafIO, data []byte) {
	t := c.tree
	cmp := t.policy.Compare

	c.rows = c.rows[:0]
	c.pos = 0
	c.next = io.Forward(data)
	c.smo = t.smo.Load()

	n := io.Count(data)
	i := 0
	switch {
	case c.hasLast:
		for i < n && cmp(io.Item(data, i), c.last) <= 0 {
			i++
		}
	case c.lower != nil:
		for i < n && cmp(io.Item(data, i), *c.lower) < 0 {
			i++
		}
	}

	for ; i < n; i++ {
		item := io.Item(data, i)
		if c.upper != nil && cmp(item, *c.upper) > 0 {
			c.done = true
			return
		}
		c.rows = append(c.rows, t.policy.Extract(item))
	}
}
