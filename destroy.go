package pagetree

import (
	"github.com/alexhholmes/pagetree/internal/pageio"
	"github.com/alexhholmes/pagetree/pagemem"
)

// Destroy frees every page of the tree, the meta page included, and
// returns how many pages it freed. With a reuse list the pages are pushed
// to it; without one they are only marked free. Every later operation
// fails with ErrTreeDestroyed.
//
// Destroy must not run concurrently with other operations on the tree.
func (t *Tree[R]) Destroy() (int, error) {
	meta, mio, err := t.writeMeta()
	if err != nil {
		return 0, err
	}

	var ids []pagemem.PageID
	if err := t.collect(mio.Root(meta.Data()), mio.RootLevel(meta.Data()), &ids); err != nil {
		t.unlock(meta)
		return 0, err
	}
	t.destroyed.Store(true)

	for _, id := range ids {
		p, err := t.acquire(id)
		if err != nil {
			t.unlock(meta)
			return 0, err
		}
		p.Lock()
		pageio.MarkFree(p.Data(), id)
		t.unlock(p)
	}
	pageio.MarkFree(meta.Data(), t.meta)
	t.unlock(meta)
	ids = append(ids, t.meta)

	if err := t.recycle(ids); err != nil {
		return 0, err
	}
	t.log.Info("tree destroyed", "name", t.name, "pages", len(ids))
	return len(ids), nil
}

// collect appends the ids of the subtree at id, children before parents.
func (t *Tree[R]) collect(id pagemem.PageID, level int, ids *[]pagemem.PageID) error {
	if level > 0 {
		p, err := t.acquire(id)
		if err != nil {
			return err
		}
		p.RLock()
		io, err := t.reg.Inner(p.Data(), id)
		if err != nil {
			t.runlock(p)
			return t.corrupt(err)
		}
		links := make([]pagemem.PageID, io.Count(p.Data())+1)
		for i := range links {
			links[i] = io.Link(p.Data(), i)
		}
		t.runlock(p)

		for _, child := range links {
			if err := t.collect(child, level-1, ids); err != nil {
				return err
			}
		}
	}
	*ids = append(*ids, id)
	return nil
}
