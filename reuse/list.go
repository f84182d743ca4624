// Package reuse implements a page-resident stack of recyclable page ids.
//
// The list lives entirely in pages it manages: a fixed anchor page points at
// a chain of bucket pages, each holding a batch of ids. When the head bucket
// is full (or missing) the page being pushed becomes the new head bucket, so
// Put never needs a page it does not already own. When the head bucket is
// drained, Take hands out the bucket page itself.
package reuse

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/pagetree/internal/pageio"
	"github.com/alexhholmes/pagetree/pagemem"
)

// headState describes the head bucket as seen under the anchor latch.
type headState int

const (
	headMissing headState = iota // no buckets at all
	headReady                    // bucket with free slots and at least one id
	headFull                     // bucket with no free slots
	headDrained                  // bucket holding no ids
)

var (
	anchorIO pageio.ReuseAnchor
	bucketIO pageio.ReuseBucket
)

// List recycles pages of one group. It is safe for concurrent use; the
// anchor page latch serializes Put and Take.
type List struct {
	mem      pagemem.Provider
	group    uint32
	anchor   pagemem.PageID
	capacity int

	recycled atomic.Int64
}

// Create allocates an anchor page and returns an empty list.
func Create(mem pagemem.Provider, group uint32) (*List, error) {
	id, err := mem.Allocate(group, 0, pagemem.FlagData)
	if err != nil {
		return nil, err
	}

	l := newList(mem, group, id)
	p, err := l.acquire(id)
	if err != nil {
		return nil, err
	}
	p.Lock()
	anchorIO.Init(p.Data(), id)
	p.Unlock()
	mem.Release(p)

	return l, nil
}

// Open attaches to an existing list by its anchor page.
func Open(mem pagemem.Provider, group uint32, anchor pagemem.PageID) (*List, error) {
	l := newList(mem, group, anchor)
	p, err := l.acquire(anchor)
	if err != nil {
		return nil, err
	}
	defer mem.Release(p)

	p.RLock()
	defer p.RUnlock()
	if err := pageio.Check(p.Data(), pageio.TypeReuseAnchor, anchor); err != nil {
		return nil, err
	}
	l.recycled.Store(anchorIO.Count(p.Data()))
	return l, nil
}

func newList(mem pagemem.Provider, group uint32, anchor pagemem.PageID) *List {
	return &List{
		mem:      mem,
		group:    group,
		anchor:   anchor,
		capacity: bucketIO.Capacity(mem.PageSize()),
	}
}

// Anchor returns the page id to pass to Open.
func (l *List) Anchor() pagemem.PageID {
	return l.anchor
}

// Group returns the page group the list recycles.
func (l *List) Group() uint32 {
	return l.group
}

// RecycledCount returns the number of pages Take can hand out.
func (l *List) RecycledCount() int64 {
	return l.recycled.Load()
}

func (l *List) acquire(id pagemem.PageID) (*pagemem.Page, error) {
	return l.mem.Acquire(pagemem.FullPageID{Group: l.group, ID: id})
}

// lockAnchor write-latches the anchor page. The caller must call the
// returned release.
func (l *List) lockAnchor() (*pagemem.Page, func(), error) {
	p, err := l.acquire(l.anchor)
	if err != nil {
		return nil, nil, err
	}
	p.Lock()
	if err := pageio.Check(p.Data(), pageio.TypeReuseAnchor, l.anchor); err != nil {
		p.Unlock()
		l.mem.Release(p)
		return nil, nil, err
	}
	return p, func() {
		p.Unlock()
		l.mem.Release(p)
	}, nil
}

// head latches the head bucket, if any, and classifies it.
func (l *List) head(anchor []byte) (*pagemem.Page, headState, error) {
	id := anchorIO.Head(anchor)
	if id == 0 {
		return nil, headMissing, nil
	}

	p, err := l.acquire(id)
	if err != nil {
		return nil, 0, err
	}
	p.Lock()
	if err := pageio.Check(p.Data(), pageio.TypeReuseBucket, id); err != nil {
		l.unlock(p)
		return nil, 0, err
	}

	switch n := bucketIO.Count(p.Data()); {
	case n == 0:
		return p, headDrained, nil
	case n >= l.capacity:
		return p, headFull, nil
	default:
		return p, headReady, nil
	}
}

func (l *List) unlock(p *pagemem.Page) {
	p.Unlock()
	l.mem.Release(p)
}

// Put pushes a page that is no longer reachable from any structure. The
// caller must not hold a latch on the page.
func (l *List) Put(id pagemem.PageID) error {
	if id == 0 {
		return errors.AssertionFailedf("reuse list: put of null page")
	}

	a, release, err := l.lockAnchor()
	if err != nil {
		return err
	}
	defer release()

	h, state, err := l.head(a.Data())
	if err != nil {
		return err
	}

	switch state {
	case headMissing, headFull:
		// The freed page hosts the new head bucket.
		p, err := l.acquire(id)
		if err != nil {
			if h != nil {
				l.unlock(h)
			}
			return err
		}
		p.Lock()
		bucketIO.Init(p.Data(), id, anchorIO.Head(a.Data()))
		l.unlock(p)
		if h != nil {
			l.unlock(h)
		}
		anchorIO.SetHead(a.Data(), id)

	case headReady, headDrained:
		bucketIO.Push(h.Data(), id)
		l.unlock(h)
	}

	n := anchorIO.Count(a.Data()) + 1
	anchorIO.SetCount(a.Data(), n)
	l.recycled.Store(n)
	return nil
}

// Take pops a recycled page. It returns false when the list is empty and
// the caller should allocate a fresh page instead.
func (l *List) Take() (pagemem.PageID, bool, error) {
	if l.recycled.Load() == 0 {
		return 0, false, nil
	}

	a, release, err := l.lockAnchor()
	if err != nil {
		return 0, false, err
	}
	defer release()

	h, state, err := l.head(a.Data())
	if err != nil {
		return 0, false, err
	}

	var id pagemem.PageID
	switch state {
	case headMissing:
		return 0, false, nil

	case headDrained:
		// Hand out the bucket page itself.
		id = anchorIO.Head(a.Data())
		anchorIO.SetHead(a.Data(), bucketIO.Next(h.Data()))
		pageio.MarkFree(h.Data(), id)
		l.unlock(h)

	case headReady, headFull:
		id = bucketIO.Pop(h.Data())
		l.unlock(h)
	}

	n := anchorIO.Count(a.Data()) - 1
	anchorIO.SetCount(a.Data(), n)
	l.recycled.Store(n)
	return id, true, nil
}

// Walk calls fn for every page the list can hand out, bucket pages
// included. It holds the anchor latch for the whole walk.
func (l *List) Walk(fn func(id pagemem.PageID) error) error {
	a, release, err := l.lockAnchor()
	if err != nil {
		return err
	}
	defer release()

	var seen int64
	for id := anchorIO.Head(a.Data()); id != 0; {
		p, err := l.acquire(id)
		if err != nil {
			return err
		}
		p.RLock()
		if err := pageio.Check(p.Data(), pageio.TypeReuseBucket, id); err != nil {
			p.RUnlock()
			l.mem.Release(p)
			return err
		}

		ids := make([]pagemem.PageID, 0, bucketIO.Count(p.Data())+1)
		ids = append(ids, id)
		for i := 0; i < bucketIO.Count(p.Data()); i++ {
			ids = append(ids, bucketIO.ID(p.Data(), i))
		}
		next := bucketIO.Next(p.Data())
		p.RUnlock()
		l.mem.Release(p)

		for _, rid := range ids {
			if err := fn(rid); err != nil {
				return err
			}
		}
		seen += int64(len(ids))
		id = next
	}

	if want := anchorIO.Count(a.Data()); seen != want {
		return pageio.Corruptf(l.anchor, "reuse list holds %d pages, anchor records %d", seen, want)
	}
	return nil
}
