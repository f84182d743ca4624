// Package pagetree is a concurrent B+tree stored in fixed-size pages.
//
// Pages come from a pagemem.Provider. Leaves hold fixed-width rows in key
// order and are chained left to right; inner pages route by separator keys.
// Readers use latch coupling; writers descend optimistically and fall back
// to a pessimistic, write-latched descent from the meta page when a page
// has to split, merge or change a separator. Freed pages go to an optional
// reuse list, which is also the first source of new pages.
package pagetree

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/pagetree/internal/pageio"
	"github.com/alexhholmes/pagetree/pagemem"
	"github.com/alexhholmes/pagetree/reuse"
)

// RowPolicy makes the tree generic over its row type.
//
// Every row encodes to exactly RowSize bytes, and its key occupies the first
// KeySize bytes. Compare must only look at the key bytes: inner pages store
// just the key unless rows are retained with WithInnerRows.
type RowPolicy[R any] struct {
	RowSize int
	KeySize int

	// Encode writes row into dst, which is RowSize bytes long.
	Encode func(dst []byte, row R)

	// Compare orders a stored row or key against a search row.
	// Negative means stored sorts before search.
	Compare func(stored []byte, search R) int

	// Extract decodes a stored row.
	Extract func(stored []byte) R
}

func (p RowPolicy[R]) validate() error {
	switch {
	case p.RowSize <= 0:
		return errors.Wrapf(ErrInvalidRowPolicy, "row size %d", p.RowSize)
	case p.KeySize <= 0 || p.KeySize > p.RowSize:
		return errors.Wrapf(ErrInvalidRowPolicy, "key size %d with row size %d", p.KeySize, p.RowSize)
	case p.Encode == nil || p.Compare == nil || p.Extract == nil:
		return errors.Wrap(ErrInvalidRowPolicy, "encode, compare and extract are required")
	}
	return nil
}

// Tree is a B+tree over rows of type R. It is safe for concurrent use.
type Tree[R any] struct {
	name   string
	mem    pagemem.Provider
	group  uint32
	policy RowPolicy[R]
	reg    *pageio.Registry
	reuse  *reuse.List
	log    Logger

	meta      pagemem.PageID
	innerRows bool
	itemSize  int // inner separator width

	leafMax, leafMin   int
	innerMax, innerMin int
	maxLevels          int

	// smo counts structure modifications (split, merge, borrow, root
	// change). It is bumped while the modified pages are still latched.
	smo       atomic.Uint64
	destroyed atomic.Bool
}

// Create allocates a meta page and an empty root leaf.
func Create[R any](mem pagemem.Provider, policy RowPolicy[R], opts ...Option) (*Tree[R], error) {
	t, err := newTree(mem, policy, opts)
	if err != nil {
		return nil, err
	}

	pages, err := t.reserve(2)
	if err != nil {
		return nil, err
	}
	meta, root := pages[0], pages[1]
	metaID, rootID := meta.ID().ID, root.ID().ID

	t.reg.LatestLeaf().Init(root.Data(), rootID)
	t.unlock(root)
	t.reg.LatestMeta().Init(meta.Data(), metaID, rootID)
	t.unlock(meta)

	t.meta = metaID
	t.log.Info("tree created", "name", t.name, "meta", metaID,
		"leafMax", t.leafMax, "innerMax", t.innerMax)
	return t, nil
}

// Open attaches to a tree previously built with Create. The options and
// policy must match the ones the tree was created with.
func Open[R any](mem pagemem.Provider, policy RowPolicy[R], meta pagemem.PageID, opts ...Option) (*Tree[R], error) {
	t, err := newTree(mem, policy, opts)
	if err != nil {
		return nil, err
	}

	p, err := t.acquire(meta)
	if err != nil {
		return nil, err
	}
	defer t.mem.Release(p)

	p.RLock()
	defer p.RUnlock()
	if _, err := t.reg.Meta(p.Data(), meta); err != nil {
		return nil, err
	}

	t.meta = meta
	return t, nil
}

func newTree[R any](mem pagemem.Provider, policy RowPolicy[R], opts []Option) (*Tree[R], error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := policy.validate(); err != nil {
		return nil, err
	}
	if o.reuse != nil && o.reuse.Group() != o.group {
		return nil, errors.Wrapf(ErrReuseGroupMismatch, "list group %d, tree group %d", o.reuse.Group(), o.group)
	}

	itemSize := policy.KeySize
	if o.innerRows {
		itemSize = policy.RowSize
	}

	t := &Tree[R]{
		name:      o.name,
		mem:       mem,
		group:     o.group,
		policy:    policy,
		reg:       pageio.NewRegistry(policy.RowSize, itemSize, o.maxPerPage),
		reuse:     o.reuse,
		log:       o.logger,
		innerRows: o.innerRows,
		itemSize:  itemSize,
	}

	pageSize := mem.PageSize()
	t.leafMax = t.reg.LatestLeaf().MaxCount(pageSize)
	t.innerMax = t.reg.LatestInner().MaxCount(pageSize)
	t.maxLevels = t.reg.LatestMeta().MaxLevels(pageSize)
	if t.leafMax < 1 || (pageSize-pageio.HeaderSize-16)/(itemSize+8) < 2 {
		return nil, errors.Wrapf(ErrInvalidRowPolicy, "row size %d does not fit page size %d", policy.RowSize, pageSize)
	}
	t.leafMin = max(1, t.leafMax/2)
	t.innerMin = max(1, t.innerMax/2)

	return t, nil
}

// Name returns the name set with WithName.
func (t *Tree[R]) Name() string {
	return t.name
}

// MetaPageID returns the page id to pass to Open.
func (t *Tree[R]) MetaPageID() pagemem.PageID {
	return t.meta
}

// RecycledPages returns the number of pages waiting in the reuse list, or
// zero when the tree has none.
func (t *Tree[R]) RecycledPages() int64 {
	if t.reuse == nil {
		return 0
	}
	return t.reuse.RecycledCount()
}

// RootLevel returns the number of inner levels above the leaves.
func (t *Tree[R]) RootLevel() (int, error) {
	meta, io, err := t.readMeta()
	if err != nil {
		return 0, err
	}
	level := io.RootLevel(meta.Data())
	t.runlock(meta)
	return level, nil
}

func (t *Tree[R]) acquire(id pagemem.PageID) (*pagemem.Page, error) {
	return t.mem.Acquire(pagemem.FullPageID{Group: t.group, ID: id})
}

func (t *Tree[R]) runlock(p *pagemem.Page) {
	p.RUnlock()
	t.mem.Release(p)
}

func (t *Tree[R]) unlock(p *pagemem.Page) {
	p.Unlock()
	t.mem.Release(p)
}

// readMeta read-latches the meta page.
func (t *Tree[R]) readMeta() (*pagemem.Page, pageio.MetaIO, error) {
	if t.destroyed.Load() {
		return nil, nil, ErrTreeDestroyed
	}

	p, err := t.acquire(t.meta)
	if err != nil {
		return nil, nil, err
	}
	p.RLock()
	if t.destroyed.Load() {
		t.runlock(p)
		return nil, nil, ErrTreeDestroyed
	}
	io, err := t.reg.Meta(p.Data(), t.meta)
	if err != nil {
		t.runlock(p)
		return nil, nil, t.corrupt(err)
	}
	return p, io, nil
}

// writeMeta write-latches the meta page.
func (t *Tree[R]) writeMeta() (*pagemem.Page, pageio.MetaIO, error) {
	if t.destroyed.Load() {
		return nil, nil, ErrTreeDestroyed
	}

	p, err := t.acquire(t.meta)
	if err != nil {
		return nil, nil, err
	}
	p.Lock()
	if t.destroyed.Load() {
		t.unlock(p)
		return nil, nil, ErrTreeDestroyed
	}
	io, err := t.reg.Meta(p.Data(), t.meta)
	if err != nil {
		t.unlock(p)
		return nil, nil, t.corrupt(err)
	}
	return p, io, nil
}

// corrupt logs corruption errors on their way to the caller.
func (t *Tree[R]) corrupt(err error) error {
	if errors.Is(err, ErrCorruption) {
		t.log.Error("tree corruption detected", "name", t.name, "error", err)
	}
	return err
}

// allocPage takes a recycled page, or allocates a fresh one.
func (t *Tree[R]) allocPage() (pagemem.PageID, error) {
	if t.reuse != nil {
		id, ok, err := t.reuse.Take()
		if err != nil {
			return 0, err
		}
		if ok {
			return id, nil
		}
	}
	return t.mem.Allocate(t.group, 0, pagemem.FlagIndex)
}

// reserve allocates n pages up front so a structure modification cannot
// fail halfway. On failure the pages already taken are recycled.
func (t *Tree[R]) reserve(n int) ([]*pagemem.Page, error) {
	pages := make([]*pagemem.Page, 0, n)
	for len(pages) < n {
		id, err := t.allocPage()
		if err == nil {
			var p *pagemem.Page
			if p, err = t.acquire(id); err == nil {
				p.Lock()
				pages = append(pages, p)
				continue
			}
		}

		if ferr := t.freePages(pages); ferr != nil {
			return nil, errors.CombineErrors(err, ferr)
		}
		return nil, err
	}
	return pages, nil
}

// freePages marks write-latched pages as free, releases them and pushes
// them to the reuse list. The pages must already be unreachable.
func (t *Tree[R]) freePages(pages []*pagemem.Page) error {
	ids := make([]pagemem.PageID, len(pages))
	for i, p := range pages {
		ids[i] = p.ID().ID
		pageio.MarkFree(p.Data(), ids[i])
		t.unlock(p)
	}
	return t.recycle(ids)
}

// recycle pushes unlatched, unreachable pages to the reuse list. Without a
// list the pages are simply abandoned.
func (t *Tree[R]) recycle(ids []pagemem.PageID) error {
	if t.reuse == nil {
		return nil
	}
	for _, id := range ids {
		if err := t.reuse.Put(id); err != nil {
			return errors.Wrapf(err, "recycle page %s", id)
		}
	}
	return nil
}

// keyRow rebuilds a searchable row from a separator. Compare only reads the
// key bytes, so the zero padding never matters.
func (t *Tree[R]) keyRow(item []byte) R {
	if len(item) == t.policy.RowSize {
		return t.policy.Extract(item)
	}
	buf := make([]byte, t.policy.RowSize)
	copy(buf, item)
	return t.policy.Extract(buf)
}

func (t *Tree[R]) encode(row R) []byte {
	buf := make([]byte, t.policy.RowSize)
	t.policy.Encode(buf, row)
	return buf
}

// searchLeaf returns the index of the first row not below key, and whether
// that row matches key.
func (t *Tree[R]) searchLeaf(io pageio.LeafIO, data []byte, key R) (int, bool) {
	lo, hi := 0, io.Count(data)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch c := t.policy.Compare(io.Item(data, mid), key); {
		case c < 0:
			lo = mid + 1
		case c > 0:
			hi = mid
		default:
			return mid, true
		}
	}
	return lo, false
}

// searchInner returns the child to follow for key: the number of
// separators not above key. exact reports that separator child-1 equals key.
func (t *Tree[R]) searchInner(io pageio.InnerIO, data []byte, key R) (child int, exact bool) {
	lo, hi := 0, io.Count(data)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch c := t.policy.Compare(io.Item(data, mid), key); {
		case c < 0:
			lo = mid + 1
		case c > 0:
			hi = mid
		default:
			return mid + 1, true
		}
	}
	return lo, false
}

// separator returns the bytes an inner page stores for a leaf row.
func (t *Tree[R]) separator(row []byte) []byte {
	return row[:t.itemSize]
}
