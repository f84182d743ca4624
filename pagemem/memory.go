package pagemem

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// arena supplies the bytes behind page frames. Slices returned by slot must
// never move for the lifetime of the arena.
type arena interface {
	slot(index uint64) ([]byte, error)
	close() error
}

// Memory is an in-process page memory. Pages are never returned to it;
// callers recycle them through a reuse list.
type Memory struct {
	pageSize int
	maxPages uint64
	arena    arena

	mu     sync.RWMutex // Protects frames and closed
	frames []*Page      // Indexed by PageID.Index(); slot 0 is the null page
	closed bool

	acquired atomic.Int64
}

// Stats reports page memory usage.
type Stats struct {
	PageSize  int
	Allocated uint64 // Pages handed out by Allocate
	Acquired  int64  // Currently pinned pages
	Bytes     uint64 // Allocated * PageSize
}

var _ Provider = (*Memory)(nil)

// New creates page memory.
func New(opts ...Option) (*Memory, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.pageSize < MinPageSize || o.pageSize > MaxPageSize || o.pageSize&(o.pageSize-1) != 0 {
		return nil, errors.Wrapf(ErrInvalidPageSize, "page size %d", o.pageSize)
	}

	var (
		a   arena
		err error
	)
	if o.path != "" {
		if o.maxPages == 0 {
			return nil, ErrMaxPagesRequired
		}
		// Slot 0 is reserved, so map one extra page.
		a, err = newMmapArena(o.path, o.pageSize, o.maxPages+1)
		if err != nil {
			return nil, err
		}
	} else {
		a = newHeapArena(o.pageSize, o.chunkPages)
	}

	m := &Memory{
		pageSize: o.pageSize,
		maxPages: o.maxPages,
		arena:    a,
		frames:   make([]*Page, 1, 1024),
	}
	return m, nil
}

// PageSize returns the size of every page in bytes.
func (m *Memory) PageSize() int {
	return m.pageSize
}

// Allocate reserves a fresh zeroed page.
func (m *Memory) Allocate(group uint32, partition uint16, flags Flag) (PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	index := uint64(len(m.frames))
	if (m.maxPages > 0 && index > m.maxPages) || index > MaxPageIndex {
		return 0, errors.Wrapf(ErrOutOfPages, "%d pages allocated", index-1)
	}

	data, err := m.arena.slot(index)
	if err != nil {
		return 0, err
	}
	clear(data)

	id := NewPageID(flags, partition, index)
	m.frames = append(m.frames, NewPage(FullPageID{Group: group, ID: id}, data))
	return id, nil
}

// Acquire pins the page and returns its frame.
func (m *Memory) Acquire(id FullPageID) (*Page, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	index := id.ID.Index()
	if index == 0 || index >= uint64(len(m.frames)) {
		m.mu.RUnlock()
		return nil, errors.Wrapf(ErrUnknownPage, "page %s", id)
	}
	p := m.frames[index]
	m.mu.RUnlock()

	if p.id != id {
		return nil, errors.Wrapf(ErrUnknownPage, "page %s is allocated as %s", id, p.id)
	}

	p.Pin()
	m.acquired.Add(1)
	return p, nil
}

// Release unpins a page obtained from Acquire.
func (m *Memory) Release(p *Page) {
	if !p.Unpin() {
		panic(errors.AssertionFailedf("page %s released more times than acquired", p.id))
	}
	m.acquired.Add(-1)
}

// AcquiredPages returns the number of currently pinned pages.
func (m *Memory) AcquiredPages() int64 {
	return m.acquired.Load()
}

// Stats returns memory usage counters.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	allocated := uint64(len(m.frames) - 1)
	m.mu.RUnlock()

	return Stats{
		PageSize:  m.pageSize,
		Allocated: allocated,
		Acquired:  m.acquired.Load(),
		Bytes:     allocated * uint64(m.pageSize),
	}
}

// Close releases the backing arena. Pages must not be used afterwards.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.frames = nil
	return m.arena.close()
}
