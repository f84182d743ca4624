package pagemem

import (
	"sync"
	"sync/atomic"
)

// Page is a pinned view of one fixed-size page frame.
//
// The frame carries its own read/write latch. Holders read the bytes under
// RLock and mutate them under Lock. The bytes returned by Data are only
// stable while the page is pinned.
type Page struct {
	id   FullPageID
	data []byte

	latch sync.RWMutex
	pins  atomic.Int32
}

// NewPage wraps a byte slice as a page frame. Providers other than Memory
// use it to hand out frames.
func NewPage(id FullPageID, data []byte) *Page {
	return &Page{id: id, data: data}
}

// ID returns the address of the page.
func (p *Page) ID() FullPageID {
	return p.id
}

// Data returns the page bytes.
func (p *Page) Data() []byte {
	return p.data
}

// Pins returns the number of outstanding Acquire calls for this frame.
func (p *Page) Pins() int32 {
	return p.pins.Load()
}

func (p *Page) RLock()   { p.latch.RLock() }
func (p *Page) RUnlock() { p.latch.RUnlock() }
func (p *Page) Lock()    { p.latch.Lock() }
func (p *Page) Unlock()  { p.latch.Unlock() }

// Pin increments the pin count. Providers call it from Acquire.
func (p *Page) Pin() {
	p.pins.Add(1)
}

// Unpin decrements the pin count and reports whether the page was pinned.
func (p *Page) Unpin() bool {
	return p.pins.Add(-1) >= 0
}
