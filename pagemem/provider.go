// Package pagemem provides fixed-size page memory: allocation of uniquely
// addressable pages, pinning and per-page latches.
//
// The Provider interface is the contract consumed by the tree and the reuse
// list. Memory is the bundled implementation, backed either by heap chunks
// or by a memory-mapped file.
package pagemem

// Provider hands out fixed-size pages.
//
// A page's bytes are stable between Acquire and the matching Release, and
// bytes written by one holder are visible to the next one. Providers never
// take a page back: recycling is the job of the caller.
type Provider interface {
	// PageSize returns the size of every page in bytes.
	PageSize() int

	// Allocate reserves a fresh zeroed page for the given group.
	Allocate(group uint32, partition uint16, flags Flag) (PageID, error)

	// Acquire pins the page and returns its frame.
	Acquire(id FullPageID) (*Page, error)

	// Release unpins a page obtained from Acquire.
	Release(p *Page)

	// AcquiredPages returns the number of currently pinned pages.
	AcquiredPages() int64
}
