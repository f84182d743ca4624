package pagemem

// heapArena hands out pages carved from fixed-size heap chunks. Chunks are
// never reallocated, so page slices stay valid while the arena grows.
type heapArena struct {
	pageSize   int
	chunkPages int
	chunks     [][]byte
}

func newHeapArena(pageSize, chunkPages int) *heapArena {
	return &heapArena{
		pageSize:   pageSize,
		chunkPages: chunkPages,
	}
}

// slot is called with the Memory write lock held.
func (a *heapArena) slot(index uint64) ([]byte, error) {
	chunk := int(index / uint64(a.chunkPages))
	for len(a.chunks) <= chunk {
		a.chunks = append(a.chunks, make([]byte, a.chunkPages*a.pageSize))
	}

	off := int(index%uint64(a.chunkPages)) * a.pageSize
	return a.chunks[chunk][off : off+a.pageSize : off+a.pageSize], nil
}

func (a *heapArena) close() error {
	a.chunks = nil
	return nil
}
