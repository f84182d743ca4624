package pageio

import "github.com/alexhholmes/pagetree/pagemem"

// LeafIO is the leaf page contract for one IO version. Items are whole
// rows.
type LeafIO interface {
	Version() uint16
	ItemSize() int
	MaxCount(pageSize int) int
	Init(data []byte, self pagemem.PageID)

	Count(data []byte) int
	SetCount(data []byte, n int)
	Forward(data []byte) pagemem.PageID
	SetForward(data []byte, id pagemem.PageID)

	Item(data []byte, idx int) []byte
	SetItem(data []byte, idx int, item []byte)
	Store(dst []byte, dstIdx int, src []byte, srcIdx int)
	Insert(data []byte, idx int, item []byte)
	Remove(data []byte, idx int)
	Items(data []byte, from, to int) []byte
	WriteItems(data []byte, idx int, items []byte)
}

// InnerIO is the inner page contract for one IO version. Items are
// separator keys, or full rows when the tree retains rows in inner pages.
type InnerIO interface {
	Version() uint16
	ItemSize() int
	MaxCount(pageSize int) int
	Init(data []byte, self, link0 pagemem.PageID)

	Count(data []byte) int
	SetCount(data []byte, n int)
	Link(data []byte, i int) pagemem.PageID
	SetLink(data []byte, i int, id pagemem.PageID)

	Item(data []byte, idx int) []byte
	SetItem(data []byte, idx int, item []byte)
	Store(dst []byte, dstIdx int, src []byte, srcIdx int)
	Insert(data []byte, idx int, item []byte, right pagemem.PageID)
	InsertLeft(data []byte, idx int, left pagemem.PageID, item []byte)
	RemoveRight(data []byte, idx int)
	RemoveLeft(data []byte, idx int)
	PairSize() int
	Pairs(data []byte, from, to int) []byte
	WritePairs(data []byte, idx int, pairs []byte)
}

// MetaIO is the meta page contract for one IO version.
type MetaIO interface {
	Version() uint16
	MaxLevels(pageSize int) int
	Init(data []byte, self, root pagemem.PageID)

	RootLevel(data []byte) int
	Root(data []byte) pagemem.PageID
	Level(data []byte, l int) pagemem.PageID
	Levels(data []byte) []pagemem.PageID
	SetLevels(data []byte, levels []pagemem.PageID)
	Verify(data []byte) error
}

// Registry selects the codec matching a page's version. New pages are
// always written with the latest version.
type Registry struct {
	leaves map[uint16]LeafIO
	inners map[uint16]InnerIO
	metas  map[uint16]MetaIO

	leaf  LeafIO
	inner InnerIO
	meta  MetaIO
}

// NewRegistry builds the codecs for one tree. maxPerPage, when positive,
// caps the number of items per leaf and inner page.
func NewRegistry(rowSize, innerItemSize, maxPerPage int) *Registry {
	leaf := &leafV1{rowSize: rowSize, override: maxPerPage}
	inner := &innerV1{itemSize: innerItemSize, override: maxPerPage}
	meta := &metaV1{}

	return &Registry{
		leaves: map[uint16]LeafIO{Version1: leaf},
		inners: map[uint16]InnerIO{Version1: inner},
		metas:  map[uint16]MetaIO{Version1: meta},
		leaf:   leaf,
		inner:  inner,
		meta:   meta,
	}
}

func (r *Registry) LatestLeaf() LeafIO   { return r.leaf }
func (r *Registry) LatestInner() InnerIO { return r.inner }
func (r *Registry) LatestMeta() MetaIO   { return r.meta }

// Leaf returns the codec for a leaf page written as self.
func (r *Registry) Leaf(data []byte, self pagemem.PageID) (LeafIO, error) {
	if err := Check(data, TypeLeaf, self); err != nil {
		return nil, err
	}
	io, ok := r.leaves[Version(data)]
	if !ok {
		return nil, Corruptf(self, "unknown leaf version %d", Version(data))
	}
	return io, nil
}

// Inner returns the codec for an inner page written as self.
func (r *Registry) Inner(data []byte, self pagemem.PageID) (InnerIO, error) {
	if err := Check(data, TypeInner, self); err != nil {
		return nil, err
	}
	io, ok := r.inners[Version(data)]
	if !ok {
		return nil, Corruptf(self, "unknown inner version %d", Version(data))
	}
	return io, nil
}

// Meta returns the codec for a meta page written as self and verifies its
// checksum.
func (r *Registry) Meta(data []byte, self pagemem.PageID) (MetaIO, error) {
	if err := Check(data, TypeMeta, self); err != nil {
		return nil, err
	}
	io, ok := r.metas[Version(data)]
	if !ok {
		return nil, Corruptf(self, "unknown meta version %d", Version(data))
	}
	if err := io.Verify(data); err != nil {
		return nil, err
	}
	return io, nil
}
