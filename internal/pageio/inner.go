package pageio

import "github.com/alexhholmes/pagetree/pagemem"

// INNER PAGE LAYOUT (v1):
// ┌──────────────────────────────────────────────────────────┐
// │ Header (16 bytes)                                        │
// ├──────────────────────────────────────────────────────────┤
// │ Count: 2 │ Reserved: 6                                   │
// ├──────────────────────────────────────────────────────────┤
// │ Link[0]: 8                                               │
// ├──────────────────────────────────────────────────────────┤
// │ Item[0] │ Link[1] │ Item[1] │ Link[2] │ ... │ Link[Count]│
// └──────────────────────────────────────────────────────────┘
//
// Item[i] separates Link[i] and Link[i+1] and equals the smallest key
// reachable through Link[i+1]. A "pair" is Item[i] followed by Link[i+1];
// pairs are contiguous so a run of them moves with one copy.
const (
	offLink0 = HeaderSize + 8
	offPairs = HeaderSize + 16
	linkSize = 8
)

type innerV1 struct {
	itemSize int
	override int
}

func (in *innerV1) Version() uint16 { return Version1 }
func (in *innerV1) ItemSize() int   { return in.itemSize }

func (in *innerV1) stride() int {
	return in.itemSize + linkSize
}

// MaxCount never drops below 2 separators: an inner page holding one
// separator cannot be split into two routing pages.
func (in *innerV1) MaxCount(pageSize int) int {
	n := (pageSize - offPairs) / in.stride()
	if in.override > 0 && in.override < n {
		n = in.override
	}
	return max(n, 2)
}

func (in *innerV1) Init(data []byte, self, link0 pagemem.PageID) {
	WriteHeader(data, TypeInner, Version1, self)
	le.PutUint64(data[offLink0:], uint64(link0))
}

func (in *innerV1) Count(data []byte) int       { return count(data) }
func (in *innerV1) SetCount(data []byte, n int) { setCount(data, n) }

func (in *innerV1) pair(idx int) int {
	return offPairs + idx*in.stride()
}

func (in *innerV1) linkOffset(i int) int {
	return offLink0 + i*in.stride()
}

func (in *innerV1) Item(data []byte, idx int) []byte {
	off := in.pair(idx)
	return data[off : off+in.itemSize : off+in.itemSize]
}

func (in *innerV1) SetItem(data []byte, idx int, item []byte) {
	copy(data[in.pair(idx):in.pair(idx)+in.itemSize], item)
}

func (in *innerV1) Store(dst []byte, dstIdx int, src []byte, srcIdx int) {
	copy(dst[in.pair(dstIdx):in.pair(dstIdx)+in.itemSize], in.Item(src, srcIdx))
}

func (in *innerV1) Link(data []byte, i int) pagemem.PageID {
	return pagemem.PageID(le.Uint64(data[in.linkOffset(i):]))
}

func (in *innerV1) SetLink(data []byte, i int, id pagemem.PageID) {
	le.PutUint64(data[in.linkOffset(i):], uint64(id))
}

// Insert adds separator idx with right as the child following it.
func (in *innerV1) Insert(data []byte, idx int, item []byte, right pagemem.PageID) {
	n := count(data)
	copy(data[in.pair(idx+1):], data[in.pair(idx):in.pair(n)])
	in.SetItem(data, idx, item)
	in.SetLink(data, idx+1, right)
	setCount(data, n+1)
}

// InsertLeft adds separator idx with left as the child preceding it.
func (in *innerV1) InsertLeft(data []byte, idx int, left pagemem.PageID, item []byte) {
	n := count(data)
	from := in.linkOffset(idx)
	copy(data[from+in.stride():], data[from:in.pair(n)])
	le.PutUint64(data[from:], uint64(left))
	copy(data[from+linkSize:from+linkSize+in.itemSize], item)
	setCount(data, n+1)
}

// RemoveRight drops separator idx and the child following it.
func (in *innerV1) RemoveRight(data []byte, idx int) {
	n := count(data)
	copy(data[in.pair(idx):], data[in.pair(idx+1):in.pair(n)])
	clear(data[in.pair(n-1):in.pair(n)])
	setCount(data, n-1)
}

// RemoveLeft drops separator idx and the child preceding it.
func (in *innerV1) RemoveLeft(data []byte, idx int) {
	n := count(data)
	from := in.linkOffset(idx)
	copy(data[from:], data[from+in.stride():in.pair(n)])
	clear(data[in.pair(n-1):in.pair(n)])
	setCount(data, n-1)
}

// Pairs returns the raw bytes of pairs [from, to).
func (in *innerV1) Pairs(data []byte, from, to int) []byte {
	return data[in.pair(from):in.pair(to)]
}

// WritePairs copies raw pairs starting at pair idx without touching Count.
func (in *innerV1) WritePairs(data []byte, idx int, pairs []byte) {
	copy(data[in.pair(idx):], pairs)
}

// PairSize is the width of one separator plus its right link.
func (in *innerV1) PairSize() int {
	return in.stride()
}
