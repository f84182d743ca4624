package pageio

import "github.com/alexhholmes/pagetree/pagemem"

// LEAF PAGE LAYOUT (v1):
// ┌──────────────────────────────────────────────┐
// │ Header (16 bytes)                            │
// ├──────────────────────────────────────────────┤
// │ Count: 2 │ Reserved: 6                       │
// ├──────────────────────────────────────────────┤
// │ Forward PageID: 8 (0 on the rightmost leaf)  │
// ├──────────────────────────────────────────────┤
// │ Row[0] │ Row[1] │ ... │ Row[Count-1]         │
// └──────────────────────────────────────────────┘
const (
	offCount   = HeaderSize
	offForward = HeaderSize + 8
	offRows    = HeaderSize + 16
)

func count(data []byte) int {
	return int(le.Uint16(data[offCount:]))
}

func setCount(data []byte, n int) {
	le.PutUint16(data[offCount:], uint16(n))
}

// leafV1 stores fixed-width rows packed in ascending key order.
type leafV1 struct {
	rowSize  int
	override int
}

func (l *leafV1) Version() uint16 { return Version1 }
func (l *leafV1) ItemSize() int   { return l.rowSize }

func (l *leafV1) MaxCount(pageSize int) int {
	n := (pageSize - offRows) / l.rowSize
	if l.override > 0 && l.override < n {
		n = l.override
	}
	return n
}

func (l *leafV1) Init(data []byte, self pagemem.PageID) {
	WriteHeader(data, TypeLeaf, Version1, self)
}

func (l *leafV1) Count(data []byte) int       { return count(data) }
func (l *leafV1) SetCount(data []byte, n int) { setCount(data, n) }

func (l *leafV1) Forward(data []byte) pagemem.PageID {
	return pagemem.PageID(le.Uint64(data[offForward:]))
}

func (l *leafV1) SetForward(data []byte, id pagemem.PageID) {
	le.PutUint64(data[offForward:], uint64(id))
}

func (l *leafV1) offset(idx int) int {
	return offRows + idx*l.rowSize
}

func (l *leafV1) Item(data []byte, idx int) []byte {
	off := l.offset(idx)
	return data[off : off+l.rowSize : off+l.rowSize]
}

func (l *leafV1) SetItem(data []byte, idx int, item []byte) {
	copy(data[l.offset(idx):l.offset(idx+1)], item)
}

func (l *leafV1) Store(dst []byte, dstIdx int, src []byte, srcIdx int) {
	copy(dst[l.offset(dstIdx):l.offset(dstIdx+1)], src[l.offset(srcIdx):l.offset(srcIdx+1)])
}

func (l *leafV1) Insert(data []byte, idx int, item []byte) {
	n := count(data)
	copy(data[l.offset(idx+1):], data[l.offset(idx):l.offset(n)])
	l.SetItem(data, idx, item)
	setCount(data, n+1)
}

func (l *leafV1) Remove(data []byte, idx int) {
	n := count(data)
	copy(data[l.offset(idx):], data[l.offset(idx+1):l.offset(n)])
	clear(data[l.offset(n-1):l.offset(n)])
	setCount(data, n-1)
}

func (l *leafV1) Items(data []byte, from, to int) []byte {
	return data[l.offset(from):l.offset(to)]
}

func (l *leafV1) WriteItems(data []byte, idx int, items []byte) {
	copy(data[l.offset(idx):], items)
}
