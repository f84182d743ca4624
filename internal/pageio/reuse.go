package pageio

import "github.com/alexhholmes/pagetree/pagemem"

// REUSE ANCHOR LAYOUT (v1):
// [Header: 16][Head PageID: 8][Count: 8]
//
// REUSE BUCKET LAYOUT (v1):
// [Header: 16][Count: 2][Reserved: 6][Next PageID: 8][PageID[0..Count-1]]
//
// The anchor is the fixed entry point of a reuse list. Buckets form a
// singly linked stack starting at Head; Count on the anchor is the number
// of pages the list can hand out, bucket pages included.
const (
	offAnchorHead  = HeaderSize
	offAnchorCount = HeaderSize + 8

	offBucketNext = HeaderSize + 8
	offBucketIDs  = HeaderSize + 16
)

// ReuseAnchor is the v1 anchor codec.
type ReuseAnchor struct{}

func (ReuseAnchor) Init(data []byte, self pagemem.PageID) {
	WriteHeader(data, TypeReuseAnchor, Version1, self)
}

func (ReuseAnchor) Head(data []byte) pagemem.PageID {
	return pagemem.PageID(le.Uint64(data[offAnchorHead:]))
}

func (ReuseAnchor) SetHead(data []byte, id pagemem.PageID) {
	le.PutUint64(data[offAnchorHead:], uint64(id))
}

func (ReuseAnchor) Count(data []byte) int64 {
	return int64(le.Uint64(data[offAnchorCount:]))
}

func (ReuseAnchor) SetCount(data []byte, n int64) {
	le.PutUint64(data[offAnchorCount:], uint64(n))
}

// ReuseBucket is the v1 bucket codec.
type ReuseBucket struct{}

// Capacity is the number of ids a bucket of pageSize can hold.
func (ReuseBucket) Capacity(pageSize int) int {
	return (pageSize - offBucketIDs) / 8
}

func (ReuseBucket) Init(data []byte, self, next pagemem.PageID) {
	WriteHeader(data, TypeReuseBucket, Version1, self)
	le.PutUint64(data[offBucketNext:], uint64(next))
}

func (ReuseBucket) Count(data []byte) int {
	return count(data)
}

func (ReuseBucket) Next(data []byte) pagemem.PageID {
	return pagemem.PageID(le.Uint64(data[offBucketNext:]))
}

func (ReuseBucket) ID(data []byte, idx int) pagemem.PageID {
	return pagemem.PageID(le.Uint64(data[offBucketIDs+idx*8:]))
}

// Push appends id; the caller checks capacity.
func (ReuseBucket) Push(data []byte, id pagemem.PageID) {
	n := count(data)
	le.PutUint64(data[offBucketIDs+n*8:], uint64(id))
	setCount(data, n+1)
}

// Pop removes and returns the last id; the caller checks Count.
func (ReuseBucket) Pop(data []byte) pagemem.PageID {
	n := count(data) - 1
	off := offBucketIDs + n*8
	id := pagemem.PageID(le.Uint64(data[off:]))
	clear(data[off : off+8])
	setCount(data, n)
	return id
}
