package pagemem

import "fmt"

// Flag tags the kind of data held by a page.
type Flag uint8

const (
	FlagData  Flag = 0x01
	FlagIndex Flag = 0x02
)

const (
	indexBits     = 40
	partitionBits = 16

	indexMask     = 1<<indexBits - 1
	partitionMask = 1<<partitionBits - 1

	// MaxPageIndex is the highest page index a PageID can carry.
	MaxPageIndex = indexMask
)

// PageID identifies a page inside a group.
// Layout: [Flags: 8][Partition: 16][Index: 40]
// The zero PageID never refers to a page and is used as a null link.
type PageID uint64

// NewPageID packs flags, partition and page index into a PageID.
func NewPageID(flags Flag, partition uint16, index uint64) PageID {
	return PageID(uint64(flags)<<(indexBits+partitionBits) |
		uint64(partition)<<indexBits |
		index&indexMask)
}

// Index returns the page index within the provider.
func (id PageID) Index() uint64 {
	return uint64(id) & indexMask
}

// Partition returns the partition the page was allocated for.
func (id PageID) Partition() uint16 {
	return uint16((uint64(id) >> indexBits) & partitionMask)
}

// Flags returns the flags the page was allocated with.
func (id PageID) Flags() Flag {
	return Flag(uint64(id) >> (indexBits + partitionBits))
}

func (id PageID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// FullPageID is the globally unique address of a page: the owning group
// (collection) plus the page identifier.
type FullPageID struct {
	Group uint32
	ID    PageID
}

func (f FullPageID) String() string {
	return fmt.Sprintf("%d:%s", f.Group, f.ID)
}
