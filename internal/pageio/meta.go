package pageio

import (
	"github.com/cespare/xxhash/v2"

	"github.com/alexhholmes/pagetree/pagemem"
)

// META PAGE LAYOUT (v1):
// ┌──────────────────────────────────────────────────────┐
// │ Header (16 bytes)                                    │
// ├──────────────────────────────────────────────────────┤
// │ Checksum: 8 (xxhash64 of every other used byte)      │
// ├──────────────────────────────────────────────────────┤
// │ RootLevel: 4 │ Reserved: 4                           │
// ├──────────────────────────────────────────────────────┤
// │ Level[0] │ Level[1] │ ... │ Level[RootLevel]         │
// └──────────────────────────────────────────────────────┘
//
// Level[l] is the leftmost page of level l; Level[RootLevel] is the root.
const (
	offChecksum  = HeaderSize
	offRootLevel = HeaderSize + 8
	offLevels    = HeaderSize + 16
)

type metaV1 struct{}

func (m *metaV1) Version() uint16 { return Version1 }

// MaxLevels is the deepest tree a meta page of pageSize can describe.
func (m *metaV1) MaxLevels(pageSize int) int {
	return (pageSize - offLevels) / 8
}

func (m *metaV1) Init(data []byte, self, root pagemem.PageID) {
	WriteHeader(data, TypeMeta, Version1, self)
	m.SetLevels(data, []pagemem.PageID{root})
}

func (m *metaV1) RootLevel(data []byte) int {
	return int(le.Uint32(data[offRootLevel:]))
}

func (m *metaV1) Root(data []byte) pagemem.PageID {
	return m.Level(data, m.RootLevel(data))
}

func (m *metaV1) Level(data []byte, l int) pagemem.PageID {
	return pagemem.PageID(le.Uint64(data[offLevels+l*8:]))
}

// Levels returns the leftmost page of every level, leaves first.
func (m *metaV1) Levels(data []byte) []pagemem.PageID {
	levels := make([]pagemem.PageID, m.RootLevel(data)+1)
	for l := range levels {
		levels[l] = m.Level(data, l)
	}
	return levels
}

// SetLevels rewrites the level table and reseals the checksum. The last
// entry becomes the root.
func (m *metaV1) SetLevels(data []byte, levels []pagemem.PageID) {
	clear(data[offRootLevel:])
	le.PutUint32(data[offRootLevel:], uint32(len(levels)-1))
	for l, id := range levels {
		le.PutUint64(data[offLevels+l*8:], uint64(id))
	}
	le.PutUint64(data[offChecksum:], m.checksum(data))
}

func (m *metaV1) checksum(data []byte) uint64 {
	end := offLevels + (m.RootLevel(data)+1)*8
	if end > len(data) {
		end = len(data)
	}

	d := xxhash.New()
	_, _ = d.Write(data[:offChecksum])
	_, _ = d.Write(data[offRootLevel:end])
	return d.Sum64()
}

// Verify checks the level table against the stored checksum.
func (m *metaV1) Verify(data []byte) error {
	if offLevels+(m.RootLevel(data)+1)*8 > len(data) {
		return Corruptf(Self(data), "root level %d exceeds meta capacity", m.RootLevel(data))
	}
	if got, want := le.Uint64(data[offChecksum:]), m.checksum(data); got != want {
		return Corruptf(Self(data), "meta checksum %016x, expected %016x", got, want)
	}
	return nil
}
