// Package pageio holds the binary layouts of every page kind the tree and
// the reuse list write. Codecs are pure functions over a page's bytes; the
// caller owns latching.
package pageio

import (
	"encoding/binary"

	"github.com/alexhholmes/pagetree/pagemem"
)

// PageType is the kind tag at the start of every page.
type PageType uint16

const (
	TypeMeta        PageType = 1
	TypeInner       PageType = 2
	TypeLeaf        PageType = 3
	TypeReuseAnchor PageType = 4
	TypeReuseBucket PageType = 5
	TypeFree        PageType = 6
)

func (t PageType) String() string {
	switch t {
	case TypeMeta:
		return "meta"
	case TypeInner:
		return "inner"
	case TypeLeaf:
		return "leaf"
	case TypeReuseAnchor:
		return "reuse-anchor"
	case TypeReuseBucket:
		return "reuse-bucket"
	case TypeFree:
		return "free"
	default:
		return "unknown"
	}
}

const (
	Version1 uint16 = 1

	// HeaderSize is the common header shared by all page kinds.
	// Layout: [Type: 2][Version: 2][Reserved: 4][Self: 8]
	HeaderSize = 16

	offType    = 0
	offVersion = 2
	offSelf    = 8
)

var le = binary.LittleEndian

// Type returns the page kind tag.
func Type(data []byte) PageType {
	return PageType(le.Uint16(data[offType:]))
}

// Version returns the IO version the page was written with.
func Version(data []byte) uint16 {
	return le.Uint16(data[offVersion:])
}

// Self returns the page id recorded when the page was initialized.
func Self(data []byte) pagemem.PageID {
	return pagemem.PageID(le.Uint64(data[offSelf:]))
}

// WriteHeader resets the page and writes a fresh header.
func WriteHeader(data []byte, typ PageType, version uint16, self pagemem.PageID) {
	clear(data)
	le.PutUint16(data[offType:], uint16(typ))
	le.PutUint16(data[offVersion:], version)
	le.PutUint64(data[offSelf:], uint64(self))
}

// Check verifies the page is of kind typ, written as self. A zero typ
// accepts any kind.
func Check(data []byte, typ PageType, self pagemem.PageID) error {
	if got := Self(data); got != self {
		return Corruptf(self, "self id %s does not match address", got)
	}
	if typ != 0 && Type(data) != typ {
		return Corruptf(self, "expected %s page, found %s", typ, Type(data))
	}
	return nil
}

// MarkFree stamps a page that has been unlinked from its structure, so a
// stale reference to it decodes as corruption rather than as live data.
func MarkFree(data []byte, self pagemem.PageID) {
	WriteHeader(data, TypeFree, Version1, self)
}
