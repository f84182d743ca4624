package pagetree

import (
	"bytes"
	"cmp"
	"encoding/binary"
)

// Int64Rows orders int64 rows. Each row is its own key.
func Int64Rows() RowPolicy[int64] {
	return RowPolicy[int64]{
		RowSize: 8,
		KeySize: 8,
		Encode: func(dst []byte, v int64) {
			// Flipping the sign bit makes the big-endian bytes sort like
			// the signed values.
			binary.BigEndian.PutUint64(dst, uint64(v)^1<<63)
		},
		Compare: func(stored []byte, search int64) int {
			return cmp.Compare(decodeInt64(stored), search)
		},
		Extract: decodeInt64,
	}
}

func decodeInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ 1<<63)
}

// KV is a key/value row for KVRows.
type KV struct {
	Key   []byte
	Value []byte
}

// KVRows orders KV rows by key. Keys are zero padded to keySize bytes, so
// keys that differ only in trailing zero bytes collide, and Extract returns
// keys with trailing zeros trimmed. Longer keys and values are truncated.
//
// Row layout: [key: keySize][value length: 2][value: valueSize]
func KVRows(keySize, valueSize int) RowPolicy[KV] {
	valueSize = min(valueSize, 1<<16-1)
	return RowPolicy[KV]{
		RowSize: keySize + 2 + valueSize,
		KeySize: keySize,
		Encode: func(dst []byte, kv KV) {
			copy(dst[:keySize], kv.Key)
			n := copy(dst[keySize+2:], kv.Value)
			binary.LittleEndian.PutUint16(dst[keySize:], uint16(n))
		},
		Compare: func(stored []byte, search KV) int {
			return compareKey(stored[:keySize], search.Key)
		},
		Extract: func(stored []byte) KV {
			kv := KV{Key: bytes.Clone(bytes.TrimRight(stored[:keySize], "\x00"))}
			if n := int(binary.LittleEndian.Uint16(stored[keySize:])); n > 0 {
				kv.Value = bytes.Clone(stored[keySize+2 : keySize+2+n])
			}
			return kv
		},
	}
}

// compareKey compares a stored zero-padded key with an unpadded one.
func compareKey(stored, key []byte) int {
	key = key[:min(len(key), len(stored))]
	if c := bytes.Compare(stored[:len(key)], key); c != 0 {
		return c
	}
	for _, b := range stored[len(key):] {
		if b != 0 {
			return 1
		}
	}
	return 0
}
