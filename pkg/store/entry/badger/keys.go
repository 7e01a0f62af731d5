package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/plevy/pkg/store/entry"
)

// Database Key Namespace Design
// ==============================
//
// Key Namespace Prefixes:
//
// Data Type        Prefix    Key Format                  Value Type
// ====================================================================
// Entry records    "e:"      e:<id as 8-byte big-endian>  version byte + CBOR Entry
// ID sequence      "seq:"    seq:entry                    badger.Sequence state
// Store metadata   "meta:"   meta:first_id                uint64 (big-endian)
//
// Entry IDs are encoded big-endian so a prefix scan over "e:" visits records
// in ascending ID order. Listing still sorts explicitly at the projection
// boundary; the ordering here only keeps scans cache-friendly.

const (
	prefixEntry = "e:"
	prefixMeta  = "meta:"

	idLen = 8
)

var (
	keySequence = []byte("seq:entry")
	keyFirstID  = []byte(prefixMeta + "first_id")
)

// keyEntry builds the record key for id.
func keyEntry(id entry.ID) []byte {
	key := make([]byte, len(prefixEntry)+idLen)
	copy(key, prefixEntry)
	binary.BigEndian.PutUint64(key[len(prefixEntry):], uint64(id))
	return key
}

// parseEntryKey extracts the identifier from a record key.
func parseEntryKey(key []byte) (entry.ID, error) {
	if len(key) != len(prefixEntry)+idLen || string(key[:len(prefixEntry)]) != prefixEntry {
		return 0, fmt.Errorf("malformed entry key %x", key)
	}
	return entry.ID(binary.BigEndian.Uint64(key[len(prefixEntry):])), nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, idLen)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != idLen {
		return 0, fmt.Errorf("expected %d bytes, got %d", idLen, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
