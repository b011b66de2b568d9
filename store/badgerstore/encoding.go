package badgerstore

import (
	"bytes"
	"fmt"

	"github.com/acksell/datastack/store"
)

// Key encoding for BadgerDB.
// Key format: [entity][separator][id]
//
// The separator byte (0x00) splits the components. Entity names and IDs are
// escaped so they never contain the separator, which keeps one entity's
// prefix from matching another entity whose name extends it.

const keySeparator byte = 0x00

func encodeKey(key store.Key) []byte {
	var buf bytes.Buffer
	buf.Write(entityPrefix(key.Entity))
	buf.Write(escapeBytes([]byte(key.ID)))
	return buf.Bytes()
}

// entityPrefix returns the prefix shared by every key of an entity.
func entityPrefix(entity string) []byte {
	var buf bytes.Buffer
	buf.Write(escapeBytes([]byte(entity)))
	buf.WriteByte(keySeparator)
	return buf.Bytes()
}

func decodeKey(b []byte) (store.Key, error) {
	i := bytes.IndexByte(b, keySeparator)
	if i < 0 {
		return store.Key{}, fmt.Errorf("malformed key %q: missing separator", b)
	}
	return store.Key{
		Entity: string(unescapeBytes(b[:i])),
		ID:     string(unescapeBytes(b[i+1:])),
	}, nil
}

// escapeBytes escapes null bytes (0x00) in the input to preserve separator integrity.
// Uses 0x01 0x01 for literal 0x00, and 0x01 0x02 for literal 0x01.
func escapeBytes(b []byte) []byte {
	var buf bytes.Buffer
	for _, c := range b {
		switch c {
		case 0x00:
			buf.WriteByte(0x01)
			buf.WriteByte(0x01)
		case 0x01:
			buf.WriteByte(0x01)
			buf.WriteByte(0x02)
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

// unescapeBytes reverses the escaping done by escapeBytes.
func unescapeBytes(b []byte) []byte {
	var buf bytes.Buffer
	for i := 0; i < len(b); i++ {
		if b[i] == 0x01 && i+1 < len(b) {
			switch b[i+1] {
			case 0x01:
				buf.WriteByte(0x00)
				i++
			case 0x02:
				buf.WriteByte(0x01)
				i++
			default:
				buf.WriteByte(b[i])
			}
		} else {
			buf.WriteByte(b[i])
		}
	}
	return buf.Bytes()
}
