package export

import (
	"bytes"
	"crypto/md5" //nolint:gosec // content hashing, not a security boundary
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// storeRowMD5 hashes the canonical-JSON projection of a store-db row, the
// same way catalog.Upsert computes row_md5 for a catalog row.
func storeRowMD5(columns map[string]any) (string, error) {
	raw, err := json.Marshal(columns)
	if err != nil {
		return "", fmt.Errorf("canonical json: %w", err)
	}
	return md5Hex(escapeNonASCII(raw)), nil
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return fmt.Sprintf("%x", sum)
}

func escapeNonASCII(b []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(b))
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r < utf8.RuneSelf {
			out.WriteByte(b[i])
			i++
			continue
		}
		if r > 0xFFFF {
			r -= 0x10000
			hi := 0xD800 + (r >> 10)
			lo := 0xDC00 + (r & 0x3FF)
			fmt.Fprintf(&out, `\u%04x\u%04x`, hi, lo)
		} else {
			fmt.Fprintf(&out, `\u%04x`, r)
		}
		i += size
	}
	return out.Bytes()
}
