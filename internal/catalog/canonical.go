package catalog

import (
	"bytes"
	"crypto/md5" //nolint:gosec // content-hash skip check, not a security boundary
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// canonicalJSON renders v (built from exported CatalogItem columns) as a
// stable byte sequence suitable for hashing: alphabetically sorted object
// keys, no whitespace, and all non-ASCII runes escaped to \uXXXX. Go's
// encoding/json already sorts map[string]any keys and uses compact
// separators by default; only the ASCII-escaping needs to be done by hand.
func canonicalJSON(v map[string]any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return escapeNonASCII(raw), nil
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

// rowMD5 hashes the canonical-JSON projection of a catalog row's exported
// columns (everything except row_md5 itself), used to skip no-op writes.
func rowMD5(columns map[string]any) (string, error) {
	payload, err := canonicalJSON(columns)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(payload) //nolint:gosec
	return fmt.Sprintf("%x", sum), nil
}
