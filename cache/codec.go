package cache

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Row is a cached row keyed by property name. Values are the normalized
// column values, references hold the target id.
type Row map[string]any

// EncodeRow serializes a row with msgpack.
func EncodeRow(r Row) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(map[string]any(r)); err != nil {
		return nil, fmt.Errorf("cache: encode row: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRow deserializes a row written by EncodeRow. Integers may come back
// with a narrower width and fixed-size arrays as byte slices, callers
// normalize values by property kind.
func DecodeRow(b []byte) (Row, error) {
	var m map[string]any
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("cache: decode row: %w", err)
	}
	return Row(m), nil
}
