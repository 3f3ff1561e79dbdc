package entity

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/syssam/persist/schema"
)

// Key is a comparable encoding of one or more normalized values. It is
// used to index drafts and rows by id or key group.
type Key string

// KeyOfValues encodes values into a Key.
func KeyOfValues(values ...any) Key {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(0)
		}
		writeKeyValue(&b, v)
	}
	return Key(b.String())
}

func writeKeyValue(b *strings.Builder, v any) {
	switch v := v.(type) {
	case nil:
		b.WriteString("n:")
	case *Draft:
		id, _ := v.ID()
		writeKeyValue(b, id)
	case string:
		b.WriteString("s:")
		b.WriteString(v)
	case int64:
		fmt.Fprintf(b, "i:%d", v)
	case bool:
		fmt.Fprintf(b, "b:%t", v)
	case float64:
		fmt.Fprintf(b, "f:%v", v)
	case []byte:
		b.WriteString("x:")
		b.WriteString(hex.EncodeToString(v))
	case time.Time:
		b.WriteString("t:")
		b.WriteString(v.UTC().Format(time.RFC3339Nano))
	default:
		fmt.Fprintf(b, "%T:%v", v, v)
	}
}

// IDKey returns the Key of an id.
func IDKey(id any) Key {
	return KeyOfValues(id)
}

// KeyOf returns the Key of the given properties of d. It reports false
// when a property is not loaded or a referenced draft has no id.
func KeyOf(d *Draft, props []*schema.Prop) (Key, bool) {
	values, ok := KeyValues(d, props)
	if !ok {
		return "", false
	}
	return KeyOfValues(values...), true
}

// KeyValues returns the values of the given properties of d. References
// contribute the id of the referenced draft.
func KeyValues(d *Draft, props []*schema.Prop) ([]any, bool) {
	values := make([]any, len(props))
	for i, p := range props {
		v, ok := d.values[p.Name()]
		if !ok {
			return nil, false
		}
		if ref, isRef := v.(*Draft); isRef {
			id, loaded := ref.ID()
			if !loaded {
				return nil, false
			}
			v = id
		}
		values[i] = v
	}
	return values, true
}

// NormalizeID normalizes id to the kind of the id property of t.
func NormalizeID(t *schema.Type, id any) (any, error) {
	return t.ID().Kind().Normalize(id)
}
