package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/schema"
)

// ReadDrafts decodes a JSON object, or an array of objects, into drafts
// of t. Nested objects and arrays load the association of the same name.
func ReadDrafts(r io.Reader, t *schema.Type) ([]*entity.Draft, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode input: trailing data")
	}
	switch v := v.(type) {
	case map[string]any:
		d, err := toDraft(t, v, t.Name())
		if err != nil {
			return nil, err
		}
		return []*entity.Draft{d}, nil
	case []any:
		drafts := make([]*entity.Draft, 0, len(v))
		for i, e := range v {
			obj, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("input[%d]: expect object, got %s", i, jsonType(e))
			}
			d, err := toDraft(t, obj, fmt.Sprintf("[%d]", i))
			if err != nil {
				return nil, err
			}
			drafts = append(drafts, d)
		}
		return drafts, nil
	}
	return nil, fmt.Errorf("input: expect object or array, got %s", jsonType(v))
}

func toDraft(t *schema.Type, obj map[string]any, path string) (*entity.Draft, error) {
	d := entity.New(t)
	for _, p := range t.Props() {
		raw, ok := obj[p.Name()]
		if !ok {
			continue
		}
		v, err := toValue(p, raw, path+"."+p.Name())
		if err != nil {
			return nil, err
		}
		if err := d.SetField(p.Name(), v); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	for name := range obj {
		if t.Prop(name) == nil {
			return nil, fmt.Errorf("%s: unknown property %q of %s", path, name, t.Name())
		}
	}
	return d, nil
}

func toValue(p *schema.Prop, raw any, path string) (any, error) {
	switch {
	case p.IsReference():
		switch raw := raw.(type) {
		case nil:
			return nil, nil
		case map[string]any:
			return toDraft(p.Target(), raw, path)
		}
		return nil, fmt.Errorf("%s: expect object or null, got %s", path, jsonType(raw))
	case p.IsReferenceList():
		if raw == nil {
			return nil, nil
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: expect array, got %s", path, jsonType(raw))
		}
		drafts := make([]*entity.Draft, 0, len(list))
		for i, e := range list {
			obj, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s[%d]: expect object, got %s", path, i, jsonType(e))
			}
			d, err := toDraft(p.Target(), obj, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			drafts = append(drafts, d)
		}
		return drafts, nil
	}
	n, ok := raw.(json.Number)
	if !ok {
		return raw, nil
	}
	switch p.Kind() {
	case schema.KindInt, schema.KindTime:
		return n.Int64()
	case schema.KindFloat:
		return n.Float64()
	}
	return n.String(), nil
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

// WriteResult writes the saved drafts and the affected row counts as
// indented JSON.
func WriteResult(w io.Writer, drafts []*entity.Draft, counts map[string]int, total int) error {
	items := make([]map[string]any, len(drafts))
	for i, d := range drafts {
		items[i] = d.Map()
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	err := enc.Encode(struct {
		Items    []map[string]any `json:"items"`
		Affected map[string]int   `json:"affected"`
		Total    int              `json:"total"`
	}{items, counts, total})
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}
