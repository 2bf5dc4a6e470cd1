package storage

import (
	"encoding/json"
	"fmt"
)

// Document is a schemaless record. Values round-trip through JSON, so
// numbers read back as float64.
type Document map[string]any

// NewDocument converts a tagged struct into a Document
func NewDocument(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

// Decode fills v from the document
func (d Document) Decode(v any) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return json.Unmarshal(data, v)
}

// Matches reports whether every filter key is present with an equal value.
// Numbers compare by value regardless of their Go type.
func (d Document) Matches(filter Document) bool {
	for k, want := range filter {
		got, ok := d[k]
		if !ok || !equalValues(got, want) {
			return false
		}
	}
	return true
}

func (d Document) clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// normalized gives the document the shape it will have after a JSON round-trip
func (d Document) normalized() Document {
	if n, err := NewDocument(d); err == nil {
		return n
	}
	return d.clone()
}

func equalValues(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	if aNum != bNum {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
