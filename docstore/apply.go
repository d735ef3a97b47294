package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Apply computes the effect of w on cur, which is nil when the document does
// not exist. It returns the resulting document, or nil when w deletes it.
// Backends call Apply for every write so that semantics never drift apart.
func Apply(cur *Document, w Write, now time.Time) (*Document, error) {
	if w.Collection == "" || w.ID == "" {
		return nil, fmt.Errorf("%w: collection and id are required", ErrInvalidDocument)
	}
	if w.IfVersion > 0 && (cur == nil || cur.Version != w.IfVersion) {
		return nil, &ConflictError{
			Collection: w.Collection,
			ID:         w.ID,
			Expected:   w.IfVersion,
			Actual:     versionOf(cur),
		}
	}

	switch w.Kind {
	case WriteCreate:
		if cur != nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, w.Collection, w.ID)
		}
		data, err := encodeObject(w.Data)
		if err != nil {
			return nil, err
		}
		return next(nil, w, data, now), nil

	case WriteSet:
		data, err := encodeObject(w.Data)
		if err != nil {
			return nil, err
		}
		if w.Merge && cur != nil {
			base, err := decodeObject(cur.Data)
			if err != nil {
				return nil, err
			}
			patch, err := decodeObject(data)
			if err != nil {
				return nil, err
			}
			mergeInto(base, patch)
			if data, err = json.Marshal(base); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
			}
		}
		return next(cur, w, data, now), nil

	case WriteUpdate:
		if cur == nil {
			return nil, notFound(w.Collection, w.ID)
		}
		base, err := decodeObject(cur.Data)
		if err != nil {
			return nil, err
		}
		// Apply paths in a stable order so "a" and "a.b" compose predictably.
		paths := make([]string, 0, len(w.Fields))
		for p := range w.Fields {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			v := w.Fields[p]
			if _, del := v.(deleteField); del {
				deletePath(base, p)
				continue
			}
			nv, err := normalize(v)
			if err != nil {
				return nil, err
			}
			setPath(base, p, nv)
		}
		data, err := json.Marshal(base)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		return next(cur, w, data, now), nil

	case WriteDelete:
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unknown write kind %v", ErrInvalidDocument, w.Kind)
	}
}

func next(cur *Document, w Write, data []byte, now time.Time) *Document {
	doc := &Document{
		Collection: w.Collection,
		ID:         w.ID,
		Version:    1,
		Data:       data,
		CreateTime: now,
		UpdateTime: now,
	}
	if cur != nil {
		doc.Version = cur.Version + 1
		doc.CreateTime = cur.CreateTime
	}
	return doc
}

func versionOf(d *Document) int64 {
	if d == nil {
		return 0
	}
	return d.Version
}

// =============================================================================
// JSON HELPERS
// =============================================================================

func encodeObject(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return nil, fmt.Errorf("%w: data must encode to a JSON object", ErrInvalidDocument)
	}
	return data, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: null document", ErrInvalidDocument)
	}
	return m, nil
}

// normalize converts an arbitrary Go value into its generic JSON form
// (map[string]any, []any, string, json.Number, bool, nil).
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, json.Number:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return out, nil
}

func mergeInto(dst, src map[string]any) {
	for k, sv := range src {
		sm, sIsMap := sv.(map[string]any)
		dm, dIsMap := dst[k].(map[string]any)
		if sIsMap && dIsMap {
			mergeInto(dm, sm)
			continue
		}
		dst[k] = sv
	}
}

func setPath(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		child, ok := m[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[p] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = v
}

func deletePath(m map[string]any, path string) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		child, ok := m[p].(map[string]any)
		if !ok {
			return
		}
		m = child
	}
	delete(m, parts[len(parts)-1])
}

func lookup(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}
