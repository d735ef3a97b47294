package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Select filters, orders and limits docs according to q. Documents lacking
// the OrderBy field are excluded, as are documents lacking a filtered field.
func Select(docs []*Document, q Query) ([]*Document, error) {
	if err := validate(q.Filters); err != nil {
		return nil, err
	}

	type row struct {
		doc *Document
		key any
	}
	rows := make([]row, 0, len(docs))
	for _, d := range docs {
		fields, err := d.Fields()
		if err != nil {
			return nil, err
		}
		ok, err := Match(fields, q.Filters)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		r := row{doc: d}
		if q.OrderBy != "" {
			k, present := lookup(fields, q.OrderBy)
			if !present {
				continue
			}
			r.key = k
		}
		rows = append(rows, r)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if q.OrderBy != "" {
			c, _ := compare(rows[i].key, rows[j].key)
			if c != 0 {
				if q.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return rows[i].doc.ID < rows[j].doc.ID
	})

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]*Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out, nil
}

// Match reports whether a decoded document satisfies every filter.
func Match(fields map[string]any, filters []Filter) (bool, error) {
	for _, f := range filters {
		ok, err := matchOne(fields, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// TextEquality reports whether f can be evaluated by a backend as plain
// text equality on a top-level field: an == filter whose value is a string
// that is not an RFC 3339 timestamp. Backends may use it to narrow a scan;
// Select still decides the result.
func (f Filter) TextEquality() (field, value string, ok bool) {
	if f.Op != OpEqual || !identifier(f.Field) {
		return "", "", false
	}
	v, err := normalize(f.Value)
	if err != nil {
		return "", "", false
	}
	str, isString := v.(string)
	if !isString {
		return "", "", false
	}
	if _, err := time.Parse(time.RFC3339Nano, str); err == nil {
		return "", "", false
	}
	return f.Field, str, true
}

func identifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func validate(filters []Filter) error {
	for _, f := range filters {
		if f.Field == "" {
			return fmt.Errorf("%w: empty field", ErrInvalidQuery)
		}
		switch f.Op {
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpArrayContains:
		case OpIn:
			if k := reflect.ValueOf(f.Value).Kind(); k != reflect.Slice && k != reflect.Array {
				return fmt.Errorf("%w: %q needs a list value", ErrInvalidQuery, f.Op)
			}
		default:
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, f.Op)
		}
	}
	return nil
}

func matchOne(fields map[string]any, f Filter) (bool, error) {
	got, present := lookup(fields, f.Field)
	if !present {
		return false, nil
	}
	want, err := normalize(f.Value)
	if err != nil {
		return false, err
	}

	switch f.Op {
	case OpEqual:
		return equal(got, want), nil
	case OpNotEqual:
		return !equal(got, want), nil
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		c, ok := compare(got, want)
		if !ok {
			return false, nil
		}
		switch f.Op {
		case OpLess:
			return c < 0, nil
		case OpLessEqual:
			return c <= 0, nil
		case OpGreater:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case OpIn:
		list, _ := want.([]any)
		for _, v := range list {
			if equal(got, v) {
				return true, nil
			}
		}
		return false, nil
	case OpArrayContains:
		list, ok := got.([]any)
		if !ok {
			return false, nil
		}
		for _, v := range list {
			if equal(v, want) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("%w: unsupported operator %q", ErrInvalidQuery, f.Op)
}

func equal(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two generic JSON values of the same kind. RFC 3339
// timestamps compare chronologically rather than lexically.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}
	if af, ok := number(a); ok {
		bf, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		if at, err := time.Parse(time.RFC3339Nano, av); err == nil {
			if bt, err := time.Parse(time.RFC3339Nano, bv); err == nil {
				return at.Compare(bt), true
			}
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	}
	return 0, false
}
