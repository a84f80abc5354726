package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// IDField addresses the document id in criteria instead of a body field.
const IDField = "_id"

// Criteria selects documents by field. Keys are dotted body paths (or
// IDField); values are either a literal compared for equality or an
// operator object:
//
//	store.Criteria{"email": "a@b.c"}
//	store.Criteria{"_id": map[string]any{"$in": []string{"a", "b"}}}
//
// Supported operators are $eq, $ne, $in and $nin.
type Criteria map[string]any

type condition struct {
	field  string
	op     string
	values []any
}

// Validate reports whether every key and operator is supported.
func (c Criteria) Validate() error {
	_, err := c.conditions()
	return err
}

func (c Criteria) conditions() ([]condition, error) {
	fields := make([]string, 0, len(c))
	for k := range c {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	var conds []condition
	for _, field := range fields {
		if !validField(field) {
			return nil, fmt.Errorf("%w: field %q", ErrUnsupportedCriteria, field)
		}
		raw, err := normalize(c[field])
		if err != nil {
			return nil, fmt.Errorf("store: field %q: %w", field, err)
		}
		ops, isOps, err := operatorMap(raw)
		if err != nil {
			return nil, fmt.Errorf("store: field %q: %w", field, err)
		}
		if !isOps {
			conds = append(conds, condition{field: field, op: "$eq", values: []any{raw}})
			continue
		}
		names := make([]string, 0, len(ops))
		for op := range ops {
			names = append(names, op)
		}
		sort.Strings(names)
		for _, op := range names {
			arg := ops[op]
			switch op {
			case "$eq", "$ne":
				conds = append(conds, condition{field: field, op: op, values: []any{arg}})
			case "$in", "$nin":
				list, ok := arg.([]any)
				if !ok {
					return nil, fmt.Errorf("%w: %s on %q needs a list", ErrUnsupportedCriteria, op, field)
				}
				conds = append(conds, condition{field: field, op: op, values: list})
			default:
				return nil, fmt.Errorf("%w: operator %s", ErrUnsupportedCriteria, op)
			}
		}
	}
	return conds, nil
}

// Matches reports whether doc satisfies c. Unsupported criteria match nothing.
func (c Criteria) Matches(doc *Doc) bool {
	conds, err := c.conditions()
	if err != nil {
		return false
	}
	for _, cond := range conds {
		if !cond.matches(doc) {
			return false
		}
	}
	return true
}

func (cond condition) matches(doc *Doc) bool {
	var actual any
	if cond.field == IDField {
		actual = doc.ID
	} else if r := gjson.GetBytes(doc.Data, cond.field); r.Exists() {
		actual = r.Value()
	}

	found := false
	for _, v := range cond.values {
		if reflect.DeepEqual(actual, v) {
			found = true
			break
		}
	}
	switch cond.op {
	case "$ne", "$nin":
		return !found
	default:
		return found
	}
}

// normalize maps v onto the JSON value space (float64, string, bool, nil,
// []any, map[string]any) so it compares equal to decoded document fields.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func operatorMap(v any) (map[string]any, bool, error) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false, nil
	}
	ops := 0
	for k := range m {
		if strings.HasPrefix(k, "$") {
			ops++
		}
	}
	switch ops {
	case 0:
		return nil, false, nil
	case len(m):
		return m, true, nil
	default:
		return nil, false, fmt.Errorf("%w: operators mixed with fields", ErrUnsupportedCriteria)
	}
}

func validField(field string) bool {
	if field == "" || strings.HasPrefix(field, ".") || strings.HasSuffix(field, ".") {
		return false
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '.' || r == '-':
		default:
			return false
		}
	}
	return !strings.Contains(field, "..")
}
