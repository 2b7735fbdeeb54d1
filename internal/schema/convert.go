package schema

import (
	"math"
	"sort"
	"strconv"
)

// FromDocument converts an untyped document into a typed value tree
// conforming to s. The conversion never mutates doc and returns either a
// fully populated value or the first violation found; there are no
// partial results.
func FromDocument(doc any, s *Schema) (Value, error) {
	return fromDocument(doc, s, "")
}

// ToDocument converts a typed value back to document form. For any value
// produced by FromDocument the result is structurally equal to the
// schema-conformant subset of the source document.
func ToDocument(v Value) any {
	return v.Interface()
}

func fromDocument(doc any, s *Schema, path string) (Value, error) {
	switch s.Kind {
	case Integer:
		n, ok := asInt(doc)
		if !ok {
			return nil, typeMismatch(path, doc, s)
		}
		return &IntValue{schema: s, val: n}, nil
	case Number:
		f, ok := asFloat(doc)
		if !ok {
			return nil, typeMismatch(path, doc, s)
		}
		return &NumberValue{schema: s, val: f}, nil
	case Boolean:
		b, ok := doc.(bool)
		if !ok {
			return nil, typeMismatch(path, doc, s)
		}
		return &BoolValue{schema: s, val: b}, nil
	case String:
		str, ok := doc.(string)
		if !ok {
			return nil, typeMismatch(path, doc, s)
		}
		if !s.InEnum(str) {
			return nil, newError(ErrCodeInvalidPropValue, path, "value %q is not in enum %v", str, s.Enum)
		}
		return &StringValue{schema: s, val: str}, nil
	case Array:
		arr, ok := doc.([]any)
		if !ok {
			return nil, typeMismatch(path, doc, s)
		}
		items := make([]Value, 0, len(arr))
		for i, raw := range arr {
			item, err := fromDocument(raw, s.Items, indexPath(path, i))
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return &ArrayValue{schema: s, items: items}, nil
	case Object:
		return objectFromDocument(doc, s, path)
	}
	return nil, newError(ErrCodeMalformedDocument, path, "schema node has unknown kind %q", s.Kind)
}

func objectFromDocument(doc any, s *Schema, path string) (Value, error) {
	m, ok := doc.(map[string]any)
	if !ok {
		if path == "" {
			return nil, newError(ErrCodeMalformedDocument, path, "document must be a JSON object, got %T", doc)
		}
		return nil, typeMismatch(path, doc, s)
	}

	// Reject undeclared properties first, in deterministic order.
	present := make([]string, 0, len(m))
	for name := range m {
		present = append(present, name)
	}
	sort.Strings(present)
	for _, name := range present {
		if _, declared := s.Fields[name]; !declared {
			return nil, newError(ErrCodeUnexpectedProperty, joinPath(path, name), "property %q is not declared in the schema", name)
		}
	}

	obj := &ObjectValue{schema: s, fields: make(map[string]Value, len(m))}
	for _, name := range s.FieldNames() {
		field := s.Fields[name]
		raw, has := m[name]
		if !has {
			switch {
			case field.Default != nil:
				raw = field.Default
			case field.Optional:
				continue
			default:
				return nil, newError(ErrCodePropertyMissing, joinPath(path, name), "required property %q is missing", name)
			}
		}
		val, err := fromDocument(raw, field, joinPath(path, name))
		if err != nil {
			return nil, err
		}
		obj.fields[name] = val
	}
	return obj, nil
}

func typeMismatch(path string, doc any, s *Schema) *ValidationError {
	return newError(ErrCodeTypeMismatch, path, "value of type %T does not match declared type %q", doc, s.Kind)
}

func indexPath(path string, i int) string {
	return joinPath(path, "["+strconv.Itoa(i)+"]")
}

func asInt(doc any) (int64, bool) {
	switch n := doc.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		// encoding/json decodes every number as float64.
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	}
	return 0, false
}

func asFloat(doc any) (float64, bool) {
	switch n := doc.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
