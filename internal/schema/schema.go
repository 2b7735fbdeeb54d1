// Package schema implements the typed value system used by command and
// state definitions: declared shapes for properties, conversion between
// untyped JSON-like documents and typed values, and validation.
package schema

import (
	"fmt"
	"sort"
)

// Kind identifies the shape of a schema node.
type Kind string

const (
	Integer Kind = "integer"
	Number  Kind = "number"
	Boolean Kind = "boolean"
	String  Kind = "string"
	Array   Kind = "array"
	Object  Kind = "object"
)

var validKinds = map[Kind]bool{
	Integer: true,
	Number:  true,
	Boolean: true,
	String:  true,
	Array:   true,
	Object:  true,
}

// Schema describes the legal values for one property. A schema tree is
// immutable once attached to a command definition.
type Schema struct {
	Kind     Kind
	Enum     []string           // String only; empty means unconstrained
	Items    *Schema            // Array only
	Fields   map[string]*Schema // Object only
	Optional bool
	Default  any // document form; converted on demand
}

// EmptyObject returns an object schema with no declared fields. Used for
// commands that declare no parameters, progress or results.
func EmptyObject() *Schema {
	return &Schema{Kind: Object, Fields: map[string]*Schema{}}
}

// InEnum reports whether s allows the string v. Schemas without an
// enumeration allow every string.
func (s *Schema) InEnum(v string) bool {
	if len(s.Enum) == 0 {
		return true
	}
	for _, e := range s.Enum {
		if e == v {
			return true
		}
	}
	return false
}

// FieldNames returns the declared field names of an object schema in
// sorted order.
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MergeOver returns a new object schema combining s with base: fields
// declared in s replace the base's, fields not re-declared inherit the
// base's constraint. Both schemas must be objects; a nil base returns s
// unchanged.
func (s *Schema) MergeOver(base *Schema) (*Schema, error) {
	if base == nil {
		return s, nil
	}
	if s.Kind != Object || base.Kind != Object {
		return nil, fmt.Errorf("schema merge requires object schemas, got %s over %s", s.Kind, base.Kind)
	}
	merged := &Schema{Kind: Object, Fields: make(map[string]*Schema, len(base.Fields)+len(s.Fields))}
	for name, field := range base.Fields {
		merged.Fields[name] = field
	}
	for name, field := range s.Fields {
		merged.Fields[name] = field
	}
	return merged, nil
}

// ParseObject parses an object schema from its document form: a JSON
// object mapping property names to property declarations, e.g.
//
//	{"lockedState": {"type": "string", "enum": ["locked", "unlocked"]}}
//
// A bare JSON array is accepted as shorthand for a string enum.
func ParseObject(doc any) (*Schema, error) {
	if doc == nil {
		return EmptyObject(), nil
	}
	props, ok := doc.(map[string]any)
	if !ok {
		return nil, newError(ErrCodeMalformedDocument, "", "schema must be a JSON object, got %T", doc)
	}
	s := &Schema{Kind: Object, Fields: make(map[string]*Schema, len(props))}
	for name, decl := range props {
		field, err := parseProperty(name, decl)
		if err != nil {
			return nil, err
		}
		s.Fields[name] = field
	}
	return s, nil
}

func parseProperty(path string, decl any) (*Schema, error) {
	switch d := decl.(type) {
	case []any:
		// Shorthand: a bare array declares a string enum.
		enum, err := stringSlice(path, d)
		if err != nil {
			return nil, err
		}
		return &Schema{Kind: String, Enum: enum}, nil
	case map[string]any:
		return parseDeclaration(path, d)
	default:
		return nil, newError(ErrCodeMalformedDocument, path, "property declaration must be an object or enum array, got %T", decl)
	}
}

func parseDeclaration(path string, decl map[string]any) (*Schema, error) {
	s := &Schema{}

	typeName, hasType := decl["type"].(string)
	switch {
	case hasType:
		s.Kind = Kind(typeName)
		if !validKinds[s.Kind] {
			return nil, newError(ErrCodeMalformedDocument, path, "unknown type %q", typeName)
		}
	case decl["enum"] != nil:
		s.Kind = String
	case decl["properties"] != nil:
		s.Kind = Object
	case decl["items"] != nil:
		s.Kind = Array
	default:
		return nil, newError(ErrCodeMalformedDocument, path, "property declaration has no type")
	}

	for key, val := range decl {
		switch key {
		case "type":
		case "optional":
			b, ok := val.(bool)
			if !ok {
				return nil, newError(ErrCodeMalformedDocument, path, "'optional' must be a boolean")
			}
			s.Optional = b
		case "default":
			s.Default = val
		case "enum":
			if s.Kind != String {
				return nil, newError(ErrCodeMalformedDocument, path, "'enum' is only valid for string properties")
			}
			arr, ok := val.([]any)
			if !ok {
				return nil, newError(ErrCodeMalformedDocument, path, "'enum' must be an array")
			}
			enum, err := stringSlice(path, arr)
			if err != nil {
				return nil, err
			}
			s.Enum = enum
		case "items":
			if s.Kind != Array {
				return nil, newError(ErrCodeMalformedDocument, path, "'items' is only valid for array properties")
			}
			items, err := parseProperty(joinPath(path, "items"), val)
			if err != nil {
				return nil, err
			}
			s.Items = items
		case "properties":
			if s.Kind != Object {
				return nil, newError(ErrCodeMalformedDocument, path, "'properties' is only valid for object properties")
			}
			nested, err := ParseObject(val)
			if err != nil {
				return nil, err
			}
			s.Fields = nested.Fields
		default:
			return nil, newError(ErrCodeMalformedDocument, path, "unknown schema attribute %q", key)
		}
	}

	if s.Kind == Array && s.Items == nil {
		return nil, newError(ErrCodeMalformedDocument, path, "array property requires 'items'")
	}
	if s.Kind == Object && s.Fields == nil {
		s.Fields = map[string]*Schema{}
	}

	// Defaults must themselves conform to the declared shape.
	if s.Default != nil {
		if _, err := FromDocument(s.Default, s); err != nil {
			return nil, newError(ErrCodeMalformedDocument, path, "default value does not match declared type: %v", err)
		}
	}

	return s, nil
}

func stringSlice(path string, arr []any) ([]string, error) {
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		str, ok := v.(string)
		if !ok {
			return nil, newError(ErrCodeMalformedDocument, path, "enum values must be strings, got %T", v)
		}
		out = append(out, str)
	}
	return out, nil
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}
