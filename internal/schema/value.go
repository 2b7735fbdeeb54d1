package schema

// Value is a typed value known to conform to a specific schema node.
// Values are immutable; updates replace the whole value.
type Value interface {
	// Schema returns the schema node this value conforms to.
	Schema() *Schema
	// Interface returns the value in document form (the shapes produced
	// by encoding/json plus int64 for integers).
	Interface() any
	// Equal reports structural equality.
	Equal(other Value) bool
}

type IntValue struct {
	schema *Schema
	val    int64
}

func (v *IntValue) Schema() *Schema { return v.schema }
func (v *IntValue) Interface() any  { return v.val }
func (v *IntValue) Int() int64      { return v.val }

func (v *IntValue) Equal(other Value) bool {
	o, ok := other.(*IntValue)
	return ok && o.val == v.val
}

type NumberValue struct {
	schema *Schema
	val    float64
}

func (v *NumberValue) Schema() *Schema { return v.schema }
func (v *NumberValue) Interface() any  { return v.val }
func (v *NumberValue) Float() float64  { return v.val }

func (v *NumberValue) Equal(other Value) bool {
	o, ok := other.(*NumberValue)
	return ok && o.val == v.val
}

type BoolValue struct {
	schema *Schema
	val    bool
}

func (v *BoolValue) Schema() *Schema { return v.schema }
func (v *BoolValue) Interface() any  { return v.val }
func (v *BoolValue) Bool() bool      { return v.val }

func (v *BoolValue) Equal(other Value) bool {
	o, ok := other.(*BoolValue)
	return ok && o.val == v.val
}

type StringValue struct {
	schema *Schema
	val    string
}

func (v *StringValue) Schema() *Schema { return v.schema }
func (v *StringValue) Interface() any  { return v.val }
func (v *StringValue) String() string  { return v.val }

func (v *StringValue) Equal(other Value) bool {
	o, ok := other.(*StringValue)
	return ok && o.val == v.val
}

type ArrayValue struct {
	schema *Schema
	items  []Value
}

func (v *ArrayValue) Schema() *Schema { return v.schema }
func (v *ArrayValue) Items() []Value  { return v.items }

func (v *ArrayValue) Interface() any {
	out := make([]any, len(v.items))
	for i, item := range v.items {
		out[i] = item.Interface()
	}
	return out
}

func (v *ArrayValue) Equal(other Value) bool {
	o, ok := other.(*ArrayValue)
	if !ok || len(o.items) != len(v.items) {
		return false
	}
	for i, item := range v.items {
		if !item.Equal(o.items[i]) {
			return false
		}
	}
	return true
}

// ObjectValue holds a set of named typed values conforming to an object
// schema. Fields omitted as optional are absent from the map.
type ObjectValue struct {
	schema *Schema
	fields map[string]Value
}

// NewObject returns an empty object value conforming to s. A nil schema
// yields a value with no declared fields.
func NewObject(s *Schema) *ObjectValue {
	if s == nil {
		s = EmptyObject()
	}
	return &ObjectValue{schema: s, fields: map[string]Value{}}
}

func (v *ObjectValue) Schema() *Schema { return v.schema }
func (v *ObjectValue) Len() int        { return len(v.fields) }

// Field returns the value of a named field.
func (v *ObjectValue) Field(name string) (Value, bool) {
	f, ok := v.fields[name]
	return f, ok
}

// StringField returns the string value of a named field, false when the
// field is absent or not a string.
func (v *ObjectValue) StringField(name string) (string, bool) {
	if f, ok := v.fields[name].(*StringValue); ok {
		return f.val, true
	}
	return "", false
}

// IntField returns the integer value of a named field.
func (v *ObjectValue) IntField(name string) (int64, bool) {
	if f, ok := v.fields[name].(*IntValue); ok {
		return f.val, true
	}
	return 0, false
}

// BoolField returns the boolean value of a named field.
func (v *ObjectValue) BoolField(name string) (bool, bool) {
	if f, ok := v.fields[name].(*BoolValue); ok {
		return f.val, true
	}
	return false, false
}

// FloatField returns the number value of a named field.
func (v *ObjectValue) FloatField(name string) (float64, bool) {
	if f, ok := v.fields[name].(*NumberValue); ok {
		return f.val, true
	}
	return 0, false
}

func (v *ObjectValue) Interface() any {
	out := make(map[string]any, len(v.fields))
	for name, f := range v.fields {
		out[name] = f.Interface()
	}
	return out
}

func (v *ObjectValue) Equal(other Value) bool {
	o, ok := other.(*ObjectValue)
	if !ok || len(o.fields) != len(v.fields) {
		return false
	}
	for name, f := range v.fields {
		of, present := o.fields[name]
		if !present || !f.Equal(of) {
			return false
		}
	}
	return true
}
