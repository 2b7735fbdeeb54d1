// Package state implements device state storage: named packages of
// typed properties whose schemas are declared up front and whose values
// are aggregated into the externally visible device state document.
package state

import (
	"fmt"

	"github.com/weftlabs/weft/internal/schema"
)

// Package is a set of related state properties, e.g. the "lock" package
// with "lockedState" and "isLockingSupported". Property schemas must be
// declared before values are assigned.
type Package struct {
	name   string
	schema *schema.Schema
	values map[string]schema.Value
}

func NewPackage(name string) *Package {
	return &Package{
		name:   name,
		schema: schema.EmptyObject(),
		values: make(map[string]schema.Value),
	}
}

func (p *Package) Name() string { return p.name }

// AddSchemaFromDocument merges property declarations into the package.
// Re-declared properties override their previous schema.
func (p *Package) AddSchemaFromDocument(doc any) error {
	add, err := schema.ParseObject(doc)
	if err != nil {
		return err
	}
	merged, err := add.MergeOver(p.schema)
	if err != nil {
		return err
	}
	p.schema = merged
	return nil
}

// SetValuesFromDocument assigns a batch of property values. Every
// property must have been declared; the batch is validated before any
// value is assigned.
func (p *Package) SetValuesFromDocument(doc any) error {
	values, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("state values for package %q must be a JSON object", p.name)
	}

	staged := make(map[string]schema.Value, len(values))
	for name, raw := range values {
		val, err := p.convert(name, raw)
		if err != nil {
			return err
		}
		staged[name] = val
	}
	for name, val := range staged {
		p.values[name] = val
	}
	return nil
}

// SetProperty assigns one property value, validated against its
// declared schema.
func (p *Package) SetProperty(name string, value any) error {
	val, err := p.convert(name, value)
	if err != nil {
		return err
	}
	p.values[name] = val
	return nil
}

// Property returns the current document-form value of a property.
func (p *Package) Property(name string) (any, error) {
	val, ok := p.values[name]
	if !ok {
		return nil, fmt.Errorf("state property %q.%s has no value", p.name, name)
	}
	return val.Interface(), nil
}

// ValuesToDocument returns all assigned property values in document
// form.
func (p *Package) ValuesToDocument() map[string]any {
	out := make(map[string]any, len(p.values))
	for name, val := range p.values {
		out[name] = val.Interface()
	}
	return out
}

func (p *Package) convert(name string, value any) (schema.Value, error) {
	propSchema, ok := p.schema.Fields[name]
	if !ok {
		return nil, fmt.Errorf("state property %q.%s is not declared", p.name, name)
	}
	val, err := schema.FromDocument(value, propSchema)
	if err != nil {
		return nil, fmt.Errorf("state property %q.%s: %w", p.name, name, err)
	}
	return val, nil
}
