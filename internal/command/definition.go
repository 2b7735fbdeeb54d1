package command

import (
	"fmt"
	"strings"

	"github.com/weftlabs/weft/internal/schema"
)

// Definition declares one command: its qualified name, the minimal
// caller role, and the schemas for parameters, progress and results.
// Definitions are immutable once registered and referenced, not owned,
// by the instances constructed from them.
type Definition struct {
	pkg         string
	name        string
	minimalRole Role
	parameters  *schema.Schema
	progress    *schema.Schema
	results     *schema.Schema
}

// NewDefinition builds a definition. Nil schemas default to empty
// objects.
func NewDefinition(pkg, name string, minimalRole Role, parameters, progress, results *schema.Schema) (*Definition, error) {
	if pkg == "" || name == "" {
		return nil, fmt.Errorf("command definition requires package and name")
	}
	if strings.Contains(pkg, ".") || strings.Contains(name, ".") {
		return nil, fmt.Errorf("package and name must not contain '.': %s.%s", pkg, name)
	}
	if parameters == nil {
		parameters = schema.EmptyObject()
	}
	if progress == nil {
		progress = schema.EmptyObject()
	}
	if results == nil {
		results = schema.EmptyObject()
	}
	return &Definition{
		pkg:         pkg,
		name:        name,
		minimalRole: minimalRole,
		parameters:  parameters,
		progress:    progress,
		results:     results,
	}, nil
}

// FullName returns "<package>.<name>".
func (d *Definition) FullName() string { return d.pkg + "." + d.name }

func (d *Definition) Package() string            { return d.pkg }
func (d *Definition) Name() string               { return d.name }
func (d *Definition) MinimalRole() Role          { return d.minimalRole }
func (d *Definition) Parameters() *schema.Schema { return d.parameters }
func (d *Definition) Progress() *schema.Schema   { return d.progress }
func (d *Definition) Results() *schema.Schema    { return d.results }
