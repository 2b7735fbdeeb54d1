package command

import (
	"fmt"
	"sort"
	"sync"

	"github.com/weftlabs/weft/internal/schema"
)

// Dictionary is the registry of known command definitions, keyed by
// fully-qualified name "<package>.<name>". Loads are all-or-nothing: a
// single malformed entry rejects the whole batch and leaves the
// dictionary unchanged. Reads never block on other reads; the mutex
// exists so transports may keep resolving commands while the definition
// watcher reloads.
type Dictionary struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
}

func NewDictionary() *Dictionary {
	return &Dictionary{definitions: make(map[string]*Definition)}
}

// Find returns the definition for a fully-qualified command name, or nil
// when the name is unknown.
func (d *Dictionary) Find(fullName string) *Definition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.definitions[fullName]
}

// Names returns all registered fully-qualified names in sorted order.
func (d *Dictionary) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.definitions))
	for name := range d.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered definitions.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.definitions)
}

// LoadFromDocument merges a batch of command declarations into the
// dictionary. The document shape is
//
//	{"<package>": {"<command>": {"minimalRole": ..., "parameters": ...,
//	  "progress": ..., "results": ...}}}
//
// Re-declaring a registered command overrides it field by field: object
// schemas merge over the existing ones and an omitted minimalRole is
// inherited.
func (d *Dictionary) LoadFromDocument(doc any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	staged, err := d.parseBatch(doc, d.definitions)
	if err != nil {
		return err
	}
	for name, def := range staged {
		d.definitions[name] = def
	}
	return nil
}

// Reload replaces the whole dictionary with the union of the given
// definition batches. On any error the current definitions are kept.
// Definitions already referenced by in-flight instances stay valid;
// those instances keep the old Definition until they are removed.
func (d *Dictionary) Reload(docs []any) error {
	fresh := make(map[string]*Definition)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, doc := range docs {
		staged, err := d.parseBatch(doc, fresh)
		if err != nil {
			return err
		}
		for name, def := range staged {
			fresh[name] = def
		}
	}
	d.definitions = fresh
	return nil
}

// parseBatch validates one batch against the given base set without
// committing anything. Callers hold the write lock.
func (d *Dictionary) parseBatch(doc any, base map[string]*Definition) (map[string]*Definition, error) {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, &schema.ValidationError{
			Code:    schema.ErrCodeMalformedDocument,
			Message: fmt.Sprintf("command definitions must be a JSON object, got %T", doc),
		}
	}

	staged := make(map[string]*Definition)
	for _, pkgName := range sortedKeys(root) {
		commands, ok := root[pkgName].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("package %q: expected a JSON object of commands", pkgName)
		}
		for _, cmdName := range sortedKeys(commands) {
			existing := staged[pkgName+"."+cmdName]
			if existing == nil {
				existing = base[pkgName+"."+cmdName]
			}
			def, err := parseDefinition(pkgName, cmdName, commands[cmdName], existing)
			if err != nil {
				return nil, fmt.Errorf("command %s.%s: %w", pkgName, cmdName, err)
			}
			staged[def.FullName()] = def
		}
	}
	return staged, nil
}

func parseDefinition(pkgName, cmdName string, doc any, base *Definition) (*Definition, error) {
	decl, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object declaration, got %T", doc)
	}

	var role Role
	roleDeclared := false
	var params, progress, results *schema.Schema

	for _, key := range sortedKeys(decl) {
		val := decl[key]
		var err error
		switch key {
		case "minimalRole":
			name, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("'minimalRole' must be a string")
			}
			if role, err = ParseRole(name); err != nil {
				return nil, err
			}
			roleDeclared = true
		case "parameters":
			params, err = schema.ParseObject(val)
		case "progress":
			progress, err = schema.ParseObject(val)
		case "results":
			results, err = schema.ParseObject(val)
		default:
			return nil, fmt.Errorf("unknown declaration attribute %q", key)
		}
		if err != nil {
			return nil, err
		}
	}

	if base != nil {
		var err error
		if params, progress, results, err = mergeSchemas(base, params, progress, results); err != nil {
			return nil, err
		}
		if !roleDeclared {
			role = base.MinimalRole()
		}
	} else if !roleDeclared {
		return nil, fmt.Errorf("'minimalRole' is required")
	}

	return NewDefinition(pkgName, cmdName, role, params, progress, results)
}

func mergeSchemas(base *Definition, params, progress, results *schema.Schema) (*schema.Schema, *schema.Schema, *schema.Schema, error) {
	var err error
	if params == nil {
		params = base.Parameters()
	} else if params, err = params.MergeOver(base.Parameters()); err != nil {
		return nil, nil, nil, err
	}
	if progress == nil {
		progress = base.Progress()
	} else if progress, err = progress.MergeOver(base.Progress()); err != nil {
		return nil, nil, nil, err
	}
	if results == nil {
		results = base.Results()
	} else if results, err = results.MergeOver(base.Results()); err != nil {
		return nil, nil, nil, err
	}
	return params, progress, results, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
