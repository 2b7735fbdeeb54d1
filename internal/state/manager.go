package state

import (
	"fmt"
	"sort"
	"strings"
)

// Manager aggregates state packages into the device state document
// reported to cloud and local callers:
//
//	{"lock": {"lockedState": "locked"}, "base": {"firmwareVersion": ...}}
//
// Property names at the manager level are fully qualified as
// "<package>.<property>".
type Manager struct {
	packages  map[string]*Package
	onChanged []func(pkg string)
}

func NewManager() *Manager {
	return &Manager{packages: make(map[string]*Package)}
}

// OnChanged registers a callback fired after any property value change,
// with the name of the package that changed. Transports use it to push
// state updates.
func (m *Manager) OnChanged(fn func(pkg string)) {
	m.onChanged = append(m.onChanged, fn)
}

// AddSchemaFromDocument declares properties for one or more packages:
// {"<package>": {"<property>": <declaration>}}. Packages are created on
// first mention.
func (m *Manager) AddSchemaFromDocument(doc any) error {
	root, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("state definitions must be a JSON object, got %T", doc)
	}
	for _, pkgName := range sortedKeys(root) {
		pkg := m.packages[pkgName]
		if pkg == nil {
			pkg = NewPackage(pkgName)
			m.packages[pkgName] = pkg
		}
		if err := pkg.AddSchemaFromDocument(root[pkgName]); err != nil {
			return fmt.Errorf("package %q: %w", pkgName, err)
		}
	}
	return nil
}

// SetValuesFromDocument assigns property values for one or more
// packages: {"<package>": {"<property>": <value>}}.
func (m *Manager) SetValuesFromDocument(doc any) error {
	root, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("state values must be a JSON object, got %T", doc)
	}
	for _, pkgName := range sortedKeys(root) {
		pkg := m.packages[pkgName]
		if pkg == nil {
			return fmt.Errorf("state package %q is not declared", pkgName)
		}
		if err := pkg.SetValuesFromDocument(root[pkgName]); err != nil {
			return err
		}
	}
	for _, pkgName := range sortedKeys(root) {
		m.notify(pkgName)
	}
	return nil
}

// SetProperty assigns one property by fully-qualified name, e.g.
// "lock.lockedState".
func (m *Manager) SetProperty(fullName string, value any) error {
	pkgName, propName, ok := strings.Cut(fullName, ".")
	if !ok {
		return fmt.Errorf("state property name %q must be \"<package>.<property>\"", fullName)
	}
	pkg := m.packages[pkgName]
	if pkg == nil {
		return fmt.Errorf("state package %q is not declared", pkgName)
	}
	if err := pkg.SetProperty(propName, value); err != nil {
		return err
	}
	m.notify(pkgName)
	return nil
}

// Property returns the document-form value of a fully-qualified
// property name.
func (m *Manager) Property(fullName string) (any, error) {
	pkgName, propName, ok := strings.Cut(fullName, ".")
	if !ok {
		return nil, fmt.Errorf("state property name %q must be \"<package>.<property>\"", fullName)
	}
	pkg := m.packages[pkgName]
	if pkg == nil {
		return nil, fmt.Errorf("state package %q is not declared", pkgName)
	}
	return pkg.Property(propName)
}

// ValuesToDocument aggregates every package's values into the device
// state document.
func (m *Manager) ValuesToDocument() map[string]any {
	out := make(map[string]any, len(m.packages))
	for name, pkg := range m.packages {
		out[name] = pkg.ValuesToDocument()
	}
	return out
}

func (m *Manager) notify(pkgName string) {
	for _, fn := range m.onChanged {
		fn(pkgName)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
