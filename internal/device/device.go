// Package device wires the command dictionary, command queue and state
// manager into the façade that transports and handler code talk to.
package device

import (
	"fmt"

	"github.com/weftlabs/weft/internal/command"
	"github.com/weftlabs/weft/internal/state"
)

// Handler executes one command instance. Handlers run on the device
// task sequence and drive the instance through SetProgress, Complete,
// SetError, Abort or Cancel.
type Handler func(c *command.Instance)

// Device is one logical device: its declared commands, its live command
// queue and its state properties. All methods must be called on the
// task sequence behind the runner.
type Device struct {
	dictionary *command.Dictionary
	queue      *command.Queue
	states     *state.Manager
	runner     command.TaskRunner

	handlers       map[string]Handler
	defaultHandler Handler
}

// New creates a device whose queue and handlers run on the given task
// sequence.
func New(runner command.TaskRunner) *Device {
	d := &Device{
		dictionary: command.NewDictionary(),
		queue:      command.NewQueue(runner),
		states:     state.NewManager(),
		runner:     runner,
		handlers:   make(map[string]Handler),
	}
	return d
}

func (d *Device) Dictionary() *command.Dictionary { return d.dictionary }
func (d *Device) Queue() *command.Queue           { return d.queue }
func (d *Device) State() *state.Manager           { return d.states }

// AddCommandDefinitionsFromDocument registers a batch of command
// declarations, e.g.
//
//	{"lock": {"setConfig": {"minimalRole": "user", "parameters": {...}}}}
func (d *Device) AddCommandDefinitionsFromDocument(doc any) error {
	return d.dictionary.LoadFromDocument(doc)
}

// AddStateDefinitionsFromDocument declares state properties, e.g.
//
//	{"lock": {"lockedState": {"type": "string", "enum": [...]}}}
func (d *Device) AddStateDefinitionsFromDocument(doc any) error {
	return d.states.AddSchemaFromDocument(doc)
}

// SetStatePropertiesFromDocument assigns state values per package.
func (d *Device) SetStatePropertiesFromDocument(doc any) error {
	return d.states.SetValuesFromDocument(doc)
}

// SetStateProperty assigns one fully-qualified state property.
func (d *Device) SetStateProperty(fullName string, value any) error {
	return d.states.SetProperty(fullName, value)
}

// AddCommandHandler routes instances of the named command to h. The
// empty name registers the default handler for commands with no
// specific one.
func (d *Device) AddCommandHandler(name string, h Handler) error {
	if name == "" {
		d.defaultHandler = h
		return nil
	}
	if d.dictionary.Find(name) == nil {
		return fmt.Errorf("cannot add handler for unknown command %q", name)
	}
	if _, exists := d.handlers[name]; exists {
		return fmt.Errorf("handler for command %q is already registered", name)
	}
	d.handlers[name] = h
	return nil
}

// HasDefaultHandler reports whether a default handler is registered.
func (d *Device) HasDefaultHandler() bool { return d.defaultHandler != nil }

// SubmitCommand parses a command request document, enforces the
// definition's minimal role against the caller's, queues the instance
// and schedules its handler. On failure the best-effort extracted id is
// returned alongside the error so transports can report which request
// was rejected.
func (d *Device) SubmitCommand(doc any, origin command.Origin, callerRole command.Role) (*command.Instance, string, error) {
	inst, id, err := command.FromDocument(doc, origin, d.dictionary)
	if err != nil {
		return nil, id, err
	}

	if !callerRole.AtLeast(inst.Definition().MinimalRole()) {
		return nil, id, command.AccessDenied(callerRole, inst.Definition())
	}

	if id, err = d.queue.Add(inst); err != nil {
		return nil, id, err
	}
	d.runner(func() { d.dispatch(inst) })
	return inst, id, nil
}

// dispatch hands a queued instance to its handler. Handlers attached
// after submission would miss the command, so dispatch runs as its own
// task on the sequence.
func (d *Device) dispatch(c *command.Instance) {
	if c.Definition() == nil || command.IsTerminal(c.Status()) {
		// Removed or finished before the dispatch task ran.
		return
	}
	h := d.handlers[c.Name()]
	if h == nil {
		h = d.defaultHandler
	}
	if h == nil {
		c.SetError(fmt.Errorf("device has no handler for command %q", c.Name()))
		return
	}
	h(c)
}
