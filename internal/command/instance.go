package command

import (
	"github.com/weftlabs/weft/internal/schema"
)

// Observer receives synchronous notifications about one instance.
// Callbacks run on the caller of the triggering operation, in
// registration order, before that operation returns. OnRemoved fires
// while the queue destroys the instance; the instance must be treated
// as read-only and may report removal errors for further operations.
type Observer interface {
	OnStatusChanged(c *Instance)
	OnProgressChanged(c *Instance)
	OnResultsChanged(c *Instance)
	OnRemoved(c *Instance)
}

// Instance is a single in-flight command invocation. It references its
// definition (owned by the dictionary) and is owned by exactly one
// queue from the moment it is added until the queue removes it.
// Parameters are fixed at construction; progress and results are
// replaced wholesale on each accepted update.
type Instance struct {
	id         string
	name       string
	origin     Origin
	definition *Definition
	parameters *schema.ObjectValue
	progress   *schema.ObjectValue
	results    *schema.ObjectValue
	status     Status
	err        error
	observers  []Observer
	queue      *Queue
}

// New constructs an instance directly from typed parameters, for
// locally-issued commands that bypass document parsing.
func New(def *Definition, origin Origin, parameters *schema.ObjectValue) *Instance {
	if parameters == nil {
		parameters = schema.NewObject(def.Parameters())
	}
	return &Instance{
		name:       def.FullName(),
		origin:     origin,
		definition: def,
		parameters: parameters,
		progress:   schema.NewObject(def.Progress()),
		results:    schema.NewObject(def.Results()),
		status:     StatusQueued,
	}
}

// FromDocument parses a command request document
//
//	{"id": ..., "name": "<package>.<command>", "parameters": {...}}
//
// resolving the name through the dictionary and validating parameters
// against the definition's parameter schema. The id is extracted
// best-effort and returned even when construction fails, so callers can
// correlate a rejection with the original request.
func FromDocument(doc any, origin Origin, dict *Dictionary) (*Instance, string, error) {
	req, ok := doc.(map[string]any)
	if !ok {
		return nil, "", &schema.ValidationError{
			Code:    schema.ErrCodeMalformedDocument,
			Message: "command request must be a JSON object",
		}
	}

	id, _ := req["id"].(string)

	name, ok := req["name"].(string)
	if !ok || name == "" {
		return nil, id, &schema.ValidationError{
			Code:    schema.ErrCodePropertyMissing,
			Path:    "name",
			Message: "command name is missing",
		}
	}

	def := dict.Find(name)
	if def == nil {
		return nil, id, newError(ErrCodeInvalidCommandName, "unknown command received: %s", name)
	}

	// An absent parameters field means an empty parameter object.
	rawParams, has := req["parameters"]
	if !has {
		rawParams = map[string]any{}
	}
	params, err := schema.FromDocument(rawParams, def.Parameters())
	if err != nil {
		return nil, id, err
	}

	inst := New(def, origin, params.(*schema.ObjectValue))
	inst.id = id
	return inst, id, nil
}

func (c *Instance) ID() string     { return c.id }
func (c *Instance) Name() string   { return c.name }
func (c *Instance) Origin() Origin { return c.origin }
func (c *Instance) Status() Status { return c.status }

// Definition returns the command's definition, nil once the instance
// has been removed from its queue.
func (c *Instance) Definition() *Definition { return c.definition }

// Err returns the recorded command error, nil when none was set.
func (c *Instance) Err() error { return c.err }

// Parameters returns the typed parameter object fixed at construction.
func (c *Instance) Parameters() *schema.ObjectValue { return c.parameters }

// Progress returns the last accepted progress object.
func (c *Instance) Progress() *schema.ObjectValue { return c.progress }

// Results returns the last accepted results object.
func (c *Instance) Results() *schema.ObjectValue { return c.results }

// AddObserver registers an observer. Observers are notified in
// registration order.
func (c *Instance) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// RemoveObserver unregisters an observer. Safe to call from inside a
// notification callback.
func (c *Instance) RemoveObserver(o Observer) {
	for i, reg := range c.observers {
		if reg == o {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			return
		}
	}
}

// notify iterates over a snapshot so observers may remove themselves
// (or each other) mid-notification without corrupting the sequence.
func (c *Instance) notify(fn func(Observer)) {
	snapshot := make([]Observer, len(c.observers))
	copy(snapshot, c.observers)
	for _, o := range snapshot {
		fn(o)
	}
}

// SetProgress validates the document against the progress schema and,
// on success, transitions to inProgress. The status change is attempted
// even when the progress value is unchanged and can itself fail; the
// progress-changed notification fires only when the value actually
// differs from the previous one.
func (c *Instance) SetProgress(doc any) error {
	if c.definition == nil {
		return removedError()
	}
	val, err := schema.FromDocument(doc, c.definition.Progress())
	if err != nil {
		return err
	}
	obj := val.(*schema.ObjectValue)

	// Status changes even if progress is unchanged, e.g. 0% -> 0%.
	if err := c.setStatus(StatusInProgress); err != nil {
		return err
	}

	if !obj.Equal(c.progress) {
		c.progress = obj
		c.notify(func(o Observer) { o.OnProgressChanged(c) })
	}
	return nil
}

// Complete validates the document against the results schema, replaces
// the results, transitions to done and schedules removal from the
// owning queue. This is the one path to a normal successful completion.
// The instance stays fully readable until the current call stack
// unwinds.
func (c *Instance) Complete(doc any) error {
	if c.definition == nil {
		return removedError()
	}
	val, err := schema.FromDocument(doc, c.definition.Results())
	if err != nil {
		return err
	}
	if err := ValidateTransition(c.status, StatusDone); err != nil {
		return err
	}

	obj := val.(*schema.ObjectValue)
	if !obj.Equal(c.results) {
		c.results = obj
		c.notify(func(o Observer) { o.OnResultsChanged(c) })
	}

	err = c.setStatus(StatusDone)
	c.removeFromQueue()
	return err
}

// SetError records a command error, replacing any prior one, and
// transitions to the error status. Not terminal: the command stays
// visible and can resume via SetProgress.
func (c *Instance) SetError(cmdErr error) error {
	if c.definition == nil {
		return removedError()
	}
	if err := ValidateTransition(c.status, StatusError); err != nil {
		return err
	}
	c.err = cmdErr
	return c.setStatus(StatusError)
}

// Pause transitions to paused.
func (c *Instance) Pause() error {
	if c.definition == nil {
		return removedError()
	}
	return c.setStatus(StatusPaused)
}

// Abort records the error, transitions to the terminal aborted status
// and schedules removal from the owning queue.
func (c *Instance) Abort(cmdErr error) error {
	if c.definition == nil {
		return removedError()
	}
	if err := ValidateTransition(c.status, StatusAborted); err != nil {
		return err
	}
	c.err = cmdErr
	err := c.setStatus(StatusAborted)
	c.removeFromQueue()
	return err
}

// Cancel transitions to the terminal cancelled status and schedules
// removal from the owning queue.
func (c *Instance) Cancel() error {
	if c.definition == nil {
		return removedError()
	}
	err := c.setStatus(StatusCancelled)
	if err != nil {
		return err
	}
	c.removeFromQueue()
	return nil
}

// Expire moves a command abandoned by its caller to the terminal
// expired status and schedules removal.
func (c *Instance) Expire() error {
	if c.definition == nil {
		return removedError()
	}
	err := c.setStatus(StatusExpired)
	if err != nil {
		return err
	}
	c.removeFromQueue()
	return nil
}

// ToDocument serializes the externally visible representation:
// {id, name, parameters, progress, results, state, error?}. The error
// field is present only when an error has been recorded.
func (c *Instance) ToDocument() map[string]any {
	out := map[string]any{
		"id":         c.id,
		"name":       c.name,
		"parameters": c.parameters.Interface(),
		"progress":   c.progress.Interface(),
		"results":    c.results.Interface(),
		"state":      string(c.status),
	}
	if c.err != nil {
		out["error"] = errorToDocument(c.err)
	}
	return out
}

// setStatus advances the state machine. A permitted same-status
// transition succeeds without notifying anyone.
func (c *Instance) setStatus(to Status) error {
	if err := ValidateTransition(c.status, to); err != nil {
		return err
	}
	if to == c.status {
		return nil
	}
	c.status = to
	c.notify(func(o Observer) { o.OnStatusChanged(c) })
	return nil
}

func (c *Instance) setID(id string)   { c.id = id }
func (c *Instance) setQueue(q *Queue) { c.queue = q }

func (c *Instance) removeFromQueue() {
	if c.queue != nil {
		c.queue.DelayedRemove(c.id)
	}
}

// invalidate is called by the queue while destroying the instance:
// the definition reference is dropped, further operations report
// removal, and observers get their final OnRemoved notification.
func (c *Instance) invalidate() {
	c.definition = nil
	c.queue = nil
	c.notify(func(o Observer) { o.OnRemoved(c) })
}
