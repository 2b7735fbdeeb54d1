package command

// TaskRunner executes fn strictly after the current call stack has
// unwound, on the same logical task sequence as queue operations. The
// daemon run loop provides one; tests pump tasks manually.
type TaskRunner func(fn func())

// Queue owns every live command instance and is the only component
// allowed to destroy one. Removal triggered from inside a state
// transition is deferred through the task runner so code notified
// synchronously by the transition can still read the instance.
type Queue struct {
	runner    TaskRunner
	commands  map[string]*Instance
	onAdded   []func(*Instance)
	onRemoved []func(*Instance)
}

// NewQueue creates a queue. The runner must not be nil and must defer
// execution past the current call stack.
func NewQueue(runner TaskRunner) *Queue {
	if runner == nil {
		panic("command: queue requires a task runner")
	}
	return &Queue{
		runner:   runner,
		commands: make(map[string]*Instance),
	}
}

// OnAdded registers a callback invoked synchronously after an instance
// is added. Transports use it to attach their observers.
func (q *Queue) OnAdded(fn func(*Instance)) {
	q.onAdded = append(q.onAdded, fn)
}

// OnRemoved registers a callback invoked while an instance is being
// destroyed, before its observers get OnRemoved.
func (q *Queue) OnRemoved(fn func(*Instance)) {
	q.onRemoved = append(q.onRemoved, fn)
}

// Add inserts an instance, assigning a generated id when the instance
// does not already carry one, and returns the id.
func (q *Queue) Add(c *Instance) (string, error) {
	id := c.ID()
	if id == "" {
		var err error
		if id, err = GenerateID(); err != nil {
			return "", err
		}
		for q.commands[id] != nil {
			if id, err = GenerateID(); err != nil {
				return "", err
			}
		}
		c.setID(id)
	} else if q.commands[id] != nil {
		return "", newError(ErrCodeDuplicateCommandID, "command %q is already in the queue", id)
	}

	c.setQueue(q)
	q.commands[id] = c
	for _, fn := range q.onAdded {
		fn(c)
	}
	return id, nil
}

// Find returns the instance with the given id, nil when absent.
func (q *Queue) Find(id string) *Instance {
	return q.commands[id]
}

// IDs returns the ids of all live instances.
func (q *Queue) IDs() []string {
	ids := make([]string, 0, len(q.commands))
	for id := range q.commands {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live instances.
func (q *Queue) Len() int { return len(q.commands) }

// DelayedRemove schedules destruction of the instance with the given
// id. The instance stays fully readable until the scheduling call stack
// unwinds; the removal itself runs as a separate task.
func (q *Queue) DelayedRemove(id string) {
	q.runner(func() { q.remove(id) })
}

func (q *Queue) remove(id string) {
	c := q.commands[id]
	if c == nil {
		// Already removed; DelayedRemove may fire more than once for
		// the same command (e.g. Abort after Complete).
		return
	}
	delete(q.commands, id)
	for _, fn := range q.onRemoved {
		fn(c)
	}
	c.invalidate()
}
