package command

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/internal/schema"
)

// taskPump collects deferred tasks so tests control when queue removals
// actually run.
type taskPump struct {
	tasks []func()
}

func (p *taskPump) runner() TaskRunner {
	return func(fn func()) { p.tasks = append(p.tasks, fn) }
}

func (p *taskPump) drain() {
	for len(p.tasks) > 0 {
		fn := p.tasks[0]
		p.tasks = p.tasks[1:]
		fn()
	}
}

// recorder logs every notification into a shared journal so tests can
// assert ordering across observers.
type recorder struct {
	name    string
	journal *[]string
	remove  bool // when set, unregisters itself on the first callback
}

func (r *recorder) record(c *Instance, event string) {
	*r.journal = append(*r.journal, r.name+":"+event)
	if r.remove {
		c.RemoveObserver(r)
	}
}

func (r *recorder) OnStatusChanged(c *Instance)   { r.record(c, "status:"+string(c.Status())) }
func (r *recorder) OnProgressChanged(c *Instance) { r.record(c, "progress") }
func (r *recorder) OnResultsChanged(c *Instance)  { r.record(c, "results") }
func (r *recorder) OnRemoved(c *Instance)         { r.record(c, "removed") }

const testDefinitions = `{
	'lock': {
		'setConfig': {
			'minimalRole': 'user',
			'parameters': {
				'lockedState': {'type': 'string', 'enum': ['locked', 'unlocked']}
			},
			'progress': {
				'percent': {'type': 'integer'}
			},
			'results': {
				'finalState': {'type': 'string', 'optional': true}
			}
		}
	}
}`

func testDictionary(t *testing.T) *Dictionary {
	t.Helper()
	d := NewDictionary()
	require.NoError(t, d.LoadFromDocument(doc(t, testDefinitions)))
	return d
}

func queuedInstance(t *testing.T, pump *taskPump) *Instance {
	t.Helper()
	inst, id, err := FromDocument(doc(t, `{
		'id': '1',
		'name': 'lock.setConfig',
		'parameters': {'lockedState': 'locked'}
	}`), OriginCloud, testDictionary(t))
	require.NoError(t, err)
	require.Equal(t, "1", id)

	q := NewQueue(pump.runner())
	_, err = q.Add(inst)
	require.NoError(t, err)
	return inst
}

func TestFromDocument(t *testing.T) {
	inst := queuedInstance(t, &taskPump{})
	assert.Equal(t, "1", inst.ID())
	assert.Equal(t, "lock.setConfig", inst.Name())
	assert.Equal(t, OriginCloud, inst.Origin())
	assert.Equal(t, StatusQueued, inst.Status())

	state, ok := inst.Parameters().StringField("lockedState")
	require.True(t, ok)
	assert.Equal(t, "locked", state)
}

func TestFromDocumentAbsentParametersMeansEmpty(t *testing.T) {
	d := NewDictionary()
	require.NoError(t, d.LoadFromDocument(doc(t, `{
		'lock': {'identify': {'minimalRole': 'viewer'}}
	}`)))

	inst, _, err := FromDocument(doc(t, `{'name': 'lock.identify'}`), OriginLocal, d)
	require.NoError(t, err)
	assert.Zero(t, inst.Parameters().Len())
}

func TestFromDocumentInvalidParameterValue(t *testing.T) {
	inst, id, err := FromDocument(doc(t, `{
		'name': 'lock.setConfig',
		'parameters': {'lockedState': 'open'}
	}`), OriginCloud, testDictionary(t))
	require.Error(t, err)
	assert.Nil(t, inst)
	assert.Equal(t, "", id)

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.ErrCodeInvalidPropValue, verr.Code)
}

func TestFromDocumentUnknownCommand(t *testing.T) {
	inst, id, err := FromDocument(doc(t, `{'id': '7', 'name': 'unknown.cmd'}`), OriginCloud, testDictionary(t))
	require.Error(t, err)
	assert.Nil(t, inst)
	assert.Equal(t, "7", id, "id extracted best-effort even on failure")
	assert.Equal(t, ErrCodeInvalidCommandName, ErrorCode(err))
}

func TestFromDocumentMissingName(t *testing.T) {
	_, id, err := FromDocument(doc(t, `{'id': '9'}`), OriginCloud, testDictionary(t))
	require.Error(t, err)
	assert.Equal(t, "9", id)

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.ErrCodePropertyMissing, verr.Code)
}

func TestFromDocumentNotAnObject(t *testing.T) {
	_, id, err := FromDocument([]any{"nope"}, OriginCloud, testDictionary(t))
	require.Error(t, err)
	assert.Equal(t, "", id)

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.ErrCodeMalformedDocument, verr.Code)
}

func TestSetProgressTransitionsAndNotifies(t *testing.T) {
	pump := &taskPump{}
	inst := queuedInstance(t, pump)

	var journal []string
	inst.AddObserver(&recorder{name: "a", journal: &journal})

	require.NoError(t, inst.SetProgress(doc(t, `{'percent': 0}`)))
	assert.Equal(t, StatusInProgress, inst.Status())
	assert.Equal(t, []string{"a:status:inProgress", "a:progress"}, journal)

	// Same progress again: the status transition is still attempted (a
	// no-op here) but no progress notification fires.
	journal = nil
	require.NoError(t, inst.SetProgress(doc(t, `{'percent': 0}`)))
	assert.Empty(t, journal)

	// Changed progress notifies without a status event.
	require.NoError(t, inst.SetProgress(doc(t, `{'percent': 50}`)))
	assert.Equal(t, []string{"a:progress"}, journal)
}

func TestSetProgressResumesFromPauseAndError(t *testing.T) {
	pump := &taskPump{}
	inst := queuedInstance(t, pump)

	require.NoError(t, inst.Pause())
	assert.Equal(t, StatusPaused, inst.Status())
	require.NoError(t, inst.SetProgress(doc(t, `{'percent': 10}`)))
	assert.Equal(t, StatusInProgress, inst.Status())

	require.NoError(t, inst.SetError(errors.New("jammed")))
	assert.Equal(t, StatusError, inst.Status())
	require.NoError(t, inst.SetProgress(doc(t, `{'percent': 20}`)))
	assert.Equal(t, StatusInProgress, inst.Status())
	assert.Error(t, inst.Err(), "recorded error survives resumption")
}

func TestSetProgressValidatesSchema(t *testing.T) {
	pump := &taskPump{}
	inst := queuedInstance(t, pump)

	err := inst.SetProgress(doc(t, `{'percent': 'half'}`))
	require.Error(t, err)
	assert.Equal(t, StatusQueued, inst.Status(), "failed validation leaves status untouched")
}

func TestCompleteTransitionsAndDefersRemoval(t *testing.T) {
	pump := &taskPump{}
	inst := queuedInstance(t, pump)
	q := inst.queue

	require.NoError(t, inst.Complete(doc(t, `{'finalState': 'locked'}`)))
	assert.Equal(t, StatusDone, inst.Status())

	// Deferred destruction: still owned, still fully readable.
	assert.NotNil(t, q.Find("1"))
	out := inst.ToDocument()
	assert.Equal(t, "done", out["state"])
	assert.Equal(t, map[string]any{"finalState": "locked"}, out["results"])

	pump.drain()
	assert.Nil(t, q.Find("1"))
	assert.Zero(t, q.Len())
}

func TestCompleteOnRemovedInstance(t *testing.T) {
	pump := &taskPump{}
	inst := queuedInstance(t, pump)
	require.NoError(t, inst.Complete(doc(t, `{}`)))
	pump.drain()

	err := inst.Complete(doc(t, `{}`))
	require.Error(t, err)
	assert.Equal(t, ErrCodeCommandRemoved, ErrorCode(err))
}

func TestTerminalFinality(t *testing.T) {
	terminalize := map[Status]func(*Instance) error{
		StatusDone:      func(c *Instance) error { return c.Complete(map[string]any{}) },
		StatusCancelled: func(c *Instance) error { return c.Cancel() },
		StatusAborted:   func(c *Instance) error { return c.Abort(errors.New("boom")) },
		StatusExpired:   func(c *Instance) error { return c.Expire() },
	}

	for terminal, reach := range terminalize {
		t.Run(string(terminal), func(t *testing.T) {
			pump := &taskPump{}
			inst := queuedInstance(t, pump)
			require.NoError(t, inst.SetProgress(map[string]any{"percent": int64(40)}))
			require.NoError(t, reach(inst))
			require.Equal(t, terminal, inst.Status())

			before := inst.ToDocument()

			attempts := []struct {
				name string
				op   func() error
			}{
				{"SetProgress", func() error { return inst.SetProgress(map[string]any{"percent": int64(99)}) }},
				{"Complete", func() error { return inst.Complete(map[string]any{"finalState": "x"}) }},
				{"SetError", func() error { return inst.SetError(errors.New("late")) }},
				{"Pause", func() error { return inst.Pause() }},
				{"Abort", func() error { return inst.Abort(errors.New("late")) }},
				{"Cancel", func() error { return inst.Cancel() }},
			}
			for _, a := range attempts {
				err := a.op()
				require.Error(t, err, "%s from %s", a.name, terminal)
				assert.Equal(t, ErrCodeInvalidStateTransition, ErrorCode(err), "%s from %s", a.name, terminal)
			}

			assert.Equal(t, before["state"], inst.ToDocument()["state"])
			assert.Equal(t, before["progress"], inst.ToDocument()["progress"])
			assert.Equal(t, before["results"], inst.ToDocument()["results"])
		})
	}
}

func TestNoRequeue(t *testing.T) {
	pump := &taskPump{}
	inst := queuedInstance(t, pump)
	require.NoError(t, inst.SetProgress(doc(t, `{'percent': 1}`)))

	err := inst.setStatus(StatusQueued)
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidStateTransition, ErrorCode(err))
}

func TestSameStatusTransitionFiresNoNotification(t *testing.T) {
	pump := &taskPump{}
	inst := queuedInstance(t, pump)

	require.NoError(t, inst.Pause())

	var journal []string
	inst.AddObserver(&recorder{name: "a", journal: &journal})

	require.NoError(t, inst.Pause())
	assert.Equal(t, StatusPaused, inst.Status())
	assert.Empty(t, journal)
}

func TestObserverOrderAndSelfRemoval(t *testing.T) {
	pump := &taskPump{}
	inst := queuedInstance(t, pump)

	var journal []string
	first := &recorder{name: "first", journal: &journal, remove: true}
	second := &recorder{name: "second", journal: &journal}
	inst.AddObserver(first)
	inst.AddObserver(second)

	require.NoError(t, inst.Pause())
	assert.Equal(t, []string{"first:status:paused", "second:status:paused"}, journal)

	// first removed itself; later notifications skip it.
	journal = nil
	require.NoError(t, inst.SetProgress(doc(t, `{'percent': 5}`)))
	assert.Equal(t, []string{"second:status:inProgress", "second:progress"}, journal)
}

func TestRemovalNotifiesOnRemoved(t *testing.T) {
	pump := &taskPump{}
	inst := queuedInstance(t, pump)

	var journal []string
	inst.AddObserver(&recorder{name: "a", journal: &journal})

	require.NoError(t, inst.Cancel())
	assert.Equal(t, []string{"a:status:cancelled"}, journal)

	pump.drain()
	assert.Equal(t, []string{"a:status:cancelled", "a:removed"}, journal)
	assert.Nil(t, inst.Definition(), "definition reference dropped at removal")
}

func TestAbortRecordsError(t *testing.T) {
	pump := &taskPump{}
	inst := queuedInstance(t, pump)

	require.NoError(t, inst.Abort(fmt.Errorf("hardware fault")))
	assert.Equal(t, StatusAborted, inst.Status())

	out := inst.ToDocument()
	errDoc, ok := out["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hardware fault", errDoc["message"])

	pump.drain()
}

func TestToDocumentShape(t *testing.T) {
	pump := &taskPump{}
	inst := queuedInstance(t, pump)

	out := inst.ToDocument()
	assert.Equal(t, "1", out["id"])
	assert.Equal(t, "lock.setConfig", out["name"])
	assert.Equal(t, "queued", out["state"])
	assert.Equal(t, map[string]any{"lockedState": "locked"}, out["parameters"])
	assert.Equal(t, map[string]any{}, out["progress"])
	assert.Equal(t, map[string]any{}, out["results"])
	_, hasErr := out["error"]
	assert.False(t, hasErr, "error only present once recorded")

	require.NoError(t, inst.SetError(errors.New("stuck")))
	out = inst.ToDocument()
	assert.Equal(t, "error", out["state"])
	assert.Contains(t, out, "error")
}

func TestQueueAssignsIDs(t *testing.T) {
	pump := &taskPump{}
	d := testDictionary(t)
	q := NewQueue(pump.runner())

	inst, _, err := FromDocument(doc(t, `{'name': 'lock.setConfig', 'parameters': {'lockedState': 'unlocked'}}`), OriginLocal, d)
	require.NoError(t, err)
	id, err := q.Add(inst)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, inst.ID())
	assert.Same(t, inst, q.Find(id))
}

func TestQueueRejectsDuplicateID(t *testing.T) {
	pump := &taskPump{}
	d := testDictionary(t)
	q := NewQueue(pump.runner())

	a, _, err := FromDocument(doc(t, `{'id': 'dup', 'name': 'lock.setConfig', 'parameters': {'lockedState': 'locked'}}`), OriginLocal, d)
	require.NoError(t, err)
	_, err = q.Add(a)
	require.NoError(t, err)

	b, _, err := FromDocument(doc(t, `{'id': 'dup', 'name': 'lock.setConfig', 'parameters': {'lockedState': 'locked'}}`), OriginLocal, d)
	require.NoError(t, err)
	_, err = q.Add(b)
	require.Error(t, err)
	assert.Equal(t, ErrCodeDuplicateCommandID, ErrorCode(err))
}

func TestQueueCallbacks(t *testing.T) {
	pump := &taskPump{}
	q := NewQueue(pump.runner())

	var added, removed []string
	q.OnAdded(func(c *Instance) { added = append(added, c.ID()) })
	q.OnRemoved(func(c *Instance) { removed = append(removed, c.ID()) })

	d := testDictionary(t)
	inst, _, err := FromDocument(doc(t, `{'id': 'x', 'name': 'lock.setConfig', 'parameters': {'lockedState': 'locked'}}`), OriginCloud, d)
	require.NoError(t, err)
	_, err = q.Add(inst)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, added)

	require.NoError(t, inst.Cancel())
	assert.Empty(t, removed, "removal deferred past the cancel call")
	pump.drain()
	assert.Equal(t, []string{"x"}, removed)
}

func TestDelayedRemoveIsIdempotent(t *testing.T) {
	pump := &taskPump{}
	inst := queuedInstance(t, pump)
	q := inst.queue

	q.DelayedRemove("1")
	q.DelayedRemove("1")
	pump.drain()
	assert.Zero(t, q.Len())
}
