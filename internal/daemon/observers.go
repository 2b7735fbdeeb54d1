package daemon

import (
	"github.com/weftlabs/weft/internal/cloud"
	"github.com/weftlabs/weft/internal/command"
	"github.com/weftlabs/weft/internal/events"
)

// wireObservers connects the device's queue and state manager to the
// event bus and the cloud channel. Runs before the UDS server starts,
// so no command can slip through unobserved.
func (d *Daemon) wireObservers() {
	q := d.device.Queue()

	q.OnAdded(func(c *command.Instance) {
		c.AddObserver(&commandObserver{d: d})
		d.bus.Publish(events.EventCommandAdded, map[string]any{
			"command_id": c.ID(),
			"command":    c.Name(),
			"origin":     string(c.Origin()),
		})
	})

	q.OnRemoved(func(c *command.Instance) {
		d.bus.Publish(events.EventCommandRemoved, map[string]any{
			"command_id": c.ID(),
			"command":    c.Name(),
			"status":     string(c.Status()),
		})
	})

	d.device.State().OnChanged(func(pkg string) {
		snapshot := d.device.State().ValuesToDocument()
		d.bus.Publish(events.EventStateChanged, map[string]any{
			"property": pkg,
			"state":    snapshot,
		})
		if d.channel != nil {
			d.channel.NotifyStateChanged(snapshot)
		}
	})
}

// commandObserver mirrors instance changes onto the bus and the cloud
// channel. One observer is attached per queued instance.
type commandObserver struct {
	d *Daemon
}

func (o *commandObserver) OnStatusChanged(c *command.Instance) {
	o.d.bus.Publish(events.EventCommandStatusChanged, map[string]any{
		"command_id": c.ID(),
		"command":    c.Name(),
		"status":     string(c.Status()),
	})
	o.notifyCloud(c)
}

func (o *commandObserver) OnProgressChanged(c *command.Instance) {
	o.notifyCloud(c)
}

func (o *commandObserver) OnResultsChanged(c *command.Instance) {
	o.notifyCloud(c)
}

func (o *commandObserver) OnRemoved(c *command.Instance) {}

func (o *commandObserver) notifyCloud(c *command.Instance) {
	if o.d.channel != nil {
		o.d.channel.NotifyCommandState(c.ToDocument())
	}
}

// subscribeAudit feeds daemon events into the append-only audit log.
func (d *Daemon) subscribeAudit() {
	for _, et := range []events.EventType{
		events.EventCommandAdded,
		events.EventCommandStatusChanged,
		events.EventCommandRemoved,
		events.EventStateChanged,
		events.EventDefinitionsReloaded,
		events.EventCloudConnection,
	} {
		et := et
		d.bus.Subscribe(et, func(e events.Event) {
			if err := d.audit.Log(string(e.Type), e.Data); err != nil {
				d.log(LogLevelError, "audit log: %v", err)
			}
		})
	}
}

// cloudDelegate carries cloud channel requests onto the run loop.
type cloudDelegate struct {
	d *Daemon
}

func (cd *cloudDelegate) ExecuteCommand(doc map[string]any) (map[string]any, string, error) {
	var (
		result map[string]any
		id     string
		cmdErr error
	)
	err := cd.d.do(func() {
		inst, rid, e := cd.d.device.SubmitCommand(doc, command.OriginCloud, command.RoleOwner)
		id = rid
		if e != nil {
			cmdErr = e
			return
		}
		result = inst.ToDocument()
	})
	if err != nil {
		return nil, id, err
	}
	return result, id, cmdErr
}

func (cd *cloudDelegate) CancelCommand(id string) error {
	var cmdErr error
	err := cd.d.do(func() {
		inst := cd.d.device.Queue().Find(id)
		if inst == nil {
			cmdErr = command.NotFound(id)
			return
		}
		cmdErr = inst.Cancel()
	})
	if err != nil {
		return err
	}
	return cmdErr
}

func (cd *cloudDelegate) Hello() cloud.HelloMessage {
	var hello cloud.HelloMessage
	_ = cd.d.do(func() {
		hello = cloud.HelloMessage{
			DeviceName:  cd.d.config.Device.Name,
			Description: cd.d.config.Device.Description,
			Location:    cd.d.config.Device.Location,
			Commands:    cd.d.device.Dictionary().Names(),
			State:       cd.d.device.State().ValuesToDocument(),
		}
	})
	return hello
}
