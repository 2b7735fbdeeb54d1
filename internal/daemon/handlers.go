package daemon

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/weftlabs/weft/internal/command"
	"github.com/weftlabs/weft/internal/uds"
)

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.log(LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})

	d.server.Handle(uds.OpSubmitCommand, d.handleSubmit)
	d.server.Handle(uds.OpCommandStatus, d.handleCommandStatus)
	d.server.Handle(uds.OpListCommands, d.handleListCommands)
	d.server.Handle(uds.OpCancelCommand, d.commandOp(func(c *command.Instance, _ uds.UpdateParams) error {
		return c.Cancel()
	}))
	d.server.Handle(uds.OpPauseCommand, d.commandOp(func(c *command.Instance, _ uds.UpdateParams) error {
		return c.Pause()
	}))
	d.server.Handle(uds.OpAbortCommand, d.commandOp(func(c *command.Instance, p uds.UpdateParams) error {
		msg := p.Message
		if msg == "" {
			msg = "aborted by operator"
		}
		return c.Abort(errors.New(msg))
	}))
	d.server.Handle(uds.OpProgress, d.commandOp(func(c *command.Instance, p uds.UpdateParams) error {
		return c.SetProgress(p.Document)
	}))
	d.server.Handle(uds.OpComplete, d.commandOp(func(c *command.Instance, p uds.UpdateParams) error {
		return c.Complete(p.Document)
	}))
	d.server.Handle(uds.OpFail, d.commandOp(func(c *command.Instance, p uds.UpdateParams) error {
		msg := p.Message
		if msg == "" {
			msg = "command failed"
		}
		return c.SetError(errors.New(msg))
	}))
	d.server.Handle(uds.OpGetState, d.handleGetState)
	d.server.Handle(uds.OpSetState, d.handleSetState)
	d.server.Handle(uds.OpDeviceInfo, d.handleDeviceInfo)
	d.server.Handle(uds.OpReloadDefs, d.handleReloadDefs)
}

func commandErrorResponse(id string, err error) *uds.Response {
	resp := uds.ErrorResponse(command.ErrorCode(err), err.Error())
	resp.Error.CommandID = id
	return resp
}

func (d *Daemon) handleSubmit(req *uds.Request) *uds.Response {
	var params uds.SubmitParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeBadParams, err.Error())
	}
	if params.Command == nil {
		return uds.ErrorResponse(uds.ErrCodeBadParams, "missing command document")
	}

	role := command.RoleOwner
	if params.Role != "" {
		var err error
		if role, err = command.ParseRole(params.Role); err != nil {
			return uds.ErrorResponse(uds.ErrCodeBadParams, err.Error())
		}
	}

	var (
		result map[string]any
		id     string
		cmdErr error
	)
	err := d.do(func() {
		inst, rid, e := d.device.SubmitCommand(params.Command, command.OriginLocal, role)
		id = rid
		if e != nil {
			cmdErr = e
			return
		}
		result = inst.ToDocument()
	})
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	if cmdErr != nil {
		return commandErrorResponse(id, cmdErr)
	}
	return uds.SuccessResponse(result)
}

func (d *Daemon) handleCommandStatus(req *uds.Request) *uds.Response {
	var params uds.CommandIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeBadParams, err.Error())
	}

	var (
		result map[string]any
		cmdErr error
	)
	err := d.do(func() {
		inst := d.device.Queue().Find(params.ID)
		if inst == nil {
			cmdErr = command.NotFound(params.ID)
			return
		}
		result = inst.ToDocument()
	})
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	if cmdErr != nil {
		return commandErrorResponse(params.ID, cmdErr)
	}
	return uds.SuccessResponse(result)
}

func (d *Daemon) handleListCommands(req *uds.Request) *uds.Response {
	var docs []map[string]any
	err := d.do(func() {
		q := d.device.Queue()
		for _, id := range q.IDs() {
			if inst := q.Find(id); inst != nil {
				docs = append(docs, inst.ToDocument())
			}
		}
	})
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(map[string]any{"commands": docs})
}

// commandOp wraps a per-instance operation parsed from UpdateParams.
func (d *Daemon) commandOp(op func(c *command.Instance, p uds.UpdateParams) error) uds.HandlerFunc {
	return func(req *uds.Request) *uds.Response {
		var params uds.UpdateParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeBadParams, err.Error())
		}
		if params.ID == "" {
			return uds.ErrorResponse(uds.ErrCodeBadParams, "missing command id")
		}
		if params.Document == nil {
			params.Document = map[string]any{}
		}

		var (
			result map[string]any
			cmdErr error
		)
		err := d.do(func() {
			inst := d.device.Queue().Find(params.ID)
			if inst == nil {
				cmdErr = command.NotFound(params.ID)
				return
			}
			if cmdErr = op(inst, params); cmdErr != nil {
				return
			}
			result = inst.ToDocument()
		})
		if err != nil {
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
		if cmdErr != nil {
			return commandErrorResponse(params.ID, cmdErr)
		}
		return uds.SuccessResponse(result)
	}
}

func (d *Daemon) handleGetState(req *uds.Request) *uds.Response {
	var snapshot map[string]any
	err := d.do(func() {
		snapshot = d.device.State().ValuesToDocument()
	})
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(snapshot)
}

func (d *Daemon) handleSetState(req *uds.Request) *uds.Response {
	var params uds.SetStateParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeBadParams, err.Error())
	}
	if params.Property == "" {
		return uds.ErrorResponse(uds.ErrCodeBadParams, "missing property name")
	}

	var cmdErr error
	err := d.do(func() {
		cmdErr = d.device.SetStateProperty(params.Property, params.Value)
	})
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	if cmdErr != nil {
		return uds.ErrorResponse(command.ErrorCode(cmdErr), cmdErr.Error())
	}
	return uds.SuccessResponse(map[string]string{"status": "ok"})
}

func (d *Daemon) handleDeviceInfo(req *uds.Request) *uds.Response {
	var info map[string]any
	err := d.do(func() {
		info = map[string]any{
			"name":        d.config.Device.Name,
			"description": d.config.Device.Description,
			"location":    d.config.Device.Location,
			"modelId":     d.config.Device.ModelID,
			"commands":    d.device.Dictionary().Names(),
			"state":       d.device.State().ValuesToDocument(),
			"queued":      d.device.Queue().Len(),
		}
	})
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(info)
}

func (d *Daemon) handleReloadDefs(req *uds.Request) *uds.Response {
	count, err := d.reloadDefinitions()
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, fmt.Sprintf("reload definitions: %v", err))
	}
	return uds.SuccessResponse(map[string]int{"commands": count})
}
