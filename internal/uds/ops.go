package uds

// Operation names understood by the daemon.
const (
	OpSubmitCommand = "command.submit"
	OpCommandStatus = "command.status"
	OpListCommands  = "command.list"
	OpCancelCommand = "command.cancel"
	OpPauseCommand  = "command.pause"
	OpAbortCommand  = "command.abort"
	OpProgress      = "command.progress"
	OpComplete      = "command.complete"
	OpFail          = "command.fail"
	OpGetState      = "state.get"
	OpSetState      = "state.set"
	OpDeviceInfo    = "device.info"
	OpReloadDefs    = "definitions.reload"
)

// SubmitParams is the payload for command.submit. Command is the raw
// command document: {"name": ..., "parameters": {...}}.
type SubmitParams struct {
	Command map[string]any `json:"command"`
	Role    string         `json:"role,omitempty"`
}

// CommandIDParams addresses a single queued command by id.
type CommandIDParams struct {
	ID string `json:"id"`
}

// UpdateParams drives a queued command from an external worker:
// command.progress and command.complete carry a document, command.fail
// carries a message.
type UpdateParams struct {
	ID       string         `json:"id"`
	Document map[string]any `json:"document,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// SetStateParams is the payload for state.set.
type SetStateParams struct {
	Property string `json:"property"`
	Value    any    `json:"value"`
}
