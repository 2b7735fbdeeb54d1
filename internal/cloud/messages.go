package cloud

// Message types
const (
	TypeHello          = "device.hello"
	TypeStateChanged   = "device.state"
	TypeCommandExecute = "command.execute"
	TypeCommandCancel  = "command.cancel"
	TypeCommandState   = "command.state"
	TypeCommandError   = "command.error"
)

// Envelope is used for initial JSON decode to determine message type
type Envelope struct {
	Type string `json:"type"`
}

// HelloMessage announces the device after a connection is established.
type HelloMessage struct {
	Type        string         `json:"type"`
	DeviceName  string         `json:"deviceName"`
	Description string         `json:"description,omitempty"`
	Location    string         `json:"location,omitempty"`
	Commands    []string       `json:"commands"`
	State       map[string]any `json:"state,omitempty"`
}

// CommandExecuteMessage carries a command document issued by the cloud.
type CommandExecuteMessage struct {
	Type    string         `json:"type"`
	Command map[string]any `json:"command"`
}

// CommandCancelMessage requests cancellation of a queued command.
type CommandCancelMessage struct {
	Type      string `json:"type"`
	CommandID string `json:"commandId"`
}

// CommandStateMessage reports a command document back to the cloud,
// both as the submission acknowledgement and on later status changes.
type CommandStateMessage struct {
	Type    string         `json:"type"`
	Command map[string]any `json:"command"`
}

// CommandErrorMessage reports a rejected cloud request.
type CommandErrorMessage struct {
	Type      string `json:"type"`
	CommandID string `json:"commandId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// StateChangedMessage carries a full device state snapshot.
type StateChangedMessage struct {
	Type  string         `json:"type"`
	State map[string]any `json:"state"`
}
