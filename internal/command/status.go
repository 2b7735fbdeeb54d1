// Package command implements the command-execution core: typed command
// definitions, the registry of known commands, in-flight command
// instances with their lifecycle state machine, and the queue that owns
// instance lifetime.
package command

// Status is the lifecycle state of a command instance. The wire names
// match the externally visible "state" field.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "inProgress"
	StatusPaused     Status = "paused"
	StatusError      Status = "error"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
	StatusAborted    Status = "aborted"
	StatusExpired    Status = "expired"
)

var terminalStatuses = map[Status]bool{
	StatusDone:      true,
	StatusCancelled: true,
	StatusAborted:   true,
	StatusExpired:   true,
}

// IsTerminal reports whether no further transition is permitted from s.
func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

// ValidateTransition checks the state machine rules: nothing may
// transition to queued (not even a re-queue of a queued command),
// terminal statuses admit no transition at all (not even to
// themselves), and transitioning an active command to its current
// status is a trivial no-op. Everything else among {queued, inProgress,
// paused, error} and into a terminal status is permitted.
func ValidateTransition(from, to Status) error {
	if to == StatusQueued {
		return invalidTransition(from, to)
	}
	if IsTerminal(from) {
		return invalidTransition(from, to)
	}
	return nil
}

// Origin tells whether a command request came from a local peer or a
// cloud caller.
type Origin string

const (
	OriginLocal Origin = "local"
	OriginCloud Origin = "cloud"
)
