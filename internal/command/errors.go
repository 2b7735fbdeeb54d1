package command

import (
	"errors"
	"fmt"

	"github.com/weftlabs/weft/internal/schema"
)

// Command error codes. Schema validation failures keep their own codes
// from the schema package and pass through unchanged.
const (
	ErrCodeInvalidCommandName     = "invalid_command_name"
	ErrCodeInvalidStateTransition = "invalid_state_transition"
	ErrCodeCommandRemoved         = "command_removed"
	ErrCodeDuplicateCommandID     = "duplicate_command_id"
	ErrCodeAccessDenied           = "access_denied"
	ErrCodeCommandNotFound        = "command_not_found"
)

// NotFound reports an id that matches no queued command.
func NotFound(id string) *Error {
	return newError(ErrCodeCommandNotFound, "command %q not found", id)
}

// AccessDenied reports a caller whose role does not meet a command's
// minimal role.
func AccessDenied(caller Role, def *Definition) *Error {
	return newError(ErrCodeAccessDenied, "role %q does not meet minimal role %q of command %s",
		caller, def.MinimalRole(), def.FullName())
}

// Error is a command-level failure with a stable code for callers that
// must discriminate, e.g. transports building protocol-level rejections.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalidTransition(from, to Status) *Error {
	return newError(ErrCodeInvalidStateTransition, "state switch impossible: %q -> %q", from, to)
}

func removedError() *Error {
	return newError(ErrCodeCommandRemoved, "command has been removed")
}

// ErrorCode extracts the stable code from a command or schema error, or
// "internal_error" for anything else.
func ErrorCode(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return verr.Code
	}
	return "internal_error"
}

// errorToDocument renders a recorded error in the wire shape
// {"code": ..., "message": ...}.
func errorToDocument(err error) map[string]any {
	return map[string]any{
		"code":    ErrorCode(err),
		"message": err.Error(),
	}
}
