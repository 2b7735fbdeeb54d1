package schema

import "fmt"

// Validation error codes. Callers discriminate with errors.As and Code.
const (
	ErrCodeTypeMismatch       = "type_mismatch"
	ErrCodeUnexpectedProperty = "unexpected_property"
	ErrCodePropertyMissing    = "property_missing"
	ErrCodeInvalidPropValue   = "invalid_property_value"
	ErrCodeMalformedDocument  = "malformed_document"
)

// ValidationError reports the first schema violation found while parsing
// a schema or converting a document.
type ValidationError struct {
	Code    string
	Path    string // property path within the document, "" at the root
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func newError(code, path, format string, args ...any) *ValidationError {
	return &ValidationError{
		Code:    code,
		Path:    path,
		Message: fmt.Sprintf(format, args...),
	}
}
