package analysis

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine.
var (
	ErrEssentialStage              = errors.New("essential analysis stage failed")
	ErrDomainValidationUnavailable = errors.New("domain validation unavailable")
	ErrInvalidTransition           = errors.New("invalid readiness transition")
	ErrResultNotFound              = errors.New("analysis result not found")
	ErrResultExists                = errors.New("analysis result already exists")
	ErrNotReady                    = errors.New("analysis is not ready for test generation")
	ErrAlreadyForwarded            = errors.New("analysis already forwarded")
	ErrTestGenerationUnavailable   = errors.New("test generation service not configured")
)

// InputError reports a malformed or incomplete request. It is fatal and
// never retried.
type InputError struct {
	Field   string
	Message string
}

// Error implements error.
func (e *InputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Message
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Message)
}

func newInputError(field, format string, args ...any) *InputError {
	return &InputError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsInputError reports whether err carries an InputError.
func IsInputError(err error) bool {
	var inputErr *InputError
	return errors.As(err, &inputErr)
}
