package types

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced below the dispatch boundary wraps one of
// these so callers can branch with errors.Is.
var (
	// ErrConfiguration is fatal at startup.
	ErrConfiguration = errors.New("configuration error")
	// ErrStorage means the persistence layer failed; writes were not applied.
	ErrStorage = errors.New("storage failure")
	// ErrCollaborator covers model, channel, browse and query failures and timeouts.
	ErrCollaborator = errors.New("collaborator failure")
	// ErrValidation marks malformed intent or API parameters.
	ErrValidation = errors.New("validation error")
)

// ConfigurationError builds an ErrConfiguration error.
func ConfigurationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// StorageFailure wraps a persistence error with the failing operation.
func StorageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// CollaboratorFailure wraps an error returned by an external collaborator.
func CollaboratorFailure(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCollaborator, name, err)
}

// Validation is a user-explainable parameter problem.
// Message is safe to show to the end user.
type Validation struct {
	Message string
}

func (v *Validation) Error() string {
	return ErrValidation.Error() + ": " + v.Message
}

func (v *Validation) Unwrap() error {
	return ErrValidation
}

// ValidationError builds a *Validation error.
func ValidationError(format string, args ...interface{}) error {
	return &Validation{Message: fmt.Sprintf(format, args...)}
}

// ValidationMessage returns the user-facing message of a validation error, if err is one.
func ValidationMessage(err error) (string, bool) {
	var v *Validation
	if errors.As(err, &v) {
		return v.Message, true
	}
	return "", false
}
