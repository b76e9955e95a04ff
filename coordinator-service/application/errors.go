package application

import "github.com/pkg/errors"

var (
	ErrInvalidCommand       = errors.New("invalid command")
	ErrArchiveUnavailable   = errors.New("event archive is not configured")
	ErrNothingToReconstruct = errors.New("no archived events for saga")
)

// validationError keeps the cause's message while matching ErrInvalidCommand
type validationError struct {
	cause error
}

func invalid(cause error) error {
	return validationError{cause: cause}
}

func (e validationError) Error() string { return e.cause.Error() }

func (e validationError) Is(target error) bool { return target == ErrInvalidCommand }

func (e validationError) Unwrap() error { return e.cause }
