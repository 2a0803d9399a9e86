package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing input. The message after the
	// sentinel is safe to show to clients.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a lookup by id or username missed.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized indicates the acting user may not perform the operation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAlreadyExists indicates a username is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidCredentials is what login failures look like from outside.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknownUser and ErrInvalidPassword tell login failures apart internally.
	// Both always come wrapped together with ErrInvalidCredentials.
	ErrUnknownUser     = errors.New("unknown user")
	ErrInvalidPassword = errors.New("invalid password")
	// ErrUpstreamUnavailable indicates a store or blob call failed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ValidationError carries the client-facing reason for an ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func upstream(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}

func badCredentials(kind error) error {
	return fmt.Errorf("%w: %w", ErrInvalidCredentials, kind)
}
