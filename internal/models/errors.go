package models

import (
	"errors"
	"fmt"
)

var (
	ErrContentRejected  = errors.New("content rejected by filter")
	ErrMessageTooLong   = errors.New("message too long")
	ErrQuotaExhausted   = errors.New("daily image quota exhausted")
	ErrEmptyDescription = errors.New("image description is empty")
	ErrBackendFailure   = errors.New("backend failure")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// CooldownError is returned when a user asks for an image before their cooldown ran out
type CooldownError struct {
	RemainingSeconds int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active: %ds remaining", e.RemainingSeconds)
}

// BackendError wraps a failed completion/image/fetch call so it matches ErrBackendFailure
type BackendError struct {
	Op  string
	Err error
}

// NewBackendError wraps err for the given operation
func NewBackendError(op string, err error) error {
	return &BackendError{Op: op, Err: err}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func (e *BackendError) Is(target error) bool {
	return target == ErrBackendFailure
}
