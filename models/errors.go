package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced listing or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest is returned for missing or malformed input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAuditWrite marks a failed status_changes insert; the transition was not applied.
	ErrAuditWrite = errors.New("audit write failed")
)

// StoreError wraps a failed relational or blob store operation
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err unless it is nil or already a StoreError.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsStoreError reports whether err carries a StoreError
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
