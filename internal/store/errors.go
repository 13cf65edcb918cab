package store

import (
	"errors"
	"fmt"
)

// Sentinel errors, adapted from the teacher's root errors.go.
var (
	ErrNotFound         = errors.New("store: not found")
	ErrStoreClosed      = errors.New("store: closed")
	ErrInvalidDimension = errors.New("store: invalid vector dimension")
	ErrInvalidConfig    = errors.New("store: invalid config")
)

// StoreError wraps an underlying error with the operation that produced
// it, the same {Op, Err} shape as the teacher's StoreError.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
