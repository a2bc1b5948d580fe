package service

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"possettle/internal/store"
)

var (
	ErrPermissionDenied  = errors.New("service: permission denied")
	ErrDependencyFailure = errors.New("service: dependency failure")
)

const (
	KindValidation        = "validation"
	KindNotFound          = "not_found"
	KindAlreadySettled    = "already_settled"
	KindInsufficientStock = "insufficient_stock"
	KindDependencyFailure = "dependency_failure"
	KindPermissionDenied  = "permission_denied"
	KindInternal          = "internal"
)

// ValidationError names the offending field of a rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == store.ErrValidation
}

func invalid(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AlreadySettledError is returned when a transaction has left the pending
// state, or is being settled by another caller. InvoiceID is set when the
// transaction was finalized, so an idempotent caller can treat the call as
// done.
type AlreadySettledError struct {
	TransactionID string
	State         string
	InvoiceID     string
	RecordID      string
}

func (e *AlreadySettledError) Error() string {
	return fmt.Sprintf("transaction %s already %s", e.TransactionID, e.State)
}

func (e *AlreadySettledError) Is(target error) bool {
	return target == store.ErrAlreadySettled
}

type dependencyError struct {
	op  string
	err error
}

func (e *dependencyError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDependencyFailure.Error(), e.op, e.err)
}

func (e *dependencyError) Unwrap() error { return e.err }

func (e *dependencyError) Is(target error) bool {
	return target == ErrDependencyFailure
}

// dependency marks err as a failed call to a store or other collaborator.
// Errors that already carry a taxonomy kind pass through unchanged.
func dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTaxonomyError(err) {
		return err
	}
	return &dependencyError{op: op, err: err}
}

func isTaxonomyError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrDependencyFailure) ||
		errors.Is(err, store.ErrValidation) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrAlreadySettled) ||
		errors.Is(err, store.ErrInsufficientStock)
}

// ErrorKind classifies err into the settlement error taxonomy.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, store.ErrValidation):
		return KindValidation
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrAlreadySettled):
		return KindAlreadySettled
	case errors.Is(err, store.ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrDependencyFailure),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindDependencyFailure
	default:
		return KindInternal
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return ErrorKind(err)
}
