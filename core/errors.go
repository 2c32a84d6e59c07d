package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError reports a missing or malformed input. The caller must correct and resend.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return "invalid input"
	}
	return err.Err.Error()
}

// NotFoundError reports that a referenced resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func (err NotFoundError) Error() string {
	return err.Resource + " not found"
}

// ConflictError reports a concurrent write on a unique key.
type ConflictError struct {
	Key string
}

func NewConflictError(key string) error {
	return &ConflictError{Key: key}
}

func (err ConflictError) Error() string {
	return fmt.Sprintf("conflicting write on %s", err.Key)
}

// StoreError wraps an underlying persistence failure. It is never retried.
type StoreError struct {
	Op  string
	Err error
}

func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

func (err StoreError) Error() string {
	return err.Op + ": " + err.Err.Error()
}

func (err StoreError) Unwrap() error { return err.Err }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsStore(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}
