package core

import (
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("permission denied")
	ErrConflict     = errors.New("conflict")
	ErrNotFinalized = errors.New("Grades must be finalized before generating documents")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

// NewFieldError is a shortcut for a ValidationError on a single field.
func NewFieldError(field, msg string) error {
	return NewValidationError(errors.New(msg), FieldError{Field: field, Error: msg})
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// ConflictError reports a uniqueness or state conflict with a user-facing message.
type ConflictError struct {
	Message string
}

func NewConflictError(msg string) error {
	return &ConflictError{Message: msg}
}

func (err ConflictError) Error() string { return err.Message }

// IsConflict reports whether err is caused by a conflict.
func IsConflict(err error) bool {
	cause := errors.Cause(err)
	if cause == ErrConflict {
		return true
	}
	_, ok := cause.(*ConflictError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

// postgres error codes
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgInsufficientPrivlege = "42501"
	pgInvalidText          = "22P02"
)

// TranslateDBError maps driver errors to domain errors. msg is used to wrap anything else.
func TranslateDBError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		switch pqErr.Code {
		case pgUniqueViolation:
			return NewConflictError("a record with these values already exists")
		case pgForeignKeyViolation:
			return NewValidationError(errors.New("referenced record does not exist"))
		case pgCheckViolation:
			return NewValidationError(errors.New("invalid value: " + pqErr.Message))
		case pgInsufficientPrivlege:
			return ErrForbidden
		case pgInvalidText:
			// malformed UUIDs never match a row
			return ErrNotFound
		}
	}
	return errors.Wrap(err, msg)
}
