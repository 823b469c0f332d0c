package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when the authority rejects a payload.
	ErrValidation = errors.New("remote validation failed")
	// ErrNotFound is returned when the target record does not exist remotely.
	ErrNotFound = errors.New("remote record not found")
	// ErrTransient covers network failures, timeouts and server errors.
	ErrTransient = errors.New("remote temporarily unavailable")
)

// Error is a failed call to the authority.
type Error struct {
	Op         string // create, update, delete or list
	Collection string
	ID         string
	Status     int   // HTTP status, 0 when no response was received
	Kind       error // ErrValidation, ErrNotFound or ErrTransient
	Message    string
	Err        error // underlying cause, if any
}

func (e *Error) Error() string {
	target := e.Collection
	if e.ID != "" {
		target += "/" + e.ID
	}
	msg := fmt.Sprintf("%s %s: %v", e.Op, target, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsPermanent reports whether retrying the call can never succeed: the
// payload was rejected or the record is gone.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound)
}

// kindForStatus maps an HTTP status to an error kind.
func kindForStatus(status int) error {
	switch status {
	case 400, 422:
		return ErrValidation
	case 404:
		return ErrNotFound
	}
	return ErrTransient
}
