package provider

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnauthorized = errors.New("no VCS provider authorization")
	ErrNotFound     = errors.New("not found in VCS provider")
)

type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindPermanent ErrorKind = "permanent"
)

// Error classifies a provider failure. It intentionally has no Cause method:
// errors.Cause must stop on it to keep the kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s provider error: %s", e.Kind, e.Err)
}

func NewTransientError(err error) *Error {
	return &Error{Kind: ErrorKindTransient, Err: err}
}

func NewPermanentError(err error) *Error {
	return &Error{Kind: ErrorKindPermanent, Err: err}
}

func IsPermanentError(err error) bool {
	causeErr := errors.Cause(err)
	if pe, ok := causeErr.(*Error); ok {
		return pe.Kind == ErrorKindPermanent
	}

	return causeErr == ErrNotFound || causeErr == ErrUnauthorized
}
