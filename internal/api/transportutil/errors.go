package transportutil

import (
	"encoding/json"
	"net/http"

	"github.com/golangci/repohealth/internal/api/apierrors"
	"github.com/pkg/errors"
)

// Error is rendered to clients as a plain JSON string.
type Error struct {
	HTTPCode int
	Message  string
}

func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Message)
}

func (e Error) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *Error `json:"error,omitempty"`
}

var codeByError = map[error]int{
	apierrors.ErrNotFound:           http.StatusNotFound,
	apierrors.ErrBadRequest:         http.StatusBadRequest,
	apierrors.ErrServiceUnavailable: http.StatusServiceUnavailable,
}

// MakeError maps err to an HTTP error. Unknown errors are hidden behind a 500.
func MakeError(err error) *Error {
	cause := errors.Cause(err)
	code, ok := codeByError[cause]
	if !ok {
		return &Error{HTTPCode: http.StatusInternalServerError, Message: "internal error"}
	}

	msg := err.Error()
	if code == http.StatusServiceUnavailable {
		msg = cause.Error()
	}
	return &Error{HTTPCode: code, Message: msg}
}
