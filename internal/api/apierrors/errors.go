package apierrors

import (
	"github.com/pkg/errors"
)

var (
	ErrNotFound   = errors.New("no data")
	ErrBadRequest = errors.New("bad request")

	// ErrServiceUnavailable is returned when the run coordination backend can't be reached.
	ErrServiceUnavailable = errors.New("analysis coordination is temporarily unavailable")
)
