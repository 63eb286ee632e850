package consumers

import (
	"context"
	"errors"
)

var (
	ErrRetryLater = errors.New("retry later")
	ErrPermanent  = errors.New("permanent error")
	ErrBadMessage = errors.New("bad message")
)

// Consumer handles one message body. Errors caused by ErrPermanent or
// ErrBadMessage must not be retried.
type Consumer interface {
	ConsumeMessage(ctx context.Context, message []byte) error
}
