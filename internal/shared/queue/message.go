package queue

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type Message interface {
	// LockID identifies messages that must not be consumed concurrently.
	LockID() string
}

// Envelope carries a message of one subqueue through a shared physical queue.
type Envelope struct {
	Subqueue string          `json:"subqueue"`
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
}

func NewEnvelope(subqueue string, m Message) (*Envelope, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(err, "can't json marshal %s message %s", subqueue, m.LockID())
	}

	return &Envelope{
		Subqueue: subqueue,
		Key:      m.LockID(),
		Payload:  payload,
	}, nil
}

func (e Envelope) LockID() string {
	return e.Subqueue + "/" + e.Key
}
