package producers

import (
	"github.com/golangci/repohealth/internal/shared/queue"
	"github.com/pkg/errors"
)

// Multiplexer puts messages of many subqueues into one physical queue.
type Multiplexer struct {
	q         Queue
	subqueues map[string]bool
}

func NewMultiplexer(q Queue) *Multiplexer {
	return &Multiplexer{
		q:         q,
		subqueues: map[string]bool{},
	}
}

type subqueue struct {
	id string
	q  Queue
}

func (sq subqueue) Put(message queue.Message) error {
	env, err := queue.NewEnvelope(sq.id, message)
	if err != nil {
		return err
	}

	return sq.q.Put(env)
}

func (m *Multiplexer) NewSubqueue(id string) (Queue, error) {
	if id == "" {
		return nil, errors.New("subqueue id is empty")
	}
	if m.subqueues[id] {
		return nil, errors.Errorf("subqueue %s is already registered", id)
	}
	m.subqueues[id] = true

	return subqueue{
		id: id,
		q:  m.q,
	}, nil
}
