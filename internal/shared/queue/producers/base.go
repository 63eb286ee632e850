package producers

import (
	"github.com/golangci/repohealth/internal/shared/queue"
	"github.com/pkg/errors"
)

type Queue interface {
	Put(message queue.Message) error
}

// Base is embedded by typed producers of a single subqueue.
type Base struct {
	q Queue
}

func (p *Base) Register(m *Multiplexer, queueID string) error {
	q, err := m.NewSubqueue(queueID)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s subqueue", queueID)
	}

	p.q = q
	return nil
}

func (p *Base) Put(message queue.Message) error {
	if p.q == nil {
		return errors.New("producer isn't registered in a multiplexer")
	}

	return p.q.Put(message)
}
