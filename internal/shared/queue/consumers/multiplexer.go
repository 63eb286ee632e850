package consumers

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/golangci/repohealth/internal/shared/queue"
	"github.com/pkg/errors"
)

// Multiplexer routes envelopes of a shared queue to the consumers of their subqueues.
type Multiplexer struct {
	consumers map[string]Consumer
}

func NewMultiplexer() *Multiplexer {
	return &Multiplexer{
		consumers: map[string]Consumer{},
	}
}

func (m Multiplexer) registered() []string {
	ret := make([]string, 0, len(m.consumers))
	for id := range m.consumers {
		ret = append(ret, id)
	}
	sort.Strings(ret)

	return ret
}

func (m *Multiplexer) ConsumeMessage(ctx context.Context, message []byte) error {
	var env queue.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return errors.Wrapf(ErrBadMessage, "can't json unmarshal envelope: %s", err)
	}
	if env.Subqueue == "" {
		return errors.Wrap(ErrBadMessage, "envelope has no subqueue")
	}

	consumer := m.consumers[env.Subqueue]
	if consumer == nil {
		return errors.Wrapf(ErrPermanent, "no consumer for subqueue %s, registered: %v",
			env.Subqueue, m.registered())
	}

	return consumer.ConsumeMessage(ctx, env.Payload)
}

func (m *Multiplexer) RegisterConsumer(id string, consumer Consumer) error {
	if m.consumers[id] != nil {
		return errors.Errorf("consumer %s is already registered", id)
	}
	m.consumers[id] = consumer

	return nil
}
