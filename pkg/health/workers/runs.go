// Package workers executes analysis runs delivered by the queue.
package workers

import (
	"context"
	"time"

	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/queue/aws/sqs"
	"github.com/golangci/repohealth/internal/shared/queue/consumers"
	"github.com/golangci/repohealth/internal/shared/queue/producers"
	"github.com/golangci/repohealth/pkg/health/orchestrator"
	"github.com/golangci/repohealth/pkg/health/runstore"
	"github.com/golangci/repohealth/pkg/health/settings"
	"github.com/pkg/errors"
	redsync "gopkg.in/redsync.v1"
)

const runQueueID = "health/analyses/run"

const (
	// VisibilityTimeoutSec must match the SQS queue settings and stay below the run lock TTL:
	// a run whose executor died is then redelivered while its lease is alive.
	VisibilityTimeoutSec = 300

	// ConsumerTimeout leaves time to delete the message before it becomes visible again.
	ConsumerTimeout = 240 * time.Second
)

// SQSOptions makes failed run deliveries come back inside the run lock lease,
// so the next execution resumes from the persisted step.
func SQSOptions(s settings.Settings) sqs.Options {
	return sqs.Options{
		VisibilityTimeoutSec: VisibilityTimeoutSec,
		RetryBase:            s.RedeliveryDelay,
	}
}

type runMessage struct {
	RunID string
}

func (m runMessage) LockID() string {
	return m.RunID
}

type RunProducer struct {
	producers.Base
}

var _ orchestrator.Scheduler = &RunProducer{}

func (p *RunProducer) Register(m *producers.Multiplexer) error {
	return p.Base.Register(m, runQueueID)
}

func (p *RunProducer) Put(runID string) error {
	return p.Base.Put(runMessage{
		RunID: runID,
	})
}

type Executor interface {
	Execute(ctx context.Context, runID string) error
}

type RunConsumer struct {
	log      logutil.Log
	executor Executor
}

func NewRunConsumer(log logutil.Log, executor Executor) *RunConsumer {
	return &RunConsumer{
		log:      log,
		executor: executor,
	}
}

// Register subscribes c to run messages. With df set, messages of one run
// are never consumed concurrently.
func (c RunConsumer) Register(m *consumers.Multiplexer, df *redsync.Redsync) error {
	consumer, err := consumers.NewReflectConsumer(c.consumeMessage, ConsumerTimeout, df)
	if err != nil {
		return errors.Wrap(err, "can't make run consumer")
	}

	return m.RegisterConsumer(runQueueID, consumer)
}

func (c RunConsumer) consumeMessage(ctx context.Context, m *runMessage) error {
	err := c.executor.Execute(ctx, m.RunID)
	if err == nil {
		return nil
	}

	switch errors.Cause(err) {
	case runstore.ErrNotFound:
		return errors.Wrapf(consumers.ErrPermanent, "run %s: %s", m.RunID, err)
	case orchestrator.ErrLockLost:
		c.log.Infof("Run %s was fenced out, dropping its message: %s", m.RunID, err)
		return nil
	}

	return errors.Wrapf(err, "failed to execute run %s", m.RunID)
}
