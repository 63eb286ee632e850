package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/queue"
	"github.com/golangci/repohealth/internal/shared/queue/consumers"
	"github.com/pkg/errors"
)

// Queue delivers messages to a consumer in background goroutines of the current process.
// It's used when no SQS queue is configured: messages are lost on process exit.
type Queue struct {
	consumer    consumers.Consumer
	log         logutil.Log
	timeout     time.Duration
	maxAttempts int

	wg sync.WaitGroup
}

func NewQueue(consumer consumers.Consumer, log logutil.Log, timeout time.Duration, maxAttempts int) *Queue {
	return &Queue{
		consumer:    consumer,
		log:         log,
		timeout:     timeout,
		maxAttempts: maxAttempts,
	}
}

func (q *Queue) Put(message queue.Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "can't json marshal message")
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.deliver(message.LockID(), body)
	}()

	return nil
}

func (q *Queue) deliver(lockID string, body []byte) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0

	attempt := 0
	_ = backoff.Retry(func() error {
		attempt++
		err := q.consumeOnce(body)
		if err == nil {
			return nil
		}

		cause := errors.Cause(err)
		if cause == consumers.ErrPermanent || cause == consumers.ErrBadMessage {
			q.log.Warnf("Dropping message %s: %s", lockID, err)
			return nil
		}
		if attempt >= q.maxAttempts {
			q.log.Warnf("Dropping message %s after %d attempts: %s", lockID, attempt, err)
			return nil
		}

		q.log.Infof("Message %s consuming failed on %d-th attempt, retrying: %s", lockID, attempt, err)
		return err
	}, b)
}

func (q *Queue) consumeOnce(body []byte) error {
	ctx := context.Background()
	if q.timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	return q.consumer.ConsumeMessage(ctx, body)
}

// Wait blocks until all put messages are consumed or dropped.
func (q *Queue) Wait() {
	q.wg.Wait()
}
