package consumer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	awssqs "github.com/aws/aws-sdk-go/service/sqs"
	"github.com/golangci/repohealth/internal/shared/config"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/queue/consumers"
	"github.com/pkg/errors"
)

const (
	pollErrorPause = 10 * time.Second
	pollEmptyPause = time.Second
)

// Acker settles a delivered message, see sqs.Queue.
type Acker interface {
	TryReceive() (*awssqs.Message, error)
	Ack(receiptHandle string, receiveCount int, handled bool) error
}

// delivery is one received message, from polling or from a lambda trigger.
type delivery struct {
	id           string
	receipt      string
	body         string
	receiveCount int
}

type SQS struct {
	queue            Acker
	log              logutil.Log
	consumer         consumers.Consumer
	useLambdaTrigger bool
	timeout          time.Duration
}

// NewSQS makes a consumer of queue. SQS_<NAME>_QUEUE_USE_LAMBDA switches it
// from polling to lambda triggers. Consuming is bounded by 80% of the visibility timeout.
func NewSQS(log logutil.Log, cfg config.Config, queue Acker, consumer consumers.Consumer,
	name string, visibilityTimeoutSec int) *SQS {

	lambdaKey := fmt.Sprintf("SQS_%s_QUEUE_USE_LAMBDA", strings.ToUpper(name))
	return &SQS{
		queue:            queue,
		log:              log,
		consumer:         consumer,
		useLambdaTrigger: cfg.GetBool(lambdaKey, false),
		timeout:          time.Duration(visibilityTimeoutSec) * time.Second * 8 / 10,
	}
}

func (c SQS) Run() {
	if c.useLambdaTrigger {
		c.log.Infof("Consuming from lambda triggers")
		awslambda.Start(c.handleLambdaCall) // blocks
		return
	}

	c.log.Infof("Consuming by polling")
	for {
		time.Sleep(c.poll())
	}
}

// poll handles at most one message and returns the pause before the next poll.
func (c SQS) poll() time.Duration {
	message, err := c.queue.TryReceive()
	if err != nil {
		c.log.Errorf("Polling failed: %s", err)
		return pollErrorPause
	}
	if message == nil {
		return pollEmptyPause
	}

	d := delivery{
		id:           aws.StringValue(message.MessageId),
		receipt:      aws.StringValue(message.ReceiptHandle),
		body:         aws.StringValue(message.Body),
		receiveCount: c.parseReceiveCount(message.Attributes[awssqs.MessageSystemAttributeNameApproximateReceiveCount]),
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err = c.handle(ctx, d); err != nil {
		c.log.Errorf("Can't settle message %s: %s", d.id, err)
		return pollEmptyPause
	}

	return 0
}

func (c SQS) parseReceiveCount(v *string) int {
	if v == nil {
		c.log.Warnf("No receive count attribute")
		return 0
	}

	n, err := strconv.Atoi(*v)
	if err != nil {
		c.log.Warnf("Invalid receive count attribute %q: %s", *v, err)
		return 0
	}
	return n
}

func (c SQS) handle(ctx context.Context, d delivery) error {
	if d.body == "" {
		c.log.Warnf("Message %s has an empty body, dropping it", d.id)
		return c.queue.Ack(d.receipt, d.receiveCount, true)
	}

	startedAt := time.Now()
	err := c.consumer.ConsumeMessage(ctx, []byte(d.body))
	cause := errors.Cause(err)
	handled := err == nil || cause == consumers.ErrPermanent || cause == consumers.ErrBadMessage
	switch {
	case err == nil:
		c.log.Infof("Consumed message %s on %d-th delivery for %s", d.id, d.receiveCount, time.Since(startedAt))
	case handled:
		c.log.Warnf("Dropping message %s: %s", d.id, err)
	default:
		c.log.Infof("Message %s failed on %d-th delivery, will retry: %s", d.id, d.receiveCount, err)
	}

	if err := c.queue.Ack(d.receipt, d.receiveCount, handled); err != nil {
		return errors.Wrapf(err, "can't ack message %s", d.id)
	}

	return nil
}

func (c SQS) handleLambdaCall(ctx context.Context, sqsEvent events.SQSEvent) error {
	if len(sqsEvent.Records) != 1 {
		return fmt.Errorf("got %d event records, the trigger batch size must be 1", len(sqsEvent.Records))
	}

	event := sqsEvent.Records[0]
	var receiveCount *string
	if v, ok := event.Attributes[awssqs.MessageSystemAttributeNameApproximateReceiveCount]; ok {
		receiveCount = &v
	}

	d := delivery{
		id:           event.MessageId,
		receipt:      event.ReceiptHandle,
		body:         event.Body,
		receiveCount: c.parseReceiveCount(receiveCount),
	}
	if err := c.handle(ctx, d); err != nil {
		c.log.Errorf("Can't settle message %s: %s", d.id, err)
	}

	// retries are driven by message visibility, never by lambda errors
	return nil
}
