package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	awssqs "github.com/aws/aws-sdk-go/service/sqs"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/queue/consumers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ack struct {
	receipt      string
	receiveCount int
	handled      bool
}

type fakeQueue struct {
	messages []*awssqs.Message
	acks     []ack
}

func (q *fakeQueue) TryReceive() (*awssqs.Message, error) {
	if len(q.messages) == 0 {
		return nil, nil
	}
	m := q.messages[0]
	q.messages = q.messages[1:]
	return m, nil
}

func (q *fakeQueue) Ack(receiptHandle string, receiveCount int, handled bool) error {
	q.acks = append(q.acks, ack{receiptHandle, receiveCount, handled})
	return nil
}

type consumerFunc func(ctx context.Context, message []byte) error

func (f consumerFunc) ConsumeMessage(ctx context.Context, message []byte) error {
	return f(ctx, message)
}

func message(receipt, body, receiveCount string) *awssqs.Message {
	return &awssqs.Message{
		MessageId:     aws.String("id-" + receipt),
		ReceiptHandle: aws.String(receipt),
		Body:          aws.String(body),
		Attributes: map[string]*string{
			awssqs.MessageSystemAttributeNameApproximateReceiveCount: aws.String(receiveCount),
		},
	}
}

func TestPollSettlesMessagesByConsumerError(t *testing.T) {
	q := &fakeQueue{messages: []*awssqs.Message{
		message("ok", `{}`, "1"),
		message("retry", `{}`, "2"),
		message("permanent", `{}`, "3"),
	}}
	errs := map[string]error{
		"retry":     errors.New("redis is down"),
		"permanent": errors.Wrap(consumers.ErrPermanent, "no such run"),
	}
	var current string
	c := &SQS{
		queue: q,
		log:   logutil.NewStderrLog("test"),
		consumer: consumerFunc(func(ctx context.Context, _ []byte) error {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return errs[current]
		}),
		timeout: time.Second,
	}

	for _, r := range []string{"ok", "retry", "permanent"} {
		current = r
		assert.Equal(t, time.Duration(0), c.poll())
	}
	assert.Equal(t, pollEmptyPause, c.poll())

	assert.Equal(t, []ack{
		{"ok", 1, true},
		{"retry", 2, false},
		{"permanent", 3, true},
	}, q.acks)
}

func TestLambdaCallRequiresSingleRecord(t *testing.T) {
	c := &SQS{queue: &fakeQueue{}, log: logutil.NewStderrLog("test")}
	err := c.handleLambdaCall(context.Background(), events.SQSEvent{})
	assert.Error(t, err)
}

func TestLambdaCallConsumesRecord(t *testing.T) {
	q := &fakeQueue{}
	var got string
	c := &SQS{
		queue: q,
		log:   logutil.NewStderrLog("test"),
		consumer: consumerFunc(func(ctx context.Context, m []byte) error {
			got = string(m)
			return nil
		}),
	}

	err := c.handleLambdaCall(context.Background(), events.SQSEvent{Records: []events.SQSMessage{{
		MessageId:     "m1",
		ReceiptHandle: "h1",
		Body:          `{"runId":"r1"}`,
		Attributes:    map[string]string{"ApproximateReceiveCount": "4"},
	}}})
	require.NoError(t, err)
	assert.Equal(t, `{"runId":"r1"}`, got)
	assert.Equal(t, []ack{{"h1", 4, true}}, q.acks)
}
