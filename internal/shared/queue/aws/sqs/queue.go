package sqs

import (
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/queue"
	"github.com/pkg/errors"
)

const (
	maxVisibilityDelay = 12 * time.Hour // sqs limit
	receiveWaitSec     = 20

	lockIDAttribute = "LockID"
)

type Options struct {
	VisibilityTimeoutSec int

	// RetryBase is the delay before redelivery of a message failed once.
	// It doubles with every receive.
	RetryBase time.Duration
}

type Queue struct {
	url    string
	client sqsiface.SQSAPI
	log    logutil.Log
	opts   Options
}

func NewQueue(url string, sess client.ConfigProvider, log logutil.Log, opts Options) *Queue {
	return newQueue(url, sqs.New(sess), log, opts)
}

func newQueue(url string, c sqsiface.SQSAPI, log logutil.Log, opts Options) *Queue {
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Minute
	}

	return &Queue{
		url:    url,
		client: c,
		log:    log,
		opts:   opts,
	}
}

func (q Queue) Put(message queue.Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrapf(err, "can't json marshal message %s", message.LockID())
	}

	res, err := q.client.SendMessage(&sqs.SendMessageInput{
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]*sqs.MessageAttributeValue{
			lockIDAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(message.LockID()),
			},
		},
		QueueUrl: aws.String(q.url),
	})
	if err != nil {
		return errors.Wrapf(err, "can't send message %s to queue", message.LockID())
	}

	q.log.Infof("Sent message %s to queue, id=%s", message.LockID(), aws.StringValue(res.MessageId))
	return nil
}

// TryReceive long-polls for one message, nil means the queue is empty.
func (q Queue) TryReceive() (*sqs.Message, error) {
	result, err := q.client.ReceiveMessage(&sqs.ReceiveMessageInput{
		AttributeNames: []*string{
			aws.String(sqs.MessageSystemAttributeNameApproximateReceiveCount),
		},
		MessageAttributeNames: []*string{
			aws.String(lockIDAttribute),
		},
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: aws.Int64(1),
		VisibilityTimeout:   aws.Int64(int64(q.opts.VisibilityTimeoutSec)),
		WaitTimeSeconds:     aws.Int64(receiveWaitSec),
	})
	if err != nil {
		return nil, errors.Wrap(err, "can't receive message from sqs")
	}

	switch len(result.Messages) {
	case 0:
		return nil, nil
	case 1:
		return result.Messages[0], nil
	}

	return nil, errors.Errorf("requested one message, got %d", len(result.Messages))
}

// RetryDelay is the visibility delay after the receiveCount-th failed delivery.
func (q Queue) RetryDelay(receiveCount int) time.Duration {
	if receiveCount > 10 {
		receiveCount = 10
	}
	if receiveCount < 0 {
		receiveCount = 0
	}

	delay := q.opts.RetryBase * time.Duration(1<<uint(receiveCount))
	if delay > maxVisibilityDelay {
		delay = maxVisibilityDelay
	}
	return delay.Truncate(time.Second)
}

// Ack deletes a handled message or delays the next delivery of a failed one.
func (q Queue) Ack(receiptHandle string, receiveCount int, handled bool) error {
	if handled {
		_, err := q.client.DeleteMessage(&sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.url),
			ReceiptHandle: aws.String(receiptHandle),
		})
		if err != nil {
			return errors.Wrapf(err, "can't delete message %s from queue", receiptHandle)
		}

		q.log.Infof("Deleted message %s from queue on %d-th delivery", receiptHandle, receiveCount)
		return nil
	}

	delay := q.RetryDelay(receiveCount)
	_, err := q.client.ChangeMessageVisibility(&sqs.ChangeMessageVisibilityInput{
		ReceiptHandle:     aws.String(receiptHandle),
		QueueUrl:          aws.String(q.url),
		VisibilityTimeout: aws.Int64(int64(delay / time.Second)),
	})
	if err != nil {
		return errors.Wrapf(err, "can't delay message %s after %d-th delivery by %s",
			receiptHandle, receiveCount, delay)
	}

	q.log.Infof("Delayed message %s after %d-th delivery by %s", receiptHandle, receiveCount, delay)
	return nil
}
