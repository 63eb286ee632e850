package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/golangci/repohealth/internal/shared/queue"
	"github.com/pkg/errors"
	redsync "gopkg.in/redsync.v1"
)

// ReflectConsumer decodes a message into the handler's second argument and calls
// the handler with a timeout. When a lock factory is set, messages with the same
// LockID are consumed one at a time across all consumer processes.
type ReflectConsumer struct {
	handler interface{}
	timeout time.Duration
	df      *redsync.Redsync
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

func NewReflectConsumer(handler interface{}, timeout time.Duration, df *redsync.Redsync) (*ReflectConsumer, error) {
	handlerType := reflect.TypeOf(handler)
	if handlerType == nil || handlerType.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler type %v is not a func", handlerType)
	}

	if handlerType.NumIn() != 2 {
		return nil, fmt.Errorf("args count %d must be two", handlerType.NumIn())
	}

	firstArgType := handlerType.In(0)
	if !firstArgType.Implements(contextType) {
		return nil, fmt.Errorf("handler's first arg is not Context, it's %s", firstArgType.Kind())
	}

	secondArgType := handlerType.In(1)
	if secondArgType.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("handler's second arg is not pointer, it's %s", secondArgType.Kind())
	}
	secondArgPointedType := secondArgType.Elem()
	if secondArgPointedType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("handler's second arg's pointer points no to struct but to %s", secondArgPointedType.Kind())
	}

	if handlerType.NumOut() != 1 {
		return nil, fmt.Errorf("invalid output values count %d != 1", handlerType.NumOut())
	}
	if retType := handlerType.Out(0); !retType.Implements(errorType) {
		return nil, fmt.Errorf("return type is not error, it's %s", retType.Kind())
	}

	return &ReflectConsumer{
		handler: handler,
		timeout: timeout,
		df:      df,
	}, nil
}

func (c ReflectConsumer) ConsumeMessage(ctx context.Context, message []byte) error {
	handlerType := reflect.TypeOf(c.handler)
	secondArgPointedType := handlerType.In(1).Elem()
	callArgValue := reflect.New(secondArgPointedType)
	callArg := callArgValue.Interface()

	if err := json.Unmarshal(message, callArg); err != nil {
		return errors.Wrap(errors.Wrap(ErrBadMessage, err.Error()), "json unmarshal failed")
	}

	if lockable, ok := callArg.(queue.Message); ok && c.df != nil {
		lockID := "consumers/" + lockable.LockID()
		mutex := c.df.NewMutex(lockID, redsync.SetExpiry(c.timeout+time.Minute), redsync.SetTries(1))
		if err := mutex.Lock(); err != nil {
			return errors.Wrapf(ErrRetryLater, "can't acquire lock %s: %s", lockID, err)
		}
		defer mutex.Unlock()
	}

	if c.timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	handler := reflect.ValueOf(c.handler)
	retValues := handler.Call([]reflect.Value{reflect.ValueOf(ctx), callArgValue})
	if retErr := retValues[0].Interface(); retErr != nil {
		err := retErr.(error)
		if errors.Cause(err) == ErrPermanent || errors.Cause(err) == ErrBadMessage {
			return err
		}
		return errors.Wrap(ErrRetryLater, err.Error())
	}

	return nil
}
