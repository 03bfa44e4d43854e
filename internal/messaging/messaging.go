// Package messaging defines the broker abstractions used to move batches
// between the ingest API, collectors and pipeline workers.
package messaging

import (
	"context"
	"errors"
	"time"
)

// Message is a message received from or sent to the broker.
type Message struct {
	// Subject is the subject the message was published to.
	Subject string

	// Data is the raw payload.
	Data []byte

	// Metadata holds message headers.
	Metadata map[string]string

	// Timestamp is when the message was published, when the broker knows it.
	Timestamp time.Time

	// NumDelivered counts delivery attempts for durable consumers.
	NumDelivered uint64
}

// MessageHandler processes a received message. A nil error acknowledges it;
// errors wrapped with Permanent terminate it; any other error requests
// redelivery.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	Subject() string
	IsValid() bool
}

// Publisher publishes messages to subjects.
type Publisher interface {
	// Publish sends data to subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// PublishMsg sends a Message including its headers.
	PublishMsg(ctx context.Context, msg *Message) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Subscriber subscribes to subjects.
type Subscriber interface {
	Subscribe(subject string, handler MessageHandler) (Subscription, error)
	Close() error
}

// Client combines Publisher and Subscriber.
type Client interface {
	Publisher
	Subscriber

	// Drain closes the connection after in-flight messages complete.
	Drain() error

	// IsConnected reports whether the client is connected to the broker.
	IsConnected() bool
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth redelivering.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
