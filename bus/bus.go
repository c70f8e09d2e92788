package bus

import (
	"errors"
	"strings"
)

var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Message is one payload delivered on a subject.
type Message struct {
	Subject string
	Data    []byte
}

// MessageBus fans each published payload out to every current subscriber
// of its subject. Delivery is best effort.
type MessageBus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string) (Subscription, error)
	Close() error
}

// Subscription receives messages until Unsubscribe or the bus closes,
// after which Messages is closed.
type Subscription interface {
	Messages() <-chan *Message
	Unsubscribe() error
}

// Config is shared by every bus implementation.
type Config struct {
	// BufferSize is each subscription's channel capacity. A subscriber
	// whose buffer is full misses the message.
	BufferSize int
}

func DefaultConfig() Config {
	return Config{BufferSize: 256}
}

// ValidateSubject accepts literal subjects made of non-empty dot-separated
// tokens. Wildcards and whitespace are rejected.
func ValidateSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n*>") {
		return ErrInvalidSubject
	}
	for _, token := range strings.Split(subject, ".") {
		if token == "" {
			return ErrInvalidSubject
		}
	}
	return nil
}
