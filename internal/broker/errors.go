package broker

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrNotConnected     = errors.New("broker not connected")
	ErrStartupFailed    = errors.New("broker unreachable at startup")
	ErrPublishFailed    = errors.New("publish failed")
	ErrTopologyMismatch = errors.New("topology mismatch")
	ErrUnknownRoute     = errors.New("unknown queue or event")
)

// TopologyError reports a failed declaration of an exchange, queue or binding
type TopologyError struct {
	Resource string
	Name     string
	Err      error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("declare %s %q: %v", e.Resource, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// Is matches ErrTopologyMismatch when the broker refused the declaration because an
// entity with the same name already exists with different arguments
func (e *TopologyError) Is(target error) bool {
	return target == ErrTopologyMismatch && isPreconditionFailed(e.Err)
}

// PublishError is returned once every publish attempt has been used up
type PublishError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed after %d attempt(s): %v", e.Target, e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() []error {
	return []error{ErrPublishFailed, e.Err}
}

func isPreconditionFailed(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed
}
