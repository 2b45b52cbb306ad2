package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RequestsExchange   = "requests"
	EventsExchange     = "events"
	DeadLetterExchange = "dlx"

	deadLetterPrefix = "dlq."
)

// Request queues carry commands to exactly one service
const (
	OrderRequests   = "order_requests"
	DoenerRequests  = "doener_requests"
	InvoiceRequests = "invoice_requests"
)

// Event streams are fanned out to every service that consumes them
const (
	OrderSupplied   = "order_supplied"
	DoenerSupplied  = "doener_supplied"
	InvoiceSupplied = "invoice_supplied"
)

var (
	RequestQueues = []string{OrderRequests, DoenerRequests, InvoiceRequests}
	EventStreams  = []string{OrderSupplied, DoenerSupplied, InvoiceSupplied}
)

type RouteKind int

const (
	KindRequest RouteKind = iota
	KindEvent
)

func (k RouteKind) String() string {
	if k == KindEvent {
		return "event"
	}
	return "request"
}

// Route says where a logical name is published to
type Route struct {
	Name       string
	Kind       RouteKind
	Exchange   string
	RoutingKey string
}

// QueueSpec describes a queue to materialize for a consumer of a route
type QueueSpec struct {
	Name          string
	Durable       bool
	AutoDelete    bool
	Exchange      string
	BindingKey    string
	DeadLetterKey string
}

// Resolve maps a request queue or event stream name to its route
func Resolve(name string) (Route, error) {
	for _, q := range RequestQueues {
		if q == name {
			return Route{Name: name, Kind: KindRequest, Exchange: RequestsExchange, RoutingKey: name}, nil
		}
	}
	for _, e := range EventStreams {
		if e == name {
			return Route{Name: name, Kind: KindEvent, Exchange: EventsExchange, RoutingKey: name}, nil
		}
	}
	return Route{}, fmt.Errorf("%w: %s", ErrUnknownRoute, name)
}

// Queue returns the queue a service consumes for this route. Request queues are shared,
// event streams get one queue per service named {event}.{service}
func (r Route) Queue(service string) QueueSpec {
	if r.Kind == KindEvent {
		name := fmt.Sprintf("%s.%s", r.Name, service)
		return QueueSpec{
			Name:          name,
			Durable:       true,
			AutoDelete:    true,
			Exchange:      EventsExchange,
			BindingKey:    r.Name,
			DeadLetterKey: name,
		}
	}
	return QueueSpec{
		Name:          r.Name,
		Durable:       true,
		Exchange:      RequestsExchange,
		BindingKey:    r.Name,
		DeadLetterKey: r.Name,
	}
}

func DeadLetterQueue(queue string) string {
	return deadLetterPrefix + queue
}

// EnsureTopology declares the exchanges and every request queue with its dead letter queue.
// Declarations are idempotent, so it is safe to run on every (re)connect
func (s *Session) EnsureTopology(ctx context.Context) error {
	return s.Do(ctx, func(ch Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		for _, name := range RequestQueues {
			route, _ := Resolve(name)
			if err := declareQueue(ch, route.Queue(s.service)); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureEventQueue materializes {event}.{service} bound to the events exchange
func (s *Session) EnsureEventQueue(ctx context.Context, event, service string) (QueueSpec, error) {
	route, err := Resolve(event)
	if err != nil {
		return QueueSpec{}, err
	}
	if route.Kind != KindEvent {
		return QueueSpec{}, fmt.Errorf("%w: %s is not an event stream", ErrUnknownRoute, event)
	}

	spec := route.Queue(service)
	err = s.Do(ctx, func(ch Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		return declareQueue(ch, spec)
	})
	return spec, err
}

// ensureRoute declares what a publisher needs before sending to route
func (s *Session) ensureRoute(ctx context.Context, route Route) error {
	return s.Do(ctx, func(ch Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if route.Kind == KindRequest {
			return declareQueue(ch, route.Queue(s.service))
		}
		return nil
	})
}

func declareExchanges(ch Channel) error {
	exchanges := []struct{ name, kind string }{
		{DeadLetterExchange, amqp.ExchangeDirect},
		{RequestsExchange, amqp.ExchangeDirect},
		{EventsExchange, amqp.ExchangeTopic},
	}
	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return &TopologyError{Resource: "exchange", Name: ex.name, Err: err}
		}
	}
	return nil
}

// declareQueue creates the dead letter queue first so that nothing rejected from the
// main queue is ever dropped
func declareQueue(ch Channel, spec QueueSpec) error {
	dlq := DeadLetterQueue(spec.Name)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return &TopologyError{Resource: "queue", Name: dlq, Err: err}
	}
	if err := ch.QueueBind(dlq, spec.DeadLetterKey, DeadLetterExchange, false, nil); err != nil {
		return &TopologyError{Resource: "binding", Name: dlq, Err: err}
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": spec.DeadLetterKey,
	}
	if _, err := ch.QueueDeclare(spec.Name, spec.Durable, spec.AutoDelete, false, false, args); err != nil {
		return &TopologyError{Resource: "queue", Name: spec.Name, Err: err}
	}
	if err := ch.QueueBind(spec.Name, spec.BindingKey, spec.Exchange, false, nil); err != nil {
		return &TopologyError{Resource: "binding", Name: spec.Name, Err: err}
	}
	return nil
}
