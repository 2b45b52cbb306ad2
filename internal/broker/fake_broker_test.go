package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeQueue struct {
	name       string
	durable    bool
	autoDelete bool
	args       amqp.Table
	messages   []amqp.Delivery
	consumer   string
}

type fakeBinding struct {
	queue    string
	key      string
	exchange string
}

type inflight struct {
	queue    string
	delivery amqp.Delivery
}

// fakeBroker is an in-memory RabbitMQ good enough for direct and exact-match topic routing,
// dead lettering and redelivery
type fakeBroker struct {
	mu        sync.Mutex
	exchanges map[string]string
	queues    map[string]*fakeQueue
	bindings  []fakeBinding
	consumers map[string]chan amqp.Delivery
	inflight  map[uint64]inflight
	acked     []amqp.Delivery
	nextTag   uint64

	conns        []*fakeConn
	dials        atomic.Int32
	dialErr      error
	failPublish  atomic.Int32
	publishCalls atomic.Int32
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		exchanges: make(map[string]string),
		queues:    make(map[string]*fakeQueue),
		consumers: make(map[string]chan amqp.Delivery),
		inflight:  make(map[uint64]inflight),
	}
}

func (b *fakeBroker) dial(string) (Connection, error) {
	b.dials.Add(1)
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	c := &fakeConn{b: b}
	b.mu.Lock()
	b.conns = append(b.conns, c)
	b.mu.Unlock()
	return c, nil
}

// dropConnections simulates the broker closing every open connection
func (b *fakeBroker) dropConnections() {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()

	for _, c := range conns {
		c.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker restart"})
	}
}

func (b *fakeBroker) declareExchange(name, kind string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.exchanges[name]; ok && existing != kind {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg 'type' for exchange " + name}
	}
	b.exchanges[name] = kind
	return nil
}

func (b *fakeBroker) declareQueue(name string, durable, autoDelete bool, args amqp.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		if q.durable != durable || q.autoDelete != autoDelete || !sameArgs(q.args, args) {
			return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg for queue " + name}
		}
		return nil
	}
	b.queues[name] = &fakeQueue{name: name, durable: durable, autoDelete: autoDelete, args: args}
	return nil
}

func sameArgs(a, b amqp.Table) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func (b *fakeBroker) bind(queue, key, exchange string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[queue]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue " + queue}
	}
	if _, ok := b.exchanges[exchange]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no exchange " + exchange}
	}
	nb := fakeBinding{queue: queue, key: key, exchange: exchange}
	for _, existing := range b.bindings {
		if existing == nb {
			return nil
		}
	}
	b.bindings = append(b.bindings, nb)
	return nil
}

func (b *fakeBroker) publish(exchange, key string, msg amqp.Publishing) error {
	b.publishCalls.Add(1)
	if b.failPublish.Load() > 0 {
		b.failPublish.Add(-1)
		return errors.New("broker NACK received: message not persisted")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.routeLocked(exchange, key, amqp.Delivery{
		Headers:       msg.Headers,
		ContentType:   msg.ContentType,
		DeliveryMode:  msg.DeliveryMode,
		CorrelationId: msg.CorrelationId,
		MessageId:     msg.MessageId,
		Timestamp:     msg.Timestamp,
		Type:          msg.Type,
		AppId:         msg.AppId,
		Exchange:      exchange,
		RoutingKey:    key,
		Body:          msg.Body,
	})
	return nil
}

func (b *fakeBroker) routeLocked(exchange, key string, d amqp.Delivery) {
	for _, binding := range b.bindings {
		if binding.exchange == exchange && binding.key == key {
			b.enqueueLocked(binding.queue, d)
		}
	}
}

func (b *fakeBroker) enqueueLocked(queue string, d amqp.Delivery) {
	q, ok := b.queues[queue]
	if !ok {
		return
	}
	if ch, ok := b.consumers[q.consumer]; ok && q.consumer != "" {
		b.deliverLocked(q, ch, d)
		return
	}
	q.messages = append(q.messages, d)
}

func (b *fakeBroker) deliverLocked(q *fakeQueue, ch chan amqp.Delivery, d amqp.Delivery) {
	b.nextTag++
	d.DeliveryTag = b.nextTag
	d.ConsumerTag = q.consumer
	d.Acknowledger = b
	b.inflight[d.DeliveryTag] = inflight{queue: q.name, delivery: d}
	ch <- d
}

func (b *fakeBroker) subscribe(queue, tag string) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue " + queue}
	}
	ch := make(chan amqp.Delivery, 256)
	b.consumers[tag] = ch
	q.consumer = tag

	pending := q.messages
	q.messages = nil
	for _, d := range pending {
		b.deliverLocked(q, ch, d)
	}
	return ch, nil
}

func (b *fakeBroker) unsubscribe(tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.consumers[tag]
	if !ok {
		return
	}
	delete(b.consumers, tag)
	close(ch)
	for _, q := range b.queues {
		if q.consumer == tag {
			q.consumer = ""
		}
	}
	// unacked deliveries of a cancelled consumer go back to their queue
	for deliveryTag, f := range b.inflight {
		if f.delivery.ConsumerTag == tag {
			delete(b.inflight, deliveryTag)
			f.delivery.Redelivered = true
			b.enqueueLocked(f.queue, f.delivery)
		}
	}
}

func (b *fakeBroker) Ack(tag uint64, multiple bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.inflight[tag]
	if !ok {
		return fmt.Errorf("unknown delivery tag %d", tag)
	}
	delete(b.inflight, tag)
	b.acked = append(b.acked, f.delivery)
	return nil
}

func (b *fakeBroker) Nack(tag uint64, multiple, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.inflight[tag]
	if !ok {
		return fmt.Errorf("unknown delivery tag %d", tag)
	}
	delete(b.inflight, tag)

	if requeue {
		f.delivery.Redelivered = true
		b.enqueueLocked(f.queue, f.delivery)
		return nil
	}

	q := b.queues[f.queue]
	exchange, _ := q.args["x-dead-letter-exchange"].(string)
	key, _ := q.args["x-dead-letter-routing-key"].(string)
	if exchange == "" {
		return nil
	}
	d := f.delivery
	d.Redelivered = false
	b.routeLocked(exchange, key, d)
	return nil
}

func (b *fakeBroker) Reject(tag uint64, requeue bool) error {
	return b.Nack(tag, false, requeue)
}

// queued returns the bodies waiting in queue without a consumer
func (b *fakeBroker) queued(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	bodies := make([][]byte, 0, len(q.messages))
	for _, d := range q.messages {
		bodies = append(bodies, d.Body)
	}
	return bodies
}

func (b *fakeBroker) queuedDeliveries(queue string) []amqp.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[queue]; ok {
		return append([]amqp.Delivery(nil), q.messages...)
	}
	return nil
}

func (b *fakeBroker) hasConsumer(queue string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	return ok && q.consumer != ""
}

func (b *fakeBroker) ackedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acked)
}

func (b *fakeBroker) bindingsFor(queue string) []fakeBinding {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []fakeBinding
	for _, binding := range b.bindings {
		if binding.queue == queue {
			out = append(out, binding)
		}
	}
	return out
}

type fakeConn struct {
	b        *fakeBroker
	mu       sync.Mutex
	closed   bool
	notify   []chan *amqp.Error
	channels []*fakeChannel
}

func (c *fakeConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{b: c.b, tags: make(map[string]bool)}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *fakeConn) shutdown(err *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := c.channels
	notify := c.notify
	c.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown(err)
	}
	for _, n := range notify {
		if err != nil {
			n <- err
		}
		close(n)
	}
}

type fakeChannel struct {
	b        *fakeBroker
	mu       sync.Mutex
	closed   bool
	confirm  bool
	prefetch int
	tags     map[string]bool
	notify   []chan *amqp.Error
}

func (ch *fakeChannel) check() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	return nil
}

// fail mirrors the broker closing a channel on a channel-level exception
func (ch *fakeChannel) fail(err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		go ch.shutdown(amqpErr)
	}
	return err
}

func (ch *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if err := ch.check(); err != nil {
		return err
	}
	if err := ch.b.declareExchange(name, kind); err != nil {
		return ch.fail(err)
	}
	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if err := ch.check(); err != nil {
		return amqp.Queue{}, err
	}
	if err := ch.b.declareQueue(name, durable, autoDelete, args); err != nil {
		return amqp.Queue{}, ch.fail(err)
	}
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	if err := ch.check(); err != nil {
		return err
	}
	return ch.b.bind(name, key, exchange)
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.prefetch = prefetchCount
	return nil
}

func (ch *fakeChannel) Confirm(noWait bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.confirm = true
	return nil
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if err := ch.check(); err != nil {
		return nil, err
	}
	deliveries, err := ch.b.subscribe(queue, consumer)
	if err != nil {
		return nil, err
	}
	ch.mu.Lock()
	ch.tags[consumer] = true
	ch.mu.Unlock()
	return deliveries, nil
}

func (ch *fakeChannel) Cancel(consumer string, noWait bool) error {
	if err := ch.check(); err != nil {
		return err
	}
	ch.mu.Lock()
	delete(ch.tags, consumer)
	ch.mu.Unlock()
	ch.b.unsubscribe(consumer)
	return nil
}

func (ch *fakeChannel) PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	if err := ch.check(); err != nil {
		return err
	}
	return ch.b.publish(exchange, key, msg)
}

func (ch *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.notify = append(ch.notify, receiver)
	return receiver
}

func (ch *fakeChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *fakeChannel) Close() error {
	ch.shutdown(nil)
	return nil
}

func (ch *fakeChannel) shutdown(err *amqp.Error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	tags := ch.tags
	ch.tags = map[string]bool{}
	notify := ch.notify
	ch.mu.Unlock()

	for tag := range tags {
		ch.b.unsubscribe(tag)
	}
	for _, n := range notify {
		if err != nil {
			n <- err
		}
		close(n)
	}
}
