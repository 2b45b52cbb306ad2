package broker

import (
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const maxTrackedMessages = 10000

// attemptTracker counts deliveries per message when the broker does not report it
type attemptTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func newAttemptTracker() *attemptTracker {
	return &attemptTracker{counts: make(map[string]int)}
}

func (t *attemptTracker) next(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.counts) >= maxTrackedMessages {
		clear(t.counts)
	}
	t.counts[key]++
	return t.counts[key]
}

func (t *attemptTracker) forget(key string) {
	t.mu.Lock()
	delete(t.counts, key)
	t.mu.Unlock()
}

// deliveryAttempt prefers the x-delivery-count header set by quorum queues, which counts
// previous deliveries
func deliveryAttempt(d amqp.Delivery, tracker *attemptTracker, key string) int {
	if n, ok := headerInt(d.Headers, "x-delivery-count"); ok {
		return int(n) + 1
	}
	return tracker.next(key)
}

func headerInt(headers amqp.Table, key string) (int64, bool) {
	switch v := headers[key].(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	default:
		return 0, false
	}
}
