package streaming

import (
	"context"
	"strconv"
	"sync"

	"tracelink-lab/pkg/logger"
)

type subscriber struct {
	ch  chan *SearchEvent
	sub *Subscription
}

// EventBus distributes search events to local subscribers and, when
// configured, to NATS for other processes
type EventBus struct {
	nats   *NATSPublisher
	logger *logger.Logger

	mu          sync.RWMutex
	subscribers map[string]subscriber
	nextID      int
	closed      bool
}

// NewEventBus creates a new event bus. nats may be nil.
func NewEventBus(nats *NATSPublisher, log *logger.Logger) *EventBus {
	return &EventBus{
		nats:        nats,
		logger:      log.WithComponent("event-bus"),
		subscribers: make(map[string]subscriber),
	}
}

// Publish publishes a search event to all matching subscribers
func (eb *EventBus) Publish(ctx context.Context, event *SearchEvent) error {
	if eb.nats != nil && eb.nats.IsConnected() {
		if err := eb.nats.Publish(ctx, event); err != nil {
			eb.logger.Warn().Err(err).Msg("failed to publish to NATS, using local broadcast only")
		}
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for id, s := range eb.subscribers {
		if s.sub != nil && !s.sub.Matches(event) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			eb.logger.Debug().Str("subscriber", id).Msg("subscriber channel full, dropping event")
		}
	}

	return nil
}

// Subscribe registers a local subscriber. The returned function removes it
// and closes the channel; it is safe to call more than once.
func (eb *EventBus) Subscribe(sub *Subscription) (<-chan *SearchEvent, func()) {
	ch := make(chan *SearchEvent, 100)

	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	eb.nextID++
	id := strconv.Itoa(eb.nextID)
	eb.subscribers[id] = subscriber{ch: ch, sub: sub}
	eb.mu.Unlock()

	eb.logger.Debug().Str("subscriber_id", id).Msg("new subscriber")

	unsubscribe := func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		if _, ok := eb.subscribers[id]; ok {
			close(ch)
			delete(eb.subscribers, id)
			eb.logger.Debug().Str("subscriber_id", id).Msg("subscriber removed")
		}
	}

	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// Close closes every subscriber channel and the NATS connection
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.closed = true
	for id, s := range eb.subscribers {
		close(s.ch)
		delete(eb.subscribers, id)
	}

	if eb.nats != nil {
		eb.nats.Close()
	}
}
