package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

const (
	// firehoseKey indexes subscribers that receive every event. Deployment
	// IDs are UUIDs, so no real ID collides with it.
	firehoseKey = "*"

	// subscriberBuffer is each subscriber's channel capacity. A subscriber
	// that falls further behind than this loses events rather than blocking
	// the publisher.
	subscriberBuffer = 64
)

// CancelFunc removes a subscription. Safe to call more than once.
type CancelFunc func()

// =============================================================================
// Bus
// =============================================================================

// Bus fans events out to per-deployment subscribers and firehose subscribers.
//
// Registration and cancellation are synchronous with respect to Publish: once
// Subscribe returns, the subscriber sees every event published until its
// cancel returns, and none after. Publish never blocks; slow subscribers have
// events dropped instead.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]chan Event
	nextToken   int
	closed      bool

	dropped atomic.Int64
	logger  *slog.Logger
}

// New creates a bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]map[int]chan Event),
		logger:      logger,
	}
}

// Publish delivers the event to the deployment's subscribers and every
// firehose subscriber. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for token, ch := range b.subscribers[event.DeploymentID()] {
		b.send(token, ch, event)
	}
	for token, ch := range b.subscribers[firehoseKey] {
		b.send(token, ch, event)
	}
}

// send delivers without blocking; a full subscriber loses the event.
func (b *Bus) send(token int, ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		b.dropped.Add(1)
		b.logger.Warn("Dropping event for slow subscriber",
			"deployment_id", event.DeploymentID(),
			"subscriber", token)
	}
}

// Subscribe returns a channel carrying only the given deployment's events.
func (b *Bus) Subscribe(deploymentID string) (<-chan Event, CancelFunc) {
	return b.subscribe(deploymentID)
}

// SubscribeAll returns a channel carrying every event on the bus.
func (b *Bus) SubscribeAll() (<-chan Event, CancelFunc) {
	return b.subscribe(firehoseKey)
}

func (b *Bus) subscribe(key string) (<-chan Event, CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.nextToken++
	token := b.nextToken

	if b.subscribers[key] == nil {
		b.subscribers[key] = make(map[int]chan Event)
	}
	b.subscribers[key][token] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.subscribers[key]; ok {
				if _, ok := subs[token]; ok {
					delete(subs, token)
					close(ch)
					if len(subs) == 0 {
						delete(b.subscribers, key)
					}
				}
			}
		})
	}

	return ch, cancel
}

// Dropped returns how many events were lost to slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts the bus down and closes every subscriber channel. Publishing
// and subscribing after Close are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for key, subs := range b.subscribers {
		for token, ch := range subs {
			close(ch)
			delete(subs, token)
		}
		delete(b.subscribers, key)
	}
}
