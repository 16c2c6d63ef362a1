package notifications

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const inMemoryQueueSize = 1024

type inMemorySub struct {
	id string
	fn EventHandler
}

type queuedEvent struct {
	topic string
	event Event
}

// subscriberTable maps a topic to its handlers. It is replaced, never
// mutated, so the delivery goroutine reads it without locking.
type subscriberTable map[string][]inMemorySub

// InMemoryBroker is a single-process MessageBroker. One goroutine runs the
// handlers in publish order, so a slow handler delays later events.
type InMemoryBroker struct {
	mu      sync.RWMutex // guards stopped and table writes
	stopped bool
	table   atomic.Pointer[subscriberTable]
	queue   chan queuedEvent
	drained chan struct{}
}

// NewInMemoryBroker starts the delivery goroutine; Close stops it.
func NewInMemoryBroker() *InMemoryBroker {
	b := &InMemoryBroker{
		queue:   make(chan queuedEvent, inMemoryQueueSize),
		drained: make(chan struct{}),
	}
	b.table.Store(&subscriberTable{})
	go b.run()
	return b
}

// Publish queues event for the subscribers of topic. It blocks only when
// the queue is full.
func (b *InMemoryBroker) Publish(topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrBrokerClosed
	}
	b.queue <- queuedEvent{topic: topic, event: event}
	return nil
}

func (b *InMemoryBroker) Subscribe(topic string, handler EventHandler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return "", ErrBrokerClosed
	}

	sub := inMemorySub{id: uuid.NewString(), fn: handler}
	next := maps.Clone(*b.table.Load())
	next[topic] = append(append([]inMemorySub(nil), next[topic]...), sub)
	b.table.Store(&next)
	return sub.id, nil
}

// Close rejects new calls, delivers what is already queued and waits for the
// delivery goroutine to exit. Closing twice is a no-op.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	close(b.queue)
	b.mu.Unlock()

	<-b.drained
	return nil
}

func (b *InMemoryBroker) run() {
	defer close(b.drained)
	for q := range b.queue {
		for _, sub := range (*b.table.Load())[q.topic] {
			sub.fn(q.event)
		}
	}
}
