package notifications

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/darkden-lab/herald/internal/ws"
)

// recentEventIDs bounds the redelivery filter.
const recentEventIDs = 1024

// Publisher is implemented by ws.Broadcaster.
type Publisher interface {
	Publish(event ws.Event)
}

// Consumer subscribes to user.registered and announces each new user to every
// open websocket connection.
type Consumer struct {
	broker    MessageBroker
	publisher Publisher
	log       zerolog.Logger

	mu      sync.Mutex
	stopped bool
	seen    map[string]struct{}
	order   []string
}

func NewConsumer(broker MessageBroker, publisher Publisher, log zerolog.Logger) *Consumer {
	return &Consumer{
		broker:    broker,
		publisher: publisher,
		log:       log.With().Str("component", "notification_consumer").Logger(),
		seen:      make(map[string]struct{}),
	}
}

// Start subscribes to the registration topic. It returns immediately; events
// are handled on the broker's delivery goroutine.
func (c *Consumer) Start() error {
	if _, err := c.broker.Subscribe(TopicUserRegistered, c.handle); err != nil {
		return err
	}
	c.log.Info().Str("topic", TopicUserRegistered).Msg("consumer subscribed")
	return nil
}

// Stop makes the consumer ignore further events. Close the broker separately
// to stop its readers.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *Consumer) handle(event Event) {
	if event.Email == "" {
		c.log.Warn().Str("event", event.ID).Msg("dropping registration event without email")
		return
	}
	if !c.admit(event.ID) {
		c.log.Debug().Str("event", event.ID).Msg("duplicate registration event ignored")
		return
	}

	c.publisher.Publish(ws.NewUserEvent(event.Email))
}

// admit reports whether the event should be broadcast: the consumer is
// running and the id was not seen recently. Kafka delivers at least once.
func (c *Consumer) admit(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return false
	}
	if id == "" {
		return true
	}
	if _, dup := c.seen[id]; dup {
		return false
	}

	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > recentEventIDs {
		delete(c.seen, c.order[0])
		c.order = c.order[1:]
	}
	return true
}
