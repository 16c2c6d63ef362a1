package notifications

import (
	"github.com/rs/zerolog"

	"github.com/darkden-lab/herald/internal/auth"
)

// registrationSource is implemented by auth.Service.
type registrationSource interface {
	OnRegister(hook auth.RegistrationHook)
}

// EventProducer turns successful registrations into broker events.
type EventProducer struct {
	broker MessageBroker
	log    zerolog.Logger
}

func NewEventProducer(broker MessageBroker, log zerolog.Logger) *EventProducer {
	return &EventProducer{
		broker: broker,
		log:    log.With().Str("component", "event_producer").Logger(),
	}
}

// HookIntoAuth registers the producer as a registration hook so every new
// user is published exactly once.
func (p *EventProducer) HookIntoAuth(src registrationSource) {
	src.OnRegister(p.PublishUserRegistered)
}

// PublishUserRegistered publishes a user.registered event. Broker failures
// are logged and never reach the registering request.
func (p *EventProducer) PublishUserRegistered(user auth.User) {
	event := NewUserRegisteredEvent(user.ID, user.Email)
	if err := p.broker.Publish(TopicUserRegistered, event); err != nil {
		p.log.Error().Err(err).Str("user", user.ID).Msg("failed to publish registration event")
		return
	}
	p.log.Debug().Str("event", event.ID).Str("user", user.ID).Msg("registration event published")
}
