package notifications

import (
	"time"

	"github.com/google/uuid"
)

// TopicUserRegistered carries one event per successful registration.
const TopicUserRegistered = "user.registered"

// Event is the broker payload. It is serialized as JSON on Kafka, so other
// services may publish it too.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUserRegisteredEvent creates an Event with a generated UUID and the
// current timestamp.
func NewUserRegisteredEvent(userID, email string) Event {
	return Event{
		ID:        uuid.New().String(),
		Topic:     TopicUserRegistered,
		UserID:    userID,
		Email:     email,
		Timestamp: time.Now().UTC(),
	}
}

// EventHandler is a callback invoked when a subscribed event is received.
type EventHandler func(event Event)
