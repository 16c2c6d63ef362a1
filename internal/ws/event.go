package ws

import "fmt"

// EventNewUser is the only event kind clients render.
const EventNewUser = "new_user"

// Event is the JSON payload pushed to every open connection. Consumers must
// tolerate fields they do not know.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Email   string `json:"email,omitempty"`
}

// NewUserEvent builds the announcement for a freshly registered user.
func NewUserEvent(email string) Event {
	return Event{
		Type:    EventNewUser,
		Message: fmt.Sprintf("New user registered: %s", email),
		Email:   email,
	}
}
