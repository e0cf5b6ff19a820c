package event

import "time"

type Type string

const (
	TypeSessionStarted   Type = "session.started"
	TypeSessionRefreshed Type = "session.refreshed"
	TypeSessionCleared   Type = "session.cleared"
)

// Event reports a change of the client session. Roles is the role set in
// effect after the change and is empty once the session is cleared.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Roles     []string  `json:"roles"`
	Username  string    `json:"username,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func())
}
