package bus

import "time"

// Event kinds. Subscribers filter by prefix ("session.", "message.").
const (
	KindSessionStatusChanged = "session.status_changed"
	KindSessionRemoved       = "session.removed"
	KindMessageStatus        = "message.status"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// MessageStatus is the payload of KindMessageStatus events.
type MessageStatus struct {
	MessageID string
	SessionID string
	Status    string
	At        time.Time
}

// SessionRemoved is the payload of KindSessionRemoved events.
type SessionRemoved struct {
	SessionID string
}
