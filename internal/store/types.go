package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no message matches a lookup.
var ErrNotFound = errors.New("message not found")

// Direction tells outbound sends apart from inbound messages.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// Status is the delivery status of a message record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// AllStatuses lists every status in delivery order.
var AllStatuses = []Status{StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusFailed
}

// CanAdvanceTo reports whether a record in status s may move to next.
// Statuses only move forward; failed is reachable from pending and sent
// and is terminal.
func (s Status) CanAdvanceTo(next Status) bool {
	if s == StatusFailed || !next.Valid() {
		return false
	}
	if next == StatusFailed {
		return s == StatusPending || s == StatusSent
	}
	return statusRank[next] > statusRank[s]
}

// predecessors returns the statuses from which next is reachable.
func predecessors(next Status) []Status {
	var out []Status
	for _, s := range AllStatuses {
		if s.CanAdvanceTo(next) {
			out = append(out, s)
		}
	}
	return out
}

// Metadata holds free-form string attributes of a record (sender, recipient
// name, push name). It is stored as a JSON object.
type Metadata map[string]string

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
	}
	*m = out
	return nil
}

// Message is a durable message record. For outgoing records ID is the
// correlation id returned to the caller.
type Message struct {
	ID         string    `db:"id"`
	SessionID  string    `db:"session_id"`
	Phone      string    `db:"phone"`
	Body       string    `db:"message"`
	Direction  Direction `db:"direction"`
	Status     Status    `db:"status"`
	ProviderID string    `db:"provider_id"`
	Error      string    `db:"error"`
	Metadata   Metadata  `db:"metadata"`
	CreatedAt  int64     `db:"created_at"`
	UpdatedAt  int64     `db:"updated_at"`
}

// MergedMetadata returns the record metadata with providerId and error
// folded in, the shape exposed to API clients.
func (m *Message) MergedMetadata() map[string]string {
	out := make(map[string]string, len(m.Metadata)+2)
	for k, v := range m.Metadata {
		out[k] = v
	}
	if m.ProviderID != "" {
		out["providerId"] = m.ProviderID
	}
	if m.Error != "" {
		out["error"] = m.Error
	}
	return out
}

// ListFilter narrows ListMessages. Empty fields match everything.
type ListFilter struct {
	Phone     string
	SessionID string
	Limit     int
}

// MaxListLimit caps the number of records ListMessages returns.
const MaxListLimit = 100
