package wa

import (
	"context"
	"errors"
	"time"

	"github.com/hubescolar/whatsapp/internal/store"
)

// ErrNotConnected is returned by SendText when the transport has no live connection.
var ErrNotConnected = errors.New("transport not connected")

// Client is one authenticated (or authenticating) messaging session.
// Events are emitted in order on the channel returned by Events; the
// channel is drained by exactly one consumer.
type Client interface {
	Events() <-chan Event
	Connect(ctx context.Context) error
	SendText(ctx context.Context, phone, text string) (SendReceipt, error)
	PhoneNumber() string
	Disconnect()
	Logout(ctx context.Context) error
}

// Factory builds the Client of a session. It is the only place a
// transport connection is constructed.
type Factory interface {
	NewClient(ctx context.Context, sessionID string) (Client, error)
}

// SendReceipt is the transport's acknowledgement of an accepted message.
type SendReceipt struct {
	ProviderID string
	Timestamp  time.Time
}

// Event is a transport occurrence relevant to the session lifecycle.
type Event interface {
	transportEvent()
}

// PairingCode carries a fresh code to render as a QR image.
type PairingCode struct {
	Code    string
	Timeout time.Duration
}

// Authenticated reports a successful scan. The session is not ready yet.
type Authenticated struct {
	PhoneNumber string
}

// Ready reports that the session can send messages.
type Ready struct{}

// AuthFailure reports that credentials were rejected or pairing failed.
type AuthFailure struct {
	Reason string
}

// Disconnected reports loss of the connection.
type Disconnected struct {
	Reason string
}

// Receipt reports delivery progress of previously sent messages.
type Receipt struct {
	ProviderIDs []string
	Status      store.Status
	Timestamp   time.Time
}

// InboundMessage is a message received from a contact.
type InboundMessage struct {
	ProviderID string
	Phone      string
	PushName   string
	Body       string
	Kind       string
	Timestamp  time.Time
}

func (PairingCode) transportEvent()    {}
func (Authenticated) transportEvent()  {}
func (Ready) transportEvent()          {}
func (AuthFailure) transportEvent()    {}
func (Disconnected) transportEvent()   {}
func (Receipt) transportEvent()        {}
func (InboundMessage) transportEvent() {}

// SessionReceipt is a receipt tagged with its session.
type SessionReceipt struct {
	SessionID string
	Receipt
}

// SessionMessage is an inbound message tagged with its session.
type SessionMessage struct {
	SessionID string
	InboundMessage
}
