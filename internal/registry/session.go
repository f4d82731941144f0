package registry

import (
	"context"
	"sync"
	"time"

	"github.com/hubescolar/whatsapp/internal/bus"
	"github.com/hubescolar/whatsapp/internal/status"
	"github.com/hubescolar/whatsapp/internal/wa"
)

// Session is the runtime record of one tenant's messaging session.
// State changes go through Machine and are made only by the lifecycle
// controller.
type Session struct {
	ID        string
	Machine   *status.Machine
	CreatedAt time.Time

	mu      sync.RWMutex
	client  wa.Client
	qrPath  string
	failure string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSession returns an uninitialized session.
func NewSession(id string, b *bus.Bus) *Session {
	return &Session{
		ID:        id,
		Machine:   status.NewMachine(id, b),
		CreatedAt: time.Now(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() status.State {
	return s.Machine.Current()
}

// Client returns the transport handle, nil until attached.
func (s *Session) Client() wa.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Attach records the transport handle and the stop function of its event task.
func (s *Session) Attach(c wa.Client, cancel context.CancelFunc, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = c
	s.cancel = cancel
	s.done = done
}

// Detach stops the event task and returns the transport handle so the
// caller can close it. The wait is bounded by ctx.
func (s *Session) Detach(ctx context.Context) wa.Client {
	s.mu.Lock()
	c, cancel, done := s.client, s.cancel, s.done
	s.client, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return c
}

// QRPath returns the locator of the current QR artifact. It is set only
// while the session awaits a scan.
func (s *Session) QRPath() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qrPath, s.qrPath != ""
}

// SetQRPath records or clears the QR artifact locator.
func (s *Session) SetQRPath(path string) {
	s.mu.Lock()
	s.qrPath = path
	s.mu.Unlock()
}

// Failure returns the last authentication failure reason.
func (s *Session) Failure() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// SetFailure records the authentication failure reason.
func (s *Session) SetFailure(reason string) {
	s.mu.Lock()
	s.failure = reason
	s.mu.Unlock()
}

// PhoneNumber returns the paired number, empty when unknown.
func (s *Session) PhoneNumber() string {
	if c := s.Client(); c != nil {
		return c.PhoneNumber()
	}
	return ""
}

// Info is a point-in-time view of a session.
type Info struct {
	SessionID     string
	State         status.State
	IsReady       bool
	IsInitialized bool
	PhoneNumber   string
	HasQR         bool
	Failure       string
	Since         time.Time
}

// Info snapshots the session.
func (s *Session) Info() Info {
	st := s.State()
	_, hasQR := s.QRPath()
	return Info{
		SessionID:     s.ID,
		State:         st,
		IsReady:       st == status.Ready,
		IsInitialized: s.Client() != nil,
		PhoneNumber:   s.PhoneNumber(),
		HasQR:         hasQR,
		Failure:       s.Failure(),
		Since:         s.Machine.ChangedAt(),
	}
}
