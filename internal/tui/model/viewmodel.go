// Package model caches what the terminal UI shows.
package model

import (
	"context"
	"errors"
	"sync"

	"github.com/hubescolar/whatsapp/internal/client"
)

// Backend is the part of the daemon client the UI uses.
type Backend interface {
	Sessions(ctx context.Context) ([]client.SessionInfo, error)
	Status(ctx context.Context) (*client.ServiceStatus, error)
	QRCode(ctx context.Context, sessionID string) (string, error)
	Disconnect(ctx context.Context, sessionID string) (string, error)
	Reset(ctx context.Context, sessionID string) (string, error)
}

// QRState is what the QR page shows for a session.
type QRState struct {
	SessionID string
	Code      string
	Ready     bool
	Phone     string
	Failure   string
}

// ViewModel caches daemon state between refreshes.
type ViewModel struct {
	mu sync.RWMutex

	backend  Backend
	sessions []client.SessionInfo
	service  *client.ServiceStatus
	Flash    Flash
}

// NewViewModel creates a view model backed by b.
func NewViewModel(b Backend) *ViewModel {
	return &ViewModel{backend: b}
}

// Refresh reloads the session list and the service summary.
func (vm *ViewModel) Refresh(ctx context.Context) error {
	sessions, err := vm.backend.Sessions(ctx)
	if err != nil {
		return err
	}
	service, err := vm.backend.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.sessions = sessions
	vm.service = service
	vm.mu.Unlock()
	return nil
}

// Sessions returns the cached session list.
func (vm *ViewModel) Sessions() []client.SessionInfo {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.sessions
}

// Service returns the cached service summary, or nil before the first refresh.
func (vm *ViewModel) Service() *client.ServiceStatus {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.service
}

// Session returns the cached row of id.
func (vm *ViewModel) Session(id string) (client.SessionInfo, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, s := range vm.sessions {
		if s.SessionID == id {
			return s, true
		}
	}
	return client.SessionInfo{}, false
}

// LoadQR starts the session if needed and reports what to show for it:
// a pairing code, a ready session or a failure.
func (vm *ViewModel) LoadQR(ctx context.Context, id string) (QRState, error) {
	st := QRState{SessionID: id}
	code, err := vm.backend.QRCode(ctx, id)
	switch {
	case err == nil:
		st.Code = code
		return st, nil
	case !errors.Is(err, client.ErrNoQRCode):
		return st, err
	}

	if err := vm.Refresh(ctx); err != nil {
		return st, err
	}
	if s, ok := vm.Session(id); ok {
		st.Ready = s.IsReady
		st.Failure = s.Failure
		if s.PhoneNumber != nil {
			st.Phone = *s.PhoneNumber
		}
	}
	return st, nil
}

// Disconnect tears a session down.
func (vm *ViewModel) Disconnect(ctx context.Context, id string) (string, error) {
	return vm.backend.Disconnect(ctx, id)
}

// Reset logs a session out and wipes its credentials.
func (vm *ViewModel) Reset(ctx context.Context, id string) (string, error) {
	return vm.backend.Reset(ctx, id)
}
