// Package qr turns pairing codes into scannable PNG artifacts.
package qr

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

type pending struct {
	code     string
	locator  string
	issuedAt time.Time
}

// Provisioner renders pairing codes and tracks the artifact each session
// is waiting on. At most one artifact exists per session; a new code
// replaces the previous image.
type Provisioner struct {
	store  ArtifactStore
	size   int
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]pending
}

// NewProvisioner creates a provisioner writing size×size PNGs to store.
func NewProvisioner(store ArtifactStore, size int, logger *zap.Logger) *Provisioner {
	if size <= 0 {
		size = 256
	}
	return &Provisioner{
		store:    store,
		size:     size,
		logger:   logger,
		sessions: make(map[string]pending),
	}
}

// OnPairingCode renders code, replaces the session's previous artifact and
// returns the new locator. Failure to delete the old artifact is logged
// and does not stop the write.
func (p *Provisioner) OnPairingCode(ctx context.Context, sessionID, code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, p.size)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}

	if err := p.store.Delete(ctx, sessionID); err != nil {
		p.logger.Warn("failed to delete previous qr artifact",
			zap.String("session", sessionID), zap.Error(err))
	}
	locator, err := p.store.Put(ctx, sessionID, png)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.sessions[sessionID] = pending{code: code, locator: locator, issuedAt: time.Now()}
	p.mu.Unlock()

	p.logger.Info("qr code generated", zap.String("session", sessionID), zap.String("artifact", locator))
	return locator, nil
}

// ArtifactPath returns the locator of the artifact the session awaits.
func (p *Provisioner) ArtifactPath(sessionID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.sessions[sessionID]
	return e.locator, ok
}

// RawCode returns the pairing code itself, for terminal rendering.
func (p *Provisioner) RawCode(sessionID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.sessions[sessionID]
	return e.code, ok
}

// ArtifactStream opens the pending artifact of a session. Returns
// ErrNotFound when the session is not awaiting a scan.
func (p *Provisioner) ArtifactStream(ctx context.Context, sessionID string) (io.ReadCloser, error) {
	if _, ok := p.ArtifactPath(sessionID); !ok {
		return nil, ErrNotFound
	}
	return p.store.Open(ctx, sessionID)
}

// Settle drops the pending entry once the session is authenticated. The
// stale image is left in place and overwritten by the next pairing.
func (p *Provisioner) Settle(sessionID string) {
	p.mu.Lock()
	delete(p.sessions, sessionID)
	p.mu.Unlock()
}

// Forget drops the pending entry and deletes the artifact.
func (p *Provisioner) Forget(ctx context.Context, sessionID string) {
	p.Settle(sessionID)
	if err := p.store.Delete(ctx, sessionID); err != nil {
		p.logger.Warn("failed to delete qr artifact",
			zap.String("session", sessionID), zap.Error(err))
	}
}
