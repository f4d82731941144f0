// Package ingest applies transport receipts and inbound messages to the
// message store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hubescolar/whatsapp/internal/bus"
	"github.com/hubescolar/whatsapp/internal/metrics"
	"github.com/hubescolar/whatsapp/internal/store"
	"github.com/hubescolar/whatsapp/internal/wa"
)

// inboundNamespace derives stable record ids for inbound messages so a
// redelivered message maps to the record already stored.
var inboundNamespace = uuid.MustParse("5c1c8f4e-6f0a-4a43-9d3e-2b7f0f6f9a10")

// Engine writes transport receipts and inbound messages to the store. The
// lifecycle controller calls it from each session's event task, so updates
// are applied in emission order and never dropped.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewEngine creates a new ingest engine. Status changes are published on b.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// ApplyReceipt advances every outgoing record the receipt names and
// publishes a status event per record that moved. It returns the moved ids.
func (e *Engine) ApplyReceipt(ctx context.Context, r wa.SessionReceipt) ([]string, error) {
	at := r.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	var moved []string
	for _, pid := range r.ProviderIDs {
		ids, err := e.db.AdvanceStatusByProviderID(ctx, pid, r.Status)
		if err != nil {
			return moved, fmt.Errorf("advance %s to %s: %w", pid, r.Status, err)
		}
		for _, id := range ids {
			metrics.StatusUpdated(string(r.Status))
			e.bus.Emit(bus.KindMessageStatus, bus.MessageStatus{
				MessageID: id,
				SessionID: r.SessionID,
				Status:    string(r.Status),
				At:        at,
			})
		}
		moved = append(moved, ids...)
	}
	if len(moved) > 0 {
		e.logger.Debug("receipt applied", zap.String("session", r.SessionID),
			zap.String("status", string(r.Status)), zap.Int("records", len(moved)))
	}
	return moved, nil
}

// IngestMessage stores an inbound message (idempotent per session and
// provider id).
func (e *Engine) IngestMessage(ctx context.Context, m wa.SessionMessage) error {
	id := InboundID(m.SessionID, m.ProviderID)
	if _, err := e.db.GetMessage(ctx, id); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("look up inbound message: %w", err)
	}
	if err := e.db.InsertMessage(ctx, m.ToStoreMessage(id, m.SessionID)); err != nil {
		return fmt.Errorf("insert inbound message: %w", err)
	}
	e.logger.Info("inbound message stored", zap.String("session", m.SessionID),
		zap.String("message_id", id), zap.String("kind", m.Kind))
	return nil
}

// InboundID is the record id of the inbound message providerID on sessionID.
func InboundID(sessionID, providerID string) string {
	return uuid.NewSHA1(inboundNamespace, []byte(sessionID+"/"+providerID)).String()
}
