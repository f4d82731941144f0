// Package reaper fails outgoing records that never left pending, which
// happens when the process stops between recording and dispatching a send.
package reaper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hubescolar/whatsapp/internal/bus"
	"github.com/hubescolar/whatsapp/internal/metrics"
	"github.com/hubescolar/whatsapp/internal/store"
)

// Reason is stored on records failed by the reaper.
const Reason = "no transport outcome recorded before the pending deadline"

// Reaper periodically fails stale pending records.
type Reaper struct {
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a reaper that fails records pending for longer than ttl,
// checking every interval.
func New(db *store.DB, b *bus.Bus, ttl, interval time.Duration, logger *zap.Logger) *Reaper {
	return &Reaper{
		db:       db,
		bus:      b,
		logger:   logger,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
	}
}

// Start runs one sweep immediately and then one per interval.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
}

// Stop stops the loop and waits for it to exit.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Reaper) loop(ctx context.Context) {
	defer close(r.done)
	r.Sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep fails every outgoing record pending since before now-ttl and
// returns how many it failed.
func (r *Reaper) Sweep(ctx context.Context) int {
	failed, err := r.db.FailStalePending(ctx, r.now().Add(-r.ttl), Reason)
	if err != nil {
		r.logger.Error("failed to reap pending messages", zap.Error(err))
	}
	for _, m := range failed {
		metrics.StatusUpdated(string(store.StatusFailed))
		r.bus.Emit(bus.KindMessageStatus, bus.MessageStatus{
			MessageID: m.ID,
			SessionID: m.SessionID,
			Status:    string(store.StatusFailed),
			At:        r.now(),
		})
	}
	if len(failed) > 0 {
		r.logger.Warn("failed stale pending messages", zap.Int("count", len(failed)))
	}
	return len(failed)
}
