// Package fanout pushes message status changes to subscribed observers.
package fanout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hubescolar/whatsapp/internal/bus"
	"github.com/hubescolar/whatsapp/internal/metrics"
)

// Notification is pushed to observers of a message id.
type Notification struct {
	Type      string    `json:"type"`
	MessageID string    `json:"messageId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer is one push connection. Its queue is bounded; a notification
// that finds the queue full is dropped.
type Observer struct {
	out chan Notification

	mu     sync.Mutex
	closed bool

	removed bool // guarded by Hub.mu
}

// NewObserver returns an observer with room for queue pending notifications.
func NewObserver(queue int) *Observer {
	if queue <= 0 {
		queue = 1
	}
	return &Observer{out: make(chan Notification, queue)}
}

// C delivers notifications until the observer is removed.
func (o *Observer) C() <-chan Notification { return o.out }

func (o *Observer) offer(n Notification) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	select {
	case o.out <- n:
		return true
	default:
		return false
	}
}

func (o *Observer) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.out)
	}
}

// Hub maps message ids to the observers interested in them. Nothing is
// buffered for ids without observers.
type Hub struct {
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	mu        sync.RWMutex
	byMessage map[string]map[*Observer]struct{}
	byObs     map[*Observer]map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// Options tunes the push channel.
type Options struct {
	// Queue is the per-observer notification buffer.
	Queue int
	// OriginPatterns lists allowed browser origins. Empty allows any.
	OriginPatterns []string
	// WriteTimeout bounds a single push.
	WriteTimeout time.Duration
}

// NewHub creates an empty hub.
func NewHub(b *bus.Bus, opts Options, logger *zap.Logger) *Hub {
	if opts.Queue <= 0 {
		opts.Queue = 32
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Hub{
		bus:       b,
		logger:    logger,
		opts:      opts,
		byMessage: make(map[string]map[*Observer]struct{}),
		byObs:     make(map[*Observer]map[string]struct{}),
	}
}

// Subscribe registers o for ids and returns the accepted ids, without
// blanks or duplicates. A removed observer accepts nothing.
func (h *Hub) Subscribe(o *Observer, ids []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o.removed {
		return nil
	}

	accepted := make([]string, 0, len(ids))
	mine := h.byObs[o]
	if mine == nil {
		mine = make(map[string]struct{})
		h.byObs[o] = mine
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		set := h.byMessage[id]
		if set == nil {
			set = make(map[*Observer]struct{})
			h.byMessage[id] = set
		}
		set[o] = struct{}{}
		mine[id] = struct{}{}
		accepted = append(accepted, id)
	}
	return accepted
}

// Notify pushes a status change to every observer of id and returns how
// many accepted it.
func (h *Hub) Notify(id, status string, at time.Time) int {
	h.mu.RLock()
	targets := make([]*Observer, 0, len(h.byMessage[id]))
	for o := range h.byMessage[id] {
		targets = append(targets, o)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return 0
	}

	n := Notification{Type: "status_update", MessageID: id, Status: status, Timestamp: at}
	delivered := 0
	for _, o := range targets {
		ok := o.offer(n)
		metrics.FanoutDelivered(ok)
		if ok {
			delivered++
		}
	}
	h.logger.Debug("status change pushed", zap.String("message_id", id),
		zap.String("status", status), zap.Int("observers", len(targets)), zap.Int("delivered", delivered))
	return delivered
}

// Remove drops o from every subscription set, prunes empty sets and
// closes o.
func (h *Hub) Remove(o *Observer) {
	h.mu.Lock()
	o.removed = true
	for id := range h.byObs[o] {
		set := h.byMessage[id]
		delete(set, o)
		if len(set) == 0 {
			delete(h.byMessage, id)
		}
	}
	delete(h.byObs, o)
	h.mu.Unlock()
	o.close()
}

// Subscriptions returns the number of message ids with at least one observer.
func (h *Hub) Subscriptions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byMessage)
}

// Observers returns the number of registered observers.
func (h *Hub) Observers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byObs)
}

// Start forwards "message." bus events to Notify.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	ch, unsub := h.bus.Subscribe("message.", 256)

	go func() {
		defer close(h.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if p, ok := evt.Payload.(bus.MessageStatus); ok {
					h.Notify(p.MessageID, p.Status, p.At)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops forwarding bus events.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
}
