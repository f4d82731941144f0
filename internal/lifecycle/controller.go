// Package lifecycle owns session creation, authentication and teardown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hubescolar/whatsapp/internal/bus"
	"github.com/hubescolar/whatsapp/internal/metrics"
	"github.com/hubescolar/whatsapp/internal/qr"
	"github.com/hubescolar/whatsapp/internal/registry"
	"github.com/hubescolar/whatsapp/internal/session"
	"github.com/hubescolar/whatsapp/internal/status"
	"github.com/hubescolar/whatsapp/internal/wa"
)

const (
	defaultInitTimeout   = 30 * time.Second
	defaultDetachTimeout = 5 * time.Second
)

// Controller is the only writer of session state. Each session gets one
// event task that applies transport events in the order they were emitted.
type Controller struct {
	registry *registry.Registry
	factory  wa.Factory
	qr       *qr.Provisioner
	bus      *bus.Bus
	layout   session.Layout
	logger   *zap.Logger

	sink Sink

	inits         singleflight.Group
	initTimeout   time.Duration
	detachTimeout time.Duration
}

// Sink persists what the transport reports about messages. It is called
// synchronously from the session's event task.
type Sink interface {
	ApplyReceipt(ctx context.Context, r wa.SessionReceipt) ([]string, error)
	IngestMessage(ctx context.Context, m wa.SessionMessage) error
}

// SetSink routes receipts and inbound messages to sink. Call it before
// any session is initialized.
func (c *Controller) SetSink(sink Sink) {
	c.sink = sink
}

// New creates a controller.
func New(reg *registry.Registry, factory wa.Factory, prov *qr.Provisioner, b *bus.Bus, layout session.Layout, logger *zap.Logger) *Controller {
	return &Controller{
		registry:      reg,
		factory:       factory,
		qr:            prov,
		bus:           b,
		layout:        layout,
		logger:        logger,
		initTimeout:   defaultInitTimeout,
		detachTimeout: defaultDetachTimeout,
	}
}

// GetOrCreateClient returns the session if it is ready, and otherwise
// initializes it. The returned session may still be awaiting a scan.
func (c *Controller) GetOrCreateClient(ctx context.Context, id string) (*registry.Session, error) {
	if s, ok := c.registry.Get(id); ok && s.State() == status.Ready && s.Client() != nil {
		return s, nil
	}
	return c.Initialize(ctx, id)
}

// RequireReady resolves the session and fails with *SessionNotReadyError
// unless it can send.
func (c *Controller) RequireReady(ctx context.Context, id string) (*registry.Session, error) {
	s, err := c.GetOrCreateClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if st := s.State(); st != status.Ready || s.Client() == nil {
		return nil, &SessionNotReadyError{SessionID: id, State: st}
	}
	return s, nil
}

// Initialize starts the session's transport. Concurrent calls for one id
// share a single construction. An existing session is returned as is,
// except a disconnected one, which is rebuilt.
func (c *Controller) Initialize(ctx context.Context, id string) (*registry.Session, error) {
	if err := session.Validate(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	if s, ok := c.registry.Get(id); ok {
		if s.State() != status.Disconnected {
			if s.Client() != nil {
				return s, nil
			}
		} else {
			c.logger.Info("rebuilding disconnected session", zap.String("session", id))
			c.teardown(ctx, s)
		}
	}

	v, err, _ := c.inits.Do(id, func() (any, error) {
		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.initTimeout)
		defer cancel()
		return c.initialize(initCtx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*registry.Session), nil
}

func (c *Controller) initialize(ctx context.Context, id string) (*registry.Session, error) {
	s := registry.NewSession(id, c.bus)
	if existing, inserted := c.registry.PutIfAbsent(id, s); !inserted {
		return existing, nil
	}
	metrics.SessionAdded(string(status.Uninitialized))
	c.transition(s, status.Initializing)

	log := c.logger.With(zap.String("session", id))
	log.Info("initializing session")

	client, err := c.factory.NewClient(ctx, id)
	if err != nil {
		c.discard(s)
		metrics.SessionInitFailed()
		log.Error("failed to build transport", zap.Error(err))
		return nil, &InitializationError{SessionID: id, Err: err}
	}

	// The event task is attached before Connect so no event is missed.
	taskCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.Attach(client, cancel, done)
	go c.consume(taskCtx, s, client.Events(), done)

	if err := client.Connect(ctx); err != nil {
		c.teardown(ctx, s)
		metrics.SessionInitFailed()
		log.Error("failed to connect transport", zap.Error(err))
		return nil, &InitializationError{SessionID: id, Err: err}
	}

	// A disconnect may have raced the construction.
	if current, ok := c.registry.Get(id); !ok || current != s {
		if cl := s.Detach(ctx); cl != nil {
			cl.Disconnect()
		}
		// The orphaned task may have provisioned a code after the
		// disconnect forgot it. A replacement session owns its own code.
		if !ok {
			c.qr.Forget(ctx, id)
		}
		return nil, &InitializationError{SessionID: id, Err: errors.New("session disconnected during initialization")}
	}
	return s, nil
}

func (c *Controller) consume(ctx context.Context, s *registry.Session, events <-chan wa.Event, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.safeApply(ctx, s, evt)
		}
	}
}

// safeApply keeps a failing handler from taking down the session's task.
func (c *Controller) safeApply(ctx context.Context, s *registry.Session, evt wa.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session event handler panicked",
				zap.String("session", s.ID), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	c.apply(ctx, s, evt)
}

func (c *Controller) apply(ctx context.Context, s *registry.Session, evt wa.Event) {
	log := c.logger.With(zap.String("session", s.ID))
	switch e := evt.(type) {
	case wa.PairingCode:
		path, err := c.qr.OnPairingCode(ctx, s.ID, e.Code)
		if err != nil {
			log.Error("failed to provision qr code", zap.Error(err))
			return
		}
		if !c.transition(s, status.AwaitingScan) {
			c.qr.Settle(s.ID)
			return
		}
		s.SetQRPath(path)
	case wa.Authenticated:
		log.Info("session authenticated", zap.String("phone", e.PhoneNumber))
	case wa.Ready:
		if c.transition(s, status.Ready) {
			s.SetFailure("")
		}
	case wa.AuthFailure:
		log.Warn("session authentication failed", zap.String("reason", e.Reason))
		if c.transition(s, status.AuthFailed) {
			s.SetFailure(e.Reason)
		}
	case wa.Disconnected:
		log.Warn("session disconnected", zap.String("reason", e.Reason))
		c.transition(s, status.Disconnected)
	case wa.Receipt:
		if c.sink == nil {
			log.Debug("no sink for receipt", zap.Strings("provider_ids", e.ProviderIDs))
			return
		}
		// Committed even when the session is being torn down.
		if _, err := c.sink.ApplyReceipt(context.WithoutCancel(ctx), wa.SessionReceipt{SessionID: s.ID, Receipt: e}); err != nil {
			log.Error("failed to apply receipt", zap.Error(err), zap.Strings("provider_ids", e.ProviderIDs))
		}
	case wa.InboundMessage:
		if c.sink == nil {
			log.Debug("no sink for inbound message", zap.String("provider_id", e.ProviderID))
			return
		}
		if err := c.sink.IngestMessage(context.WithoutCancel(ctx), wa.SessionMessage{SessionID: s.ID, InboundMessage: e}); err != nil {
			log.Error("failed to ingest message", zap.Error(err), zap.String("provider_id", e.ProviderID))
		}
	default:
		log.Debug("ignoring transport event", zap.String("type", fmt.Sprintf("%T", evt)))
	}
}

// transition applies a state change, logging and dropping invalid ones.
// Leaving awaiting_scan retires the pending QR artifact.
func (c *Controller) transition(s *registry.Session, to status.State) bool {
	from := s.State()
	if err := s.Machine.Transition(to); err != nil {
		metrics.SessionTransition(string(from), string(to), false)
		c.logger.Warn("ignoring unexpected session transition",
			zap.String("session", s.ID), zap.Error(err))
		return false
	}
	metrics.SessionTransition(string(from), string(to), true)
	c.logger.Info("session state changed",
		zap.String("session", s.ID), zap.String("from", string(from)), zap.String("to", string(to)))
	if from == status.AwaitingScan && to != status.AwaitingScan {
		s.SetQRPath("")
		c.qr.Settle(s.ID)
	}
	return true
}

// discard unregisters s without touching its transport.
func (c *Controller) discard(s *registry.Session) {
	if c.registry.RemoveIf(s.ID, s) {
		metrics.SessionRemoved(string(s.State()))
		c.bus.Emit(bus.KindSessionRemoved, bus.SessionRemoved{SessionID: s.ID})
	}
}

// teardown unregisters s, stops its event task and closes its transport.
// Cached credentials are kept.
func (c *Controller) teardown(ctx context.Context, s *registry.Session) {
	c.discard(s)
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.detachTimeout)
	defer cancel()
	if client := s.Detach(dctx); client != nil {
		client.Disconnect()
	}
}

// IsConnected reports whether the session is ready to send.
func (c *Controller) IsConnected(id string) bool {
	s, ok := c.registry.Get(id)
	return ok && s.State() == status.Ready
}

// Disconnect tears down the session and deletes its QR artifact. It
// reports false when no session was registered under id.
func (c *Controller) Disconnect(ctx context.Context, id string) bool {
	s, ok := c.registry.Get(id)
	if !ok {
		return false
	}
	c.teardown(ctx, s)
	c.qr.Forget(ctx, id)
	c.logger.Info("session disconnected on request", zap.String("session", id))
	return true
}

// Reset logs the session out, tears it down and wipes its cached
// credentials so the next initialization asks for a fresh scan. A failed
// logout is returned as *DisconnectError after the wipe completed.
func (c *Controller) Reset(ctx context.Context, id string) (bool, error) {
	if err := session.Validate(id); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	var logoutErr error
	s, existed := c.registry.Get(id)
	if existed {
		if client := s.Client(); client != nil {
			if err := client.Logout(ctx); err != nil {
				logoutErr = &DisconnectError{SessionID: id, Err: err}
			}
		}
		c.teardown(ctx, s)
	}
	c.qr.Forget(ctx, id)
	if err := c.layout.RemoveCredentials(id); err != nil {
		return existed, fmt.Errorf("remove credentials of %s: %w", id, err)
	}
	c.logger.Info("session reset", zap.String("session", id), zap.Bool("was_registered", existed))
	return existed, logoutErr
}

// Sessions lists every registered session.
func (c *Controller) Sessions() []registry.Info {
	return c.registry.Snapshot()
}

// Status returns the view of one session.
func (c *Controller) Status(id string) (registry.Info, bool) {
	s, ok := c.registry.Get(id)
	if !ok {
		return registry.Info{}, false
	}
	return s.Info(), true
}

// Restore initializes sessions that have cached credentials. Failures are
// logged and do not stop the remaining sessions; a cancelled ctx does.
func (c *Controller) Restore(ctx context.Context, ids []string) int {
	restored := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := c.Initialize(ctx, id); err != nil {
			c.logger.Warn("failed to restore session", zap.String("session", id), zap.Error(err))
			continue
		}
		restored++
	}
	return restored
}

// Shutdown disconnects every session concurrently, keeping credentials.
func (c *Controller) Shutdown(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range c.registry.All() {
		g.Go(func() error {
			c.teardown(gctx, s)
			return nil
		})
	}
	return g.Wait()
}
