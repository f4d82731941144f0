// Package gateway validates, dispatches and records outbound messages.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hubescolar/whatsapp/internal/bus"
	"github.com/hubescolar/whatsapp/internal/config"
	"github.com/hubescolar/whatsapp/internal/metrics"
	"github.com/hubescolar/whatsapp/internal/registry"
	"github.com/hubescolar/whatsapp/internal/session"
	"github.com/hubescolar/whatsapp/internal/store"
)

// Store is the part of the message store the gateway writes and reads.
type Store interface {
	InsertMessage(ctx context.Context, m *store.Message) error
	MarkSent(ctx context.Context, id, providerID string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	GetMessages(ctx context.Context, ids []string) ([]store.Message, error)
	ListMessages(ctx context.Context, f store.ListFilter) ([]store.Message, error)
	SearchByPartialID(ctx context.Context, fragment string, limit int) ([]store.Message, error)
}

// Sessions resolves a session that can send right now.
type Sessions interface {
	RequireReady(ctx context.Context, id string) (*registry.Session, error)
}

// SendOptions carries the optional attributes of a send.
type SendOptions struct {
	SessionID  string
	SenderID   string
	SenderName string
	Metadata   map[string]string
}

// SendResult is returned for a message the transport accepted.
type SendResult struct {
	MessageID  string
	SessionID  string
	Phone      string
	Status     store.Status
	ProviderID string
	Timestamp  time.Time
}

// Gateway sends text messages through ready sessions. Every send that
// reaches the transport leaves exactly one record, sent or failed.
type Gateway struct {
	store          Store
	sessions       Sessions
	bus            *bus.Bus
	cfg            config.MessagesConfig
	defaultSession string
	logger         *zap.Logger
	newID          func() string
}

// New creates a gateway.
// defaultSession is used when a send names no session.
func New(st Store, sessions Sessions, b *bus.Bus, cfg config.MessagesConfig, defaultSession string, logger *zap.Logger) *Gateway {
	return &Gateway{
		store:          st,
		sessions:       sessions,
		bus:            b,
		cfg:            cfg,
		defaultSession: defaultSession,
		logger:         logger,
		newID:          uuid.NewString,
	}
}

// SendMessage validates the request, requires a ready session, records a
// pending message and dispatches it. A transport failure is recorded and
// returned as *SendError.
func (g *Gateway) SendMessage(ctx context.Context, phone, body string, opts SendOptions) (*SendResult, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		metrics.MessageSent("rejected", 0)
		return nil, err
	}
	if err := ValidateBody(body, g.cfg.MaxLength); err != nil {
		metrics.MessageSent("rejected", 0)
		return nil, err
	}

	s, err := g.sessions.RequireReady(ctx, session.Resolve(opts.SessionID, g.defaultSession))
	if err != nil {
		metrics.MessageSent("not_ready", 0)
		return nil, err
	}
	client := s.Client()
	if client == nil {
		metrics.MessageSent("not_ready", 0)
		return nil, fmt.Errorf("session %s lost its transport", s.ID)
	}

	msg := &store.Message{
		ID:        g.newID(),
		SessionID: s.ID,
		Phone:     normalized,
		Body:      body,
		Direction: store.Outgoing,
		Status:    store.StatusPending,
		Metadata:  buildMetadata(opts),
	}
	if err := g.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("record message: %w", err)
	}
	log := g.logger.With(zap.String("session", s.ID), zap.String("message_id", msg.ID))

	started := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, g.cfg.SendTimeout)
	receipt, sendErr := client.SendText(sendCtx, normalized, body)
	timedOut := errors.Is(sendCtx.Err(), context.DeadlineExceeded)
	cancel()
	took := time.Since(started)

	// The outcome is recorded even when the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)

	if sendErr != nil {
		cause := sendErr
		outcome := "failed"
		if timedOut {
			cause = &SendTimeoutError{Timeout: g.cfg.SendTimeout}
			outcome = "timeout"
		}
		moved, err := g.store.MarkFailed(persistCtx, msg.ID, cause.Error())
		if err != nil {
			log.Error("failed to record send failure", zap.Error(err))
		}
		metrics.MessageSent(outcome, took)
		if moved {
			g.publish(msg.ID, s.ID, store.StatusFailed)
		}
		log.Warn("message send failed", zap.Error(sendErr), zap.Duration("took", took))
		return nil, &SendError{MessageID: msg.ID, Err: cause}
	}

	moved, err := g.store.MarkSent(persistCtx, msg.ID, receipt.ProviderID)
	switch {
	case err != nil:
		log.Error("failed to record sent message", zap.Error(err), zap.String("provider_id", receipt.ProviderID))
	case !moved:
		// Already past pending, e.g. failed by the reaper.
		log.Warn("sent message record did not move", zap.String("provider_id", receipt.ProviderID))
	default:
		g.publish(msg.ID, s.ID, store.StatusSent)
	}
	metrics.MessageSent("sent", took)
	log.Info("message sent", zap.String("provider_id", receipt.ProviderID), zap.Duration("took", took))

	ts := receipt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &SendResult{
		MessageID:  msg.ID,
		SessionID:  s.ID,
		Phone:      normalized,
		Status:     store.StatusSent,
		ProviderID: receipt.ProviderID,
		Timestamp:  ts,
	}, nil
}

func (g *Gateway) publish(messageID, sessionID string, st store.Status) {
	g.bus.Emit(bus.KindMessageStatus, bus.MessageStatus{
		MessageID: messageID,
		SessionID: sessionID,
		Status:    string(st),
		At:        time.Now(),
	})
}

func buildMetadata(opts SendOptions) store.Metadata {
	meta := make(store.Metadata, len(opts.Metadata)+2)
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	if opts.SenderID != "" {
		meta["senderId"] = opts.SenderID
	}
	if opts.SenderName != "" {
		meta["senderName"] = opts.SenderName
	}
	return meta
}
