package gateway

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hubescolar/whatsapp/internal/store"
)

// MaxCandidates bounds the partial-id diagnostic.
const MaxCandidates = 5

// MessageStatus returns the record with exactly id, or store.ErrNotFound.
func (g *Gateway) MessageStatus(ctx context.Context, id string) (*store.Message, error) {
	m, err := g.store.GetMessage(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		g.logger.Error("failed to look up message", zap.String("message_id", id), zap.Error(err))
		return nil, store.ErrNotFound
	}
	return m, err
}

// PartialIDCandidates lists up to MaxCandidates records whose id contains
// fragment. Operators use it to recover a truncated id; it is never a
// substitute for MessageStatus.
func (g *Gateway) PartialIDCandidates(ctx context.Context, fragment string) ([]store.Message, error) {
	msgs, err := g.store.SearchByPartialID(ctx, fragment, MaxCandidates)
	if err != nil {
		g.logger.Error("failed to search messages by partial id", zap.String("fragment", fragment), zap.Error(err))
		return nil, nil
	}
	return msgs, nil
}

// BatchResult splits a batch lookup into known and unknown ids.
type BatchResult struct {
	Found    map[string]store.Message
	NotFound []string
}

// BatchStatus looks up ids in one query. Duplicate ids are reported once.
func (g *Gateway) BatchStatus(ctx context.Context, ids []string) (*BatchResult, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	res := &BatchResult{Found: make(map[string]store.Message, len(unique)), NotFound: []string{}}
	msgs, err := g.store.GetMessages(ctx, unique)
	if err != nil {
		g.logger.Error("failed to look up message batch", zap.Int("count", len(unique)), zap.Error(err))
	}
	for _, m := range msgs {
		res.Found[m.ID] = m
	}
	for _, id := range unique {
		if _, ok := res.Found[id]; !ok {
			res.NotFound = append(res.NotFound, id)
		}
	}
	return res, nil
}

// ListMessages returns at most store.MaxListLimit records, newest first.
func (g *Gateway) ListMessages(ctx context.Context, f store.ListFilter) ([]store.Message, error) {
	if f.Phone != "" {
		if phone, err := NormalizePhone(f.Phone); err == nil {
			f.Phone = phone
		}
	}
	return g.store.ListMessages(ctx, f)
}
