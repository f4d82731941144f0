package gateway

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BulkItem is the outcome of one recipient of a bulk send.
type BulkItem struct {
	Phone  string
	Result *SendResult
	Err    error
}

// BulkResult aggregates a bulk send.
type BulkResult struct {
	Items  []BulkItem
	Sent   int
	Failed int
}

// SendBulk sends body to every recipient in order, pacing sends by the
// configured bulk interval. A failure does not stop the remaining
// recipients; a cancelled ctx does.
func (g *Gateway) SendBulk(ctx context.Context, recipients []string, body string, opts SendOptions) (*BulkResult, error) {
	if len(recipients) == 0 {
		return nil, &ValidationError{Field: "phones", Reason: "at least one recipient is required"}
	}
	if err := ValidateBody(body, g.cfg.MaxLength); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if g.cfg.BulkInterval > 0 {
		limit = rate.Every(g.cfg.BulkInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	res := &BulkResult{Items: make([]BulkItem, 0, len(recipients))}
	for _, phone := range recipients {
		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}
		out, err := g.SendMessage(ctx, phone, body, opts)
		res.Items = append(res.Items, BulkItem{Phone: phone, Result: out, Err: err})
		if err != nil {
			res.Failed++
			var verr *ValidationError
			if !errors.As(err, &verr) {
				g.logger.Warn("bulk send failed for recipient", zap.String("phone", phone), zap.Error(err))
			}
			continue
		}
		res.Sent++
	}
	g.logger.Info("bulk send finished",
		zap.Int("recipients", len(recipients)), zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return res, nil
}
