package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/hubescolar/whatsapp/internal/metrics"
)

type clientMessage struct {
	Type       string   `json:"type"`
	MessageIDs []string `json:"messageIds"`
}

type subscribedMessage struct {
	Type       string   `json:"type"`
	MessageIDs []string `json:"messageIds"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServeWS upgrades the request to a websocket and serves one observer
// until either side closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.opts.OriginPatterns,
		InsecureSkipVerify: len(h.opts.OriginPatterns) == 0,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	o := NewObserver(h.opts.Queue)
	h.mu.Lock()
	h.byObs[o] = make(map[string]struct{})
	h.mu.Unlock()
	metrics.ObserverConnected()
	h.logger.Info("push observer connected", zap.String("remote", r.RemoteAddr))
	defer func() {
		h.Remove(o)
		metrics.ObserverDisconnected()
		h.logger.Info("push observer disconnected", zap.String("remote", r.RemoteAddr))
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		h.readLoop(ctx, conn, o)
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case n, ok := <-o.C():
			if !ok {
				return
			}
			if err := h.write(ctx, conn, n); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, o *Observer) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug("push observer read failed", zap.Error(err))
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("invalid push channel message", zap.Error(err))
			_ = h.write(ctx, conn, errorMessage{Type: "error", Message: "invalid JSON"})
			continue
		}
		switch msg.Type {
		case "subscribe":
			accepted := h.Subscribe(o, msg.MessageIDs)
			h.logger.Debug("push observer subscribed", zap.Strings("message_ids", accepted))
			if err := h.write(ctx, conn, subscribedMessage{Type: "subscribed", MessageIDs: accepted}); err != nil {
				return
			}
		default:
			_ = h.write(ctx, conn, errorMessage{Type: "error", Message: "unknown message type"})
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, v any) error {
	wctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, v)
}
