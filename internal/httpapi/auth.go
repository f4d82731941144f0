package httpapi

import (
	"context"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hubescolar/whatsapp/internal/lifecycle"
	"github.com/hubescolar/whatsapp/internal/session"
	"github.com/hubescolar/whatsapp/internal/status"
)

const qrUnavailable = "QR code not available"

// sessionID resolves the session named by the request, falling back to
// the configured default, and validates it.
func (s *Server) sessionID(requested string) (string, error) {
	id := session.Resolve(requested, s.cfg.DefaultSession)
	if err := session.Validate(id); err != nil {
		return "", errors.Wrap(lifecycle.ErrInvalidSessionID, err.Error())
	}
	return id, nil
}

// getQRCode initializes the session if needed and returns its pending
// pairing code as a PNG, or as raw text with format=text.
func (s *Server) getQRCode(c echo.Context) error {
	id, err := s.sessionID(c.QueryParam("sessionId"))
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.sessions.Initialize(ctx, id); err != nil {
		return errors.Wrap(err, "initialize session for qr code")
	}
	s.awaitPairingCode(ctx, id)

	if c.QueryParam("format") == "text" {
		code, ok := s.qr.RawCode(id)
		if !ok {
			return c.String(http.StatusNotFound, qrUnavailable)
		}
		return c.String(http.StatusOK, code)
	}

	rc, err := s.qr.ArtifactStream(ctx, id)
	if err != nil {
		s.logger.Debug("qr artifact unavailable", zap.String("session", id), zap.Error(err))
		return c.String(http.StatusNotFound, qrUnavailable)
	}
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.Stream(http.StatusOK, "image/png", rc)
}

// awaitPairingCode gives a freshly started session a moment to produce
// its first code.
func (s *Server) awaitPairingCode(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, s.qrWait)
	defer cancel()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		info, ok := s.sessions.Status(id)
		if !ok || info.State != status.Initializing {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (s *Server) authStatus(c echo.Context) error {
	id, err := s.sessionID(c.QueryParam("sessionId"))
	if err != nil {
		return err
	}
	resp := map[string]any{
		"success":     true,
		"connected":   false,
		"phoneNumber": nil,
		"status":      string(status.Uninitialized),
		"sessionId":   id,
		"timestamp":   time.Now().UTC(),
	}
	if info, ok := s.sessions.Status(id); ok {
		resp["connected"] = info.IsReady
		resp["phoneNumber"] = optional(info.PhoneNumber)
		resp["status"] = string(info.State)
		if info.Failure != "" {
			resp["failure"] = info.Failure
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) disconnect(c echo.Context) error {
	var req sessionRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	id, err := s.sessionID(string(req.SessionID))
	if err != nil {
		return err
	}
	msg := "Session disconnected"
	if !s.sessions.Disconnect(c.Request().Context(), id) {
		msg = "Session was not active"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"message":   msg,
		"sessionId": id,
	})
}

func (s *Server) reset(c echo.Context) error {
	var req sessionRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	id, err := s.sessionID(string(req.SessionID))
	if err != nil {
		return err
	}
	if _, err := s.sessions.Reset(c.Request().Context(), id); err != nil {
		var disconnErr *lifecycle.DisconnectError
		if !errors.As(err, &disconnErr) {
			return errors.Wrap(err, "reset session")
		}
		s.logger.Warn("logout failed during reset", zap.String("session", id), zap.Error(err))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Session reset; scan a new QR code to reconnect",
		"sessionId": id,
	})
}

func (s *Server) listSessions(c echo.Context) error {
	infos := s.sessions.Sessions()
	data := make([]sessionDTO, 0, len(infos))
	for _, info := range infos {
		data = append(data, toSessionDTO(info))
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "data": data})
}

// bindOptional binds a JSON body that may be absent.
func bindOptional(c echo.Context, v any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := c.Bind(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

var connectTemplate = template.Must(template.New("connect").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Connect WhatsApp</title>
<style>
body { font-family: sans-serif; max-width: 420px; margin: 40px auto; text-align: center; }
img { width: 300px; height: 300px; border: 1px solid #ddd; }
#status { margin-top: 12px; color: #555; }
</style>
</head>
<body>
<h2>Connect WhatsApp</h2>
<p>Session <strong>{{.SessionID}}</strong></p>
<img id="qr" alt="QR code">
<div id="status">Loading...</div>
<script>
const base = {{.BasePath}};
const session = encodeURIComponent({{.SessionID}});
async function refresh() {
  const res = await fetch(base + "/auth/status?sessionId=" + session);
  const body = await res.json();
  const el = document.getElementById("status");
  if (body.connected) {
    el.textContent = "Connected as " + (body.phoneNumber || "unknown");
    document.getElementById("qr").style.display = "none";
    return;
  }
  el.textContent = "Status: " + body.status;
  document.getElementById("qr").src = base + "/auth/qrcode?sessionId=" + session + "&t=" + Date.now();
  setTimeout(refresh, 5000);
}
refresh();
</script>
</body>
</html>
`))

// connectPage serves a small page that polls the session and shows its
// QR code until it connects.
func (s *Server) connectPage(c echo.Context) error {
	id, err := s.sessionID(c.QueryParam("sessionId"))
	if err != nil {
		return err
	}
	var b strings.Builder
	err = connectTemplate.Execute(&b, struct {
		SessionID string
		BasePath  string
	}{id, strings.TrimSuffix(s.cfg.HTTP.BasePath, "/")})
	if err != nil {
		return errors.Wrap(err, "render connect page")
	}
	return c.HTML(http.StatusOK, b.String())
}
