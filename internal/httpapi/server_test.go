package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hubescolar/whatsapp/internal/bus"
	"github.com/hubescolar/whatsapp/internal/config"
	"github.com/hubescolar/whatsapp/internal/fanout"
	"github.com/hubescolar/whatsapp/internal/gateway"
	"github.com/hubescolar/whatsapp/internal/lifecycle"
	"github.com/hubescolar/whatsapp/internal/qr"
	"github.com/hubescolar/whatsapp/internal/registry"
	"github.com/hubescolar/whatsapp/internal/session"
	"github.com/hubescolar/whatsapp/internal/status"
	"github.com/hubescolar/whatsapp/internal/store"
	"github.com/hubescolar/whatsapp/internal/wa"
	"github.com/hubescolar/whatsapp/internal/wa/watest"
)

type fixture struct {
	srv     *Server
	db      *store.DB
	ctrl    *lifecycle.Controller
	prov    *qr.Provisioner
	factory *watest.Factory
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Messages.BulkInterval = time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	db, err := store.OpenSQLite(filepath.Join(cfg.DataDir, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	layout := session.NewLayout(cfg.DataDir)
	b := bus.New()
	factory := watest.NewFactory()
	prov := qr.NewProvisioner(qr.NewFileStore(layout.QRDir()), 64, zap.NewNop())
	ctrl := lifecycle.New(registry.New(), factory, prov, b, layout, zap.NewNop())
	t.Cleanup(func() { _ = ctrl.Shutdown(context.Background()) })

	srv := New(Deps{
		Config:   cfg,
		Sessions: ctrl,
		Gateway:  gateway.New(db, ctrl, b, cfg.Messages, cfg.DefaultSession, zap.NewNop()),
		QR:       prov,
		Hub:      fanout.NewHub(b, fanout.Options{}, zap.NewNop()),
		Stats:    db,
		Logger:   zap.NewNop(),
	})
	srv.qrWait = 20 * time.Millisecond
	return &fixture{srv: srv, db: db, ctrl: ctrl, prov: prov, factory: factory}
}

func (f *fixture) do(t *testing.T, method, target string, body any, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, target, err, rec.Body.String())
		}
	}
	return rec, out
}

func (f *fixture) ready(t *testing.T, id string) *watest.Client {
	t.Helper()
	s, err := f.ctrl.Initialize(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	client := f.factory.Client(id)
	client.SetPhone("5585999990000")
	client.Emit(wa.Ready{})
	waitFor(t, func() bool { return s.State() == status.Ready })
	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, nil)
	client := f.ready(t, "default")

	rec, body := f.do(t, http.MethodPost, "/messages/send", map[string]any{
		"phone":    "+55 (85) 99999-1234",
		"message":  "Reunião de pais amanhã",
		"userId":   42,
		"userName": "Secretaria",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body["success"] != true || body["status"] != "sent" {
		t.Errorf("body = %v", body)
	}
	id, _ := body["messageId"].(string)
	m, err := f.db.GetMessage(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Phone != "5585999991234" || m.Metadata["senderId"] != "42" {
		t.Errorf("record = %+v", m)
	}
	if sent := client.Sent(); len(sent) != 1 || sent[0].Phone != "5585999991234" {
		t.Errorf("transport sends = %v", sent)
	}
}

func TestSendMessageNumericSessionID(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t, "7")

	rec, body := f.do(t, http.MethodPost, "/messages/send", map[string]any{
		"phone":     "5585999991234",
		"message":   "oi",
		"sessionId": 7,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	m, err := f.db.GetMessage(context.Background(), body["messageId"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if m.SessionID != "7" {
		t.Errorf("SessionID = %q, want 7", m.SessionID)
	}
}

func TestSendMessageRejections(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode int
		wantMsg  string
	}{
		{"missing phone", map[string]any{"message": "oi"}, http.StatusBadRequest, "phone is required"},
		{"missing message", map[string]any{"phone": "5585999991234"}, http.StatusBadRequest, "message is required"},
		{"bad phone", map[string]any{"phone": "123", "message": "oi"}, http.StatusBadRequest, "invalid phone"},
		{"blank message", map[string]any{"phone": "5585999991234", "message": "   "}, http.StatusBadRequest, "invalid message"},
		{"bad session id", map[string]any{"phone": "5585999991234", "message": "oi", "sessionId": "a/b"}, http.StatusBadRequest, "invalid sessionId"},
		{"not ready", map[string]any{"phone": "5585999991234", "message": "oi"}, http.StatusServiceUnavailable, "not ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec, body := f.do(t, http.MethodPost, "/messages/send", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%v)", rec.Code, tt.wantCode, body)
			}
			if body["success"] != false {
				t.Errorf("success = %v, want false", body["success"])
			}
			if msg, _ := body["message"].(string); !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", msg, tt.wantMsg)
			}
			msgs, _ := f.db.ListMessages(context.Background(), store.ListFilter{})
			if len(msgs) != 0 {
				t.Errorf("%d records written for a rejected send", len(msgs))
			}
		})
	}
}

func TestSendMessageTransportFailure(t *testing.T) {
	for _, env := range []string{"development", config.EnvProduction} {
		t.Run(env, func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) { c.Env = env })
			client := f.ready(t, "default")
			client.OnSend(func(context.Context, string, string) (wa.SendReceipt, error) {
				return wa.SendReceipt{}, errors.New("socket closed")
			})

			rec, body := f.do(t, http.MethodPost, "/messages/send", map[string]any{
				"phone": "5585999991234", "message": "oi",
			})
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			if body["message"] != "Error sending message" {
				t.Errorf("message = %v", body["message"])
			}
			_, hasDetail := body["error"]
			if hasDetail == (env == config.EnvProduction) {
				t.Errorf("error detail present = %v in %s", hasDetail, env)
			}
			msgs, _ := f.db.ListMessages(context.Background(), store.ListFilter{})
			if len(msgs) != 1 || msgs[0].Status != store.StatusFailed {
				t.Errorf("records = %+v, want one failed", msgs)
			}
		})
	}
}

func TestSendBulk(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t, "default")

	rec, body := f.do(t, http.MethodPost, "/messages/send/bulk", map[string]any{
		"phones":  []string{"5585999991111", "nope", "5585999992222"},
		"message": "Aviso",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	if body["totalSent"] != float64(2) || body["totalFailed"] != float64(1) {
		t.Errorf("totals = %v/%v, want 2/1", body["totalSent"], body["totalFailed"])
	}
	if errs, _ := body["errors"].([]any); len(errs) != 1 {
		t.Errorf("errors = %v", body["errors"])
	}
}

func TestMessageStatusLookups(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t, "default")
	_, sent := f.do(t, http.MethodPost, "/messages/send", map[string]any{"phone": "5585999991234", "message": "oi"})
	id := sent["messageId"].(string)

	rec, body := f.do(t, http.MethodGet, "/messages/status/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("exact lookup status = %d", rec.Code)
	}
	if data := body["data"].(map[string]any); data["id"] != id || data["status"] != "sent" {
		t.Errorf("data = %v", data)
	}

	// A truncated id never resolves through the exact lookup.
	rec, body = f.do(t, http.MethodGet, "/messages/status/"+id[:8], nil)
	if rec.Code != http.StatusNotFound || body["message"] != "Message not found" {
		t.Errorf("truncated lookup = %d %v, want 404", rec.Code, body)
	}

	rec, body = f.do(t, http.MethodGet, "/messages/status/"+id[:8]+"?match=partial", nil)
	if rec.Code != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("partial lookup = %d %v", rec.Code, body)
	}
}

func TestBatchStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t, "default")
	_, sent := f.do(t, http.MethodPost, "/messages/send", map[string]any{"phone": "5585999991234", "message": "oi"})
	id := sent["messageId"].(string)

	rec, body := f.do(t, http.MethodPost, "/messages/status/batch", map[string]any{
		"messageIds": []any{id, "missing", id},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, body)
	}
	results := body["results"].(map[string]any)
	if _, ok := results[id]; !ok || body["count"] != float64(1) {
		t.Errorf("results = %v", results)
	}
	if nf := body["notFound"].([]any); len(nf) != 1 || nf[0] != "missing" {
		t.Errorf("notFound = %v", nf)
	}

	rec, _ = f.do(t, http.MethodPost, "/messages/status/batch", map[string]any{"messageIds": []string{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", rec.Code)
	}
}

func TestListMessages(t *testing.T) {
	f := newFixture(t, nil)
	f.ready(t, "default")
	for _, phone := range []string{"5585999991111", "5585999992222", "5585999991111"} {
		f.do(t, http.MethodPost, "/messages/send", map[string]any{"phone": phone, "message": "oi"})
	}
	rec, body := f.do(t, http.MethodGet, "/messages?phone=%2B5585999991111", nil)
	if rec.Code != http.StatusOK || body["count"] != float64(2) {
		t.Errorf("list = %d %v", rec.Code, body)
	}
	rec, _ = f.do(t, http.MethodGet, "/messages?limit=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

func TestAPIToken(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.HTTP.APIToken = "s3cret" })

	rec, _ := f.do(t, http.MethodGet, "/messages", nil)
	if rec.Code == http.StatusOK {
		t.Error("request without token succeeded")
	}
	rec, _ = f.do(t, http.MethodGet, "/messages", nil, "Authorization", "Bearer wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", rec.Code)
	}
	rec, _ = f.do(t, http.MethodGet, "/messages", nil, "Authorization", "Bearer s3cret")
	if rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", rec.Code)
	}
	// Auth routes stay open.
	rec, _ = f.do(t, http.MethodGet, "/auth/status", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("auth status = %d, want 200", rec.Code)
	}
}

func TestAuthStatus(t *testing.T) {
	f := newFixture(t, nil)

	_, body := f.do(t, http.MethodGet, "/auth/status?sessionId=abc", nil)
	if body["status"] != "uninitialized" || body["connected"] != false || body["phoneNumber"] != nil {
		t.Errorf("absent session = %v", body)
	}
	if f.factory.Created() != 0 {
		t.Error("status lookup initialized a session")
	}

	f.ready(t, "abc")
	_, body = f.do(t, http.MethodGet, "/auth/status?sessionId=abc", nil)
	if body["status"] != "ready" || body["connected"] != true || body["phoneNumber"] != "5585999990000" {
		t.Errorf("ready session = %v", body)
	}

	rec, _ := f.do(t, http.MethodGet, "/auth/status?sessionId=../etc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d, want 400", rec.Code)
	}
}

func TestQRCode(t *testing.T) {
	f := newFixture(t, nil)

	rec, _ := f.do(t, http.MethodGet, "/auth/qrcode?sessionId=s1", nil)
	if rec.Code != http.StatusNotFound || rec.Body.String() != qrUnavailable {
		t.Fatalf("before pairing = %d %q", rec.Code, rec.Body.String())
	}
	if f.factory.Created() != 1 {
		t.Errorf("Created = %d, want the qr request to initialize the session", f.factory.Created())
	}

	f.factory.Client("s1").Emit(wa.PairingCode{Code: "2@pairing", Timeout: time.Minute})
	waitFor(t, func() bool { _, ok := f.prov.RawCode("s1"); return ok })

	rec, _ = f.do(t, http.MethodGet, "/auth/qrcode?sessionId=s1", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("png = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}

	rec, _ = f.do(t, http.MethodGet, "/auth/qrcode?sessionId=s1&format=text", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "2@pairing" {
		t.Errorf("text = %d %q", rec.Code, rec.Body.String())
	}

	f.factory.Client("s1").Emit(wa.Ready{})
	waitFor(t, func() bool { return f.ctrl.IsConnected("s1") })
	rec, _ = f.do(t, http.MethodGet, "/auth/qrcode?sessionId=s1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("after ready status = %d, want 404", rec.Code)
	}
}

func TestDisconnectAndReset(t *testing.T) {
	f := newFixture(t, nil)

	_, body := f.do(t, http.MethodPost, "/auth/disconnect", map[string]any{"sessionId": "s1"})
	if body["success"] != true || body["message"] != "Session was not active" {
		t.Errorf("absent disconnect = %v", body)
	}

	client := f.ready(t, "s1")
	_, body = f.do(t, http.MethodPost, "/auth/disconnect", map[string]any{"sessionId": "s1"})
	if body["message"] != "Session disconnected" || body["sessionId"] != "s1" {
		t.Errorf("disconnect = %v", body)
	}
	if client.Disconnects() == 0 {
		t.Error("transport not disconnected")
	}

	client = f.ready(t, "s1")
	client.FailLogout(errors.New("already logged out"))
	rec, body := f.do(t, http.MethodPost, "/auth/reset", map[string]any{"sessionId": "s1"})
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Errorf("reset with failed logout = %d %v, want success", rec.Code, body)
	}
	if _, ok := f.ctrl.Status("s1"); ok {
		t.Error("session still registered after reset")
	}
}

func TestListSessionsAndServiceStatus(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.HTTP.BasePath = "/whatsapp/" })
	f.ready(t, "a")
	if _, err := f.ctrl.Initialize(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}

	rec, body := f.do(t, http.MethodGet, "/whatsapp/auth/sessions/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions status = %d", rec.Code)
	}
	data := body["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("data = %v", data)
	}
	first := data[0].(map[string]any)
	if first["sessionId"] != "a" || first["isReady"] != true || first["status"] != "ready" {
		t.Errorf("first = %v", first)
	}

	_, body = f.do(t, http.MethodGet, "/whatsapp/status", nil)
	sessions := body["sessions"].(map[string]any)
	if sessions["total"] != float64(2) || sessions["ready"] != float64(1) {
		t.Errorf("sessions = %v", sessions)
	}
	if _, ok := body["messages"].(map[string]any)["pending"]; !ok {
		t.Errorf("messages = %v", body["messages"])
	}

	rec, _ = f.do(t, http.MethodGet, "/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unprefixed route status = %d, want 404", rec.Code)
	}
}

func TestConnectPage(t *testing.T) {
	f := newFixture(t, nil)
	rec, _ := f.do(t, http.MethodGet, "/auth/connect?sessionId=s1", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/auth/qrcode?sessionId=") {
		t.Errorf("connect page = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/auth/sessions", nil)
	rec, _ := f.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "whatsapp_http_requests_total") {
		t.Errorf("metrics = %d", rec.Code)
	}
}
