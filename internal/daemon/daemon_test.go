package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hubescolar/whatsapp/internal/bus"
	"github.com/hubescolar/whatsapp/internal/config"
	"github.com/hubescolar/whatsapp/internal/lock"
	"github.com/hubescolar/whatsapp/internal/session"
	"github.com/hubescolar/whatsapp/internal/status"
	"github.com/hubescolar/whatsapp/internal/store"
	"github.com/hubescolar/whatsapp/internal/wa"
	"github.com/hubescolar/whatsapp/internal/wa/watest"
)

// testConfig returns a config rooted in a short temp dir; unix socket
// paths are limited to ~104 bytes on macOS.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "wa-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.HTTP.Addr = addr
	cfg.HTTP.ShutdownTimeout = time.Second
	cfg.QR.Size = 64
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestModuleValidates(t *testing.T) {
	cfg := testConfig(t)
	err := fx.ValidateApp(Module(Params{Config: cfg, Factory: watest.NewFactory(), Logger: zap.NewNop()}))
	if err != nil {
		t.Fatalf("ValidateApp() error = %v", err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	cfg := testConfig(t)
	factory := watest.NewFactory()
	app := fxtest.New(t, Module(Params{Config: cfg, Factory: factory, Logger: zap.NewNop()}))
	app.RequireStart()
	base := "http://" + cfg.HTTP.Addr

	conn, err := grpc.NewClient("unix://"+session.NewLayout(cfg.DataDir).SocketPath(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	health := healthpb.NewHealthClient(conn)
	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.Status
	}
	if got := check(""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall health = %v, want SERVING", got)
	}

	body, _ := json.Marshal(map[string]string{"phone": "5585999991234", "message": "oi", "sessionId": "s1"})
	post := func() *http.Response {
		resp, err := http.Post(base+"/messages/send", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	// A send on an unknown session starts it and is refused until it is ready.
	resp := post()
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("first send status = %d, want 503", resp.StatusCode)
	}
	if factory.Created() != 1 {
		t.Fatalf("Created = %d, want 1", factory.Created())
	}
	client := factory.Client("s1")
	client.Emit(wa.Ready{})
	waitFor(t, "session/s1 SERVING", func() bool {
		return check(ServicePrefix+"s1") == healthpb.HealthCheckResponse_SERVING
	})

	resp = post()
	var sent struct {
		Success   bool   `json:"success"`
		MessageID string `json:"messageId"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&sent)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !sent.Success {
		t.Fatalf("send status = %d", resp.StatusCode)
	}

	// A delivery receipt flows through ingest into the store.
	client.Emit(wa.Receipt{ProviderIDs: []string{fmt.Sprintf("3EB0%06d", 1)}, Status: store.StatusDelivered, Timestamp: time.Now()})
	waitFor(t, "delivered status", func() bool {
		resp, err := http.Get(base + "/messages/status/" + sent.MessageID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var out struct {
			Data struct {
				Status string `json:"status"`
			} `json:"data"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return out.Data.Status == string(store.StatusDelivered)
	})

	client.Emit(wa.Disconnected{Reason: "test"})
	waitFor(t, "session/s1 NOT_SERVING", func() bool {
		return check(ServicePrefix+"s1") == healthpb.HealthCheckResponse_NOT_SERVING
	})

	app.RequireStop()

	if _, err := os.Stat(session.NewLayout(cfg.DataDir).SocketPath()); !os.IsNotExist(err) {
		t.Errorf("health socket still present after stop: %v", err)
	}
	lk, err := lock.Acquire(session.NewLayout(cfg.DataDir).LockPath())
	if err != nil {
		t.Fatalf("lock not released on stop: %v", err)
	}
	_ = lk.Release()
}

func TestSecondInstanceFailsOnLock(t *testing.T) {
	cfg := testConfig(t)
	lk, err := lock.Acquire(session.NewLayout(cfg.DataDir).LockPath())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	app := fx.New(Module(Params{Config: cfg, Factory: watest.NewFactory(), Logger: zap.NewNop()}), fx.NopLogger)
	if app.Err() == nil {
		t.Fatal("app built while another instance holds the lock")
	}
}

func TestRestoreCachedSessions(t *testing.T) {
	cfg := testConfig(t)
	layout := session.NewLayout(cfg.DataDir)
	for _, id := range []string{"a", "b"} {
		if err := layout.EnsureDir(id); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(layout.CredentialsPath(id), nil, 0600); err != nil {
			t.Fatal(err)
		}
	}
	// A directory without credentials is not restored.
	if err := layout.EnsureDir("empty"); err != nil {
		t.Fatal(err)
	}

	factory := watest.NewFactory()
	app := fxtest.New(t, Module(Params{Config: cfg, Factory: factory, Logger: zap.NewNop()}))
	app.RequireStart()
	defer app.RequireStop()

	waitFor(t, "restore", func() bool { return factory.Created() == 2 })
	if factory.Client("empty") != nil {
		t.Error("session without credentials was restored")
	}
}

func TestHealthFollowsSessionEvents(t *testing.T) {
	dir, err := os.MkdirTemp("/tmp", "wa-health-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	b := bus.New()
	srv, err := NewHealthServer(filepath.Join(dir, "h.sock"), b, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	defer srv.Stop(context.Background())

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := srv.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.Status
	}

	m := status.NewMachine("x", b)
	_ = m.Transition(status.Initializing)
	_ = m.Transition(status.Ready)
	waitFor(t, "ready", func() bool { return check(ServicePrefix+"x") == healthpb.HealthCheckResponse_SERVING })

	b.Emit(bus.KindSessionRemoved, bus.SessionRemoved{SessionID: "x"})
	waitFor(t, "removed", func() bool { return check(ServicePrefix+"x") == healthpb.HealthCheckResponse_NOT_SERVING })
}
