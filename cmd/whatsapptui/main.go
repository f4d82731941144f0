package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hubescolar/whatsapp/internal/client"
	"github.com/hubescolar/whatsapp/internal/config"
	"github.com/hubescolar/whatsapp/internal/session"
	"github.com/hubescolar/whatsapp/internal/tui"
)

func main() {
	configFlag := flag.String("config", "whatsapp.toml", "path to the TOML config file")
	urlFlag := flag.String("url", "", "daemon base URL (default derived from config)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	socketPath := cfg.Health.Socket
	if socketPath == "" {
		socketPath = session.NewLayout(cfg.DataDir).SocketPath()
	}

	// Probe daemon health; auto-start if needed.
	if !probeDaemon(socketPath) {
		fmt.Fprintln(os.Stderr, "daemon not running, starting...")
		if err := startDaemon(*configFlag); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fmt.Fprintln(os.Stderr, "daemon did not become ready")
			os.Exit(1)
		}
	}

	base := *urlFlag
	if base == "" {
		base = client.BaseURL(cfg.HTTP.Addr, cfg.HTTP.BasePath)
	}
	c := client.New(base, cfg.HTTP.APIToken, 30*time.Second)

	app := tui.NewApp(c, base)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func probeDaemon(socketPath string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := client.Health(ctx, socketPath, "")
	return err == nil && st == healthpb.HealthCheckResponse_SERVING
}

func startDaemon(configPath string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemon := filepath.Join(filepath.Dir(executable), "whatsappd")

	if _, err := os.Stat(daemon); err != nil {
		daemon = "whatsappd"
	}

	cmd := exec.Command(daemon, "--config", configPath)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
