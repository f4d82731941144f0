package qr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestOnPairingCodeWritesPNG(t *testing.T) {
	dir := t.TempDir()
	p := NewProvisioner(NewFileStore(dir), 128, zap.NewNop())

	path, err := p.OnPairingCode(context.Background(), "7", "2@abc,def,ghi")
	if err != nil {
		t.Fatalf("OnPairingCode() error = %v", err)
	}
	if want := filepath.Join(dir, "7", "qrcode.png"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, pngMagic) {
		t.Error("artifact is not a PNG")
	}

	got, ok := p.ArtifactPath("7")
	if !ok || got != path {
		t.Errorf("ArtifactPath() = %q, %v; want %q", got, ok, path)
	}
	code, ok := p.RawCode("7")
	if !ok || code != "2@abc,def,ghi" {
		t.Errorf("RawCode() = %q, %v", code, ok)
	}
}

func TestNewCodeReplacesArtifact(t *testing.T) {
	p := NewProvisioner(NewFileStore(t.TempDir()), 128, zap.NewNop())
	ctx := context.Background()

	first, err := p.OnPairingCode(ctx, "7", "code-one")
	if err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(first)

	second, err := p.OnPairingCode(ctx, "7", "code-two")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("locator changed from %q to %q, want the same per-session path", first, second)
	}
	after, _ := os.ReadFile(second)
	if bytes.Equal(before, after) {
		t.Error("artifact content unchanged after new code")
	}
	if code, _ := p.RawCode("7"); code != "code-two" {
		t.Errorf("RawCode() = %q, want code-two", code)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	p := NewProvisioner(NewFileStore(t.TempDir()), 128, zap.NewNop())
	ctx := context.Background()
	a, _ := p.OnPairingCode(ctx, "a", "code-a")
	b, _ := p.OnPairingCode(ctx, "b", "code-b")
	if a == b {
		t.Fatalf("sessions share artifact path %q", a)
	}
	p.Forget(ctx, "a")
	if _, err := os.Stat(b); err != nil {
		t.Errorf("forgetting a removed b's artifact: %v", err)
	}
}

func TestSettleKeepsFileButHidesArtifact(t *testing.T) {
	p := NewProvisioner(NewFileStore(t.TempDir()), 128, zap.NewNop())
	ctx := context.Background()
	path, _ := p.OnPairingCode(ctx, "7", "code")

	p.Settle("7")

	if _, ok := p.ArtifactPath("7"); ok {
		t.Error("ArtifactPath() present after Settle")
	}
	if _, err := p.ArtifactStream(ctx, "7"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ArtifactStream() error = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("stale artifact removed by Settle: %v", err)
	}
}

func TestForgetDeletesArtifact(t *testing.T) {
	p := NewProvisioner(NewFileStore(t.TempDir()), 128, zap.NewNop())
	ctx := context.Background()
	path, _ := p.OnPairingCode(ctx, "7", "code")

	p.Forget(ctx, "7")

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("artifact still present after Forget: %v", err)
	}
}

func TestArtifactStream(t *testing.T) {
	p := NewProvisioner(NewFileStore(t.TempDir()), 128, zap.NewNop())
	ctx := context.Background()

	if _, err := p.ArtifactStream(ctx, "7"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ArtifactStream() before code error = %v, want ErrNotFound", err)
	}
	if _, err := p.OnPairingCode(ctx, "7", "code"); err != nil {
		t.Fatal(err)
	}
	rc, err := p.ArtifactStream(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rc.Close() }()
	data, _ := io.ReadAll(rc)
	if !bytes.HasPrefix(data, pngMagic) {
		t.Error("streamed artifact is not a PNG")
	}
}

type failingDelete struct {
	ArtifactStore
}

func (failingDelete) Delete(context.Context, string) error {
	return errors.New("permission denied")
}

func TestDeleteFailureIsOnlyAWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := NewProvisioner(failingDelete{NewFileStore(t.TempDir())}, 128, zap.New(core))

	if _, err := p.OnPairingCode(context.Background(), "7", "code"); err != nil {
		t.Fatalf("OnPairingCode() error = %v, want success despite delete failure", err)
	}
	if logs.FilterMessage("failed to delete previous qr artifact").Len() != 1 {
		t.Errorf("want one delete warning, got %v", logs.All())
	}
}
