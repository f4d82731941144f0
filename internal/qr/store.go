package qr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when a session has no QR artifact.
var ErrNotFound = errors.New("qr artifact not found")

// ArtifactStore persists rendered QR images, one per session.
type ArtifactStore interface {
	// Put stores png for the session and returns its locator.
	Put(ctx context.Context, sessionID string, png []byte) (string, error)
	// Delete removes the session's artifact. A missing artifact is not an error.
	Delete(ctx context.Context, sessionID string) error
	// Open streams the session's artifact, or returns ErrNotFound.
	Open(ctx context.Context, sessionID string) (io.ReadCloser, error)
}

// FileStore keeps artifacts on the local filesystem, one subdirectory per
// session, created on first use.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the artifact path of a session.
func (s *FileStore) Path(sessionID string) string {
	return filepath.Join(s.dir, sessionID, "qrcode.png")
}

func (s *FileStore) Put(_ context.Context, sessionID string, png []byte) (string, error) {
	path := s.Path(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("create qr dir: %w", err)
	}
	if err := os.WriteFile(path, png, 0600); err != nil {
		return "", fmt.Errorf("write qr artifact: %w", err)
	}
	return path, nil
}

func (s *FileStore) Delete(_ context.Context, sessionID string) error {
	err := os.Remove(s.Path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) Open(_ context.Context, sessionID string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}
