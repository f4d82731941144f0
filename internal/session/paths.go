package session

import (
	"os"
	"path/filepath"
	"sort"
)

// Layout resolves every on-disk location under the service data directory.
//
//	<root>/whatsapp.db             message store (sqlite3 driver)
//	<root>/LOCK                    instance lock
//	<root>/health.sock             gRPC health socket
//	<root>/sessions/<id>/session.db  cached transport credentials
//	<root>/qrcodes/<id>/qrcode.png   QR artifacts (fs backend)
type Layout struct {
	Root string
}

// NewLayout returns a layout rooted at dataDir.
func NewLayout(dataDir string) Layout {
	return Layout{Root: dataDir}
}

// SessionsDir returns the parent of all session credential directories.
func (l Layout) SessionsDir() string {
	return filepath.Join(l.Root, "sessions")
}

// Dir returns the session-specific directory.
func (l Layout) Dir(id string) string {
	return filepath.Join(l.SessionsDir(), id)
}

// CredentialsPath returns the transport credential store for a session.
func (l Layout) CredentialsPath(id string) string {
	return filepath.Join(l.Dir(id), "session.db")
}

// QRDir returns the default directory of QR artifacts.
func (l Layout) QRDir() string {
	return filepath.Join(l.Root, "qrcodes")
}

// AppDBPath returns the sqlite message store path.
func (l Layout) AppDBPath() string {
	return filepath.Join(l.Root, "whatsapp.db")
}

// LockPath returns the instance lock file path.
func (l Layout) LockPath() string {
	return filepath.Join(l.Root, "LOCK")
}

// SocketPath returns the gRPC health socket path.
func (l Layout) SocketPath() string {
	return filepath.Join(l.Root, "health.sock")
}

// LogPath returns the default daemon log file path.
func (l Layout) LogPath() string {
	return filepath.Join(l.Root, "logs", "whatsappd.log")
}

// EnsureDir creates the session directory with owner-only permissions.
func (l Layout) EnsureDir(id string) error {
	return os.MkdirAll(l.Dir(id), 0700)
}

// RemoveCredentials deletes the cached credentials of a session.
func (l Layout) RemoveCredentials(id string) error {
	return os.RemoveAll(l.Dir(id))
}

// KnownSessions lists session ids that have cached credentials on disk.
func (l Layout) KnownSessions() ([]string, error) {
	entries, err := os.ReadDir(l.SessionsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || Validate(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(l.CredentialsPath(e.Name())); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
