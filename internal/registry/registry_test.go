package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hubescolar/whatsapp/internal/status"
	"github.com/hubescolar/whatsapp/internal/wa/watest"
)

func TestPutGetRemove(t *testing.T) {
	r := New()
	s := NewSession("7", nil)
	r.Put("7", s)

	got, ok := r.Get("7")
	if !ok || got != s {
		t.Fatalf("Get(7) = %v, %v; want the registered session", got, ok)
	}
	r.Remove("7")
	if _, ok := r.Get("7"); ok {
		t.Error("Get(7) after Remove should miss")
	}
}

func TestPutIfAbsentConcurrent(t *testing.T) {
	r := New()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.PutIfAbsent("7", NewSession("7", nil)); ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if inserted != 1 {
		t.Errorf("inserted = %d, want exactly 1", inserted)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRemoveIfOnlyRemovesSameEntry(t *testing.T) {
	r := New()
	old := NewSession("7", nil)
	fresh := NewSession("7", nil)
	r.Put("7", fresh)

	if r.RemoveIf("7", old) {
		t.Error("RemoveIf with stale entry should not remove")
	}
	if !r.RemoveIf("7", fresh) {
		t.Error("RemoveIf with current entry should remove")
	}
}

func TestSnapshotOrderedByID(t *testing.T) {
	r := New()
	for _, id := range []string{"b", "c", "a"} {
		r.Put(id, NewSession(id, nil))
	}
	snap := r.Snapshot()
	if len(snap) != 3 || snap[0].SessionID != "a" || snap[2].SessionID != "c" {
		t.Errorf("Snapshot() = %+v, want a, b, c", snap)
	}
	for _, info := range snap {
		if info.State != status.Uninitialized || info.IsReady || info.IsInitialized {
			t.Errorf("fresh session info = %+v", info)
		}
	}
}

func TestSessionInfoReflectsAttachAndQR(t *testing.T) {
	s := NewSession("7", nil)
	c := watest.NewClient("7")
	c.SetPhone("5511999999999")
	done := make(chan struct{})
	close(done)
	s.Attach(c, func() {}, done)
	s.SetQRPath("/tmp/qr.png")
	_ = s.Machine.Transition(status.Initializing)
	_ = s.Machine.Transition(status.Ready)

	info := s.Info()
	if !info.IsReady || !info.IsInitialized || !info.HasQR {
		t.Errorf("info = %+v, want ready, initialized, with QR", info)
	}
	if info.PhoneNumber != "5511999999999" {
		t.Errorf("PhoneNumber = %q", info.PhoneNumber)
	}
}

func TestDetachStopsEventTask(t *testing.T) {
	s := NewSession("7", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	c := watest.NewClient("7")
	s.Attach(c, cancel, done)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if got := s.Detach(waitCtx); got != c {
		t.Errorf("Detach() returned %v, want the attached client", got)
	}
	select {
	case <-done:
	default:
		t.Error("event task still running after Detach")
	}
	if s.Client() != nil {
		t.Error("Client() after Detach should be nil")
	}
}
