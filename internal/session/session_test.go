package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestStoreNotifiesOnLoginChangeAndLogout(t *testing.T) {
	store := NewStore()
	var seen []*Principal
	cancel := store.Subscribe(func(p *Principal) {
		seen = append(seen, p)
	})
	defer cancel()

	store.Login(Principal{ID: "u1", Role: RoleAdmin})
	store.Login(Principal{ID: "u1", Role: RoleAdmin})
	store.Login(Principal{ID: "u2", Role: RoleWorker})
	store.Logout()
	store.Logout()

	if len(seen) != 3 {
		t.Fatalf("expected 3 notifications (duplicates suppressed), got %d", len(seen))
	}
	if seen[0].ID != "u1" || seen[1].ID != "u2" || seen[2] != nil {
		t.Fatalf("unexpected principal sequence: %+v %+v %+v", seen[0], seen[1], seen[2])
	}
	if store.Current() != nil {
		t.Fatalf("expected no principal after logout")
	}
}

func TestStoreLoginWithBlankIDLogsOut(t *testing.T) {
	store := NewStore()
	store.Login(Principal{ID: "u1", Role: RoleClient})
	store.Login(Principal{ID: "   ", Role: RoleClient})
	if store.Current() != nil {
		t.Fatalf("expected blank id to clear the session")
	}
}

func TestStoreUnsubscribe(t *testing.T) {
	store := NewStore()
	calls := 0
	cancel := store.Subscribe(func(*Principal) { calls++ })
	store.Login(Principal{ID: "u1"})
	cancel()
	store.Logout()
	if calls != 1 {
		t.Fatalf("expected 1 call before unsubscribe, got %d", calls)
	}
}

func TestFileWatcherLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	store := NewStore()
	w, err := NewFileWatcher(path, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("new watcher failed: %v", err)
	}

	if err := w.Load(); err != nil {
		t.Fatalf("load of missing file failed: %v", err)
	}
	if store.Current() != nil {
		t.Fatalf("expected missing file to mean logged out")
	}

	if err := os.WriteFile(path, []byte(`{"id":"u7","role":"accountant"}`), 0o600); err != nil {
		t.Fatalf("write session failed: %v", err)
	}
	if err := w.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	current := store.Current()
	if current == nil || current.ID != "u7" || current.Role != RoleAccountant {
		t.Fatalf("unexpected principal: %+v", current)
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write session failed: %v", err)
	}
	if err := w.Load(); err == nil {
		t.Fatalf("expected decode error for malformed file")
	}
	if store.Current() == nil {
		t.Fatalf("expected malformed file to keep the current principal")
	}

	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("truncate session failed: %v", err)
	}
	if err := w.Load(); err != nil {
		t.Fatalf("load of empty file failed: %v", err)
	}
	if store.Current() != nil {
		t.Fatalf("expected empty file to mean logged out")
	}
}

func TestFileWatcherFollowsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	store := NewStore()

	var mu sync.Mutex
	var last *Principal
	changes := 0
	store.Subscribe(func(p *Principal) {
		mu.Lock()
		last = p
		changes++
		mu.Unlock()
	})

	w, err := NewFileWatcher(path, store, zerolog.Nop())
	if err != nil {
		t.Fatalf("new watcher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// The watcher registers before its first Load, so give it a moment.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"id":"u1","role":"admin"}`), 0o600); err != nil {
		t.Fatalf("write session failed: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last != nil && last.ID == "u1"
	})

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove session failed: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last == nil && changes >= 2
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
