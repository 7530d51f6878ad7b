package pushchannel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tilal/fieldops-notify/internal/notifications"
	"github.com/tilal/fieldops-notify/internal/session"
)

func TestDeriveEndpoint(t *testing.T) {
	cases := []struct {
		base, suffix, path string
		want               string
	}{
		{"http://localhost:5000/api/v1", DefaultAPISuffix, DefaultPath, "ws://localhost:5000/ws"},
		{"https://api.example.com/api/v1/", DefaultAPISuffix, DefaultPath, "wss://api.example.com/ws"},
		{"https://example.com/backend/api/v1", "api/v1", "socket", "wss://example.com/backend/socket"},
		{"https://example.com", DefaultAPISuffix, DefaultPath, "wss://example.com/ws"},
		{"http://localhost:5000/api/v2", DefaultAPISuffix, "", "ws://localhost:5000/api/v2"},
	}
	for _, tc := range cases {
		got, err := DeriveEndpoint(tc.base, tc.suffix, tc.path)
		if err != nil {
			t.Fatalf("derive %q failed: %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("derive %q: expected %q, got %q", tc.base, tc.want, got)
		}
	}
	for _, bad := range []string{"", "ftp://example.com/api/v1", "http:///api/v1"} {
		if _, err := DeriveEndpoint(bad, DefaultAPISuffix, DefaultPath); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestScopeJoinsAndDeliversValidNotifications(t *testing.T) {
	srv := newPushServer(t)
	defer srv.Close()

	var statusMu sync.Mutex
	var statuses []Status
	m := newTestManager(t, srv.endpoint(), func(ev StatusEvent) {
		statusMu.Lock()
		statuses = append(statuses, ev.Status)
		statusMu.Unlock()
	})
	received := make(chan notifications.Notification, 4)
	scope, err := m.Open(context.Background(), session.Principal{ID: "u1", Role: session.RoleAdmin}, func(n notifications.Notification) {
		received <- n
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer scope.Close()

	conn := srv.nextConn(t)
	if conn.join.Type != "join" || conn.join.UserID != "u1" {
		t.Fatalf("unexpected join message %+v", conn.join)
	}
	conn.send(`{"type":"new_notification","data":{"subject":"missing id"}}`)
	conn.send(`{"type":"task_updated","data":{"id":"x"}}`)
	conn.send(`not json`)
	conn.send(`{"type":"new_notification","data":{"id":"n1","subject":"Low stock","type":"low-stock","read":false,"createdAt":"2026-10-17T08:00:00Z","data":{"siteId":{"_id":"s1"}}}}`)

	select {
	case n := <-received:
		if n.ID != "n1" || n.Type != notifications.TypeLowStock || n.Data == nil || n.Data.SiteID != "s1" {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("notification not delivered")
	}
	select {
	case n := <-received:
		t.Fatalf("expected invalid frames to be dropped, got %+v", n)
	case <-time.After(50 * time.Millisecond):
	}

	statusMu.Lock()
	defer statusMu.Unlock()
	if len(statuses) == 0 || statuses[0] != StatusConnected {
		t.Fatalf("expected connected status, got %v", statuses)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	srv := newPushServer(t)
	defer srv.Close()
	m := newTestManager(t, srv.endpoint(), nil)

	var mu sync.Mutex
	count := 0
	scope, err := m.Open(context.Background(), session.Principal{ID: "u1"}, func(notifications.Notification) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	conn := srv.nextConn(t)
	if err := scope.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := scope.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	select {
	case <-scope.Done():
	default:
		t.Fatalf("expected scope to be done after Close")
	}

	conn.send(`{"type":"new_notification","data":{"id":"late"}}`)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected no deliveries after close, got %d", count)
	}
}

func TestOpenReplacesPreviousScope(t *testing.T) {
	srv := newPushServer(t)
	defer srv.Close()
	m := newTestManager(t, srv.endpoint(), nil)
	defer m.Close()

	first, err := m.Open(context.Background(), session.Principal{ID: "u1"}, func(notifications.Notification) {})
	if err != nil {
		t.Fatalf("open u1 failed: %v", err)
	}
	srv.nextConn(t)

	if _, err := m.Open(context.Background(), session.Principal{ID: "u2"}, func(notifications.Notification) {}); err != nil {
		t.Fatalf("open u2 failed: %v", err)
	}
	select {
	case <-first.Done():
	default:
		t.Fatalf("expected first scope to be closed before the second opened")
	}
	if conn := srv.nextConn(t); conn.join.UserID != "u2" {
		t.Fatalf("expected second connection to join u2, got %q", conn.join.UserID)
	}
}

func TestScopeRedialsAfterServerDrop(t *testing.T) {
	srv := newPushServer(t)
	defer srv.Close()
	m := newTestManager(t, srv.endpoint(), nil)

	scope, err := m.Open(context.Background(), session.Principal{ID: "u1"}, func(notifications.Notification) {})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer scope.Close()

	first := srv.nextConn(t)
	first.drop()
	second := srv.nextConn(t)
	if second.join.UserID != "u1" {
		t.Fatalf("expected rejoin for u1, got %q", second.join.UserID)
	}
}

func TestOpenRejectsMissingPrincipal(t *testing.T) {
	m := newTestManager(t, "ws://127.0.0.1:1/ws", nil)
	if _, err := m.Open(context.Background(), session.Principal{}, func(notifications.Notification) {}); err == nil {
		t.Fatalf("expected error for empty principal")
	}
	if _, err := NewManager(Options{}); err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
}

func TestManagerRedialDefaults(t *testing.T) {
	m, err := NewManager(Options{Endpoint: "ws://127.0.0.1:1/ws"})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	if m.redial != defaultRedial {
		t.Fatalf("expected default redial strategy, got %+v", m.redial)
	}
	if got := m.redial.Delay(20); got != 30*time.Second {
		t.Fatalf("expected redial delay capped at 30s, got %s", got)
	}
}

func newTestManager(t *testing.T, endpoint string, onStatus func(StatusEvent)) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Endpoint:           endpoint,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
		OnStatus:           onStatus,
		Logger:             zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	return m
}

type serverConn struct {
	join   joinMessage
	frames chan string
	closed chan struct{}
	once   sync.Once
}

func (c *serverConn) send(frame string) {
	select {
	case c.frames <- frame:
	case <-c.closed:
	}
}

func (c *serverConn) drop() {
	c.once.Do(func() { close(c.closed) })
}

type pushServer struct {
	*httptest.Server
	conns chan *serverConn
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{conns: make(chan *serverConn, 8)}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		sc := &serverConn{frames: make(chan string, 8), closed: make(chan struct{})}
		if err := wsjson.Read(ctx, c, &sc.join); err != nil {
			return
		}
		ps.conns <- sc

		readErr := make(chan struct{})
		go func() {
			defer close(readErr)
			for {
				if _, _, err := c.Read(ctx); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case frame := <-sc.frames:
				if err := c.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
					return
				}
			case <-sc.closed:
				_ = c.Close(websocket.StatusGoingAway, "drop")
				return
			case <-readErr:
				sc.drop()
				return
			case <-ctx.Done():
				return
			}
		}
	}))
	return ps
}

func (ps *pushServer) endpoint() string {
	return "ws" + strings.TrimPrefix(ps.URL, "http") + DefaultPath
}

func (ps *pushServer) nextConn(t *testing.T) *serverConn {
	t.Helper()
	select {
	case c := <-ps.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatalf("no websocket connection arrived")
		return nil
	}
}
