package notifications

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tilal/fieldops-notify/internal/session"
)

func TestResolveRoute(t *testing.T) {
	task := &Data{RelatedTask: "t1", RelatedInvoice: "i1", SiteID: "s1"}
	invoice := &Data{RelatedInvoice: "i1", SiteID: "s1"}
	site := &Data{SiteID: "s1"}

	cases := []struct {
		name string
		n    Notification
		role session.Role
		want string
	}{
		{"task admin", Notification{Data: task}, session.RoleAdmin, "/admin/tasks/t1"},
		{"task worker", Notification{Data: task}, session.RoleWorker, "/worker/tasks/t1"},
		{"task client landing", Notification{Data: task}, session.RoleClient, "/client/dashboard"},
		{"task accountant landing", Notification{Data: task}, session.RoleAccountant, "/accountant/dashboard"},
		{"task unknown role", Notification{Data: task}, session.Role("guest"), "/"},
		{"invoice client", Notification{Data: invoice}, session.RoleClient, "/client/dashboard"},
		{"invoice accountant", Notification{Data: invoice}, session.RoleAccountant, "/accountant/invoices"},
		{"invoice admin", Notification{Data: invoice}, session.RoleAdmin, "/admin/tasks"},
		{"invoice worker", Notification{Data: invoice}, session.RoleWorker, "/"},
		{"low stock admin", Notification{Type: TypeLowStock, Data: site}, session.RoleAdmin, "/admin/inventory"},
		{"low stock worker", Notification{Type: TypeLowStock}, session.RoleWorker, "/"},
		{"site admin", Notification{Data: site}, session.RoleAdmin, "/admin/sites/s1"},
		{"site accountant", Notification{Data: site}, session.RoleAccountant, "/accountant/sites"},
		{"site client", Notification{Data: site}, session.RoleClient, "/"},
		{"nothing", Notification{Type: "info"}, session.RoleAdmin, ""},
		{"empty data", Notification{Data: &Data{}}, session.RoleAdmin, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveRoute(tc.n, tc.role)
			if got.Path != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got.Path)
			}
			if (tc.want == "") != got.None() {
				t.Fatalf("None() mismatch for %q", got.Path)
			}
		})
	}
}

func TestRelativeTimeBands(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		elapsed time.Duration
		want    string
	}{
		{0, "just now"},
		{59 * time.Second, "just now"},
		{60 * time.Second, "1 minute ago"},
		{119 * time.Second, "1 minute ago"},
		{3599 * time.Second, "59 minutes ago"},
		{3600 * time.Second, "1 hour ago"},
		{86399 * time.Second, "23 hours ago"},
		{86400 * time.Second, "1 day ago"},
		{400 * 24 * time.Hour, "400 days ago"},
		{-time.Hour, "just now"},
	}
	for _, tc := range cases {
		if got := RelativeTime(now, now.Add(-tc.elapsed)); got != tc.want {
			t.Fatalf("elapsed %s: expected %q, got %q", tc.elapsed, tc.want, got)
		}
	}
}

func TestNotificationDecodesPopulatedReferences(t *testing.T) {
	raw := `{
		"id": "n1",
		"subject": "Task assigned",
		"message": "You have a new task",
		"type": "task-assigned",
		"read": false,
		"createdAt": "2026-10-17T08:00:00Z",
		"data": {"relatedTask": {"_id": "t9", "title": "Mow"}, "siteId": "s3", "relatedInvoice": null}
	}`
	var n Notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if n.Data == nil || n.Data.RelatedTask != "t9" || n.Data.SiteID != "s3" || n.Data.RelatedInvoice.Present() {
		t.Fatalf("unexpected data: %+v", n.Data)
	}

	var nullData Notification
	if err := json.Unmarshal([]byte(`{"id":"n2","data":null}`), &nullData); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if nullData.Data != nil {
		t.Fatalf("expected nil data")
	}

	var bad Notification
	if err := json.Unmarshal([]byte(`{"id":"n3","data":{"siteId":42}}`), &bad); err == nil {
		t.Fatalf("expected error for numeric reference")
	}
}
