package notifications

import (
	"net/url"

	"github.com/tilal/fieldops-notify/internal/session"
)

// Route is a navigation target. The zero Route means "stay where you are".
type Route struct {
	Path string
}

func (r Route) None() bool {
	return r.Path == ""
}

const homePath = "/"

// ResolveRoute picks where opening n should take a viewer with the given role.
// The first matching rule wins: related task, related invoice, low stock, site.
func ResolveRoute(n Notification, role session.Role) Route {
	var data Data
	if n.Data != nil {
		data = *n.Data
	}
	switch {
	case data.RelatedTask.Present():
		id := url.PathEscape(string(data.RelatedTask))
		switch role {
		case session.RoleAdmin:
			return Route{Path: "/admin/tasks/" + id}
		case session.RoleWorker:
			return Route{Path: "/worker/tasks/" + id}
		default:
			return Route{Path: landingPath(role)}
		}
	case data.RelatedInvoice.Present():
		switch role {
		case session.RoleClient:
			return Route{Path: "/client/dashboard"}
		case session.RoleAccountant:
			return Route{Path: "/accountant/invoices"}
		case session.RoleAdmin:
			return Route{Path: "/admin/tasks"}
		default:
			return Route{Path: homePath}
		}
	case n.Type == TypeLowStock:
		if role == session.RoleAdmin {
			return Route{Path: "/admin/inventory"}
		}
		return Route{Path: homePath}
	case data.SiteID.Present():
		switch role {
		case session.RoleAdmin:
			return Route{Path: "/admin/sites/" + url.PathEscape(string(data.SiteID))}
		case session.RoleAccountant:
			return Route{Path: "/accountant/sites"}
		default:
			return Route{Path: homePath}
		}
	}
	return Route{}
}

func landingPath(role session.Role) string {
	switch role {
	case session.RoleAdmin:
		return "/admin/dashboard"
	case session.RoleWorker:
		return "/worker/dashboard"
	case session.RoleClient:
		return "/client/dashboard"
	case session.RoleAccountant:
		return "/accountant/dashboard"
	}
	return homePath
}
