package notifications

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tilal/fieldops-notify/internal/apiclient"
)

type RemoteClient interface {
	ListNotifications(ctx context.Context, limit int, unreadOnly bool) ([]Notification, error)
	DeleteNotification(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

type HTTPClient struct {
	api *apiclient.Client
}

func NewHTTPClient(api *apiclient.Client) *HTTPClient {
	return &HTTPClient{api: api}
}

func (c *HTTPClient) ListNotifications(ctx context.Context, limit int, unreadOnly bool) ([]Notification, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	q.Set("unreadOnly", strconv.FormatBool(unreadOnly))
	var out listResponse
	if err := c.api.DoJSON(ctx, http.MethodGet, "/notifications?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		out.Data = []Notification{}
	}
	return out.Data, nil
}

func (c *HTTPClient) DeleteNotification(ctx context.Context, id string) error {
	return c.api.DoJSON(ctx, http.MethodDelete, fmt.Sprintf("/notifications/%s", url.PathEscape(id)), nil, nil)
}

func (c *HTTPClient) MarkRead(ctx context.Context, id string) error {
	return c.api.DoJSON(ctx, http.MethodPut, fmt.Sprintf("/notifications/%s/read", url.PathEscape(id)), nil, nil)
}

func (c *HTTPClient) MarkAllRead(ctx context.Context) error {
	return c.api.DoJSON(ctx, http.MethodPut, "/notifications/read-all", nil, nil)
}
