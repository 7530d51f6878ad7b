package payments

import (
	"context"
	"net/http"

	"github.com/tilal/fieldops-notify/internal/apiclient"
)

type SiteSource interface {
	ListSites(ctx context.Context) ([]Site, error)
}

type SitesClient struct {
	api *apiclient.Client
}

func NewSitesClient(api *apiclient.Client) *SitesClient {
	return &SitesClient{api: api}
}

func (c *SitesClient) ListSites(ctx context.Context) ([]Site, error) {
	var out struct {
		Data []Site `json:"data"`
	}
	if err := c.api.DoJSON(ctx, http.MethodGet, "/sites?hasPaymentDate=true", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}
