package pushchannel

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultAPISuffix = "/api/v1"
	DefaultPath      = "/ws"
)

// DeriveEndpoint turns the REST base URL into the websocket endpoint: the API
// suffix is stripped, the scheme switched to ws/wss and path appended.
func DeriveEndpoint(apiBaseURL, apiSuffix, path string) (string, error) {
	raw := strings.TrimSpace(apiBaseURL)
	if raw == "" {
		return "", fmt.Errorf("api base url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api base url %q has no host", raw)
	}

	basePath := strings.TrimRight(u.Path, "/")
	suffix := strings.TrimRight(strings.TrimSpace(apiSuffix), "/")
	if suffix != "" {
		if !strings.HasPrefix(suffix, "/") {
			suffix = "/" + suffix
		}
		basePath = strings.TrimSuffix(basePath, suffix)
	}
	path = strings.TrimSpace(path)
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = basePath + path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
