// Package apiclient talks JSON to the field-services portal API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tilal/fieldops-notify/internal/backoff"
)

const DefaultBaseURL = "http://127.0.0.1:5000/api/v1"

var defaultRetry = backoff.Strategy{Base: 100 * time.Millisecond, Max: 2 * time.Second}

// HTTPError is a non-2xx portal response. The portal answers failures with
// {"success": false, "message": "...", "error": "..."}.
type HTTPError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Detail != "" && e.Detail != msg {
		return fmt.Sprintf("portal %d: %s (%s)", e.StatusCode, msg, e.Detail)
	}
	return fmt.Sprintf("portal %d: %s", e.StatusCode, msg)
}

// IsStatus reports whether err is an *HTTPError with the given status code.
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func decodeError(status int, body []byte) *HTTPError {
	var env errorEnvelope
	_ = json.Unmarshal(body, &env)
	msg := strings.TrimSpace(env.Message)
	detail := strings.TrimSpace(env.Error)
	if msg == "" {
		msg, detail = detail, ""
	}
	return &HTTPError{StatusCode: status, Message: msg, Detail: detail}
}

type Options struct {
	Token      string
	HTTPClient *http.Client
	// MaxRetries defaults to 3; a negative value disables retries.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// RequestsPerSecond paces outgoing requests; zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	retry      backoff.Strategy
	limiter    *rate.Limiter
}

func New(baseURL string, opts Options) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	maxRetries := opts.MaxRetries
	switch {
	case maxRetries < 0:
		maxRetries = 0
	case maxRetries == 0:
		maxRetries = 3
	}
	c := &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		maxRetries: maxRetries,
		retry:      backoff.Strategy{Base: opts.BaseDelay, Max: opts.MaxDelay}.WithDefaults(defaultRetry),
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// DoJSON sends body (if any) as JSON and decodes a 2xx response into out (if
// any). Transport failures, 429 and 5xx responses are retried with backoff.
func (c *Client) DoJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, requestPath, err)
		}
	}
	for attempt := 1; ; attempt++ {
		status, header, respBody, err := c.send(ctx, method, requestPath, payload)
		retriesLeft := attempt <= c.maxRetries && ctx.Err() == nil
		switch {
		case err != nil:
			if !retriesLeft {
				return err
			}
			if waitErr := backoff.Wait(ctx, c.retryDelay(attempt, "")); waitErr != nil {
				return waitErr
			}
		case status >= 200 && status <= 299:
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode %s %s: %w", method, requestPath, err)
			}
			return nil
		case retryable(status) && retriesLeft:
			if waitErr := backoff.Wait(ctx, c.retryDelay(attempt, header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
		default:
			return decodeError(status, respBody)
		}
	}
}

func (c *Client) send(ctx context.Context, method, requestPath string, payload []byte) (int, http.Header, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, nil, err
		}
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, respBody, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader, time.Now()); retryAfter > 0 {
		return c.retry.Clamp(retryAfter)
	}
	return c.retry.Delay(attempt)
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil && ts.After(now) {
		return ts.Sub(now)
	}
	return 0
}
