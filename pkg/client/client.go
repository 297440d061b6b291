// Package client talks to the allureboard HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/allureboard/pkg/allure"
	"github.com/ethpandaops/allureboard/pkg/cache"
	"github.com/ethpandaops/allureboard/pkg/reports"
	"github.com/sirupsen/logrus"
)

const (
	// defaultRequestTimeout bounds a whole JSON call, body included.
	defaultRequestTimeout = 60 * time.Second

	// defaultHeaderTimeout bounds the wait for response headers. Streamed
	// downloads have no overall limit beyond the caller's context.
	defaultHeaderTimeout = 60 * time.Second
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}

	return msg
}

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}

// Client is a small API client. It is safe for concurrent use.
type Client struct {
	log     logrus.FieldLogger
	baseURL string
	http    *http.Client

	requestTimeout time.Duration

	mu    sync.RWMutex
	token string
}

var _ cache.Fetcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRequestTimeout bounds each JSON call. Zero disables the limit.
// Downloads are not affected.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WithToken sets a bearer token obtained earlier.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// New creates a Client for the API at baseURL.
func New(log logrus.FieldLogger, baseURL string, opts ...Option) *Client {
	c := &Client{
		log:     log.WithField("component", "client"),
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: newTransport(defaultHeaderTimeout)},

		requestTimeout: defaultRequestTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// newTransport clones the default transport with a response header
// timeout. http.Client.Timeout is left unset: it would also cut off long
// response bodies.
func newTransport(headerTimeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = headerTimeout

	return t
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.token
}

// Logout forgets the token.
func (c *Client) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = ""
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", fmt.Errorf("encoding login: %w", err)
	}

	var resp struct {
		Token string `json:"token"`
	}

	if err := c.doJSON(ctx, http.MethodPost, "/login", bytes.NewReader(body), false, &resp); err != nil {
		return "", fmt.Errorf("logging in: %w", err)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()

	return resp.Token, nil
}

// User is the authenticated account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Dashboard is the /dashboard payload.
type Dashboard struct {
	Message string `json:"message"`
	User    User   `json:"user"`
}

// Dashboard calls the protected greeting endpoint.
func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	var resp Dashboard
	if err := c.doJSON(ctx, http.MethodGet, "/dashboard", nil, true, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Health is the /api/health payload.
type Health struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Health checks that the API is up.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, false, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Fetch returns the report catalog as cached by the server.
func (c *Client) Fetch(ctx context.Context) (*reports.Snapshot, error) {
	return c.reports(ctx, false)
}

// Refresh makes the server rescan storage before answering.
func (c *Client) Refresh(ctx context.Context) (*reports.Snapshot, error) {
	return c.reports(ctx, true)
}

func (c *Client) reports(ctx context.Context, refresh bool) (*reports.Snapshot, error) {
	path := "/api/reports"
	if refresh {
		path += "?refresh=true"
	}

	var resp reports.Snapshot
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// CacheStatus is the server-side cache state.
type CacheStatus struct {
	Status      string     `json:"status"`
	State       string     `json:"state"`
	LastFetched *time.Time `json:"lastFetched"`
	Stale       bool       `json:"stale"`
	Error       string     `json:"error,omitempty"`
}

// CacheStatus describes the server's report cache.
func (c *Client) CacheStatus(ctx context.Context) (*CacheStatus, error) {
	var resp CacheStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/reports/status", nil, true, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// ClearCache empties the server's report cache.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/reports/cache", nil, true, nil)
}

// Results lists the parsed results of a run.
func (c *Client) Results(ctx context.Context, runID string) ([]allure.TestResult, error) {
	var resp struct {
		Results []allure.TestResult `json:"results"`
	}

	path := "/api/reports/" + url.PathEscape(runID) + "/results"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}

	return resp.Results, nil
}

// History returns the outcomes of one test across indexed runs. The server
// answers 404 when indexing is disabled.
func (c *Client) History(ctx context.Context, historyID string) ([]allure.TestResult, error) {
	var resp struct {
		Results []allure.TestResult `json:"results"`
	}

	path := "/api/tests/" + url.PathEscape(historyID) + "/history"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}

	return resp.Results, nil
}

// Compare asks the server to compare two runs.
func (c *Client) Compare(ctx context.Context, run1, run2 string) (*allure.Comparison, error) {
	q := url.Values{}
	q.Set("run1", run1)
	q.Set("run2", run2)

	var resp allure.Comparison
	if err := c.doJSON(ctx, http.MethodGet, "/api/compare?"+q.Encode(), nil, true, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Download streams the ZIP archive of a run into w and returns the number
// of bytes copied. Only ctx limits how long the stream may take.
func (c *Client) Download(ctx context.Context, runID string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet,
		"/api/download-report/"+url.PathEscape(runID), nil, true)
	if err != nil {
		return 0, err
	}

	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("downloading %s: %w", runID, err)
	}

	return n, nil
}

func (c *Client) doJSON(
	ctx context.Context,
	method, path string,
	body io.Reader,
	auth bool,
	out any,
) error {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	resp, err := c.do(ctx, method, path, body, auth)
	if err != nil {
		return err
	}

	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}

	return nil
}

// do sends a request and turns non-2xx answers into *APIError. The caller
// closes the body of a successful response.
func (c *Client) do(
	ctx context.Context,
	method, path string,
	body io.Reader,
	auth bool,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Without a token the server decides: anonymous reads may be allowed.
	if token := c.Token(); auth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.log.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("API request")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()

	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Details = payload.Details
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	return nil, apiErr
}
