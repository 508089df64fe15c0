// Package client provides a Go client for the Wasmproof API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client is a Wasmproof API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout overrides the default request timeout. Verification runs a
// full build server-side, so submitters usually want this much higher than
// the 30 second default.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// New creates a new Wasmproof client
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// VerifyRequest is the request for submitting a verification
type VerifyRequest struct {
	Repository  string            `json:"repository"`
	CommitHash  string            `json:"commitHash"`
	BuildParams map[string]string `json:"buildParams,omitempty"`
	RequestedBy string            `json:"requestedBy,omitempty"`
}

// Record is a verification record
type Record struct {
	ID          string            `json:"id"`
	WasmHash    string            `json:"wasmHash"`
	Status      string            `json:"status"`
	Network     string            `json:"network,omitempty"`
	ContractID  string            `json:"contractId,omitempty"`
	Repository  string            `json:"repository"`
	CommitHash  string            `json:"commitHash"`
	Package     string            `json:"package,omitempty"`
	BuildParams map[string]string `json:"buildParams,omitempty"`
	CreatedAt   string            `json:"createdAt"`
}

// ListOptions filters a record listing
type ListOptions struct {
	Status  string
	Network string
	Limit   int
	Cursor  string
}

// ListResponse is the response for listing records
type ListResponse struct {
	Data       []Record   `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// LedgerStatus describes the server's ledger snapshot
type LedgerStatus struct {
	Entries  int       `json:"entries"`
	LoadedAt time.Time `json:"loadedAt"`
	Loaded   bool      `json:"loaded"`
}

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

func (e *APIError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s (stage %s): %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Verify submits a verification request and blocks until the pipeline
// completes. The returned record is verified or unverified; failed runs
// surface as an *APIError.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*Record, error) {
	var rec Record
	if err := c.post(ctx, "/api/v1/verifications", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetRecord gets the verification record for a wasm hash
func (c *Client) GetRecord(ctx context.Context, wasmHash string) (*Record, error) {
	var rec Record
	if err := c.get(ctx, "/api/v1/verifications/"+url.PathEscape(wasmHash), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecords lists verification records
func (c *Client) ListRecords(ctx context.Context, opts ListOptions) (*ListResponse, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Network != "" {
		q.Set("network", opts.Network)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}

	path := "/api/v1/verifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetLedgerStatus gets the server's ledger snapshot status
func (c *Client) GetLedgerStatus(ctx context.Context) (*LedgerStatus, error) {
	var resp LedgerStatus
	if err := c.get(ctx, "/api/v1/ledger", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return &errResp.Error
}
