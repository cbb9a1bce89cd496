// Package anchorsync pushes client-side anchor positions to the annotation
// API.
package anchorsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MaxBatch is the largest anchor set the server accepts in one request.
const MaxBatch = 500

// Update is one anchor position as sent on the wire.
type Update struct {
	ID           string  `json:"id"`
	AnchorFrom   int     `json:"anchorFrom"`
	AnchorTo     int     `json:"anchorTo"`
	AnchorExact  *string `json:"anchorExact,omitempty"`
	AnchorPrefix *string `json:"anchorPrefix,omitempty"`
	AnchorSuffix *string `json:"anchorSuffix,omitempty"`
}

type Result struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

func (r Result) add(other Result) Result {
	return Result{Updated: r.Updated + other.Updated, Skipped: r.Skipped + other.Skipped}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("anchor sync: status %d", e.Status)
	}
	return fmt.Sprintf("anchor sync: %s (%d): %s", e.Code, e.Status, e.Message)
}

// Client calls the bulk anchor endpoint with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// Sync sends updates for documentID, splitting them into batches of at most
// MaxBatch. It stops at the first failing batch and returns the totals of the
// batches that succeeded together with the error. An empty set sends nothing.
func (c *Client) Sync(ctx context.Context, documentID string, updates []Update) (Result, error) {
	var total Result
	for start := 0; start < len(updates); start += MaxBatch {
		end := min(start+MaxBatch, len(updates))
		res, err := c.send(ctx, documentID, updates[start:end])
		if err != nil {
			return total, err
		}
		total = total.add(res)
	}
	return total, nil
}

func (c *Client) send(ctx context.Context, documentID string, batch []Update) (Result, error) {
	body, err := json.Marshal(map[string]any{"anchors": batch})
	if err != nil {
		return Result{}, fmt.Errorf("encode anchors: %w", err)
	}
	endpoint := fmt.Sprintf("%s/api/documents/%s/threads/anchors", c.baseURL, url.PathEscape(documentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build anchor sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("anchor sync request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read anchor sync response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, newAPIError(resp, raw)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, fmt.Errorf("decode anchor sync response: %w", err)
	}
	return result, nil
}

func newAPIError(resp *http.Response, raw []byte) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil {
		apiErr.Code = envelope.Code
		apiErr.Message = envelope.Error
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && seconds > 0 {
		apiErr.RetryAfter = time.Duration(seconds) * time.Second
	}
	return apiErr
}
