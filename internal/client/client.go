// Package client is a signing HTTP client for the escrowd API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/crypto"
)

// Client sends requests to an escrowd server. Write routes are signed when
// the client carries a Signer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	apiKey     string
	now        func() time.Time
}

// New creates a Client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// WithSigner signs every request with s.
func (c *Client) WithSigner(s *crypto.Signer) *Client {
	c.signer = s
	return c
}

// WithAPIKey sends key as a bearer token.
func (c *Client) WithAPIKey(key string) *Client {
	c.apiKey = key
	return c
}

// WithHTTPClient replaces the default 30s-timeout client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpClient = h
	return c
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    string `json:"code"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("client: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("client: %d: %s", e.Status, e.Message)
}

// Do sends body to path (which may carry a query string) and returns the
// raw response body. Non-2xx responses come back as *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.signer != nil {
		// The server verifies the path without its query.
		signedPath, _, _ := strings.Cut(path, "?")
		headers, err := c.signer.RequestHeaders(method, signedPath, body, c.now())
		if err != nil {
			return nil, fmt.Errorf("client: sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return nil, apiErr
	}
	return respBody, nil
}

// PlaceBet stakes amount on side in marketID.
func (c *Client) PlaceBet(ctx context.Context, marketID string, side bool, amount uint64) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{"side": side, "amount": amount})
	if err != nil {
		return nil, fmt.Errorf("client: marshal bet: %w", err)
	}
	return c.Do(ctx, http.MethodPost, "/api/markets/"+marketID+"/bets", body)
}

// Claim settles the signer's bet in marketID.
func (c *Client) Claim(ctx context.Context, marketID string) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPost, "/api/markets/"+marketID+"/claim", nil)
}
