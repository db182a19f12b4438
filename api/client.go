// Package api is a minimal typed client for the platform REST API.
// Every request is signed before it leaves, so calls work the same
// whether the credential engine resolved an OAuth pair or a legacy
// bearer token.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/gantryhq/gantry/oauth1"
)

const (
	selfPath = "/v2/self"

	// errorBodyLimit truncates diagnostic bodies in error messages.
	errorBodyLimit = 512
)

// APIError is a non-200 platform response.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API %s (%d): %s", e.Endpoint, e.StatusCode, e.Message)
}

// Client talks to the platform REST API with signed requests.
type Client struct {
	httpClient *http.Client
	baseURL    string
	signer     *oauth1.Signer
}

// NewClient creates an API client against the given host, signing
// every request with signer. If httpClient is nil, http.DefaultClient
// is used.
func NewClient(apiHost string, signer *oauth1.Signer, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(apiHost, "/"),
		signer:     signer,
	}
}

// SelfResponse describes the authenticated principal.
type SelfResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Self returns the identity behind the configured credentials.
func (c *Client) Self(ctx context.Context) (*SelfResponse, error) {
	var resp SelfResponse
	if err := c.get(ctx, selfPath, &resp); err != nil {
		return nil, fmt.Errorf("fetching identity: %w", err)
	}

	return &resp, nil
}

// get sends a signed GET request and decodes the response into result.
func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if err := c.signer.Sign(req); err != nil {
		return fmt.Errorf("signing request to %s: %w", endpoint, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", endpoint, err)
		}
	}

	return nil
}

// errorMessage digs a human-readable diagnostic out of an arbitrary
// error body, falling back to the raw body, truncated.
func errorMessage(body []byte) string {
	for _, path := range []string{"error.message", "error", "message"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}

	s := strings.TrimSpace(string(body))
	if s == "" {
		return "no response body"
	}

	if len(s) > errorBodyLimit {
		s = s[:errorBodyLimit] + "..."
	}

	return s
}
