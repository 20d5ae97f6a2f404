// Signed URL acquisition.
//
// The agent provider authenticates WebSocket sessions with short-lived
// signed URLs minted over HTTPS with the account API key.
//
// Reference: https://elevenlabs.io/docs/conversational-ai/api-reference/get-signed-url

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultSignedURLEndpoint = "https://api.elevenlabs.io/v1/convai/conversation/get-signed-url"

// SignedURLClient mints signed WebSocket URLs for one agent.
type SignedURLClient struct {
	apiKey   string
	agentID  string
	endpoint string
	client   *http.Client
}

// SignedURLOption customizes a SignedURLClient.
type SignedURLOption func(*SignedURLClient)

// WithSignedURLEndpoint overrides the provider endpoint (tests).
func WithSignedURLEndpoint(endpoint string) SignedURLOption {
	return func(c *SignedURLClient) { c.endpoint = endpoint }
}

// NewSignedURLClient creates a client for the given API key and agent id.
func NewSignedURLClient(apiKey, agentID string, opts ...SignedURLOption) *SignedURLClient {
	c := &SignedURLClient{
		apiKey:   apiKey,
		agentID:  agentID,
		endpoint: defaultSignedURLEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// GetSignedURL mints one signed URL. A non-2xx response is an upstream
// auth failure and surfaces to the caller.
func (c *SignedURLClient) GetSignedURL(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("agent_id", c.agentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create signed URL request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("signed URL request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("signed URL request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode signed URL response: %w", err)
	}
	if parsed.SignedURL == "" {
		return "", fmt.Errorf("signed URL response missing signed_url")
	}

	return parsed.SignedURL, nil
}
