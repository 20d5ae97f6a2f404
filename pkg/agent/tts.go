// HTTP text-to-speech client used by the greeting pre-cache.
//
// Requests pcm_8000 output so the result converts straight to telephony
// µ-law without resampling.
//
// Reference: https://elevenlabs.io/docs/api-reference/text-to-speech

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultTTSEndpoint = "https://api.elevenlabs.io/v1/text-to-speech"
	ttsDefaultVoiceID  = "21m00Tcm4TlvDq8ikWAM" // Rachel
	ttsDefaultModel    = "eleven_turbo_v2_5"
	ttsOutputFormat    = "pcm_8000"
)

// TTSClient synthesizes short utterances over the provider's HTTP API.
type TTSClient struct {
	apiKey   string
	voiceID  string
	model    string
	endpoint string
	client   *http.Client
}

// TTSOption customizes a TTSClient.
type TTSOption func(*TTSClient)

// WithTTSEndpoint overrides the provider endpoint (tests).
func WithTTSEndpoint(endpoint string) TTSOption {
	return func(c *TTSClient) { c.endpoint = endpoint }
}

// WithTTSVoice selects a voice id.
func WithTTSVoice(voiceID string) TTSOption {
	return func(c *TTSClient) { c.voiceID = voiceID }
}

// NewTTSClient creates an HTTP TTS client.
func NewTTSClient(apiKey string, opts ...TTSOption) *TTSClient {
	c := &TTSClient{
		apiKey:   apiKey,
		voiceID:  ttsDefaultVoiceID,
		model:    ttsDefaultModel,
		endpoint: defaultTTSEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type ttsRequestBody struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// Synthesize renders text to 16-bit mono PCM at 8kHz.
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	params := url.Values{}
	params.Set("output_format", ttsOutputFormat)

	requestURL := fmt.Sprintf("%s/%s/stream?%s", c.endpoint, c.voiceID, params.Encode())

	bodyBytes, err := json.Marshal(ttsRequestBody{Text: text, ModelID: c.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TTS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("TTS request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
