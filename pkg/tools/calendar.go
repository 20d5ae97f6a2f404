package tools

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
	defaultCalendarEndpoint = "https://api.cal.com"

	// calendarTimeout is the hard budget for any calendar backend call.
	calendarTimeout = 10 * time.Second

	calendarAPIVersion = "2024-08-13"
)

// BackendError is a non-2xx response from the calendar backend. Body is
// truncated to a preview.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("calendar backend returned status %d: %s", e.StatusCode, e.Body)
}

// CalendarClient talks to a Cal.com-compatible booking backend.
type CalendarClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// CalendarOption configures a CalendarClient.
type CalendarOption func(*CalendarClient)

// WithCalendarEndpoint overrides the backend base URL, for tests.
func WithCalendarEndpoint(endpoint string) CalendarOption {
	return func(c *CalendarClient) {
		c.endpoint = endpoint
	}
}

// NewCalendarClient creates a client authenticated with the given API key.
func NewCalendarClient(apiKey string, opts ...CalendarOption) *CalendarClient {
	c := &CalendarClient{
		endpoint:   defaultCalendarEndpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: calendarTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AvailableSlots fetches open slots for an event type over a date range.
// Dates are YYYY-MM-DD; the response body is returned verbatim.
func (c *CalendarClient) AvailableSlots(ctx context.Context, eventTypeID, start, end, timeZone string) (string, error) {
	query := url.Values{}
	query.Set("eventTypeId", eventTypeID)
	query.Set("start", start)
	query.Set("end", end)
	query.Set("timeZone", timeZone)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v2/slots?%s", c.endpoint, query.Encode()), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create slots request: %w", err)
	}
	return c.do(req)
}

// BookMeeting creates a booking with the given parameters as the body.
func (c *CalendarClient) BookMeeting(ctx context.Context, params map[string]interface{}) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode booking body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/v2/bookings", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create booking request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *CalendarClient) do(req *http.Request) (string, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("cal-api-version", calendarAPIVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read calendar response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := string(body)
		if len(preview) > 512 {
			preview = preview[:512]
		}
		return "", &BackendError{StatusCode: resp.StatusCode, Body: preview}
	}
	return string(body), nil
}
