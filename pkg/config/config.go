// Package config loads the voicebridge configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds all runtime configuration for the voice bridge.
type Config struct {
	// Server
	Port string

	// PublicHost is the externally reachable host used to build TwiML
	// stream URLs and Twilio status callbacks (no scheme, no trailing slash).
	PublicHost string

	// Environment name ("production", "development", ...)
	Environment string

	// ElevenLabs conversational agent
	ElevenLabsAPIKey  string
	ElevenLabsAgentID string

	// Twilio
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	// Cal.com booking backend (optional; tool calls fail soft without it)
	CalComAPIKey string
}

// Load reads configuration from the environment. It returns an error naming
// every missing required variable so startup can fail with a single message.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		PublicHost:        publicHost(),
		Environment:       getEnv("NODE_ENV", "development"),
		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsAgentID: os.Getenv("ELEVENLABS_AGENT_ID"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
		CalComAPIKey:      os.Getenv("CAL_COM_API_KEY"),
	}

	var missing []string
	if cfg.ElevenLabsAPIKey == "" {
		missing = append(missing, "ELEVENLABS_API_KEY")
	}
	if cfg.ElevenLabsAgentID == "" {
		missing = append(missing, "ELEVENLABS_AGENT_ID")
	}
	if cfg.TwilioAccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if cfg.TwilioAuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if cfg.TwilioPhoneNumber == "" {
		missing = append(missing, "TWILIO_PHONE_NUMBER")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// WebSocketURL returns the wss:// URL for the given media stream path.
func (c *Config) WebSocketURL(path string) string {
	return "wss://" + c.PublicHost + path
}

// HTTPURL returns the https:// URL for the given path.
func (c *Config) HTTPURL(path string) string {
	return "https://" + c.PublicHost + path
}

// publicHost resolves the public host from PUBLIC_URL or the Railway-provided
// domain. PUBLIC_URL may carry a scheme; only the host part is kept.
func publicHost() string {
	host := os.Getenv("PUBLIC_URL")
	if host == "" {
		host = os.Getenv("RAILWAY_PUBLIC_DOMAIN")
	}
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimSuffix(host, "/")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
