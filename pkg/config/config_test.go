package config

import (
	"strings"
	"testing"
)

func setRequired(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "xi-key")
	t.Setenv("ELEVENLABS_AGENT_ID", "agent_1")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15550001111")
}

func TestLoad(t *testing.T) {
	setRequired(t)
	t.Setenv("PUBLIC_URL", "https://bridge.example.com/")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.PublicHost != "bridge.example.com" {
		t.Errorf("expected stripped host, got %s", cfg.PublicHost)
	}
	if got := cfg.WebSocketURL("/outbound-media-stream"); got != "wss://bridge.example.com/outbound-media-stream" {
		t.Errorf("unexpected ws url: %s", got)
	}
	if got := cfg.HTTPURL("/call-status"); got != "https://bridge.example.com/call-status" {
		t.Errorf("unexpected http url: %s", got)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("ELEVENLABS_API_KEY", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing variables")
	}
	if !strings.Contains(err.Error(), "ELEVENLABS_API_KEY") || !strings.Contains(err.Error(), "TWILIO_AUTH_TOKEN") {
		t.Errorf("error should name missing variables, got: %v", err)
	}
}

func TestLoad_RailwayFallback(t *testing.T) {
	setRequired(t)
	t.Setenv("PUBLIC_URL", "")
	t.Setenv("RAILWAY_PUBLIC_DOMAIN", "voicebridge.up.railway.app")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PublicHost != "voicebridge.up.railway.app" {
		t.Errorf("expected railway domain, got %s", cfg.PublicHost)
	}
}
