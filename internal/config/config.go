package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port       string
	AppBaseURL string
	InstanceID string

	// Twilio configuration
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Gemini AI backbone configuration
	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	// Bounded timeout for a single AI backbone call during a live turn.
	// The telephony provider expects a fast, always-valid response.
	BackboneTimeout time.Duration

	// TTL for per-call conversation state in the shared store
	ConversationTTL time.Duration

	// Maximum caller/agent turns before the call is wound down
	MaxTurns int

	// Secret for the dashboard API bearer tokens; empty disables auth (dev)
	DashboardAPISecret string

	// Webhook surface rate limit, requests per second with burst
	WebhookRateLimit int
	WebhookBurst     int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Port:       GetEnvOrDefault("PORT", "8080"),
		AppBaseURL: GetEnvOrDefault("APP_BASE_URL", "http://localhost:8080"),
		InstanceID: instanceID(),

		TwilioAccountSID: GetEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  GetEnvOrDefault("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: GetEnvOrDefault("TWILIO_FROM_NUMBER", ""),

		GeminiAPIKey:  GetEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiBaseURL: GetEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiModel:   GetEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),

		BackboneTimeout: time.Duration(GetEnvIntOrDefault("BACKBONE_TIMEOUT_SECONDS", 8)) * time.Second,
		ConversationTTL: time.Duration(GetEnvIntOrDefault("CONVERSATION_TTL_MINUTES", 30)) * time.Minute,
		MaxTurns:        GetEnvIntOrDefault("MAX_CALL_TURNS", 15),

		DashboardAPISecret: GetEnvOrDefault("DASHBOARD_API_SECRET", ""),

		WebhookRateLimit: GetEnvIntOrDefault("WEBHOOK_RATE_LIMIT", 50),
		WebhookBurst:     GetEnvIntOrDefault("WEBHOOK_BURST", 100),
	}
}

// GetEnvOrDefault gets environment variable or returns default
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvIntOrDefault gets environment variable as int or returns default
func GetEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// instanceID returns a unique identifier for this service instance.
// It prefers the system hostname (pod name in K8s) and falls back to a
// timestamp-based ID.
func instanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("voicebot-service-%d", time.Now().UnixNano())
}
