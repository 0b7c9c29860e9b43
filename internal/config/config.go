// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	GRPCAddr    string // empty disables the gRPC health listener
	TokenURL    string // credential endpoint fetched by the telephony bridge

	Voice    VoiceTokenConfig
	Call     CallConfig
	Viewport ViewportConfig
}

// VoiceTokenConfig controls the access tokens issued by /voice-token.
type VoiceTokenConfig struct {
	AccountSID string
	APIKey     string
	APISecret  string
	AppSID     string
	TTL        time.Duration
}

// Enabled reports whether enough credentials are present to mint tokens.
func (v VoiceTokenConfig) Enabled() bool {
	return v.AccountSID != "" && v.APIKey != "" && v.APISecret != ""
}

// CallConfig holds the call timing knobs.
type CallConfig struct {
	CaptureRetryDelays    []time.Duration
	RecordingStartDelay   time.Duration
	DeviceRegisterTimeout time.Duration
	VisualizerFPS         int
}

// ViewportConfig is the viewport assumed until a surface reports its own size.
type ViewportConfig struct {
	Width  float64
	Height float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port := getEnv("PORT", "8080")

	delays, err := parseDurations(getEnv("CAPTURE_RETRY_DELAYS", "500ms,1s"))
	if err != nil {
		return nil, fmt.Errorf("parse CAPTURE_RETRY_DELAYS: %w", err)
	}

	cfg := &Config{
		Port:        port,
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/calldesk.db"),
		GRPCAddr:    getEnv("GRPC_ADDR", ""),
		TokenURL:    getEnv("TOKEN_URL", "http://localhost:"+port+"/voice-token"),
		Voice: VoiceTokenConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			APIKey:     getEnv("TWILIO_API_KEY", ""),
			APISecret:  getEnv("TWILIO_API_SECRET", ""),
			AppSID:     getEnv("TWILIO_APP_SID", ""),
			TTL:        getEnvDuration("TOKEN_TTL", time.Hour),
		},
		Call: CallConfig{
			CaptureRetryDelays:    delays,
			RecordingStartDelay:   getEnvDuration("RECORDING_START_DELAY", 150*time.Millisecond),
			DeviceRegisterTimeout: getEnvDuration("DEVICE_REGISTER_TIMEOUT", 10*time.Second),
			VisualizerFPS:         getEnvInt("VISUALIZER_FPS", 30),
		},
		Viewport: ViewportConfig{
			Width:  float64(getEnvInt("VIEWPORT_WIDTH", 1440)),
			Height: float64(getEnvInt("VIEWPORT_HEIGHT", 900)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.TokenURL == "" {
		return fmt.Errorf("TOKEN_URL cannot be empty")
	}
	if c.Voice.TTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0")
	}
	if c.Call.RecordingStartDelay < 0 {
		return fmt.Errorf("RECORDING_START_DELAY cannot be negative")
	}
	for _, d := range c.Call.CaptureRetryDelays {
		if d < 0 {
			return fmt.Errorf("CAPTURE_RETRY_DELAYS cannot contain negative durations")
		}
	}
	if c.Call.VisualizerFPS <= 0 || c.Call.VisualizerFPS > 120 {
		return fmt.Errorf("VISUALIZER_FPS must be in (0, 120]")
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return fmt.Errorf("VIEWPORT_WIDTH and VIEWPORT_HEIGHT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins derived from FrontendURL.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// parseDurations parses a comma separated list such as "500ms,1s".
// An empty list yields an empty, non-nil slice, which disables retries.
func parseDurations(raw string) ([]time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []time.Duration{}, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", p, err)
		}
		out = append(out, d)
	}
	return out, nil
}
