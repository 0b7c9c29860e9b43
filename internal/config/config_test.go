package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "TOKEN_URL", "CAPTURE_RETRY_DELAYS", "RECORDING_START_DELAY", "VISUALIZER_FPS"} {
		t.Setenv(key, "")
	}
	t.Setenv("PORT", "9090")
	t.Setenv("TOKEN_URL", "http://localhost:9090/voice-token")
	t.Setenv("CAPTURE_RETRY_DELAYS", "500ms,1s")
	t.Setenv("RECORDING_START_DELAY", "150ms")
	t.Setenv("VISUALIZER_FPS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(cfg.Call.CaptureRetryDelays) != len(want) {
		t.Fatalf("CaptureRetryDelays = %v, want %v", cfg.Call.CaptureRetryDelays, want)
	}
	for i := range want {
		if cfg.Call.CaptureRetryDelays[i] != want[i] {
			t.Errorf("CaptureRetryDelays[%d] = %v, want %v", i, cfg.Call.CaptureRetryDelays[i], want[i])
		}
	}
	if cfg.Call.RecordingStartDelay != 150*time.Millisecond {
		t.Errorf("RecordingStartDelay = %v, want 150ms", cfg.Call.RecordingStartDelay)
	}
}

func TestLoadRejectsBadRetryDelays(t *testing.T) {
	t.Setenv("CAPTURE_RETRY_DELAYS", "500ms,soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable retry delay")
	}
}

func TestParseDurationsEmpty(t *testing.T) {
	got, err := parseDurations(" ")
	if err != nil {
		t.Fatalf("parseDurations() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil delays, got %#v", got)
	}
}

func TestLoadEmptyRetryDelays(t *testing.T) {
	t.Setenv("CAPTURE_RETRY_DELAYS", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Call.CaptureRetryDelays == nil || len(cfg.Call.CaptureRetryDelays) != 0 {
		t.Fatalf("retry delays = %#v, want empty", cfg.Call.CaptureRetryDelays)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:     "8080",
			DBPath:   "./data/x.db",
			TokenURL: "http://localhost/voice-token",
			Voice:    VoiceTokenConfig{TTL: time.Hour},
			Call:     CallConfig{VisualizerFPS: 30},
			Viewport: ViewportConfig{Width: 1024, Height: 768},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"empty port", func(c *Config) { c.Port = "" }, false},
		{"empty db", func(c *Config) { c.DBPath = "" }, false},
		{"zero ttl", func(c *Config) { c.Voice.TTL = 0 }, false},
		{"negative delay", func(c *Config) { c.Call.CaptureRetryDelays = []time.Duration{-time.Second} }, false},
		{"fps too high", func(c *Config) { c.Call.VisualizerFPS = 500 }, false},
		{"zero viewport", func(c *Config) { c.Viewport.Width = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("Validate() expected error")
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{FrontendURL: "https://desk.example.com/"}
	got := cfg.AllowedOrigins()
	if len(got) != 1 || got[0] != "https://desk.example.com" {
		t.Fatalf("AllowedOrigins() = %v", got)
	}

	dev := &Config{}
	if got := dev.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("dev AllowedOrigins() = %v", got)
	}
}
