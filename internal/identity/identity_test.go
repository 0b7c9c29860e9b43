package identity

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewDeviceIdentity(t *testing.T) {
	a := NewDeviceIdentity()
	b := NewDeviceIdentity()
	if a == b {
		t.Fatal("identities should be unique")
	}
	if !IsDeviceIdentity(a) {
		t.Fatalf("generated identity %q fails validation", a)
	}
	if !strings.HasPrefix(a, DevicePrefix) {
		t.Fatalf("identity %q missing prefix", a)
	}
}

func TestSanitizeClientIdentity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"agent_42", "agent_42"},
		{"  alice@desk  ", "alice@desk"},
		{"bad id", ""},
		{"<script>", ""},
		{"", ""},
		{strings.Repeat("a", 200), ""},
	}
	for _, tt := range tests {
		if got := SanitizeClientIdentity(tt.in); got != tt.want {
			t.Errorf("SanitizeClientIdentity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/voice-token", nil)
	id, ok := FromRequest(r)
	if !ok || !IsDeviceIdentity(id) {
		t.Fatalf("FromRequest without identity = %q, %v", id, ok)
	}

	r = httptest.NewRequest("GET", "/voice-token?identity=user_123", nil)
	if id, ok := FromRequest(r); !ok || id != "user_123" {
		t.Fatalf("FromRequest = %q, %v", id, ok)
	}

	r = httptest.NewRequest("GET", "/voice-token?identity=%3Cbad%3E", nil)
	if _, ok := FromRequest(r); ok {
		t.Fatal("invalid identity accepted")
	}
}

func TestIPFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	if got := IPFromRequest(r); got != "10.0.0.7" {
		t.Fatalf("IPFromRequest() = %q", got)
	}
	r.RemoteAddr = "pipe"
	if got := IPFromRequest(r); got != "pipe" {
		t.Fatalf("IPFromRequest() = %q", got)
	}
}
