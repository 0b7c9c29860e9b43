// Package identity provides voice client identity primitives.
package identity

import (
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// DevicePrefix starts every generated device identity.
const DevicePrefix = "user_"

var (
	deviceIDPattern = regexp.MustCompile(`^user_[a-f0-9]{32}$`)
	// Provider client identities allow letters, digits and a few separators.
	clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,121}$`)
)

// NewDeviceIdentity returns a fresh identity for a voice device registration.
func NewDeviceIdentity() string {
	return DevicePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsDeviceIdentity reports whether id was produced by NewDeviceIdentity.
func IsDeviceIdentity(id string) bool {
	return deviceIDPattern.MatchString(id)
}

// SanitizeClientIdentity trims id and returns it if it is a usable client
// identity, or "" otherwise.
func SanitizeClientIdentity(id string) string {
	id = strings.TrimSpace(id)
	if !clientIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// FromRequest returns the sanitized identity query parameter, generating a
// device identity when none was supplied.
func FromRequest(r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("identity")
	if strings.TrimSpace(raw) == "" {
		return NewDeviceIdentity(), true
	}
	id := SanitizeClientIdentity(raw)
	return id, id != ""
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
