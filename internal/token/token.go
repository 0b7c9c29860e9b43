// Package token issues short-lived voice access tokens for device identities.
//
// Tokens follow the provider's access-token layout: an HS256 JWT signed with
// an API key secret, carrying a voice grant for a single identity.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContentType is the JWT cty header the provider expects.
const ContentType = "twilio-fpa;v=1"

// ErrNotConfigured is returned when credentials are missing.
var ErrNotConfigured = errors.New("voice token issuer not configured")

// Config holds the provider credentials.
type Config struct {
	AccountSID string
	APIKey     string
	APISecret  string
	AppSID     string // outgoing application
	TTL        time.Duration
}

// VoiceGrant allows outgoing calls through an application and optionally
// incoming calls to the identity.
type VoiceGrant struct {
	Outgoing *OutgoingGrant `json:"outgoing,omitempty"`
	Incoming *IncomingGrant `json:"incoming,omitempty"`
}

type OutgoingGrant struct {
	ApplicationSID string `json:"application_sid"`
}

type IncomingGrant struct {
	Allow bool `json:"allow"`
}

// Grants is the grants claim.
type Grants struct {
	Identity string      `json:"identity"`
	Voice    *VoiceGrant `json:"voice,omitempty"`
}

// Claims is the full claim set of a voice access token.
type Claims struct {
	jwt.RegisteredClaims
	Grants Grants `json:"grants"`
}

// Issuer signs voice tokens.
type Issuer struct {
	cfg Config
	now func() time.Time
}

// NewIssuer validates cfg and returns an issuer. TTL defaults to one hour.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccountSID == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrNotConfigured
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &Issuer{cfg: cfg, now: time.Now}, nil
}

// Issue returns a signed token for identity.
func (i *Issuer) Issue(identity string) (string, error) {
	if identity == "" {
		return "", errors.New("identity is required")
	}
	now := i.now()

	grant := &VoiceGrant{Incoming: &IncomingGrant{Allow: true}}
	if i.cfg.AppSID != "" {
		grant.Outgoing = &OutgoingGrant{ApplicationSID: i.cfg.AppSID}
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", i.cfg.APIKey, now.Unix()),
			Issuer:    i.cfg.APIKey,
			Subject:   i.cfg.AccountSID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.TTL)),
		},
		Grants: Grants{Identity: identity, Voice: grant},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["cty"] = ContentType
	signed, err := tok.SignedString([]byte(i.cfg.APISecret))
	if err != nil {
		return "", fmt.Errorf("sign voice token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token issued by i and returns its claims.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.APIKey),
		jwt.WithTimeFunc(i.now),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(i.cfg.APISecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse voice token: %w", err)
	}
	return claims, nil
}
