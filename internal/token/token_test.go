package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer(Config{
		AccountSID: "AC123",
		APIKey:     "SK456",
		APISecret:  "secret",
		AppSID:     "AP789",
		TTL:        10 * time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}
	return iss
}

func TestIssueAndParse(t *testing.T) {
	iss := testIssuer(t)
	raw, err := iss.Issue("user_abc")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := iss.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "AC123" || claims.Issuer != "SK456" {
		t.Fatalf("registered claims = %+v", claims.RegisteredClaims)
	}
	if claims.Grants.Identity != "user_abc" {
		t.Fatalf("identity = %q", claims.Grants.Identity)
	}
	v := claims.Grants.Voice
	if v == nil || v.Outgoing == nil || v.Outgoing.ApplicationSID != "AP789" || !v.Incoming.Allow {
		t.Fatalf("voice grant = %+v", v)
	}

	tok, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	if err != nil {
		t.Fatal(err)
	}
	if tok.Header["cty"] != ContentType {
		t.Fatalf("cty = %v", tok.Header["cty"])
	}
}

func TestParseRejectsExpired(t *testing.T) {
	iss := testIssuer(t)
	start := time.Now()
	iss.now = func() time.Time { return start }
	raw, err := iss.Issue("user_abc")
	if err != nil {
		t.Fatal(err)
	}

	iss.now = func() time.Time { return start.Add(11 * time.Minute) }
	if _, err := iss.Parse(raw); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("Parse(expired) error = %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	raw, err := testIssuer(t).Issue("user_abc")
	if err != nil {
		t.Fatal(err)
	}
	other, _ := NewIssuer(Config{AccountSID: "AC123", APIKey: "SK456", APISecret: "other"})
	if _, err := other.Parse(raw); err == nil {
		t.Fatal("token verified with the wrong secret")
	}
}

func TestNewIssuerRequiresCredentials(t *testing.T) {
	if _, err := NewIssuer(Config{APIKey: "k"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("NewIssuer() error = %v", err)
	}
}

func TestIssueRequiresIdentity(t *testing.T) {
	if _, err := testIssuer(t).Issue(""); err == nil {
		t.Fatal("Issue(\"\") succeeded")
	}
}
