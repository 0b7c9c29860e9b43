package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// TokenSource issues voice access tokens for an identity.
type TokenSource interface {
	Token(ctx context.Context, identity string) (string, error)
}

// HTTPTokenSource fetches tokens with GET <URL>?identity=<id>.
// The endpoint answers {"token": "..."}.
type HTTPTokenSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPTokenSource returns a TokenSource for endpoint.
func NewHTTPTokenSource(endpoint string) *HTTPTokenSource {
	return &HTTPTokenSource{
		URL:    endpoint,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Token implements TokenSource.
func (s *HTTPTokenSource) Token(ctx context.Context, identity string) (string, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("parse token url: %w", err)
	}
	q := u.Query()
	q.Set("identity", identity)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}
	return tr.Token, nil
}
