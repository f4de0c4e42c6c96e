// Package creds provides access tokens for the mail and file-store
// integrations. Token refresh against the OAuth endpoint is the only
// credential mechanics the core knows about.
package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Provider hands out bearer tokens. RefreshNow forces a new token even when
// a cached one has not expired; the upload retry path uses it after a 401.
type Provider interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshNow(ctx context.Context) (string, error)
}

type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	HTTPClient   *http.Client
}

// OAuthProvider refreshes tokens against a standard token endpoint and
// caches the result until shortly before expiry.
type OAuthProvider struct {
	cfg        Config
	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewOAuthProvider(cfg Config) *OAuthProvider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &OAuthProvider{cfg: cfg, httpClient: client}
}

// Configured reports whether the provider can mint tokens at all.
func (p *OAuthProvider) Configured() bool {
	return strings.TrimSpace(p.cfg.TokenURL) != "" && strings.TrimSpace(p.cfg.RefreshToken) != ""
}

func (p *OAuthProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.token != "" && time.Now().Before(p.expiresAt) {
		token := p.token
		p.mu.Unlock()
		return token, nil
	}
	p.mu.Unlock()
	return p.RefreshNow(ctx)
}

func (p *OAuthProvider) RefreshNow(ctx context.Context) (string, error) {
	if !p.Configured() {
		return "", fmt.Errorf("credential provider not configured")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", p.cfg.RefreshToken)
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty token")
	}

	ttl := time.Duration(parsed.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	p.mu.Lock()
	p.token = parsed.AccessToken
	p.expiresAt = time.Now().Add(ttl - time.Minute)
	p.mu.Unlock()

	return parsed.AccessToken, nil
}

// Static is a fixed-token provider for tests and deployments where token
// rotation is handled outside the process.
type Static string

func (s Static) AccessToken(ctx context.Context) (string, error) { return string(s), nil }
func (s Static) RefreshNow(ctx context.Context) (string, error)  { return string(s), nil }
