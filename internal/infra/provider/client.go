// Package provider implements the HTTP client for the external identity
// provider's authorization, token, and end-session endpoints.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/port"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/config"
)

// ErrProviderUnavailable indicates the token endpoint could not be
// reached at all, as opposed to rejecting the grant.
var ErrProviderUnavailable = errors.New("identity provider unreachable")

// Client talks to the identity provider endpoints.
type Client struct {
	cfg    config.ProviderSettings
	http   *http.Client
	logger *zap.Logger
}

var _ port.IdentityProvider = (*Client)(nil)

// NewClient constructs a provider client.
func NewClient(cfg config.ProviderSettings, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// AuthorizationURL builds the provider authorization endpoint URL
// parameterized with the proof-key challenge and CSRF state.
func (c *Client) AuthorizationURL(challenge, method, state string) string {
	query := url.Values{}
	query.Set("client_id", c.cfg.ClientID)
	query.Set("redirect_uri", c.cfg.RedirectURI)
	query.Set("response_type", "code")
	query.Set("scope", strings.Join(c.cfg.Scopes, " "))
	query.Set("state", state)
	query.Set("code_challenge", challenge)
	query.Set("code_challenge_method", method)

	return c.cfg.AuthorizeURL + "?" + query.Encode()
}

// EndSessionURL builds the provider end-session redirect target.
func (c *Client) EndSessionURL() string {
	query := url.Values{}
	query.Set("client_id", c.cfg.ClientID)
	query.Set("post_logout_redirect_uri", c.cfg.PostLogoutRedirectURI)

	return c.cfg.EndSessionURL + "?" + query.Encode()
}

// Exchange redeems an authorization code and the saved verifier for a
// credential pair.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (port.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("code_verifier", verifier)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("redirect_uri", c.cfg.RedirectURI)

	return c.token(ctx, form)
}

// Refresh redeems a refresh token for a new credential pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (port.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.cfg.ClientID)

	return c.token(ctx, form)
}

// providerError is the RFC 6749 error payload of the token endpoint.
type providerError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (c *Client) token(ctx context.Context, form url.Values) (port.TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return port.TokenResponse{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return port.TokenResponse{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return port.TokenResponse{}, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var perr providerError
		if unmarshalErr := json.Unmarshal(body, &perr); unmarshalErr == nil && perr.Code != "" {
			return port.TokenResponse{}, fmt.Errorf("token endpoint %s: %s (%s)", resp.Status, perr.Code, perr.Description)
		}
		return port.TokenResponse{}, fmt.Errorf("token endpoint %s", resp.Status)
	}

	var tok port.TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return port.TokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return port.TokenResponse{}, fmt.Errorf("token endpoint returned no access token")
	}

	return tok, nil
}
