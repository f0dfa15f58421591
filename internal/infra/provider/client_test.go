package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/config"
)

func testSettings(tokenURL string) config.ProviderSettings {
	return config.ProviderSettings{
		AuthorizeURL:          "https://idp.example.org/auth",
		TokenURL:              tokenURL,
		EndSessionURL:         "https://idp.example.org/logout",
		ClientID:              "pdms-agent",
		RedirectURI:           "http://127.0.0.1:8089/callback",
		PostLogoutRedirectURI: "http://127.0.0.1:8089/",
		Scopes:                []string{"openid", "profile"},
	}
}

func TestAuthorizationURL(t *testing.T) {
	client := NewClient(testSettings("https://idp.example.org/token"), nil)

	raw := client.AuthorizationURL("challenge-value", "S256", "state-123")
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse authorization URL: %v", err)
	}

	query := parsed.Query()
	checks := map[string]string{
		"client_id":             "pdms-agent",
		"redirect_uri":          "http://127.0.0.1:8089/callback",
		"response_type":         "code",
		"scope":                 "openid profile",
		"state":                 "state-123",
		"code_challenge":        "challenge-value",
		"code_challenge_method": "S256",
	}
	for key, want := range checks {
		if got := query.Get(key); got != want {
			t.Fatalf("query %s: got %q want %q", key, got, want)
		}
	}
}

func TestEndSessionURL(t *testing.T) {
	client := NewClient(testSettings("https://idp.example.org/token"), nil)

	parsed, err := url.Parse(client.EndSessionURL())
	if err != nil {
		t.Fatalf("parse end-session URL: %v", err)
	}
	if got := parsed.Query().Get("post_logout_redirect_uri"); got != "http://127.0.0.1:8089/" {
		t.Fatalf("unexpected post_logout_redirect_uri %q", got)
	}
	if got := parsed.Query().Get("client_id"); got != "pdms-agent" {
		t.Fatalf("unexpected client_id %q", got)
	}
}

func TestExchangeSendsCodeGrant(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":300,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	client := NewClient(testSettings(srv.URL), nil)
	tok, err := client.Exchange(context.Background(), "code-9", "verifier-9")
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}

	if form.Get("grant_type") != "authorization_code" {
		t.Fatalf("expected authorization_code grant, got %q", form.Get("grant_type"))
	}
	if form.Get("code") != "code-9" || form.Get("code_verifier") != "verifier-9" {
		t.Fatalf("code or verifier missing from form: %v", form)
	}
	if tok.AccessToken != "at-1" || tok.RefreshToken != "rt-1" || tok.ExpiresIn != 300 {
		t.Fatalf("unexpected token response %+v", tok)
	}
}

func TestRefreshSendsRefreshGrant(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-2","refresh_token":"rt-2","expires_in":300,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	client := NewClient(testSettings(srv.URL), nil)
	if _, err := client.Refresh(context.Background(), "rt-1"); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	if form.Get("grant_type") != "refresh_token" {
		t.Fatalf("expected refresh_token grant, got %q", form.Get("grant_type"))
	}
	if form.Get("refresh_token") != "rt-1" {
		t.Fatalf("refresh token missing from form: %v", form)
	}
}

func TestTokenEndpointRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}))
	defer srv.Close()

	client := NewClient(testSettings(srv.URL), nil)
	_, err := client.Exchange(context.Background(), "stale-code", "verifier")
	if err == nil {
		t.Fatal("expected error for rejected grant")
	}
}
