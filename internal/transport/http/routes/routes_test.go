package routes_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/domain"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/config"
	httproutes "github.com/sebastianstn/pdms-v6-sub002/internal/transport/http/routes"
)

type stubSessions struct {
	state        domain.SessionState
	claims       domain.Claims
	hasClaims    bool
	loginURL     string
	completeErr  error
	logoutCalled bool
}

func (s *stubSessions) State() domain.SessionState        { return s.state }
func (s *stubSessions) Claims() (domain.Claims, bool)     { return s.claims, s.hasClaims }
func (s *stubSessions) BeginLogin() (string, error)       { return s.loginURL, nil }
func (s *stubSessions) CompleteLogin(context.Context, string, string) error {
	return s.completeErr
}
func (s *stubSessions) Logout(context.Context) string {
	s.logoutCalled = true
	return "https://idp.example.org/logout"
}

type stubChannels struct {
	states    map[string]domain.ChannelState
	closedAll bool
}

func (s *stubChannels) States() map[string]domain.ChannelState { return s.states }
func (s *stubChannels) CloseAll()                              { s.closedAll = true }

func newTestRouter(sessions *stubSessions, channels *stubChannels) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{
		App: config.AppSettings{Env: "test"},
		Provider: config.ProviderSettings{
			PostLoginRedirect: "/session",
		},
	}

	return httproutes.Register(httproutes.Dependencies{
		Config:   cfg,
		Sessions: sessions,
		Channels: channels,
	})
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(&stubSessions{state: domain.SessionAnonymous}, &stubChannels{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestLoginRedirectsToProvider(t *testing.T) {
	sessions := &stubSessions{
		state:    domain.SessionAnonymous,
		loginURL: "https://idp.example.org/auth?code_challenge=abc",
	}
	r := newTestRouter(sessions, &stubChannels{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/login", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != sessions.loginURL {
		t.Fatalf("expected redirect to provider, got %q", loc)
	}
}

func TestCallbackWithoutCode(t *testing.T) {
	r := newTestRouter(&stubSessions{state: domain.SessionAuthenticating}, &stubChannels{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/callback", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestCallbackRedirectsAfterExchange(t *testing.T) {
	r := newTestRouter(&stubSessions{state: domain.SessionAuthenticating}, &stubChannels{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/callback?code=abc&state=xyz", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/session" {
		t.Fatalf("expected redirect into the app, got %q", loc)
	}
}

func TestSessionStatusPayload(t *testing.T) {
	sessions := &stubSessions{
		state:     domain.SessionAuthenticated,
		hasClaims: true,
		claims: domain.Claims{
			Subject:     "user-1",
			DisplayName: "Test Clinician",
			Roles:       []string{"nurse"},
		},
	}
	channels := &stubChannels{states: map[string]domain.ChannelState{
		"vitals": domain.ChannelOpen,
	}}
	r := newTestRouter(sessions, channels)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/session", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body struct {
		State    string            `json:"state"`
		Subject  string            `json:"subject"`
		Channels map[string]string `json:"channels"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.State != "authenticated" {
		t.Fatalf("expected authenticated state, got %q", body.State)
	}
	if body.Subject != "user-1" {
		t.Fatalf("expected subject user-1, got %q", body.Subject)
	}
	if body.Channels["vitals"] != "open" {
		t.Fatalf("expected open vitals channel, got %v", body.Channels)
	}
}

func TestLogoutClosesChannelsFirst(t *testing.T) {
	sessions := &stubSessions{state: domain.SessionAuthenticated}
	channels := &stubChannels{}
	r := newTestRouter(sessions, channels)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/logout", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !channels.closedAll {
		t.Fatal("logout must tear down realtime channels")
	}
	if !sessions.logoutCalled {
		t.Fatal("logout must clear the session")
	}

	var body struct {
		EndSessionURL string `json:"end_session_url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.EndSessionURL != "https://idp.example.org/logout" {
		t.Fatalf("end-session URL missing, got %q", body.EndSessionURL)
	}
}
