package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/domain"
	"github.com/sebastianstn/pdms-v6-sub002/internal/usecase"
)

// SessionController is the slice of the session service the handler drives.
type SessionController interface {
	State() domain.SessionState
	Claims() (domain.Claims, bool)
	BeginLogin() (string, error)
	CompleteLogin(ctx context.Context, code, state string) error
	Logout(ctx context.Context) string
}

// ChannelReporter exposes live channel state and per-session teardown.
// CloseAll stops every channel without retiring the manager, so a later
// sign-in on the same agent can subscribe again.
type ChannelReporter interface {
	States() map[string]domain.ChannelState
	CloseAll()
}

// SessionHandler serves the credential lifecycle endpoints of the agent.
type SessionHandler struct {
	sessions          SessionController
	channels          ChannelReporter
	postLoginRedirect string
}

// NewSessionHandler builds the session handler. channels may be nil.
func NewSessionHandler(sessions SessionController, channels ChannelReporter, postLoginRedirect string) *SessionHandler {
	if postLoginRedirect == "" {
		postLoginRedirect = "/session"
	}

	return &SessionHandler{
		sessions:          sessions,
		channels:          channels,
		postLoginRedirect: postLoginRedirect,
	}
}

// RegisterRoutes wires the session endpoints onto the router.
func (h *SessionHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/login", h.Login)
	r.GET("/callback", h.Callback)
	r.POST("/logout", h.Logout)
	r.GET("/session", h.Status)
}

// Login starts the authorization flow and sends the browser to the provider.
func (h *SessionHandler) Login(c *gin.Context) {
	url, err := h.sessions.BeginLogin()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "could not start login"})
		return
	}

	c.Redirect(http.StatusFound, url)
}

// Callback receives the provider redirect and completes the exchange.
func (h *SessionHandler) Callback(c *gin.Context) {
	if provErr := c.Query("error"); provErr != "" {
		msg := provErr
		if desc := c.Query("error_description"); desc != "" {
			msg = desc
		}
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: msg})
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing authorization code"})
		return
	}

	if err := h.sessions.CompleteLogin(c.Request.Context(), code, state); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrNoLoginInProgress, Status: http.StatusConflict, Message: "no login in progress"},
			{Err: usecase.ErrAuthExchangeFailed, Status: http.StatusUnauthorized, Message: "sign-in was rejected"},
		}, http.StatusInternalServerError, "sign-in failed")
		return
	}

	c.Redirect(http.StatusFound, h.postLoginRedirect)
}

// Logout tears down channels, clears the credential, and hands back the
// provider end-session URL for the browser to follow.
func (h *SessionHandler) Logout(c *gin.Context) {
	if h.channels != nil {
		h.channels.CloseAll()
	}
	url := h.sessions.Logout(c.Request.Context())

	c.JSON(http.StatusOK, LogoutResponse{EndSessionURL: url})
}

// Status reports the session state, claims, and channel health.
func (h *SessionHandler) Status(c *gin.Context) {
	resp := SessionStatusResponse{State: h.sessions.State().String()}

	if claims, ok := h.sessions.Claims(); ok {
		resp.Subject = claims.Subject
		resp.DisplayName = claims.DisplayName
		resp.Roles = claims.Roles
		expiresAt := claims.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}

	if h.channels != nil {
		states := h.channels.States()
		if len(states) > 0 {
			resp.Channels = make(map[string]string, len(states))
			for topic, state := range states {
				resp.Channels[topic] = state.String()
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}
