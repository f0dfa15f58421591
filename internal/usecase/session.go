package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/domain"
	"github.com/sebastianstn/pdms-v6-sub002/internal/core/port"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/logger"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/security"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/telemetry"
	"github.com/sebastianstn/pdms-v6-sub002/internal/repository"
)

var (
	// ErrAuthExchangeFailed indicates the authorization code exchange was
	// rejected; the user must restart login.
	ErrAuthExchangeFailed = errors.New("authorization code exchange failed")
	// ErrAuthRefreshFailed indicates the refresh token was rejected; the
	// session is forced out, non-retryable.
	ErrAuthRefreshFailed = errors.New("refresh token exchange failed")
	// ErrNoLoginInProgress indicates a callback arrived without a
	// matching login attempt.
	ErrNoLoginInProgress = errors.New("no login attempt in progress")
)

// Renewal policy constants. The pre-expiry margin keeps a refresh ahead
// of every expiry; the floor prevents a near-zero or negative delay from
// producing an immediate refresh storm on very short-lived tokens. The
// restore margin rejects tokens about to lapse at startup.
const (
	renewalMargin = 60 * time.Second
	renewalFloor  = 10 * time.Second
	restoreMargin = 30 * time.Second
)

var validTransitions = map[domain.SessionState][]domain.SessionState{
	domain.SessionAnonymous:      {domain.SessionAuthenticating, domain.SessionAuthenticated, domain.SessionRenewing},
	domain.SessionAuthenticating: {domain.SessionAuthenticated, domain.SessionAnonymous},
	domain.SessionAuthenticated:  {domain.SessionRenewing, domain.SessionAnonymous},
	domain.SessionRenewing:       {domain.SessionAuthenticated, domain.SessionExpired, domain.SessionAnonymous},
	domain.SessionExpired:        {domain.SessionAuthenticating, domain.SessionAnonymous},
}

// SessionService owns the credential lifecycle: the login hand-off, the
// code exchange, silent renewal timed against expiry, and logout. At
// most one renewal timer exists at any time, and every asynchronous
// completion is guarded by an epoch counter so a logged-out session can
// never be resurrected by an in-flight refresh.
type SessionService struct {
	store    port.CredentialStore
	provider port.IdentityProvider
	metrics  *telemetry.Provider
	logger   *zap.Logger

	// allowDegraded permits plain proof-key challenges; a per-login
	// security event when it takes effect.
	allowDegraded bool

	mu        sync.Mutex
	state     domain.SessionState
	session   *domain.Session
	attempt   *domain.ProofKeyAttempt
	authState string
	epoch     uint64
	renewal   renewalTimer

	now      func() time.Time
	schedule func(d time.Duration, fn func()) renewalTimer
}

// renewalTimer is the handle held for the single scheduled renewal.
type renewalTimer interface {
	Stop() bool
}

// NewSessionService constructs a SessionService in the anonymous state.
func NewSessionService(store port.CredentialStore, identity port.IdentityProvider, metrics *telemetry.Provider, log *zap.Logger) *SessionService {
	if log == nil {
		log = zap.NewNop()
	}

	service := &SessionService{
		store:    store,
		provider: identity,
		metrics:  metrics,
		logger:   log,
		state:    domain.SessionAnonymous,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	service.schedule = func(d time.Duration, fn func()) renewalTimer {
		return time.AfterFunc(d, fn)
	}
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) *SessionService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithScheduler overrides timer creation for deterministic tests.
func (s *SessionService) WithScheduler(schedule func(d time.Duration, fn func()) renewalTimer) *SessionService {
	if schedule != nil {
		s.schedule = schedule
	}
	return s
}

// WithDegradedProofKey permits unhashed proof-key challenges.
func (s *SessionService) WithDegradedProofKey(allow bool) *SessionService {
	s.allowDegraded = allow
	return s
}

// State returns the current lifecycle state.
func (s *SessionService) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Claims returns the decoded claims of the current session.
func (s *SessionService) Claims() (domain.Claims, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return domain.Claims{}, false
	}
	return s.session.Claims, true
}

// Authenticated reports whether a credential is currently held. A
// session mid-renewal still holds its previous valid credential.
func (s *SessionService) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.SessionAuthenticated || s.state == domain.SessionRenewing
}

// AccessToken returns the current bearer credential, or the empty
// string when none is held.
func (s *SessionService) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ""
	}
	if s.state != domain.SessionAuthenticated && s.state != domain.SessionRenewing {
		return ""
	}
	return s.session.AccessToken
}

// BeginLogin generates a fresh proof-key attempt, keeps its verifier for
// the redirect round trip, and returns the provider authorization URL.
// The caller is expected to navigate away to it.
func (s *SessionService) BeginLogin() (string, error) {
	attempt, err := s.generateAttempt()
	if err != nil {
		return "", fmt.Errorf("generate proof key: %w", err)
	}

	state := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	if attempt.Degraded {
		s.logger.Warn("proof-key challenge degraded to plain; provider cannot verify S256")
	}

	s.attempt = &attempt
	s.authState = state
	s.transitionLocked(domain.SessionAuthenticating)

	return s.provider.AuthorizationURL(attempt.Challenge, attempt.Method, state), nil
}

func (s *SessionService) generateAttempt() (domain.ProofKeyAttempt, error) {
	if s.allowDegraded {
		return security.GenerateDegradedProofKey()
	}
	return security.GenerateProofKey()
}

// CompleteLogin exchanges the authorization code and the saved verifier
// for a credential pair. The verifier is deleted unconditionally,
// success or failure, so a code can never be replayed against it.
func (s *SessionService) CompleteLogin(ctx context.Context, code, state string) error {
	s.mu.Lock()
	attempt := s.attempt
	expectedState := s.authState
	epoch := s.epoch
	s.attempt = nil
	s.authState = ""
	s.mu.Unlock()

	if attempt == nil {
		return ErrNoLoginInProgress
	}
	if state == "" || state != expectedState {
		s.mu.Lock()
		s.transitionLocked(domain.SessionAnonymous)
		s.mu.Unlock()
		return fmt.Errorf("%w: state mismatch", ErrAuthExchangeFailed)
	}

	tok, err := s.provider.Exchange(ctx, code, attempt.Verifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		// Logged out while the exchange was in flight; discard.
		return fmt.Errorf("%w: login superseded", ErrAuthExchangeFailed)
	}
	if err != nil {
		s.transitionLocked(domain.SessionAnonymous)
		s.logger.Warn("code exchange rejected", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrAuthExchangeFailed, err)
	}

	s.epoch++
	if err := s.adoptLocked(ctx, tok); err != nil {
		s.clearLocked(ctx)
		s.transitionLocked(domain.SessionAnonymous)
		return fmt.Errorf("%w: %v", ErrAuthExchangeFailed, err)
	}

	s.logger.Info("login completed",
		zap.String("subject", s.session.Claims.Subject),
		zap.Time("expires_at", s.session.Claims.ExpiresAt),
	)
	return nil
}

// RestoreFromStorage adopts a persisted credential at process start. A
// token expiring more than 30 seconds from now is adopted without any
// network call; otherwise a stored refresh token is redeemed once. On
// failure or absence, storage is cleared and the session stays
// anonymous. Run once, before any consumer is wired.
func (s *SessionService) RestoreFromStorage(ctx context.Context) error {
	access, err := s.store.LoadAccess(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load access token: %w", err)
	}

	claims, decodeErr := security.DecodeClaims(access)
	if decodeErr == nil && claims.ExpiresAt.After(s.now().Add(restoreMargin)) {
		refresh, refreshErr := s.store.LoadRefresh(ctx)
		if refreshErr != nil && !errors.Is(refreshErr, repository.ErrNotFound) {
			return fmt.Errorf("load refresh token: %w", refreshErr)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.session = &domain.Session{
			AccessToken:  access,
			RefreshToken: refresh,
			Claims:       claims,
		}
		s.transitionLocked(domain.SessionAuthenticated)
		s.scheduleRenewalLocked(claims.ExpiresAt.Sub(s.now()))
		s.logger.Info("session restored from storage",
			zap.String("subject", claims.Subject),
			zap.Time("expires_at", claims.ExpiresAt),
		)
		return nil
	}

	refresh, err := s.store.LoadRefresh(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.clearLocked(ctx)
			return nil
		}
		return fmt.Errorf("load refresh token: %w", err)
	}

	s.mu.Lock()
	epoch := s.epoch
	s.transitionLocked(domain.SessionRenewing)
	s.mu.Unlock()

	tok, err := s.provider.Refresh(ctx, refresh)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return nil
	}
	if err != nil {
		s.metrics.ObserveRefresh(false)
		s.clearLocked(ctx)
		s.transitionLocked(domain.SessionAnonymous)
		s.logger.Warn("startup refresh rejected, session cleared", zap.Error(err))
		return nil
	}

	if err := s.adoptLocked(ctx, tok); err != nil {
		s.metrics.ObserveRefresh(false)
		s.clearLocked(ctx)
		s.transitionLocked(domain.SessionAnonymous)
		s.logger.Warn("startup refresh produced unusable token", zap.Error(err))
		return nil
	}

	s.metrics.ObserveRefresh(true)
	s.logger.Info("session restored via silent refresh",
		zap.String("subject", s.session.Claims.Subject),
	)
	return nil
}

// Logout cancels the renewal timer, clears storage, and returns the
// provider end-session redirect target. The epoch bump guarantees any
// in-flight refresh completion is discarded.
func (s *SessionService) Logout(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.clearLocked(ctx)
	s.transitionLocked(domain.SessionAnonymous)
	s.logger.Info("logged out")

	return s.provider.EndSessionURL()
}

// Dispose tears down the renewal timer without touching storage. Used
// on agent shutdown so a persisted session survives the restart.
func (s *SessionService) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.cancelRenewalLocked()
}

// adoptLocked installs a freshly exchanged credential pair: persists it,
// decodes claims, transitions to authenticated, and schedules renewal.
// Caller holds s.mu.
func (s *SessionService) adoptLocked(ctx context.Context, tok port.TokenResponse) error {
	claims, err := security.DecodeClaims(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("decode claims: %w", err)
	}

	if err := s.store.Save(ctx, tok.AccessToken, tok.RefreshToken); err != nil {
		return fmt.Errorf("persist credentials: %w", err)
	}

	s.session = &domain.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Claims:       claims,
	}
	s.transitionLocked(domain.SessionAuthenticated)
	s.scheduleRenewalLocked(claims.ExpiresAt.Sub(s.now()))
	return nil
}

// scheduleRenewalLocked arms the single renewal timer to fire 60 seconds
// before expiry, clamped to a 10 second floor. Any previously scheduled
// timer is cancelled first. Caller holds s.mu.
func (s *SessionService) scheduleRenewalLocked(timeToExpiry time.Duration) {
	s.cancelRenewalLocked()

	delay := timeToExpiry - renewalMargin
	if delay < renewalFloor {
		delay = renewalFloor
	}

	epoch := s.epoch
	s.renewal = s.schedule(delay, func() { s.renew(epoch) })
	s.logger.Debug("renewal scheduled", zap.Duration("delay", delay))
}

func (s *SessionService) cancelRenewalLocked() {
	if s.renewal != nil {
		s.renewal.Stop()
		s.renewal = nil
	}
}

// renew performs the silent refresh exchange when the renewal timer
// fires. The captured epoch is compared against the current one on both
// sides of the network call; a logout in the interim wins.
func (s *SessionService) renew(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != domain.SessionAuthenticated || s.session == nil {
		s.mu.Unlock()
		return
	}
	refresh := s.session.RefreshToken
	s.transitionLocked(domain.SessionRenewing)
	s.mu.Unlock()

	tok, err := s.provider.Refresh(context.Background(), refresh)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		// Logged out mid-refresh; the result is stale, discard it.
		s.logger.Debug("discarding stale refresh result")
		return
	}

	if err != nil {
		s.metrics.ObserveRefresh(false)
		s.clearLocked(context.Background())
		s.transitionLocked(domain.SessionExpired)
		s.logger.Error("silent refresh rejected, session expired",
			zap.Error(fmt.Errorf("%w: %v", ErrAuthRefreshFailed, err)),
		)
		return
	}

	if adoptErr := s.adoptLocked(context.Background(), tok); adoptErr != nil {
		s.metrics.ObserveRefresh(false)
		s.clearLocked(context.Background())
		s.transitionLocked(domain.SessionExpired)
		s.logger.Error("silent refresh produced unusable token", zap.Error(adoptErr))
		return
	}

	s.metrics.ObserveRefresh(true)
	s.logger.Info("credential renewed",
		zap.String("access_token", logger.MaskToken(s.session.AccessToken)),
		zap.Time("expires_at", s.session.Claims.ExpiresAt),
	)
}

// clearLocked destroys the session: timer cancelled, storage cleared,
// in-memory fields zeroed. Caller holds s.mu.
func (s *SessionService) clearLocked(ctx context.Context) {
	s.cancelRenewalLocked()
	s.session = nil
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("clearing credential storage failed", zap.Error(err))
	}
}

// transitionLocked applies a state change, rejecting moves the machine
// does not define. Caller holds s.mu.
func (s *SessionService) transitionLocked(to domain.SessionState) {
	if s.state == to {
		return
	}
	for _, allowed := range validTransitions[s.state] {
		if allowed == to {
			s.logger.Debug("session state transition",
				zap.String("from", s.state.String()),
				zap.String("to", to.String()),
			)
			s.state = to
			return
		}
	}
	s.logger.Warn("illegal session state transition rejected",
		zap.String("from", s.state.String()),
		zap.String("to", to.String()),
	)
}
