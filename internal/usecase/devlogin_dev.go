//go:build devauth

package usecase

import (
	"time"

	"go.uber.org/zap"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/domain"
)

// InjectStaticSession installs a privileged session without contacting
// the identity provider. Development builds only; the production build
// replaces this with a stub that always errors.
func (s *SessionService) InjectStaticSession(subject string, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.cancelRenewalLocked()
	s.session = &domain.Session{
		AccessToken:  "dev-access-token",
		RefreshToken: "dev-refresh-token",
		Claims: domain.Claims{
			Subject:     subject,
			DisplayName: subject,
			Roles:       append([]string(nil), roles...),
			ExpiresAt:   s.now().Add(24 * time.Hour),
		},
	}
	s.transitionLocked(domain.SessionAuthenticated)
	s.logger.Warn("static dev session injected", zap.String("subject", subject))
	return nil
}
