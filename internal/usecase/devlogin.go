//go:build !devauth

package usecase

import "errors"

// ErrDevLoginDisabled indicates the static dev session path is not
// compiled into this binary.
var ErrDevLoginDisabled = errors.New("static dev session not compiled in")

// InjectStaticSession is a stub in production builds. The bypass only
// exists when the binary is built with the devauth tag, so it cannot be
// enabled at runtime.
func (s *SessionService) InjectStaticSession(string, []string) error {
	return ErrDevLoginDisabled
}
