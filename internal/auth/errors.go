package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrDeactivated        = errors.New("auth: account deactivated")
	ErrMissingCredential  = errors.New("auth: missing credential")

	ErrTokenExpired   = errors.New("auth: token expired")
	ErrTokenRevoked   = errors.New("auth: token revoked")
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrWrongTokenType = errors.New("auth: wrong token type")

	ErrForbidden  = errors.New("auth: forbidden")
	ErrOutOfScope = errors.New("auth: target out of scope")

	ErrUnavailable = errors.New("auth: store unavailable")
)

// LockedError is returned while an account lockout window is open.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("auth: account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// AsLocked unwraps a LockedError if err carries one.
func AsLocked(err error) (*LockedError, bool) {
	var locked *LockedError
	if errors.As(err, &locked) {
		return locked, true
	}
	return nil, false
}
