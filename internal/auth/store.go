package auth

import (
	"context"
	"time"
)

// PrincipalStore is the credential repository behind the authenticator. Every
// mutation is a single atomic update against the backing store; the login
// counter methods in particular must be conditional updates, not
// read-then-write sequences, so concurrent failures cannot under-count.
type PrincipalStore interface {
	// FindByLogin resolves a login identifier across all actor kinds. When
	// several kinds match, the clinic record wins.
	FindByLogin(ctx context.Context, identifier string) (*Principal, error)

	FindByID(ctx context.Context, id string) (*Principal, error)

	// IncrementLoginAttempts records a failed login. An expired lock resets
	// the counter to one and clears the lock; otherwise the counter grows,
	// and on reaching the configured maximum the store sets lockUntil.
	// It returns the post-update counter and the lock instant, if any.
	IncrementLoginAttempts(ctx context.Context, id string, now time.Time) (attempts int, lockedUntil *time.Time, err error)

	// ResetLoginAttempts clears the counter and lock and stamps lastLogin.
	ResetLoginAttempts(ctx context.Context, id string, now time.Time) error

	// RewritePassword atomically replaces the stored hash. Used to upgrade
	// legacy plaintext records after a successful login.
	RewritePassword(ctx context.Context, id, newHash string) error
}

// RevocationStore is the shared jti blacklist. Entries must be visible to
// readers promptly after Revoke returns; rows past their expiry may be
// garbage-collected.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// PatientDirectory supplies the scope attributes of patient rows to the
// authorization layer and the guarded read endpoints.
type PatientDirectory interface {
	Patient(ctx context.Context, id string) (*PatientRecord, error)
	ListByTenant(ctx context.Context, tenantID string) ([]PatientRecord, error)
}
