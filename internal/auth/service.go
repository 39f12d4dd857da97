package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"mediboard.org/internal/audit"
	"mediboard.org/internal/obs"
)

// timingDummyHash keeps the unknown-identifier path as expensive as a real
// password check, so response timing cannot reveal whether an account exists.
const timingDummyHash = "$2a$12$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Service orchestrates login, logout, refresh, and session authentication
// over the principal repository, hasher, and token service.
type Service struct {
	principals PrincipalStore
	tokens     *TokenService
	hasher     Hasher
	sink       audit.Sink
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAuditSink directs audit events to the given sink.
func WithAuditSink(sink audit.Sink) ServiceOption {
	return func(s *Service) error {
		if sink != nil {
			s.sink = sink
		}
		return nil
	}
}

// WithHasher replaces the default cost-12 hasher.
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

// NewService constructs the authenticator.
func NewService(principals PrincipalStore, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if principals == nil {
		return nil, errors.New("auth: principal store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	svc := &Service{
		principals: principals,
		tokens:     tokens,
		hasher:     NewHasher(DefaultHashCost),
		sink:       audit.NopSink{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Tokens exposes the underlying token service.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Login authenticates a login identifier and password and issues a token
// pair. Unknown identifiers and wrong passwords are indistinguishable to the
// caller, in both error and timing. Legacy plaintext credentials are upgraded
// to bcrypt on the way through.
func (s *Service) Login(ctx context.Context, identifier, password string) (TokenPair, *Principal, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		s.hasher.Verify(password, timingDummyHash)
		obs.ObserveLogin("failed")
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	p, err := s.principals.FindByLogin(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		s.hasher.Verify(password, timingDummyHash)
		s.sink.Emit(ctx, audit.Event{
			Kind:    audit.KindLoginFailed,
			Outcome: audit.OutcomeFailure,
			Fields:  map[string]any{"reason": "unknown_identifier"},
		})
		obs.ObserveLogin("failed")
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, nil, err
	}

	now := s.now().UTC()
	if !p.Active {
		obs.ObserveLogin("deactivated")
		return TokenPair{}, nil, ErrDeactivated
	}
	if p.LockedAt(now) {
		obs.ObserveLogin("locked")
		return TokenPair{}, nil, &LockedError{Until: p.LockUntil.UTC()}
	}

	ok, legacy := s.hasher.Verify(password, p.PasswordHash)
	if !ok {
		attempts, lockedUntil, incErr := s.principals.IncrementLoginAttempts(ctx, p.ID, now)
		if incErr != nil {
			return TokenPair{}, nil, incErr
		}
		s.sink.Emit(ctx, audit.Event{
			Kind:        audit.KindLoginFailed,
			PrincipalID: p.ID,
			Outcome:     audit.OutcomeFailure,
			Fields:      map[string]any{"attempts": attempts},
		})
		if lockedUntil != nil {
			s.sink.Emit(ctx, audit.Event{
				Kind:        audit.KindAccountLocked,
				PrincipalID: p.ID,
				Outcome:     audit.OutcomeFailure,
				Fields:      map[string]any{"until": lockedUntil.UTC().Format(time.RFC3339)},
			})
			obs.ObserveLockout()
		}
		obs.ObserveLogin("failed")
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	if legacy {
		newHash, hashErr := s.hasher.Hash(password)
		if hashErr != nil {
			return TokenPair{}, nil, hashErr
		}
		if err := s.principals.RewritePassword(ctx, p.ID, newHash); err != nil {
			return TokenPair{}, nil, err
		}
		p.PasswordHash = newHash
	}

	if err := s.principals.ResetLoginAttempts(ctx, p.ID, now); err != nil {
		return TokenPair{}, nil, err
	}

	pair, err := s.tokens.IssuePair(ctx, p.Subject())
	if err != nil {
		return TokenPair{}, nil, err
	}

	p.LoginAttempts = 0
	p.LockUntil = nil
	p.LastLogin = &now

	s.sink.Emit(ctx, audit.Event{
		Kind:        audit.KindLoginSucceeded,
		PrincipalID: p.ID,
		Outcome:     audit.OutcomeSuccess,
	})
	s.sink.Emit(ctx, audit.Event{
		Kind:        audit.KindTokenIssued,
		PrincipalID: p.ID,
		Outcome:     audit.OutcomeSuccess,
		Fields:      map[string]any{"access_expires_at": pair.AccessExpiresAt.UTC().Format(time.RFC3339)},
	})
	obs.ObserveLogin("succeeded")
	return pair, p, nil
}

// Refresh rotates a refresh token. The presented jti is revoked before the
// new pair is issued, so a second presentation of the same token fails with
// ErrTokenRevoked and raises a reuse event. The principal is re-read so a
// deactivated account cannot refresh its way back in.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, *Principal, error) {
	claims, err := s.tokens.VerifyRefresh(ctx, refreshToken)
	if errors.Is(err, ErrTokenRevoked) {
		s.sink.Emit(ctx, audit.Event{
			Kind:        audit.KindRefreshReuseDetected,
			PrincipalID: subjectOf(refreshToken, s.tokens),
			Outcome:     audit.OutcomeDenied,
		})
		return TokenPair{}, nil, ErrTokenRevoked
	}
	if err != nil {
		return TokenPair{}, nil, err
	}

	p, err := s.principals.FindByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, nil, ErrInvalidToken
	}
	if err != nil {
		return TokenPair{}, nil, err
	}
	if !p.Active {
		return TokenPair{}, nil, ErrDeactivated
	}

	if err := s.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.tokens.IssuePair(ctx, claims.Snapshot())
	if err != nil {
		return TokenPair{}, nil, err
	}

	s.sink.Emit(ctx, audit.Event{
		Kind:        audit.KindTokenRefreshed,
		PrincipalID: p.ID,
		Outcome:     audit.OutcomeSuccess,
	})
	return pair, p, nil
}

// Logout revokes the presented access token and, when supplied, its paired
// refresh token. The refresh token is only revoked when it belongs to the
// same subject as the access token.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := s.tokens.VerifyAccess(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := s.tokens.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return err
	}
	if refreshToken != "" {
		if rc, rErr := s.tokens.VerifyRefresh(ctx, refreshToken); rErr == nil && rc.Subject == claims.Subject {
			if err := s.tokens.Revoke(ctx, rc.ID, rc.ExpiresAt.Time); err != nil {
				return err
			}
		}
	}
	s.sink.Emit(ctx, audit.Event{
		Kind:        audit.KindTokenRevoked,
		PrincipalID: claims.Subject,
		Outcome:     audit.OutcomeSuccess,
	})
	return nil
}

// Authenticate validates an access token and produces the request actor: the
// token's frozen snapshot plus freshly read scope fields. A deactivated
// principal never yields an actor, however fresh the token.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Actor, error) {
	claims, err := s.tokens.VerifyAccess(ctx, accessToken)
	if err != nil {
		return Actor{}, err
	}
	p, err := s.principals.FindByID(ctx, claims.Subject)
	if err != nil {
		return Actor{}, err
	}
	if !p.Active {
		return Actor{}, ErrDeactivated
	}
	return claims.Snapshot().Actor(p), nil
}

// DenyAudit records an authorization denial. OutOfScope denials keep their
// distinct reason in the log even though callers surface them as Forbidden.
func (s *Service) DenyAudit(ctx context.Context, actor Actor, res Resource, act Action, cause error) {
	reason := "forbidden"
	if errors.Is(cause, ErrOutOfScope) {
		reason = "out_of_scope"
	}
	s.sink.Emit(ctx, audit.Event{
		Kind:        audit.KindAuthorizationDenied,
		PrincipalID: actor.PrincipalID,
		TargetKind:  string(res),
		Outcome:     audit.OutcomeDenied,
		Fields:      map[string]any{"action": string(act), "reason": reason},
	})
	obs.ObserveAuthzDenied(string(res))
}

// subjectOf extracts the sub claim from an unverifiable-but-parseable token
// for audit purposes only. Best effort; returns "" when nothing usable.
func subjectOf(raw string, svc *TokenService) string {
	claims, err := svc.peek(raw)
	if err != nil {
		return ""
	}
	return claims.Subject
}
