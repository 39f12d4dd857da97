package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"mediboard.org/internal/obs"
)

// Token types carried in the typ claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

const (
	defaultIssuer     = "mediboard"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// SigningKey is one member of the HS256 rotation set. The first configured
// key signs; every key verifies.
type SigningKey struct {
	ID     string
	Secret []byte
}

// Claims are the signed token payload: the frozen subject snapshot plus the
// registered sub/iat/exp/jti set.
type Claims struct {
	Kind     Kind   `json:"kind"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenantId"`
	Typ      string `json:"typ"`
	jwt.RegisteredClaims
}

// Snapshot returns the subject snapshot the claims were minted from.
func (c *Claims) Snapshot() Subject {
	return Subject{
		PrincipalID: c.Subject,
		Kind:        c.Kind,
		Role:        c.Role,
		TenantID:    c.TenantID,
	}
}

// TokenPair bundles the access and refresh tokens issued together.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenService issues and verifies the signed credentials and maintains the
// revocation set through the configured store.
type TokenService struct {
	keys      map[string][]byte
	activeKid string

	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration

	revoked RevocationStore
	now     func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		if iss := strings.TrimSpace(issuer); iss != "" {
			s.issuer = iss
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService constructs the service from the key rotation set. The first
// key is the signing key; all keys are accepted during verification so that
// rotation does not invalidate outstanding tokens.
func NewTokenService(keys []SigningKey, revoked RevocationStore, opts ...TokenOption) (*TokenService, error) {
	if len(keys) == 0 {
		return nil, errors.New("auth: at least one signing key is required")
	}
	if revoked == nil {
		return nil, errors.New("auth: revocation store is required")
	}
	svc := &TokenService{
		keys:       make(map[string][]byte, len(keys)),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		revoked:    revoked,
		now:        time.Now,
	}
	for i, key := range keys {
		kid := strings.TrimSpace(key.ID)
		if kid == "" || len(key.Secret) == 0 {
			return nil, errors.New("auth: signing key id and secret are required")
		}
		if _, dup := svc.keys[kid]; dup {
			return nil, errors.New("auth: duplicate signing key id " + kid)
		}
		svc.keys[kid] = key.Secret
		if i == 0 {
			svc.activeKid = kid
		}
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// IssuePair mints an access/refresh pair bound to the subject snapshot. Each
// token carries a unique jti.
func (s *TokenService) IssuePair(ctx context.Context, sub Subject) (TokenPair, error) {
	if strings.TrimSpace(sub.PrincipalID) == "" {
		return TokenPair{}, errors.New("auth: subject principal id is required")
	}
	now := s.now().UTC()
	access, accessExp, err := s.sign(sub, TypeAccess, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.sign(sub, TypeRefresh, now, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	obs.ObserveTokenIssued(TypeAccess)
	obs.ObserveTokenIssued(TypeRefresh)
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess validates an access token: signature, then expiry, then
// revocation. All three must pass.
func (s *TokenService) VerifyAccess(ctx context.Context, raw string) (*Claims, error) {
	return s.verify(ctx, raw, TypeAccess)
}

// VerifyRefresh validates a refresh token with the same checks.
func (s *TokenService) VerifyRefresh(ctx context.Context, raw string) (*Claims, error) {
	return s.verify(ctx, raw, TypeRefresh)
}

// Refresh rotates a refresh token: the presented jti is revoked and a fresh
// pair is issued against the same subject snapshot. A refresh token that was
// already rotated fails with ErrTokenRevoked.
func (s *TokenService) Refresh(ctx context.Context, raw string) (TokenPair, *Claims, error) {
	claims, err := s.VerifyRefresh(ctx, raw)
	if err != nil {
		return TokenPair{}, nil, err
	}
	if err := s.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.IssuePair(ctx, claims.Snapshot())
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, claims, nil
}

// Revoke blacklists a jti until its natural expiry.
func (s *TokenService) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return ErrInvalidToken
	}
	if err := s.revoked.Revoke(ctx, jti, expiresAt); err != nil {
		return ErrUnavailable
	}
	obs.ObserveTokenRevoked()
	return nil
}

func (s *TokenService) sign(sub Subject, typ string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := &Claims{
		Kind:     sub.Kind,
		Role:     sub.Role,
		TenantID: sub.TenantID,
		Typ:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   sub.PrincipalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = s.activeKid
	signed, err := token.SignedString(s.keys[s.activeKid])
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (s *TokenService) keyfunc(t *jwt.Token) (any, error) {
	kid := s.activeKid
	if v, ok := t.Header["kid"].(string); ok && v != "" {
		kid = v
	}
	secret, ok := s.keys[kid]
	if !ok {
		return nil, ErrInvalidToken
	}
	return secret, nil
}

// peek parses and signature-checks a token without consulting the revocation
// set. Used only to attribute audit events for rejected tokens.
func (s *TokenService) peek(raw string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, s.keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) verify(ctx context.Context, raw, wantType string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, s.keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if claims.Typ != wantType {
		return nil, ErrWrongTokenType
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, ErrUnavailable
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}
