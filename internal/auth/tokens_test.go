package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testKeys = []SigningKey{{ID: "k1", Secret: []byte("test-secret-at-least-32-bytes-long")}}

func testSubject() Subject {
	return Subject{
		PrincipalID: "doc-1",
		Kind:        KindDoctor,
		Role:        RoleDoctor,
		TenantID:    "clinic-1",
	}
}

func newTestTokens(t *testing.T, now *time.Time, opts ...TokenOption) *TokenService {
	t.Helper()
	opts = append(opts, WithTokenClock(func() time.Time { return *now }))
	svc, err := NewTokenService(testKeys, NewMemoryStore(), opts...)
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	return svc
}

func TestIssueAndVerifyPair(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokens(t, &now)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("empty tokens in pair")
	}
	if got, want := pair.AccessExpiresAt, now.Add(15*time.Minute); !got.Equal(want) {
		t.Fatalf("access expiry = %v, want %v", got, want)
	}
	if got, want := pair.RefreshExpiresAt, now.Add(7*24*time.Hour); !got.Equal(want) {
		t.Fatalf("refresh expiry = %v, want %v", got, want)
	}

	claims, err := svc.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.Subject != "doc-1" || claims.Role != RoleDoctor || claims.Kind != KindDoctor || claims.TenantID != "clinic-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("access token missing jti")
	}

	rc, err := svc.VerifyRefresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if rc.ID == claims.ID {
		t.Fatalf("access and refresh share a jti")
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokens(t, &now)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = now.Add(15*time.Minute + time.Second)
	if _, err := svc.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}

	// Refresh token outlives the access token.
	if _, err := svc.VerifyRefresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh should still verify: %v", err)
	}

	now = now.Add(7 * 24 * time.Hour)
	if _, err := svc.VerifyRefresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyWrongTokenType(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokens(t, &now)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := svc.VerifyAccess(ctx, pair.RefreshToken); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("refresh as access: err = %v, want ErrWrongTokenType", err)
	}
	if _, err := svc.VerifyRefresh(ctx, pair.AccessToken); !errors.Is(err, ErrWrongTokenType) {
		t.Fatalf("access as refresh: err = %v, want ErrWrongTokenType", err)
	}
}

func TestVerifyGarbageToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokens(t, &now)
	ctx := context.Background()

	for _, raw := range []string{"", "   ", "not.a.jwt", "aaaa.bbbb.cccc"} {
		if _, err := svc.VerifyAccess(ctx, raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("raw=%q err = %v, want ErrInvalidToken", raw, err)
		}
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokens(t, &now)
	ctx := context.Background()

	other, err := NewTokenService(
		[]SigningKey{{ID: "k1", Secret: []byte("a-completely-different-secret-value")}},
		NewMemoryStore(),
		WithTokenClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	pair, err := other.IssuePair(ctx, testSubject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestRevokedTokenRejected(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokens(t, &now)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := svc.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("err = %v, want ErrTokenRevoked", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokens(t, &now)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, testSubject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	next, claims, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if claims.Snapshot() != testSubject() {
		t.Fatalf("rotated snapshot changed: %+v", claims.Snapshot())
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatalf("rotation returned the same refresh token")
	}

	// The spent refresh token is dead; the new one works.
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("reuse err = %v, want ErrTokenRevoked", err)
	}
	if _, err := svc.VerifyRefresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("new refresh token rejected: %v", err)
	}
}

func TestKeyRotationVerifiesOldTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	old, err := NewTokenService(
		[]SigningKey{{ID: "2026-02", Secret: []byte("february-secret-0123456789abcdef")}},
		NewMemoryStore(),
		WithTokenClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	pair, err := old.IssuePair(ctx, testSubject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// New deployment: fresh signing key first, old key kept for verification.
	rotated, err := NewTokenService(
		[]SigningKey{
			{ID: "2026-03", Secret: []byte("march-secret-0123456789abcdefghi")},
			{ID: "2026-02", Secret: []byte("february-secret-0123456789abcdef")},
		},
		NewMemoryStore(),
		WithTokenClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}

	if _, err := rotated.VerifyAccess(ctx, pair.AccessToken); err != nil {
		t.Fatalf("old-key token rejected after rotation: %v", err)
	}

	fresh, err := rotated.IssuePair(ctx, testSubject())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := old.VerifyAccess(ctx, fresh.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("new-key token accepted by old service: %v", err)
	}
}

func TestNewTokenServiceValidation(t *testing.T) {
	if _, err := NewTokenService(nil, NewMemoryStore()); err == nil {
		t.Fatalf("expected error for empty key set")
	}
	if _, err := NewTokenService(testKeys, nil); err == nil {
		t.Fatalf("expected error for nil revocation store")
	}
	dup := []SigningKey{
		{ID: "k1", Secret: []byte("secret-one")},
		{ID: "k1", Secret: []byte("secret-two")},
	}
	if _, err := NewTokenService(dup, NewMemoryStore()); err == nil {
		t.Fatalf("expected error for duplicate key id")
	}
}

func TestIssuePairRequiresSubject(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokens(t, &now)
	if _, err := svc.IssuePair(context.Background(), Subject{}); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}
