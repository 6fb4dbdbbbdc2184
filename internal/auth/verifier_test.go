package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cashback-platform/internal/config"
)

func signToken(t *testing.T, secret string, now time.Time, accountID string, roles []string, mutate func(*Claims)) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "auth",
			Audience:  jwt.ClaimStrings{"core"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
			ID:        "jti-1",
		},
		AccountID: accountID,
		Roles:     roles,
	}
	if mutate != nil {
		mutate(&claims)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(config.AuthConfig{
		JWTSecret:         "secret",
		JWTIssuer:         "auth",
		JWTAudience:       "core",
		IdentityCacheTTL:  time.Minute,
		IdentityCacheSize: 16,
	})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	return v
}

func TestResolve_ValidToken(t *testing.T) {
	v := newVerifier(t)
	now := time.Unix(1700000000, 0).UTC()

	tok := signToken(t, "secret", now, "acc-legacy-9", []string{"shopper"}, nil)
	id, err := v.Resolve(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.AccountID.String() != "acc-legacy-9" {
		t.Fatalf("unexpected account id: %s", id.AccountID)
	}
	if !id.HasRole("shopper") || id.HasRole("finance") {
		t.Fatalf("unexpected roles: %v", id.Roles)
	}
}

func TestResolve_RejectsWrongSecret(t *testing.T) {
	v := newVerifier(t)
	now := time.Unix(1700000000, 0).UTC()

	tok := signToken(t, "other", now, "acc", []string{"shopper"}, nil)
	if _, err := v.Resolve(tok, now); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestResolve_RejectsMissingRoles(t *testing.T) {
	v := newVerifier(t)
	now := time.Unix(1700000000, 0).UTC()

	tok := signToken(t, "secret", now, "acc", nil, nil)
	if _, err := v.Resolve(tok, now); err == nil {
		t.Fatalf("expected roles error")
	}
}

func TestResolve_RejectsExpired(t *testing.T) {
	v := newVerifier(t)
	now := time.Unix(1700000000, 0).UTC()

	tok := signToken(t, "secret", now, "acc", []string{"shopper"}, nil)
	if _, err := v.Resolve(tok, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestResolve_CachesResolvedIdentity(t *testing.T) {
	v := newVerifier(t)
	now := time.Unix(1700000000, 0).UTC()

	tok := signToken(t, "secret", now, "acc", []string{"mediator"}, nil)
	if _, err := v.Resolve(tok, now); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// A cached identity is returned even past token expiry, until the cache TTL.
	if _, err := v.Resolve(tok, now.Add(time.Hour)); err != nil {
		t.Fatalf("expected cached identity, got %v", err)
	}
}
