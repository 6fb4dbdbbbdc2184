package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cashback-platform/internal/config"
	"cashback-platform/pkg/cache"
	"cashback-platform/pkg/ident"
)

// Verifier resolves bearer tokens into identities.
// Resolved identities are cached (bounded, TTL) so hot callers do not pay
// signature verification on every request.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string

	cache *cache.Cache[Identity]
}

func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return &Verifier{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		cache:    cache.New[Identity](cfg.IdentityCacheSize, cfg.IdentityCacheTTL),
	}, nil
}

// Resolve verifies tokenString and returns the requester identity.
// The cache TTL is always shorter than token expiry leeway concerns at this
// layer; revocation is the collaborator's problem, not ours.
func (v *Verifier) Resolve(tokenString string, now time.Time) (Identity, error) {
	if id, ok := v.cache.Get(tokenString); ok {
		return id, nil
	}

	claims, err := v.verify(tokenString, now)
	if err != nil {
		return Identity{}, err
	}

	id := Identity{
		AccountID: ident.Parse(claims.AccountID),
		Roles:     claims.Roles,
	}
	v.cache.Set(tokenString, id)
	return id, nil
}

func (v *Verifier) verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	validator := jwt.NewValidator(opts...)
	if err := validator.Validate(claims.RegisteredClaims); err != nil {
		return Claims{}, err
	}

	if claims.AccountID == "" {
		return Claims{}, errors.New("account_id missing")
	}
	if len(claims.Roles) == 0 {
		return Claims{}, errors.New("roles missing")
	}

	return claims, nil
}
