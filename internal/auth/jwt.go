// Package auth issues and verifies the HS256 bearer tokens the API accepts.
// The token subject is the account ID; Role gates the organizer endpoints.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin  = "admin"
	RoleBettor = "bettor"
)

const defaultIssuer = "poolbet"

type Claims struct {
	Role string `json:"role"`

	jwt.RegisteredClaims
}

// IsAdmin reports whether the claims carry the admin role.
func (c Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// CanActAs reports whether the holder may read or act for accountID.
func (c Claims) CanActAs(accountID string) bool {
	return c.IsAdmin() || c.Subject == accountID
}

type JWT struct {
	Secret   []byte
	TokenTTL time.Duration
	Issuer   string
}

// Sign fills in issued-at, not-before, expiry and issuer when unset.
func (j JWT) Sign(claims Claims) (token string, expiresAt time.Time, err error) {
	if len(j.Secret) == 0 {
		return "", time.Time{}, errors.New("auth: empty signing secret")
	}
	now := time.Now().UTC()
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.NotBefore == nil {
		claims.NotBefore = jwt.NewNumericDate(now.Add(-5 * time.Second))
	}
	if claims.ExpiresAt == nil {
		expiresAt = now.Add(j.TokenTTL)
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	} else {
		expiresAt = claims.ExpiresAt.Time
	}
	if claims.Issuer == "" {
		claims.Issuer = j.issuer()
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign: %w", err)
	}
	return s, expiresAt, nil
}

// Verify parses token and checks signature, expiry and issuer.
func (j JWT) Verify(token string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return j.Secret, nil
	}, jwt.WithIssuer(j.issuer()))
	if err != nil {
		return Claims{}, fmt.Errorf("auth: verify: %w", err)
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("auth: invalid token")
	}
	if c.Subject == "" {
		return Claims{}, errors.New("auth: token has no subject")
	}
	return *c, nil
}

func (j JWT) issuer() string {
	if j.Issuer != "" {
		return j.Issuer
	}
	return defaultIssuer
}

type ctxKey int

const claimsKey ctxKey = 1

func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey).(Claims)
	return c, ok
}

func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}
