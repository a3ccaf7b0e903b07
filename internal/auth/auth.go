// Package auth verifies caller identity for mission operations.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kalefund/missiongate/config"
	"github.com/kalefund/missiongate/errs"
)

// Principal identifies an authenticated caller.
type Principal struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the principal carries the named role.
func (p Principal) HasRole(role string) bool {
	for _, candidate := range p.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// Authorizer authenticates bearer tokens and enforces identity checks.
type Authorizer interface {
	// Authenticate validates the token and returns the caller's principal.
	Authenticate(ctx context.Context, token string) (Principal, error)
	// RequireIdentity fails unless the principal is the claimed identity.
	RequireIdentity(principal Principal, identity string) error
	// RequireAdmin fails unless the principal is the configured admin.
	RequireAdmin(principal Principal) error
}

// AdminRole marks principals allowed to run administrative operations.
const AdminRole = "admin"

type principalKey struct{}

// WithPrincipal stores the principal on the context.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// FromContext returns the principal stored on the context, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(Principal)
	return principal, ok
}

// JWTAuthorizer validates HS256 JWTs carrying the caller identity in the
// subject claim.
type JWTAuthorizer struct {
	secret []byte
	admin  string
}

var _ Authorizer = (*JWTAuthorizer)(nil)

// NewJWTAuthorizer builds an authorizer from the auth settings.
func NewJWTAuthorizer(cfg config.AuthSettings) (*JWTAuthorizer, error) {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret == "" {
		return nil, errs.New("auth", errs.CodeInvalid, errs.WithMessage("jwt secret required"))
	}
	return &JWTAuthorizer{secret: []byte(secret), admin: strings.TrimSpace(cfg.Admin)}, nil
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// Authenticate parses and validates the bearer token.
func (a *JWTAuthorizer) Authenticate(ctx context.Context, token string) (Principal, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &tokenClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return Principal{}, errs.New("auth", errs.CodeUnauthorized,
			errs.WithMessage("invalid credentials"),
			errs.WithCause(err))
	}
	if !parsed.Valid || claims.Subject == "" {
		return Principal{}, errs.New("auth", errs.CodeUnauthorized,
			errs.WithMessage("subject claim required"))
	}
	return Principal{Subject: claims.Subject, Roles: claims.Roles}, nil
}

// RequireIdentity fails unless the principal is the claimed identity.
func (a *JWTAuthorizer) RequireIdentity(principal Principal, identity string) error {
	if principal.Subject == "" || principal.Subject != identity {
		return errs.New("auth", errs.CodeUnauthorized,
			errs.WithMessage("caller is not the claimed identity"),
			errs.WithField("identity", identity))
	}
	return nil
}

// RequireAdmin fails unless the principal is the configured admin identity
// or carries the admin role.
func (a *JWTAuthorizer) RequireAdmin(principal Principal) error {
	if principal.Subject != "" && principal.Subject == a.admin {
		return nil
	}
	if principal.HasRole(AdminRole) {
		return nil
	}
	return errs.New("auth", errs.CodeUnauthorized,
		errs.WithMessage("admin identity required"),
		errs.WithField("subject", principal.Subject))
}

// Mint issues a signed token for the subject. Used by dev tooling and tests.
func (a *JWTAuthorizer) Mint(subject string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errs.New("auth", errs.CodeInternal,
			errs.WithMessage("sign token"),
			errs.WithCause(err))
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
