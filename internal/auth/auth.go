// package auth verifies admin bearer tokens for the manual override gateway
// and the intake endpoint.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is required for manual approve/reject and dead-letter access.
const RoleAdmin = "admin"

// Identity is the authenticated caller extracted from a verified token.
type Identity struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the identity carries the given role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Claims is the token payload: registered claims plus a roles list.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: signing secret required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// VerifyToken parses and validates a bearer token, returning the caller
// identity.
func (v *Verifier) VerifyToken(token string) (Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return Identity{}, fmt.Errorf("token invalid")
	}
	return Identity{Subject: claims.Subject, Roles: claims.Roles}, nil
}

// SignToken mints a token for the given subject and roles. Used by
// provisioning tooling and tests.
func SignToken(secret, subject string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

type ctxKey string

const ctxKeyIdentity ctxKey = "staging.identity"

// FromContext returns the Identity stored by Middleware, or false.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKeyIdentity).(Identity)
	return id, ok
}

// WithIdentity stores an identity on a context. Test helper.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// Middleware rejects requests without a valid bearer token and places the
// caller identity into the request context. Role checks happen in the
// gateway, not here, so callers get PermissionDenied rather than a generic
// 401 when they are authenticated but unauthorized.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			http.Error(w, "bearer token required", http.StatusUnauthorized)
			return
		}
		id, err := v.VerifyToken(strings.TrimSpace(authz[7:]))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}
