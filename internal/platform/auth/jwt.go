// Package auth verifies HS256 bearer tokens issued by the account service
// and guards admin-only routes.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/madhav-relish/streaming/internal/platform/api"
)

var (
	ErrNoSecret     = errors.New("auth: verifier has no secret")
	ErrMissingToken = errors.New("auth: bearer token required")
	ErrNoSubject    = errors.New("auth: token has no subject")
)

// Identity is what a verified token says about the caller.
type Identity struct {
	UserID string
	Role   string
}

func (id Identity) IsAdmin() bool {
	return strings.EqualFold(strings.TrimSpace(id.Role), RoleAdmin)
}

type identityKey struct{}

// WithIdentity stores id on ctx. RequireUser calls it; tests may too.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// UserIDFromContext returns the authenticated subject, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	return id.UserID, ok && id.UserID != ""
}

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type JWTVerifier struct {
	Secret []byte
	// Leeway tolerates clock skew on exp/nbf.
	Leeway time.Duration
}

// Verify accepts only HS256 tokens that carry an expiry and a subject.
func (v JWTVerifier) Verify(raw string) (Identity, error) {
	if len(v.Secret) == 0 {
		return Identity{}, ErrNoSecret
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return v.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.Leeway),
	)
	if err != nil {
		return Identity{}, err
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return Identity{}, ErrNoSubject
	}
	return Identity{UserID: sub, Role: strings.TrimSpace(claims.Role)}, nil
}

func bearerToken(r *http.Request) (string, error) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	tok = strings.TrimSpace(tok)
	if !ok || !strings.EqualFold(scheme, "bearer") || tok == "" {
		return "", ErrMissingToken
	}
	return tok, nil
}

// RequireUser rejects requests without a valid bearer token and stores the
// caller's Identity on the request context.
func RequireUser(v JWTVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := bearerToken(r)
			if err != nil {
				api.Fail(w, r, api.Unauthorized("UNAUTHENTICATED", "bearer token required"))
				return
			}
			id, err := v.Verify(tok)
			if err != nil {
				api.Fail(w, r, api.Unauthorized("INVALID_TOKEN", "invalid or expired token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
