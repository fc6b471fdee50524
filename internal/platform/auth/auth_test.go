package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func sign(t *testing.T, key []byte, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func claimsFor(sub, role string, exp time.Time) Claims {
	c := Claims{Role: role}
	c.Subject = sub
	if !exp.IsZero() {
		c.ExpiresAt = jwt.NewNumericDate(exp)
	}
	return c
}

func TestVerify(t *testing.T) {
	hour := time.Now().Add(time.Hour)
	good := sign(t, secret, jwt.SigningMethodHS256, claimsFor("ops-1", "admin", hour))
	parts := strings.Split(good, ".")

	tests := []struct {
		name    string
		v       JWTVerifier
		token   string
		want    Identity
		wantErr error
	}{
		{name: "valid", v: JWTVerifier{Secret: secret}, token: good, want: Identity{UserID: "ops-1", Role: "admin"}},
		{name: "expired", v: JWTVerifier{Secret: secret},
			token: sign(t, secret, jwt.SigningMethodHS256, claimsFor("ops-1", "", time.Now().Add(-time.Hour)))},
		{name: "skew within leeway", v: JWTVerifier{Secret: secret, Leeway: time.Minute},
			token: sign(t, secret, jwt.SigningMethodHS256, claimsFor("ops-1", "", time.Now().Add(-5*time.Second))),
			want:  Identity{UserID: "ops-1"}},
		{name: "no expiry", v: JWTVerifier{Secret: secret},
			token: sign(t, secret, jwt.SigningMethodHS256, claimsFor("ops-1", "admin", time.Time{}))},
		{name: "other secret", v: JWTVerifier{Secret: []byte("nope")}, token: good},
		{name: "hs512 rejected", v: JWTVerifier{Secret: secret},
			token: sign(t, secret, jwt.SigningMethodHS512, claimsFor("ops-1", "admin", hour))},
		{name: "tampered payload", v: JWTVerifier{Secret: secret}, token: parts[0] + ".e30." + parts[2]},
		{name: "garbage", v: JWTVerifier{Secret: secret}, token: "a.b.c"},
		{name: "blank subject", v: JWTVerifier{Secret: secret},
			token: sign(t, secret, jwt.SigningMethodHS256, claimsFor("  ", "admin", hour)), wantErr: ErrNoSubject},
		{name: "no secret", v: JWTVerifier{}, token: good, wantErr: ErrNoSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.v.Verify(tt.token)
			wantOK := tt.want != (Identity{})
			if wantOK {
				if err != nil {
					t.Fatalf("Verify: %v", err)
				}
				if got != tt.want {
					t.Fatalf("identity = %+v, want %+v", got, tt.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error, got %+v", got)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	v := JWTVerifier{Secret: secret}
	tok := sign(t, secret, jwt.SigningMethodHS256, claimsFor("ops-7", "editor", time.Now().Add(time.Hour)))

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"bearer", "Bearer " + tok, http.StatusOK, ""},
		{"lowercase scheme", "bearer " + tok, http.StatusOK, ""},
		{"missing", "", http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"basic", "Basic b3BzOnB3", http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"empty bearer", "Bearer   ", http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"bad token", "Bearer x.y.z", http.StatusUnauthorized, "INVALID_TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen Identity
			h := RequireUser(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = IdentityFrom(r.Context())
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/backfill", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
			if tt.code != "" && !strings.Contains(rr.Body.String(), `"code":"`+tt.code+`"`) {
				t.Fatalf("body %s lacks code %s", rr.Body.String(), tt.code)
			}
			if tt.status == http.StatusOK && seen != (Identity{UserID: "ops-7", Role: "editor"}) {
				t.Fatalf("identity = %+v", seen)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name   string
		ctx    context.Context
		status int
	}{
		{"admin", WithIdentity(context.Background(), Identity{UserID: "a", Role: "admin"}), http.StatusOK},
		{"admin any case", WithIdentity(context.Background(), Identity{UserID: "a", Role: " ADMIN "}), http.StatusOK},
		{"editor", WithIdentity(context.Background(), Identity{UserID: "a", Role: "editor"}), http.StatusForbidden},
		{"anonymous", context.Background(), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/admin/backfill", nil).WithContext(tt.ctx)
			RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})).ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d", rr.Code, tt.status)
			}
		})
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("empty context reported a user")
	}
	ctx := WithIdentity(context.Background(), Identity{UserID: "ops-3"})
	if uid, ok := UserIDFromContext(ctx); !ok || uid != "ops-3" {
		t.Fatalf("uid = %q, ok = %v", uid, ok)
	}
}
