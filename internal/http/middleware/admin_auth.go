package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type adminClaimsKey struct{}

// AdminClaims is the token body accepted on the call inspection API. Scope is
// space separated; a token without one is a full-access operator token.
type AdminClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

func (c AdminClaims) HasScope(scope string) bool {
	granted := strings.Fields(c.Scope)
	return len(granted) == 0 || slices.Contains(granted, scope)
}

var adminTokenParser = jwt.NewParser(
	jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	jwt.WithLeeway(30*time.Second),
)

// AdminJWT requires an HMAC bearer token signed with secret. An empty secret
// locks the routes entirely.
func AdminJWT(secret, scope string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if secret == "" || !ok {
				denyAdmin(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			var claims AdminClaims
			if _, err := adminTokenParser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
				denyAdmin(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if scope != "" && !claims.HasScope(scope) {
				denyAdmin(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminClaimsKey{}, claims)))
		})
	}
}

func AdminClaimsFromContext(ctx context.Context) (AdminClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey{}).(AdminClaims)
	return claims, ok
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func denyAdmin(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
