package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/technosupport/alibi/internal/auth"
	"github.com/technosupport/alibi/internal/identity"
	"github.com/technosupport/alibi/internal/tokens"
)

// TokenValidator is what JWTAuth needs from the token manager.
type TokenValidator interface {
	Validate(tokenString string) (*tokens.Claims, error)
}

// UserGate checks that the token's account still exists and is enabled, so
// disabling a user takes effect before token expiry.
type UserGate interface {
	Get(username string) (*identity.User, error)
}

// JWTAuth verifies bearer tokens and injects AuthContext. The push stream
// also accepts the token as a query parameter because browser EventSource
// clients cannot set headers.
type JWTAuth struct {
	tokens    TokenValidator
	blacklist auth.TokenBlacklist
	users     UserGate
}

func NewJWTAuth(t TokenValidator, b auth.TokenBlacklist, u UserGate) *JWTAuth {
	return &JWTAuth{tokens: t, blacklist: b, users: u}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects 401 on missing/invalid/revoked tokens.
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			unauthorized(w, "missing bearer token")
			return
		}

		claims, err := m.tokens.Validate(tokenString)
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		// Fail closed: a blacklist read error rejects the request.
		revoked, err := m.blacklist.IsRevoked(r.Context(), claims.ID)
		if err != nil || revoked {
			unauthorized(w, "token revoked")
			return
		}

		if m.users != nil {
			u, err := m.users.Get(claims.Username)
			if err != nil || !u.Enabled {
				unauthorized(w, "account disabled")
				return
			}
		}

		ac := &AuthContext{
			Username: claims.Username,
			Role:     identity.Role(claims.Role),
			TokenID:  claims.ID,
		}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

// RequireRole gates a handler on a minimum role. 403 on mismatch.
func RequireRole(min identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := GetAuthContext(r.Context())
			if err != nil {
				unauthorized(w, "missing auth context")
				return
			}
			if !ac.Role.AtLeast(min) {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "auth_failed", "message": msg})
}

func forbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]string{"error": "forbidden", "message": "insufficient role"})
}
