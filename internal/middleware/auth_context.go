package middleware

import (
	"context"
	"errors"

	"github.com/technosupport/alibi/internal/identity"
)

// AuthContext is the verified caller identity injected by JWTAuth.
type AuthContext struct {
	Username string
	Role     identity.Role
	TokenID  string
}

type ctxKey int

const authCtxKey ctxKey = 0

var ErrNoAuthContext = errors.New("no auth context")

// WithAuthContext attaches the caller identity to ctx.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authCtxKey, ac)
}

// GetAuthContext retrieves the caller identity set by the auth middleware.
func GetAuthContext(ctx context.Context) (*AuthContext, error) {
	ac, ok := ctx.Value(authCtxKey).(*AuthContext)
	if !ok || ac == nil {
		return nil, ErrNoAuthContext
	}
	return ac, nil
}
