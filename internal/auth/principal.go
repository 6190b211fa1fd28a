package auth

import "context"

// Principal is the request-scoped identity derived from a validated access
// token. It is fully self-contained: no store lookup happens per request, so
// role changes propagate when the access token is renewed.
type Principal struct {
	UserID string
	Email  string
	Roles  []string
}

func (p Principal) HasRole(code string) bool {
	for _, role := range p.Roles {
		if role == code {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext returns the request principal, if one was resolved.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}
