package auth

import (
	"net/http"
	"strings"
)

// Resolver turns a bearer header into a request principal. It fails closed:
// any structural, signature, expiry, or kind problem resolves to no principal
// and never aborts the request pipeline.
type Resolver struct {
	codec *Codec
}

func NewResolver(codec *Codec) *Resolver {
	return &Resolver{codec: codec}
}

// Resolve extracts and validates the Authorization header value. Only a
// well-formed, correctly signed, unexpired ACCESS token yields a principal;
// a refresh token never authorizes an API call.
func (rs *Resolver) Resolve(header string) (Principal, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Principal{}, false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Principal{}, false
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return Principal{}, false
	}

	claims, err := rs.codec.Verify(tokenString)
	if err != nil {
		return Principal{}, false
	}
	if claims.Kind() != KindAccess {
		return Principal{}, false
	}

	return Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Roles:  claims.Roles,
	}, true
}

// Middleware guards a handler: requests without a resolvable principal get a
// 401, everything else proceeds with the principal in the request context.
func (rs *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := rs.Resolve(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or missing access token")
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireRole additionally demands a role code on the resolved principal.
func (rs *Resolver) RequireRole(code string, next http.Handler) http.Handler {
	return rs.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := PrincipalFromContext(r.Context())
		if !principal.HasRole(code) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	}))
}
