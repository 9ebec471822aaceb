package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/release-registry/pkg/api"
)

// publicPaths skip authentication.
var publicPaths = map[string]bool{
	"/health":    true,
	"/readiness": true,
}

var (
	errMissingHeader = errors.New("missing Authorization header")
	errBadScheme     = errors.New("expected 'Authorization: Bearer <token>'")
)

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", errMissingHeader
	}
	scheme, tok, ok := strings.Cut(h, " ")
	tok = strings.TrimSpace(tok)
	if !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
		return "", errBadScheme
	}
	return tok, nil
}

// NewMiddleware authenticates requests with validator and attaches the
// resulting Principal. A nil validator rejects every non-public request.
func NewMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			tok, err := bearerToken(r)
			if err != nil {
				api.Unauthorized(w, r, err.Error())
				return
			}
			if validator == nil {
				api.Unauthorized(w, r, "authentication is not configured")
				return
			}
			claims, err := validator.Validate(tok)
			if err != nil {
				api.Unauthorized(w, r, "invalid or expired token")
				return
			}
			if claims.Subject == "" {
				api.Unauthorized(w, r, "token has no subject")
				return
			}
			p := &Principal{ID: claims.Subject, Email: claims.Email, Roles: claims.Roles}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
