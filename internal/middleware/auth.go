package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"skipline-backend/internal/apperr"
	"skipline-backend/internal/models"
)

type contextKey string

const principalKey contextKey = "principal"

// TokenValidator turns a bearer token into the authenticated caller
type TokenValidator interface {
	ValidateJWT(token string) (models.Principal, error)
}

// Auth creates a middleware for JWT authentication
func Auth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, apperr.ErrUnauthorized.WithMessage("authorization header required"))
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, apperr.ErrUnauthorized.WithMessage("invalid authorization header format"))
				return
			}

			principal, err := tokens.ValidateJWT(parts[1])
			if err != nil {
				respondError(w, apperr.ErrInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole rejects authenticated callers that do not hold role. It must
// run after Auth.
func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFrom(r.Context())
			if !principal.Authenticated() {
				respondError(w, apperr.ErrUnauthorized)
				return
			}
			if principal.Role != role {
				if role == models.RoleBusiness {
					respondError(w, apperr.ErrBusinessOnly)
				} else {
					respondError(w, apperr.ErrCustomersOnly)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal stores the caller in ctx
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom extracts the caller from context, the zero Principal when
// the request is anonymous
func PrincipalFrom(ctx context.Context) models.Principal {
	p, _ := ctx.Value(principalKey).(models.Principal)
	return p
}

// ValidateWebSocketToken validates the JWT passed in the WebSocket query
// parameter, browsers cannot set headers on the upgrade request
func ValidateWebSocketToken(token string, tokens TokenValidator) (models.Principal, error) {
	if token == "" {
		return models.Principal{}, apperr.ErrUnauthorized.WithMessage("token required")
	}
	return tokens.ValidateJWT(token)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, e *apperr.Error) {
	status := http.StatusUnauthorized
	if e.Kind == apperr.KindForbidden {
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": e.Code, "message": e.Message})
}
