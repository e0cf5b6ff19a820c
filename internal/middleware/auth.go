package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"autoshop-api/internal/model"
	"autoshop-api/internal/service"
)

type identityProvider interface {
	ValidateAccessToken(token string) (*model.AuthClaims, bool)
	LookupIdentity(ctx context.Context, userID uint) service.Enrichment
}

type contextKey string

const authClaimsContextKey contextKey = "auth_claims"

type AuthMiddleware struct {
	identities identityProvider
}

func NewAuthMiddleware(identities identityProvider) *AuthMiddleware {
	return &AuthMiddleware{identities: identities}
}

// RequireAuth validates the bearer token and attaches the caller's identity,
// refreshed from the user store when it can be read.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "No token provided", nil)
			return
		}

		claims, valid := m.identities.ValidateAccessToken(token)
		if !valid {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token", nil)
			return
		}

		enrichment := m.identities.LookupIdentity(r.Context(), claims.UserID)
		switch enrichment.Outcome {
		case service.EnrichmentUserMissing:
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "User not found", nil)
			return
		case service.EnrichmentFresh:
			enriched := *claims
			enriched.Roles = enrichment.Roles
			enriched.Role = enrichment.User.Role
			claims = &enriched
		case service.EnrichmentFallback:
			slog.Warn("role enrichment failed; using token claims", "user_id", claims.UserID, "error", enrichment.Err)
		}

		annotateIdentity(r, claims.UserID, claims.Username)

		ctx := context.WithValue(r.Context(), authClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}

	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// RequireRoles admits identities holding any of the allowed role names. An
// identity without role names is judged by its legacy role.
func RequireRoles(allowedRoles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		roleSet[role] = struct{}{}
	}
	required := append([]string(nil), allowedRoles...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
				return
			}

			actual := claims.Roles
			if len(actual) == 0 && claims.Role != "" {
				actual = []string{claims.Role}
			}

			for _, role := range actual {
				if _, allowed := roleSet[role]; allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			if actual == nil {
				actual = []string{}
			}
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions", model.RoleMismatch{
				Required: required,
				Actual:   actual,
			})
		})
	}
}

var (
	AdminOnly        = RequireRoles(model.RoleAdmin)
	AdminOrManager   = RequireRoles(model.RoleAdmin, model.RoleManager)
	Staff            = RequireRoles(model.RoleAdmin, model.RoleManager, model.RoleReceptionist)
	MechanicOrHigher = RequireRoles(model.RoleAdmin, model.RoleManager, model.RoleMechanic)
)

func ClaimsFromContext(ctx context.Context) (*model.AuthClaims, bool) {
	claims, ok := ctx.Value(authClaimsContextKey).(*model.AuthClaims)
	return claims, ok
}

// WithClaims attaches an identity to ctx as RequireAuth does.
func WithClaims(ctx context.Context, claims *model.AuthClaims) context.Context {
	return context.WithValue(ctx, authClaimsContextKey, claims)
}
