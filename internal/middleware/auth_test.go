package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoshop-api/internal/model"
	"autoshop-api/internal/service"
)

type fakeIdentities struct {
	claims     map[string]*model.AuthClaims
	enrichment service.Enrichment
}

func (f fakeIdentities) ValidateAccessToken(token string) (*model.AuthClaims, bool) {
	c, ok := f.claims[token]
	return c, ok
}

func (f fakeIdentities) LookupIdentity(context.Context, uint) service.Enrichment {
	return f.enrichment
}

func captureClaims(got **model.AuthClaims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()

	var body model.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequireAuth(t *testing.T) {
	tokenClaims := &model.AuthClaims{UserID: 1, Username: "sam", Roles: []string{model.RoleClient}, Role: model.RoleClient}
	ids := fakeIdentities{
		claims: map[string]*model.AuthClaims{"good": tokenClaims},
		enrichment: service.Enrichment{
			Outcome: service.EnrichmentFresh,
			User:    model.User{ID: 1, Role: model.RoleManager},
			Roles:   []string{model.RoleManager},
		},
	}

	serve := func(ids fakeIdentities, header string) (*httptest.ResponseRecorder, *model.AuthClaims) {
		var got *model.AuthClaims
		req := httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		NewAuthMiddleware(ids).RequireAuth(captureClaims(&got)).ServeHTTP(rec, req)
		return rec, got
	}

	t.Run("missing header", func(t *testing.T) {
		rec, _ := serve(ids, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "No token provided", decodeError(t, rec).Message)

		rec, _ = serve(ids, "Basic abc")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "No token provided", decodeError(t, rec).Message)
	})

	t.Run("invalid token", func(t *testing.T) {
		rec, _ := serve(ids, "Bearer forged")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid or expired token", decodeError(t, rec).Message)
	})

	t.Run("fresh roles replace token roles", func(t *testing.T) {
		rec, got := serve(ids, "bearer good")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{model.RoleManager}, got.Roles)
		assert.Equal(t, model.RoleManager, got.Role)
		assert.Equal(t, []string{model.RoleClient}, tokenClaims.Roles, "token claims are not mutated")
	})

	t.Run("user missing", func(t *testing.T) {
		missing := ids
		missing.enrichment = service.Enrichment{Outcome: service.EnrichmentUserMissing}

		rec, _ := serve(missing, "Bearer good")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "User not found", decodeError(t, rec).Message)
	})

	t.Run("lookup failure keeps token claims", func(t *testing.T) {
		broken := ids
		broken.enrichment = service.Enrichment{Outcome: service.EnrichmentFallback, Err: errors.New("db down")}

		rec, got := serve(broken, "Bearer good")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{model.RoleClient}, got.Roles)
	})
}

func TestRequireRoles(t *testing.T) {
	serve := func(gate func(http.Handler) http.Handler, claims *model.AuthClaims) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		if claims != nil {
			req = req.WithContext(WithClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		gate(okHandler()).ServeHTTP(rec, req)
		return rec
	}

	mechanic := &model.AuthClaims{UserID: 2, Roles: []string{model.RoleMechanic}}

	t.Run("mechanic is denied admin-or-manager", func(t *testing.T) {
		rec := serve(AdminOrManager, mechanic)
		require.Equal(t, http.StatusForbidden, rec.Code)

		var body struct {
			Code    string             `json:"code"`
			Details model.RoleMismatch `json:"details"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "FORBIDDEN", body.Code)
		assert.Equal(t, []string{model.RoleAdmin, model.RoleManager}, body.Details.Required)
		assert.Equal(t, []string{model.RoleMechanic}, body.Details.Actual)
	})

	t.Run("mechanic is allowed mechanic-or-higher", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(MechanicOrHigher, mechanic).Code)
	})

	t.Run("legacy role applies only without role names", func(t *testing.T) {
		legacy := &model.AuthClaims{UserID: 3, Roles: []string{}, Role: model.RoleAdmin}
		assert.Equal(t, http.StatusOK, serve(AdminOnly, legacy).Code)

		overridden := &model.AuthClaims{UserID: 3, Roles: []string{model.RoleClient}, Role: model.RoleAdmin}
		assert.Equal(t, http.StatusForbidden, serve(AdminOnly, overridden).Code)
	})

	t.Run("names are case sensitive", func(t *testing.T) {
		lower := &model.AuthClaims{UserID: 4, Roles: []string{"admin"}}
		assert.Equal(t, http.StatusForbidden, serve(AdminOnly, lower).Code)
	})

	t.Run("staff includes receptionist", func(t *testing.T) {
		desk := &model.AuthClaims{UserID: 5, Roles: []string{model.RoleReceptionist}}
		assert.Equal(t, http.StatusOK, serve(Staff, desk).Code)
		assert.Equal(t, http.StatusForbidden, serve(MechanicOrHigher, desk).Code)
	})

	t.Run("no identity", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(AdminOnly, nil).Code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
}

func TestRecovery(t *testing.T) {
	rec := httptest.NewRecorder()
	Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}

func TestLoggingRecordsAuthenticatedUser(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	ids := fakeIdentities{
		claims:     map[string]*model.AuthClaims{"good": {UserID: 42, Username: "rita", Roles: []string{model.RoleAdmin}}},
		enrichment: service.Enrichment{Outcome: service.EnrichmentFallback, Err: errors.New("db down")},
	}
	auth := NewAuthMiddleware(ids)
	handler := Logging(Timeout(time.Second)(auth.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))))

	req := httptest.NewRequest(http.MethodGet, "/api/roles", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var requestLine map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["msg"] == "request" {
			requestLine = entry
		}
	}
	require.NotNil(t, requestLine)
	assert.EqualValues(t, 42, requestLine["user_id"])
	assert.Equal(t, "rita", requestLine["username"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}
