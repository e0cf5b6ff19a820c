package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"autoshop-api/internal/model"
	"autoshop-api/internal/repository"
	"autoshop-api/internal/testutil"
	"autoshop-api/pkg/apierror"
)

const testSecret = "test-secret-with-enough-entropy"

func newTestAuthService(t *testing.T) (*AuthService, *gorm.DB) {
	t.Helper()

	db := testutil.NewDB(t)
	svc := NewAuthService(
		repository.NewUserRepository(db),
		repository.NewRoleRepository(db),
		repository.NewTokenRepository(db),
		NewTokenIssuer(testSecret, "", 15*time.Minute, 7*24*time.Hour),
		NewPasswordHasher(bcrypt.MinCost),
	)
	return svc, db
}

func register(t *testing.T, svc *AuthService, username string, role string) model.AuthResponse {
	t.Helper()

	resp, err := svc.Register(context.Background(), model.RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "secret1",
		Role:     role,
	})
	require.NoError(t, err)
	return resp
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()

	var apiErr *apierror.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	require.Equal(t, status, apiErr.HTTPStatus)
}

func TestPasswordHasherRoundTrip(t *testing.T) {
	t.Parallel()

	h := NewPasswordHasher(bcrypt.MinCost)
	for _, pw := range []string{"secret1", "correct horse battery", "ünïcødé!"} {
		hash, err := h.Hash(pw)
		require.NoError(t, err)
		require.NotEqual(t, pw, hash)

		assert.True(t, h.Compare(pw, hash))
		assert.False(t, h.Compare(pw+"x", hash))
		assert.False(t, h.Compare("", hash))
	}

	first, err := h.Hash("secret1")
	require.NoError(t, err)
	second, err := h.Hash("secret1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "salt must differ per call")
}

func TestTokenIssuer(t *testing.T) {
	t.Parallel()

	issuer := NewTokenIssuer(testSecret, "", 15*time.Minute, time.Hour)
	user := model.User{ID: 7, Username: "ana", Email: "ana@example.com", Role: model.RoleMechanic}

	t.Run("access token carries identity and roles", func(t *testing.T) {
		token, err := issuer.SignAccess(user, []string{model.RoleMechanic})
		require.NoError(t, err)

		claims, ok := issuer.ParseAccess(token)
		require.True(t, ok)
		assert.Equal(t, uint(7), claims.UserID)
		assert.Equal(t, "ana", claims.Username)
		assert.Equal(t, []string{model.RoleMechanic}, claims.Roles)
		assert.Equal(t, model.RoleMechanic, claims.Role)
		require.NotNil(t, claims.ExpiresAt)
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		token, err := issuer.SignRefresh()
		require.NoError(t, err)

		_, ok := issuer.ParseAccess(token)
		assert.False(t, ok)
		assert.True(t, issuer.VerifyRefresh(token))
	})

	t.Run("refresh tokens are unique", func(t *testing.T) {
		a, err := issuer.SignRefresh()
		require.NoError(t, err)
		b, err := issuer.SignRefresh()
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("expired and forged tokens are rejected", func(t *testing.T) {
		token, err := issuer.SignAccess(user, nil)
		require.NoError(t, err)

		late := NewTokenIssuer(testSecret, "", 15*time.Minute, time.Hour)
		late.now = func() time.Time { return time.Now().Add(time.Hour) }
		_, ok := late.ParseAccess(token)
		assert.False(t, ok)

		other := NewTokenIssuer("another-secret", "", 15*time.Minute, time.Hour)
		_, ok = other.ParseAccess(token)
		assert.False(t, ok)

		_, ok = issuer.ParseAccess("not-a-jwt")
		assert.False(t, ok)
	})

	t.Run("unsigned tokens are rejected", func(t *testing.T) {
		claims := model.AccessClaims{
			UserID: 1,
			Type:   tokenTypeAccess,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, ok := issuer.ParseAccess(token)
		assert.False(t, ok)
	})
}

func TestRegister(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	t.Run("defaults to CLIENT", func(t *testing.T) {
		resp, err := svc.Register(ctx, model.RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, model.RoleClient, resp.User.Role)
		assert.Equal(t, []string{model.RoleClient}, resp.User.Roles)
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEmpty(t, resp.RefreshToken)

		profile, err := svc.Profile(ctx, resp.User.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RoleClient, profile.Role)
		assert.Equal(t, []string{model.RoleClient}, profile.Roles)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.Register(ctx, model.RegisterRequest{Username: "x"})
		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("short password", func(t *testing.T) {
		_, err := svc.Register(ctx, model.RegisterRequest{Username: "x", Email: "x@example.com", Password: "12345"})
		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("password beyond bcrypt limit", func(t *testing.T) {
		_, err := svc.Register(ctx, model.RegisterRequest{Username: "x", Email: "x@example.com", Password: strings.Repeat("p", MaxPasswordLength+1)})
		requireStatus(t, err, http.StatusBadRequest)

		resp, err := svc.Register(ctx, model.RegisterRequest{Username: "maxlen", Email: "maxlen@example.com", Password: strings.Repeat("p", MaxPasswordLength)})
		require.NoError(t, err)
		assert.NotZero(t, resp.User.ID)
	})

	t.Run("email with display name", func(t *testing.T) {
		_, err := svc.Register(ctx, model.RegisterRequest{Username: "bobagain", Email: "Bob Again <bob@example.com>", Password: "secret1"})
		requireStatus(t, err, http.StatusBadRequest)

		_, err = svc.Register(ctx, model.RegisterRequest{Username: "bobagain", Email: "<bobagain@example.com>", Password: "secret1"})
		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("email is stored lowercased", func(t *testing.T) {
		resp, err := svc.Register(ctx, model.RegisterRequest{Username: "erin", Email: "  Erin@Example.COM ", Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, "erin@example.com", resp.User.Email)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := svc.Register(ctx, model.RegisterRequest{Username: "x", Email: "x@example.com", Password: "secret1", Role: "JANITOR"})
		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("username with whitespace", func(t *testing.T) {
		_, err := svc.Register(ctx, model.RegisterRequest{Username: "john doe", Email: "john@example.com", Password: "secret1"})
		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("profile text is cleaned", func(t *testing.T) {
		resp, err := svc.Register(ctx, model.RegisterRequest{
			Username:  "dana",
			Email:     "dana@example.com",
			Password:  "secret1",
			FirstName: " Da\u200Bna\t",
		})
		require.NoError(t, err)

		profile, err := svc.Profile(ctx, resp.User.ID)
		require.NoError(t, err)
		assert.Equal(t, "Dana", profile.FirstName)
	})

	t.Run("duplicate username and email", func(t *testing.T) {
		_, err := svc.Register(ctx, model.RegisterRequest{Username: "bob", Email: "other@example.com", Password: "secret1"})
		requireStatus(t, err, http.StatusConflict)

		_, err = svc.Register(ctx, model.RegisterRequest{Username: "bobby", Email: "BOB@example.com", Password: "secret1"})
		requireStatus(t, err, http.StatusConflict)
	})
}

func TestLogin(t *testing.T) {
	svc, db := newTestAuthService(t)
	ctx := context.Background()
	users := repository.NewUserRepository(db)

	registered := register(t, svc, "carla", model.RoleMechanic)

	t.Run("valid credentials", func(t *testing.T) {
		resp, err := svc.Login(ctx, "carla", "secret1")
		require.NoError(t, err)
		assert.Equal(t, registered.User.ID, resp.User.ID)
		require.NotNil(t, resp.User.LastLogin)

		claims, ok := svc.ValidateAccessToken(resp.AccessToken)
		require.True(t, ok)
		assert.Equal(t, registered.User.ID, claims.UserID)
		assert.Equal(t, []string{model.RoleMechanic}, claims.Roles)
	})

	t.Run("bad credentials", func(t *testing.T) {
		_, err := svc.Login(ctx, "carla", "wrong-password")
		assert.ErrorIs(t, err, model.ErrInvalidCredentials)

		_, err = svc.Login(ctx, "nobody", "secret1")
		assert.ErrorIs(t, err, model.ErrInvalidCredentials)

		_, err = svc.Login(ctx, "", "")
		requireStatus(t, err, http.StatusBadRequest)
	})

	t.Run("inactive account", func(t *testing.T) {
		require.NoError(t, users.SetActive(ctx, registered.User.ID, false))
		t.Cleanup(func() { _ = users.SetActive(ctx, registered.User.ID, true) })

		_, err := svc.Login(ctx, "carla", "secret1")
		assert.ErrorIs(t, err, model.ErrAccountInactive)
	})

	t.Run("legacy role is reconciled", func(t *testing.T) {
		hash, err := svc.HashPassword("secret1")
		require.NoError(t, err)

		legacy := model.User{Username: "old", Email: "old@example.com", PasswordHash: hash, Role: model.RoleManager, IsActive: true}
		require.NoError(t, users.Create(ctx, &legacy, nil))

		resp, err := svc.Login(ctx, "old", "secret1")
		require.NoError(t, err)
		assert.Equal(t, []string{model.RoleManager}, resp.User.Roles)

		claims, ok := svc.ValidateAccessToken(resp.AccessToken)
		require.True(t, ok)
		assert.Equal(t, []string{model.RoleManager}, claims.Roles)
	})
}

func TestRefreshRotation(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	first := register(t, svc, "dora", "")

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = svc.Refresh(ctx, first.RefreshToken)
	requireStatus(t, err, http.StatusUnauthorized)

	third, err := svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)

	_, ok, err := svc.ValidateRefreshToken(ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.False(t, ok)

	user, ok, err := svc.ValidateRefreshToken(ctx, third.RefreshToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first.User.ID, user.ID)

	_, err = svc.Refresh(ctx, "")
	requireStatus(t, err, http.StatusBadRequest)
}

func TestValidateRefreshTokenDeletesExpiredRecord(t *testing.T) {
	svc, db := newTestAuthService(t)
	ctx := context.Background()

	resp := register(t, svc, "eve", "")

	svc.now = func() time.Time { return time.Now().UTC().Add(8 * 24 * time.Hour) }
	_, ok, err := svc.ValidateRefreshToken(ctx, resp.RefreshToken)
	require.NoError(t, err)
	assert.False(t, ok)

	var count int64
	require.NoError(t, db.Model(&model.RefreshToken{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	resp := register(t, svc, "finn", "")

	require.NoError(t, svc.Logout(ctx, resp.RefreshToken))
	require.NoError(t, svc.Logout(ctx, resp.RefreshToken))
	require.NoError(t, svc.Logout(ctx, ""))

	_, err := svc.Refresh(ctx, resp.RefreshToken)
	requireStatus(t, err, http.StatusUnauthorized)
}

func TestChangePasswordRevokesTokens(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	resp := register(t, svc, "gus", "")

	err := svc.ChangePassword(ctx, resp.User.ID, "wrong", "newsecret")
	requireStatus(t, err, http.StatusUnauthorized)

	err = svc.ChangePassword(ctx, resp.User.ID, "secret1", strings.Repeat("n", MaxPasswordLength+1))
	requireStatus(t, err, http.StatusBadRequest)

	require.NoError(t, svc.ChangePassword(ctx, resp.User.ID, "secret1", "newsecret"))

	_, err = svc.Refresh(ctx, resp.RefreshToken)
	requireStatus(t, err, http.StatusUnauthorized)

	_, err = svc.Login(ctx, "gus", "secret1")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "gus", "newsecret")
	require.NoError(t, err)
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	hana := register(t, svc, "hana", "")
	register(t, svc, "ivan", "")

	first := "Hana"
	updated, err := svc.UpdateProfile(ctx, hana.User.ID, model.UpdateProfileRequest{FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, "Hana", updated.FirstName)
	assert.Equal(t, "hana@example.com", updated.Email)

	taken := "ivan@example.com"
	_, err = svc.UpdateProfile(ctx, hana.User.ID, model.UpdateProfileRequest{Email: &taken})
	requireStatus(t, err, http.StatusConflict)

	bad := "not-an-email"
	_, err = svc.UpdateProfile(ctx, hana.User.ID, model.UpdateProfileRequest{Email: &bad})
	requireStatus(t, err, http.StatusBadRequest)

	named := "Ivan Again <ivan@example.com>"
	_, err = svc.UpdateProfile(ctx, hana.User.ID, model.UpdateProfileRequest{Email: &named})
	requireStatus(t, err, http.StatusBadRequest)

	mixed := "Hana.New@Example.com"
	updated, err = svc.UpdateProfile(ctx, hana.User.ID, model.UpdateProfileRequest{Email: &mixed})
	require.NoError(t, err)
	assert.Equal(t, "hana.new@example.com", updated.Email)
}

func TestUserAdministration(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	admin := register(t, svc, "root", model.RoleAdmin)
	jo := register(t, svc, "jo", "")

	t.Run("set roles keeps legacy role in sync", func(t *testing.T) {
		user, err := svc.SetUserRoles(ctx, jo.User.ID, []string{"mechanic", " manager ", "MECHANIC"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{model.RoleManager, model.RoleMechanic}, user.Roles)
		assert.Equal(t, model.RoleManager, user.Role)

		_, err = svc.SetUserRoles(ctx, jo.User.ID, []string{"JANITOR"})
		requireStatus(t, err, http.StatusBadRequest)

		_, err = svc.SetUserRoles(ctx, jo.User.ID, nil)
		requireStatus(t, err, http.StatusBadRequest)

		_, err = svc.SetUserRoles(ctx, 9999, []string{model.RoleClient})
		requireStatus(t, err, http.StatusNotFound)
	})

	t.Run("deactivation revokes refresh tokens", func(t *testing.T) {
		user, err := svc.SetUserActive(ctx, jo.User.ID, false)
		require.NoError(t, err)
		assert.False(t, user.IsActive)

		_, ok, err := svc.ValidateRefreshToken(ctx, jo.RefreshToken)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("list users and roles", func(t *testing.T) {
		users, err := svc.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 2)

		roles, err := svc.ListRoles(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, model.DefaultRoles, roles)
	})

	t.Run("delete", func(t *testing.T) {
		err := svc.DeleteUser(ctx, admin.User.ID, admin.User.ID)
		requireStatus(t, err, http.StatusBadRequest)

		require.NoError(t, svc.DeleteUser(ctx, jo.User.ID, admin.User.ID))
		_, err = svc.GetUser(ctx, jo.User.ID)
		requireStatus(t, err, http.StatusNotFound)

		err = svc.DeleteUser(ctx, jo.User.ID, admin.User.ID)
		requireStatus(t, err, http.StatusNotFound)
	})
}

type brokenRoles struct{ roleStore }

func (brokenRoles) NamesForUser(context.Context, uint) ([]string, error) {
	return nil, errors.New("role table unavailable")
}

type brokenUsers struct{ userStore }

func (brokenUsers) FindByID(context.Context, uint) (model.User, error) {
	return model.User{}, errors.New("connection reset")
}

func TestGenerateAccessTokenFallsBackToNoRoles(t *testing.T) {
	svc, _ := newTestAuthService(t)
	svc.roles = brokenRoles{svc.roles}

	token, err := svc.GenerateAccessToken(context.Background(), model.User{ID: 3, Username: "kim", Role: model.RoleAdmin})
	require.NoError(t, err)

	claims, ok := svc.ValidateAccessToken(token)
	require.True(t, ok)
	assert.Empty(t, claims.Roles)
	assert.NotNil(t, claims.Roles)
	assert.Equal(t, model.RoleAdmin, claims.Role)
}

func TestLookupIdentity(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	lee := register(t, svc, "lee", model.RoleReceptionist)

	fresh := svc.LookupIdentity(ctx, lee.User.ID)
	require.Equal(t, EnrichmentFresh, fresh.Outcome)
	assert.Equal(t, []string{model.RoleReceptionist}, fresh.Roles)
	assert.Equal(t, model.RoleReceptionist, fresh.User.Role)

	missing := svc.LookupIdentity(ctx, 9999)
	assert.Equal(t, EnrichmentUserMissing, missing.Outcome)

	svc.users = brokenUsers{svc.users}
	fallback := svc.LookupIdentity(ctx, lee.User.ID)
	assert.Equal(t, EnrichmentFallback, fallback.Outcome)
	assert.Error(t, fallback.Err)
}
