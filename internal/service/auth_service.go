package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"autoshop-api/internal/model"
	"autoshop-api/internal/util"
	"autoshop-api/pkg/apierror"
)

type userStore interface {
	FindByID(ctx context.Context, id uint) (model.User, error)
	FindByUsername(ctx context.Context, username string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, u *model.User, roleNames []string) error
	UpdateProfile(ctx context.Context, id uint, fields map[string]any) error
	UpdatePassword(ctx context.Context, id uint, passwordHash string) error
	TouchLastLogin(ctx context.Context, id uint, at time.Time) error
	SetActive(ctx context.Context, id uint, active bool) error
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context) ([]model.User, error)
}

type roleStore interface {
	NamesForUser(ctx context.Context, userID uint) ([]string, error)
	ReplaceForUser(ctx context.Context, userID uint, names []string) error
	List(ctx context.Context) ([]model.Role, error)
}

type refreshTokenStore interface {
	Replace(ctx context.Context, userID uint, token string, expiresAt time.Time) (model.RefreshToken, error)
	Find(ctx context.Context, token string) (model.RefreshToken, error)
	Revoke(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID uint) error
}

// RoleLookup is the outcome of reading a user's role names. When Err is set,
// Names is the empty fallback and callers continue with it.
type RoleLookup struct {
	Names []string
	Err   error
}

func (l RoleLookup) Degraded() bool {
	return l.Err != nil
}

type EnrichmentOutcome int

const (
	// EnrichmentFresh means User and Roles were read from the store.
	EnrichmentFresh EnrichmentOutcome = iota
	// EnrichmentUserMissing means the token's subject no longer exists.
	EnrichmentUserMissing
	// EnrichmentFallback means the store could not be read; Err says why and
	// the caller keeps the token's own claims.
	EnrichmentFallback
)

type Enrichment struct {
	Outcome EnrichmentOutcome
	User    model.User
	Roles   []string
	Err     error
}

type AuthService struct {
	users  userStore
	roles  roleStore
	tokens refreshTokenStore
	issuer *TokenIssuer
	hasher PasswordHasher
	now    func() time.Time
}

func NewAuthService(users userStore, roles roleStore, tokens refreshTokenStore, issuer *TokenIssuer, hasher PasswordHasher) *AuthService {
	return &AuthService{
		users:  users,
		roles:  roles,
		tokens: tokens,
		issuer: issuer,
		hasher: hasher,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuthService) HashPassword(plain string) (string, error) {
	return s.hasher.Hash(plain)
}

func (s *AuthService) ComparePassword(plain string, hash string) bool {
	return s.hasher.Compare(plain, hash)
}

// GenerateAccessToken embeds the user's current role names. A failed role
// read degrades to an empty role list instead of failing the issue.
func (s *AuthService) GenerateAccessToken(ctx context.Context, user model.User) (string, error) {
	lookup := s.lookupRoles(ctx, user.ID)
	if lookup.Degraded() {
		slog.Warn("role lookup failed; issuing access token without roles", "user_id", user.ID, "error", lookup.Err)
	}
	return s.issuer.SignAccess(user, lookup.Names)
}

func (s *AuthService) GenerateRefreshToken() (string, error) {
	return s.issuer.SignRefresh()
}

func (s *AuthService) SaveRefreshToken(ctx context.Context, userID uint, token string) (model.RefreshToken, error) {
	return s.tokens.Replace(ctx, userID, token, s.now().Add(s.issuer.RefreshTTL()))
}

// ValidateRefreshToken returns ok=false for any token that cannot be
// exchanged. Only storage failures are returned as errors.
func (s *AuthService) ValidateRefreshToken(ctx context.Context, token string) (model.User, bool, error) {
	if !s.issuer.VerifyRefresh(token) {
		return model.User{}, false, nil
	}

	record, err := s.tokens.Find(ctx, token)
	if errors.Is(err, model.ErrTokenNotFound) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}

	if !s.now().Before(record.ExpiresAt) {
		if err := s.tokens.Revoke(ctx, token); err != nil {
			return model.User{}, false, err
		}
		return model.User{}, false, nil
	}

	user, err := s.users.FindByID(ctx, record.UserID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}

	return user, true, nil
}

func (s *AuthService) DeleteRefreshToken(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

func (s *AuthService) DeleteAllUserTokens(ctx context.Context, userID uint) error {
	return s.tokens.RevokeAllForUser(ctx, userID)
}

func (s *AuthService) ValidateAccessToken(token string) (*model.AuthClaims, bool) {
	claims, ok := s.issuer.ParseAccess(token)
	if !ok {
		return nil, false
	}

	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}

	return &model.AuthClaims{
		UserID:   claims.UserID,
		Username: claims.Username,
		Email:    claims.Email,
		Roles:    roles,
		Role:     claims.Role,
	}, true
}

func (s *AuthService) LookupIdentity(ctx context.Context, userID uint) Enrichment {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return Enrichment{Outcome: EnrichmentUserMissing}
	}
	if err != nil {
		return Enrichment{Outcome: EnrichmentFallback, Err: err}
	}

	return Enrichment{Outcome: EnrichmentFresh, User: user, Roles: user.RoleNames()}
}

// NormalizeEmail accepts a bare address only and returns it lowercased.
// Display names and angle-bracket forms are rejected so the stored value is
// always the address itself.
func NormalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" || addr.Address != raw {
		return "", apierror.BadRequest("invalid email address", "email")
	}
	return strings.ToLower(addr.Address), nil
}

func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.AuthResponse, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	role := strings.ToUpper(strings.TrimSpace(req.Role))

	if username == "" || email == "" || req.Password == "" {
		return model.AuthResponse{}, apierror.BadRequest("username, email and password are required", nil)
	}
	username, err := util.SanitizeUsername(username)
	if err != nil {
		return model.AuthResponse{}, err
	}
	email, err = NormalizeEmail(email)
	if err != nil {
		return model.AuthResponse{}, err
	}
	if err := ValidatePassword(req.Password, "password"); err != nil {
		return model.AuthResponse{}, err
	}
	if role == "" {
		role = model.RoleClient
	}
	if !model.IsKnownRole(role) {
		return model.AuthResponse{}, apierror.BadRequest("invalid role", role)
	}

	if exists, err := s.users.ExistsByUsername(ctx, username); err != nil {
		return model.AuthResponse{}, err
	} else if exists {
		return model.AuthResponse{}, apierror.Conflict("username already exists", "username")
	}
	if exists, err := s.users.ExistsByEmail(ctx, email); err != nil {
		return model.AuthResponse{}, err
	} else if exists {
		return model.AuthResponse{}, apierror.Conflict("email already exists", "email")
	}

	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return model.AuthResponse{}, err
	}

	user := model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		FirstName:    util.CleanText(req.FirstName, util.MaxNameLength),
		LastName:     util.CleanText(req.LastName, util.MaxNameLength),
		Phone:        util.CleanText(req.Phone, util.MaxPhoneLength),
		IsActive:     true,
	}
	if err := s.users.Create(ctx, &user, []string{role}); err != nil {
		if errors.Is(err, model.ErrUserAlreadyExists) {
			return model.AuthResponse{}, apierror.Conflict("username or email already exists", nil)
		}
		return model.AuthResponse{}, err
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return model.AuthResponse{}, err
	}

	return model.AuthResponse{
		Message:      "User registered successfully",
		User:         user.ToAuthUser(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

func (s *AuthService) Login(ctx context.Context, username string, password string) (model.AuthResponse, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return model.AuthResponse{}, apierror.BadRequest("username and password are required", nil)
	}

	user, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.AuthResponse{}, model.ErrInvalidCredentials
	}
	if err != nil {
		return model.AuthResponse{}, err
	}

	if !s.ComparePassword(password, user.PasswordHash) {
		return model.AuthResponse{}, model.ErrInvalidCredentials
	}
	if !user.IsActive {
		return model.AuthResponse{}, model.ErrAccountInactive
	}

	user = s.reconcileLegacyRole(ctx, user)

	now := s.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		slog.Warn("failed to record last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLogin = &now
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return model.AuthResponse{}, err
	}

	return model.AuthResponse{
		Message:      "Login successful",
		User:         user.ToAuthUser(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// reconcileLegacyRole attaches the legacy role column as a relational role
// for accounts created before the role table existed.
func (s *AuthService) reconcileLegacyRole(ctx context.Context, user model.User) model.User {
	if len(user.Roles) > 0 || !model.IsKnownRole(user.Role) {
		return user
	}

	if err := s.roles.ReplaceForUser(ctx, user.ID, []string{user.Role}); err != nil {
		slog.Warn("legacy role reconciliation failed", "user_id", user.ID, "role", user.Role, "error", err)
		return user
	}

	user.Roles = []model.Role{{Name: user.Role}}
	slog.Info("legacy role reconciled", "user_id", user.ID, "role", user.Role)
	return user
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return model.TokenPair{}, apierror.BadRequest("refreshToken is required", "refreshToken")
	}

	user, ok, err := s.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return model.TokenPair{}, err
	}
	if !ok || !user.IsActive {
		return model.TokenPair{}, apierror.Unauthorized("Invalid or expired refresh token")
	}

	return s.issueTokenPair(ctx, user)
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return s.DeleteRefreshToken(ctx, refreshToken)
}

func (s *AuthService) LogoutAll(ctx context.Context, userID uint) error {
	return s.DeleteAllUserTokens(ctx, userID)
}

func (s *AuthService) Profile(ctx context.Context, userID uint) (model.AuthUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.AuthUser{}, apierror.NotFound("User not found", nil)
	}
	if err != nil {
		return model.AuthUser{}, err
	}
	return user.ToAuthUser(), nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID uint, req model.UpdateProfileRequest) (model.AuthUser, error) {
	fields := map[string]any{}

	if req.Email != nil {
		email, err := NormalizeEmail(*req.Email)
		if err != nil {
			return model.AuthUser{}, err
		}
		owner, err := s.users.FindByEmail(ctx, email)
		switch {
		case err == nil && owner.ID != userID:
			return model.AuthUser{}, apierror.Conflict("email already exists", "email")
		case err != nil && !errors.Is(err, model.ErrUserNotFound):
			return model.AuthUser{}, err
		}
		fields["email"] = email
	}
	if req.FirstName != nil {
		fields["first_name"] = util.CleanText(*req.FirstName, util.MaxNameLength)
	}
	if req.LastName != nil {
		fields["last_name"] = util.CleanText(*req.LastName, util.MaxNameLength)
	}
	if req.Phone != nil {
		fields["phone"] = util.CleanText(*req.Phone, util.MaxPhoneLength)
	}

	if err := s.users.UpdateProfile(ctx, userID, fields); err != nil {
		switch {
		case errors.Is(err, model.ErrUserNotFound):
			return model.AuthUser{}, apierror.NotFound("User not found", nil)
		case errors.Is(err, model.ErrUserAlreadyExists):
			return model.AuthUser{}, apierror.Conflict("email already exists", "email")
		}
		return model.AuthUser{}, err
	}

	return s.Profile(ctx, userID)
}

// ChangePassword verifies the current password, stores the new one and signs
// the user out everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint, currentPassword string, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return apierror.BadRequest("currentPassword and newPassword are required", nil)
	}
	if err := ValidatePassword(newPassword, "newPassword"); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return apierror.NotFound("User not found", nil)
	}
	if err != nil {
		return err
	}

	if !s.ComparePassword(currentPassword, user.PasswordHash) {
		return apierror.Unauthorized("Current password is incorrect")
	}

	hash, err := s.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}

	return s.DeleteAllUserTokens(ctx, userID)
}

func (s *AuthService) ListUsers(ctx context.Context) ([]model.AuthUser, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.AuthUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.ToAuthUser())
	}
	return out, nil
}

func (s *AuthService) GetUser(ctx context.Context, userID uint) (model.AuthUser, error) {
	return s.Profile(ctx, userID)
}

// SetUserRoles replaces the relational role set and keeps the legacy column
// pointing at the highest-ranked role.
func (s *AuthService) SetUserRoles(ctx context.Context, userID uint, names []string) (model.AuthUser, error) {
	normalized := NormalizeRoles(names)
	if len(normalized) == 0 {
		return model.AuthUser{}, apierror.BadRequest("at least one role is required", "roles")
	}
	for _, name := range normalized {
		if !model.IsKnownRole(name) {
			return model.AuthUser{}, apierror.BadRequest("invalid role", name)
		}
	}

	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.AuthUser{}, apierror.NotFound("User not found", nil)
		}
		return model.AuthUser{}, err
	}

	if err := s.roles.ReplaceForUser(ctx, userID, normalized); err != nil {
		return model.AuthUser{}, err
	}
	if err := s.users.UpdateProfile(ctx, userID, map[string]any{"role": primaryRole(normalized)}); err != nil {
		return model.AuthUser{}, err
	}

	return s.Profile(ctx, userID)
}

// SetUserActive toggles the account; deactivation revokes all refresh tokens.
func (s *AuthService) SetUserActive(ctx context.Context, userID uint, active bool) (model.AuthUser, error) {
	if err := s.users.SetActive(ctx, userID, active); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.AuthUser{}, apierror.NotFound("User not found", nil)
		}
		return model.AuthUser{}, err
	}

	if !active {
		if err := s.DeleteAllUserTokens(ctx, userID); err != nil {
			return model.AuthUser{}, err
		}
	}

	return s.Profile(ctx, userID)
}

func (s *AuthService) DeleteUser(ctx context.Context, userID uint, actorID uint) error {
	if userID == actorID {
		return apierror.New("BAD_REQUEST", "cannot delete your own account", nil, http.StatusBadRequest)
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return apierror.NotFound("User not found", nil)
		}
		return err
	}
	return nil
}

func (s *AuthService) ListRoles(ctx context.Context) ([]string, error) {
	roles, err := s.roles.List(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return names, nil
}

func (s *AuthService) issueTokenPair(ctx context.Context, user model.User) (model.TokenPair, error) {
	accessToken, err := s.GenerateAccessToken(ctx, user)
	if err != nil {
		return model.TokenPair{}, err
	}

	refreshToken, err := s.GenerateRefreshToken()
	if err != nil {
		return model.TokenPair{}, err
	}

	if _, err := s.SaveRefreshToken(ctx, user.ID, refreshToken); err != nil {
		return model.TokenPair{}, err
	}

	return model.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *AuthService) lookupRoles(ctx context.Context, userID uint) RoleLookup {
	names, err := s.roles.NamesForUser(ctx, userID)
	if err != nil {
		return RoleLookup{Names: []string{}, Err: err}
	}
	return RoleLookup{Names: names}
}

// NormalizeRoles upper-cases, trims and de-duplicates role names.
func NormalizeRoles(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		n := strings.ToUpper(strings.TrimSpace(name))
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func primaryRole(names []string) string {
	for _, candidate := range model.DefaultRoles {
		for _, name := range names {
			if name == candidate {
				return candidate
			}
		}
	}
	return model.RoleClient
}
