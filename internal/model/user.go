package model

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin        = "ADMIN"
	RoleManager      = "MANAGER"
	RoleMechanic     = "MECHANIC"
	RoleReceptionist = "RECEPTIONIST"
	RoleClient       = "CLIENT"
)

// DefaultRoles is the reference set of role names that must exist at startup.
var DefaultRoles = []string{RoleAdmin, RoleManager, RoleMechanic, RoleReceptionist, RoleClient}

func IsKnownRole(name string) bool {
	for _, role := range DefaultRoles {
		if role == name {
			return true
		}
	}
	return false
}

// User is the credential record. Role is the legacy single-role column; Roles
// is the authoritative permission set.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"size:64;not null;uniqueIndex"`
	Email        string `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash string `gorm:"column:password;size:255;not null"`
	Role         string `gorm:"size:32;not null;default:CLIENT"`
	FirstName    string `gorm:"size:100"`
	LastName     string `gorm:"size:100"`
	Phone        string `gorm:"size:32"`
	IsActive     bool   `gorm:"not null"`
	LastLogin    *time.Time
	Roles        []Role `gorm:"many2many:user_roles;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Role struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:32;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"-"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	Token     string    `gorm:"size:512;not null;uniqueIndex"`
	UserID    uint      `gorm:"not null;index"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey"`
	Token     string    `gorm:"size:64;not null;uniqueIndex"`
	UserID    uint      `gorm:"not null;index"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	ExpiresAt time.Time `gorm:"not null"`
	Used      bool      `gorm:"not null;default:false"`
	CreatedAt time.Time
}

// AccessClaims is the signed payload of an access token.
type AccessClaims struct {
	UserID   uint     `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	Role     string   `json:"role,omitempty"`
	Type     string   `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims carries nothing but a nonce; consumers treat the token as opaque.
type RefreshClaims struct {
	Nonce string `json:"nonce"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// AuthClaims is the identity attached to an authenticated request.
type AuthClaims struct {
	UserID   uint
	Username string
	Email    string
	Roles    []string
	Role     string
}

// AuthUser is the API representation of a user; roles are always plain names.
type AuthUser struct {
	ID        uint       `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	Roles     []string   `json:"roles"`
	FirstName string     `json:"firstName,omitempty"`
	LastName  string     `json:"lastName,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	IsActive  bool       `json:"isActive"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RoleNames flattens the loaded role associations.
func (u User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		names = append(names, role.Name)
	}
	return names
}

func (u User) ToAuthUser() AuthUser {
	return AuthUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Roles:     u.RoleNames(),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
		IsActive:  u.IsActive,
		LastLogin: u.LastLogin,
		CreatedAt: u.CreatedAt,
	}
}
