package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"autoshop-api/internal/model"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenIssuer signs access and refresh tokens with HS256.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenIssuer(accessSecret string, refreshSecret string, accessTTL time.Duration, refreshTTL time.Duration) *TokenIssuer {
	if refreshSecret == "" {
		refreshSecret = accessSecret
	}
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (i *TokenIssuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

func (i *TokenIssuer) SignAccess(user model.User, roles []string) (string, error) {
	if roles == nil {
		roles = []string{}
	}

	now := i.now()
	claims := model.AccessClaims{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Roles:    roles,
		Role:     user.Role,
		Type:     tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (i *TokenIssuer) SignRefresh() (string, error) {
	nonce, err := RandomHex(32)
	if err != nil {
		return "", err
	}

	now := i.now()
	claims := model.RefreshClaims{
		Nonce: nonce,
		Type:  tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, nil
}

// ParseAccess reports false for any malformed, forged, expired or non-access token.
func (i *TokenIssuer) ParseAccess(tokenString string) (*model.AccessClaims, bool) {
	claims := &model.AccessClaims{}
	if !i.parse(tokenString, claims, i.accessSecret) {
		return nil, false
	}
	if claims.Type != tokenTypeAccess || claims.UserID == 0 {
		return nil, false
	}
	return claims, true
}

func (i *TokenIssuer) VerifyRefresh(tokenString string) bool {
	claims := &model.RefreshClaims{}
	if !i.parse(tokenString, claims, i.refreshSecret) {
		return false
	}
	return claims.Type == tokenTypeRefresh && claims.Nonce != ""
}

func (i *TokenIssuer) parse(tokenString string, claims jwt.Claims, secret []byte) bool {
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	return err == nil && parsed.Valid
}

// RandomHex returns n random bytes hex encoded.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
