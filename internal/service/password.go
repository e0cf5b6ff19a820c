package service

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"autoshop-api/pkg/apierror"
)

const (
	MinPasswordLength = 6
	// MaxPasswordLength is bcrypt's input limit, in bytes.
	MaxPasswordLength = 72
)

// ValidatePassword checks a new password's length. field names the request
// field reported in the error details.
func ValidatePassword(plain string, field string) error {
	if len(plain) < MinPasswordLength {
		return apierror.BadRequest(fmt.Sprintf("password must be at least %d characters", MinPasswordLength), field)
	}
	if len(plain) > MaxPasswordLength {
		return apierror.BadRequest(fmt.Sprintf("password must be at most %d bytes", MaxPasswordLength), field)
	}
	return nil
}

type PasswordHasher struct {
	cost int
}

func NewPasswordHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return PasswordHasher{cost: cost}
}

// Hash salts and hashes a plaintext password with bcrypt.
func (h PasswordHasher) Hash(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (h PasswordHasher) Compare(plain string, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
