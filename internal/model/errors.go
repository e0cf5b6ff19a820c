package model

import "errors"

var (
	// User related errors
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")

	// Token related errors
	ErrTokenNotFound = errors.New("token not found")

	// Role related errors
	ErrRoleNotFound = errors.New("role not found")
)
