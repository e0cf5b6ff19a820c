package model

type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type AuthResponse struct {
	Message      string   `json:"message"`
	User         AuthUser `json:"user"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type UserResponse struct {
	Message string   `json:"message,omitempty"`
	User    AuthUser `json:"user"`
}

type UserListResponse struct {
	Users []AuthUser `json:"users"`
}

type RoleListResponse struct {
	Roles []string `json:"roles"`
}

type ForgotPasswordResponse struct {
	Message  string `json:"message"`
	ResetURL string `json:"resetUrl,omitempty"`
}

// RoleMismatch is the details payload of a 403 from the role gate.
type RoleMismatch struct {
	Required []string `json:"required"`
	Actual   []string `json:"actual"`
}

type AuditListResponse struct {
	Items []AuditEntry `json:"items"`
	Meta  Meta         `json:"meta"`
}

type Meta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}
