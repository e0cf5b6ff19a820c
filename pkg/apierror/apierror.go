package apierror

import "fmt"

type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}

	if e.Details != nil && e.Details != "" {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Details)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code string, message string, details any, status int) *APIError {
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: status}
}

func BadRequest(message string, details any) *APIError {
	return New("BAD_REQUEST", message, details, 400)
}

func Unauthorized(message string) *APIError {
	return New("UNAUTHORIZED", message, nil, 401)
}

func Forbidden(message string, details any) *APIError {
	return New("FORBIDDEN", message, details, 403)
}

func NotFound(message string, details any) *APIError {
	return New("NOT_FOUND", message, details, 404)
}

func Conflict(message string, details any) *APIError {
	return New("ALREADY_EXISTS", message, details, 409)
}
