package handler

import (
	"log/slog"
	"net/http"

	"autoshop-api/internal/middleware"
	"autoshop-api/internal/model"
	"autoshop-api/internal/service"
	"autoshop-api/pkg/apierror"
)

type AuthHandler struct {
	service *service.AuthService
	resets  *service.PasswordResetService
	audit   *service.AuditService
}

func NewAuthHandler(service *service.AuthService, resets *service.PasswordResetService, audit *service.AuditService) *AuthHandler {
	return &AuthHandler{service: service, resets: resets, audit: audit}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.service.Register(r.Context(), payload)
	actor := actorFromRequest(r)
	actor.Username = payload.Username
	actor.UserID = resp.User.ID
	h.audit.Log(r.Context(), service.AuditActionRegister, actor, auditStatus(err), errDetail(err))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.service.Login(r.Context(), payload.Username, payload.Password)
	actor := actorFromRequest(r)
	actor.Username = payload.Username
	actor.UserID = resp.User.ID
	h.audit.Log(r.Context(), service.AuditActionLogin, actor, auditStatus(err), errDetail(err))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var payload model.RefreshRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	tokens, err := h.service.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		h.audit.Log(r.Context(), service.AuditActionRefresh, actorFromRequest(r), model.AuditStatusFailure, errDetail(err))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// Logout succeeds for unknown or already revoked tokens.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var payload model.RefreshRequest
	_ = decodeJSON(r, &payload)

	if err := h.service.Logout(r.Context(), payload.RefreshToken); err != nil {
		writeError(w, err)
		return
	}

	h.audit.Log(r.Context(), service.AuditActionLogout, actorFromRequest(r), model.AuditStatusSuccess, "")
	writeJSON(w, http.StatusOK, model.MessageResponse{Message: "Logged out successfully"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("Authentication required"))
		return
	}

	err := h.service.LogoutAll(r.Context(), claims.UserID)
	h.audit.Log(r.Context(), service.AuditActionLogoutAll, actorFromRequest(r), auditStatus(err), errDetail(err))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.MessageResponse{Message: "Logged out from all devices"})
}

func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("Authentication required"))
		return
	}

	user, err := h.service.Profile(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.UserResponse{User: user})
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("Authentication required"))
		return
	}

	var payload model.UpdateProfileRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), claims.UserID, payload)
	h.audit.Log(r.Context(), service.AuditActionProfileUpdate, actorFromRequest(r), auditStatus(err), errDetail(err))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.UserResponse{Message: "Profile updated successfully", User: user})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("Authentication required"))
		return
	}

	var payload model.ChangePasswordRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	err := h.service.ChangePassword(r.Context(), claims.UserID, payload.CurrentPassword, payload.NewPassword)
	h.audit.Log(r.Context(), service.AuditActionPasswordChange, actorFromRequest(r), auditStatus(err), errDetail(err))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.MessageResponse{Message: "Password changed successfully"})
}

// ForgotPassword answers identically whether or not the email is registered.
// Internal failures are logged and still produce the generic answer.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var payload model.ForgotPasswordRequest
	_ = decodeJSON(r, &payload)

	result, err := h.resets.RequestReset(r.Context(), payload.Email)
	if err != nil {
		slog.Error("password reset request failed", "error", err)
		result = service.ResetRequest{Message: service.ResetRequestedMessage}
	}

	actor := actorFromRequest(r)
	actor.UserID = result.UserID
	h.audit.Log(r.Context(), service.AuditActionResetRequest, actor, auditStatus(err), "")

	writeJSON(w, http.StatusOK, model.ForgotPasswordResponse{Message: result.Message, ResetURL: result.ResetURL})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var payload model.ResetPasswordRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	userID, err := h.resets.ResetPassword(r.Context(), payload.Token, payload.NewPassword)
	actor := actorFromRequest(r)
	actor.UserID = userID
	h.audit.Log(r.Context(), service.AuditActionResetPassword, actor, auditStatus(err), errDetail(err))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.MessageResponse{Message: "Password has been reset successfully"})
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
