package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"autoshop-api/internal/model"
	"autoshop-api/internal/service"
	"autoshop-api/pkg/apierror"
)

type UserHandler struct {
	service *service.AuthService
	audit   *service.AuditService
}

func NewUserHandler(service *service.AuthService, audit *service.AuditService) *UserHandler {
	return &UserHandler{service: service, audit: audit}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.UserListResponse{Users: users})
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.UserResponse{User: user})
}

func (h *UserHandler) UpdateRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.UpdateRolesRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.SetUserRoles(r.Context(), userID, payload.Roles)
	h.audit.Log(r.Context(), service.AuditActionUserRoles, actorFromRequest(r), auditStatus(err), fmt.Sprintf("user=%d roles=%v", userID, payload.Roles))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.UserResponse{Message: "Roles updated successfully", User: user})
}

func (h *UserHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.UpdateStatusRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}
	if payload.IsActive == nil {
		writeError(w, apierror.BadRequest("isActive is required", "isActive"))
		return
	}

	user, err := h.service.SetUserActive(r.Context(), userID, *payload.IsActive)
	h.audit.Log(r.Context(), service.AuditActionUserStatus, actorFromRequest(r), auditStatus(err), fmt.Sprintf("user=%d active=%t", userID, *payload.IsActive))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.UserResponse{Message: "Status updated successfully", User: user})
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	actor := actorFromRequest(r)
	err = h.service.DeleteUser(r.Context(), userID, actor.UserID)
	h.audit.Log(r.Context(), service.AuditActionUserDelete, actor, auditStatus(err), fmt.Sprintf("user=%d", userID))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.MessageResponse{Message: "User deleted successfully"})
}

func (h *UserHandler) Roles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.RoleListResponse{Roles: roles})
}
