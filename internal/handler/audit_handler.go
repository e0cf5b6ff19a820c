package handler

import (
	"net/http"
	"strings"

	"autoshop-api/internal/model"
	"autoshop-api/internal/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	userID := parseIntOrDefault(query.Get("user_id"), 0)
	if userID < 0 {
		userID = 0
	}

	items, meta, err := h.service.Query(r.Context(), model.AuditQuery{
		Action: strings.TrimSpace(query.Get("action")),
		Status: strings.TrimSpace(query.Get("status")),
		UserID: uint(userID),
		Page:   parseIntOrDefault(query.Get("page"), 1),
		Limit:  parseIntOrDefault(query.Get("limit"), 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.AuditListResponse{Items: items, Meta: meta})
}
