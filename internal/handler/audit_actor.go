package handler

import (
	"net/http"

	"autoshop-api/internal/middleware"
	"autoshop-api/internal/model"
	"autoshop-api/internal/service"
)

func actorFromRequest(r *http.Request) service.AuditActor {
	actor := service.AuditActor{IP: middleware.ClientIP(r)}

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return actor
	}

	actor.UserID = claims.UserID
	actor.Username = claims.Username

	return actor
}

func auditStatus(err error) string {
	if err != nil {
		return model.AuditStatusFailure
	}
	return model.AuditStatusSuccess
}
