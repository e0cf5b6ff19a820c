package service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"autoshop-api/internal/model"
	"autoshop-api/pkg/apierror"
)

const (
	AuditActionRegister       = "auth.register"
	AuditActionLogin          = "auth.login"
	AuditActionRefresh        = "auth.refresh"
	AuditActionLogout         = "auth.logout"
	AuditActionLogoutAll      = "auth.logout_all"
	AuditActionProfileUpdate  = "auth.profile_update"
	AuditActionPasswordChange = "auth.password_change"
	AuditActionResetRequest   = "auth.reset_request"
	AuditActionResetPassword  = "auth.reset_password"
	AuditActionUserRoles      = "user.roles"
	AuditActionUserStatus     = "user.status"
	AuditActionUserDelete     = "user.delete"
)

type auditStore interface {
	Log(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)
}

// AuditActor identifies who triggered an audited action.
type AuditActor struct {
	UserID   uint
	Username string
	IP       string
}

type AuditService struct {
	store auditStore
}

func NewAuditService(store auditStore) *AuditService {
	return &AuditService{store: store}
}

// Log records an entry. Write failures are logged and never reach the caller.
func (s *AuditService) Log(ctx context.Context, action string, actor AuditActor, status string, detail string) {
	if s == nil {
		return
	}

	entry := model.AuditEntry{
		Action:   action,
		Status:   status,
		Username: actor.Username,
		IP:       actor.IP,
		Detail:   truncate(detail, 512),
	}
	if actor.UserID != 0 {
		id := actor.UserID
		entry.UserID = &id
	}

	if err := s.store.Log(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("audit write failed", "action", action, "error", err)
	}
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	status := strings.ToLower(strings.TrimSpace(query.Status))
	if status != "" && status != model.AuditStatusSuccess && status != model.AuditStatusFailure {
		return nil, model.Meta{}, apierror.New("BAD_REQUEST", "invalid status filter", query.Status, http.StatusBadRequest)
	}
	query.Status = status

	return s.store.Query(ctx, query)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
