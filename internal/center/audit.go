package center

import (
	"context"
	"time"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/audit"
	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/ids"
	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/obs"
)

// AuditContext carries the optional attribution fields of a security event.
type AuditContext struct {
	UserID    string
	ProjectID string
	IP        string
	UserAgent string
	Metadata  map[string]any
}

// LogSuccess appends a success entry to the audit trail.
func (s *Service) LogSuccess(ctx context.Context, action Action, ac AuditContext) {
	s.logEvent(ctx, action, StatusSuccess, ac)
}

// LogFailure appends a failure entry to the audit trail.
func (s *Service) LogFailure(ctx context.Context, action Action, ac AuditContext) {
	s.logEvent(ctx, action, StatusFailure, ac)
}

// logEvent is best-effort: a failing audit write must never abort the
// caller's primary operation, but it is surfaced to the ops log so a broken
// trail does not go unnoticed.
func (s *Service) logEvent(ctx context.Context, action Action, status Status, ac AuditContext) {
	now := s.now().UTC()
	meta := ac.Metadata
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["request_id"] = rid
	}
	entry := &AuditLogEntry{
		ID:        ids.New(),
		UserID:    ac.UserID,
		ProjectID: ac.ProjectID,
		Action:    action,
		Status:    status,
		IP:        ac.IP,
		UserAgent: ac.UserAgent,
		Metadata:  meta,
		CreatedAt: now,
	}
	_ = audit.LogEvent(ctx, string(action), map[string]any{
		"status":     string(status),
		"project_id": ac.ProjectID,
		"ip":         ac.IP,
	})
	if err := s.store.Audit().Append(ctx, entry); err != nil {
		obs.Emit(map[string]any{
			"ts":     now.Format(time.RFC3339Nano),
			"level":  "error",
			"msg":    "audit append failed",
			"action": string(action),
			"status": string(status),
			"error":  err.Error(),
		})
	}
}

// AuditLogs lists entries visible to the given filter.
func (s *Service) AuditLogs(ctx context.Context, f AuditFilter) ([]*AuditLogEntry, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.store.Audit().List(ctx, f)
}

// DeleteAuditLog removes a single entry. Only the user the entry belongs to
// may delete it; the trail is otherwise immutable.
func (s *Service) DeleteAuditLog(ctx context.Context, entryID, requesterID string) error {
	entry, err := s.store.Audit().Get(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.UserID == "" || entry.UserID != requesterID {
		return ErrAccessDenied
	}
	return s.store.Audit().Delete(ctx, entryID)
}
