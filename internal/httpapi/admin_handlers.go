package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/center"
)

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	user, ok := a.requireHubUser(w, r)
	if !ok {
		return
	}
	f := center.AuditFilter{UserID: user.ID}
	if projectID := r.URL.Query().Get("project_id"); projectID != "" {
		// Owned-project trails include entries from other users; gated on
		// ownership of the project itself.
		project, err := a.svc.Project(r.Context(), projectID)
		if err != nil {
			handleCenterError(w, r, err)
			return
		}
		if project.OwnerID != user.ID {
			writeError(w, r, http.StatusForbidden, "not the project owner")
			return
		}
		f = center.AuditFilter{ProjectID: projectID}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = limit
	}
	entries, err := a.svc.AuditLogs(r.Context(), f)
	if err != nil {
		handleCenterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (a *API) handleAuditLogResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	user, ok := a.requireHubUser(w, r)
	if !ok {
		return
	}
	entryID := strings.TrimPrefix(r.URL.Path, "/api/v1/audit-logs/")
	if entryID == "" || strings.Contains(entryID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err := a.svc.DeleteAuditLog(r.Context(), entryID, user.ID); err != nil {
		handleCenterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type retentionRequest struct {
	RetentionDays int `json:"retentionDays,omitempty"`
}

func (a *API) handleRetention(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		stats, err := a.svc.GetAuditLogsStats(r.Context())
		if err != nil {
			handleCenterError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case http.MethodPost:
		cfg := center.DefaultRetention
		if r.ContentLength != 0 {
			var req retentionRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, http.StatusBadRequest, err.Error())
				return
			}
			if req.RetentionDays > 0 {
				cfg.RetentionDays = req.RetentionDays
			}
		}
		result, err := a.svc.PerformRetentionCleanup(r.Context(), cfg)
		if err != nil {
			handleCenterError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleSecurity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	report, err := a.svc.GenerateSecurityReport(r.Context())
	if err != nil {
		handleCenterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
