package httpapi

import (
	"net/http"
	"strings"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/center"
)

type createProjectRequest struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	Domain     string `json:"domain,omitempty"`
	Visibility string `json:"visibility,omitempty"`
}

func (a *API) handleProjectsCollection(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireHubUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		projects, err := a.svc.ProjectsByOwner(r.Context(), user.ID)
		if err != nil {
			handleCenterError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
	case http.MethodPost:
		var req createProjectRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		project, err := a.svc.CreateProject(r.Context(), user.ID, req.Slug, req.Name, req.Domain, center.Visibility(req.Visibility))
		if err != nil {
			handleCenterError(w, r, err)
			return
		}
		// The API key appears in this one response only.
		writeJSON(w, http.StatusCreated, map[string]any{
			"project": project,
			"apiKey":  project.APIKey,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleProjectResource(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireHubUser(w, r)
	if !ok {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/project/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	projectID, sub, _ := strings.Cut(path, "/")
	if projectID == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch {
	case sub == "":
		a.projectDetail(w, r, user, projectID)
	case sub == "rotate-api-key":
		a.rotateAPIKey(w, r, user, projectID)
	case sub == "visibility":
		a.setVisibility(w, r, user, projectID)
	case sub == "members":
		a.projectMembers(w, r, user, projectID)
	case strings.HasPrefix(sub, "members/"):
		a.removeMember(w, r, user, projectID, strings.TrimPrefix(sub, "members/"))
	case sub == "sessions":
		a.projectSessions(w, r, user, projectID)
	case sub == "setup-codes":
		a.setupCodes(w, r, user, projectID)
	case strings.HasPrefix(sub, "setup-code/"):
		a.deleteSetupCode(w, r, user, projectID, strings.TrimPrefix(sub, "setup-code/"))
	case sub == "test":
		a.testIntegration(w, r, user, projectID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) projectDetail(w http.ResponseWriter, r *http.Request, user *center.User, projectID string) {
	switch r.Method {
	case http.MethodGet:
		project, err := a.svc.Project(r.Context(), projectID)
		if err != nil {
			handleCenterError(w, r, err)
			return
		}
		if project.OwnerID != user.ID {
			writeError(w, r, http.StatusForbidden, "not the project owner")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"project": project})
	case http.MethodDelete:
		if err := a.svc.DeleteProject(r.Context(), projectID, user.ID); err != nil {
			handleCenterError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) rotateAPIKey(w http.ResponseWriter, r *http.Request, user *center.User, projectID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	newKey, err := a.svc.RotateAPIKey(r.Context(), projectID, user.ID, clientIP(r), r.UserAgent())
	if err != nil {
		handleCenterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"newApiKey": newKey})
}

type visibilityRequest struct {
	Visibility string `json:"visibility"`
}

func (a *API) setVisibility(w http.ResponseWriter, r *http.Request, user *center.User, projectID string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	var req visibilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.SetVisibility(r.Context(), projectID, user.ID, center.Visibility(req.Visibility), clientIP(r), r.UserAgent()); err != nil {
		handleCenterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type addMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

func (a *API) projectMembers(w http.ResponseWriter, r *http.Request, user *center.User, projectID string) {
	switch r.Method {
	case http.MethodGet:
		members, err := a.svc.ListMembers(r.Context(), projectID, user.ID)
		if err != nil {
			handleCenterError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": members})
	case http.MethodPost:
		var req addMemberRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		member, err := a.svc.AddMember(r.Context(), projectID, user.ID, req.Email, center.MemberRole(req.Role), clientIP(r), r.UserAgent())
		if err != nil {
			handleCenterError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"member": member})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) removeMember(w http.ResponseWriter, r *http.Request, user *center.User, projectID, memberID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if memberID == "" || strings.Contains(memberID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err := a.svc.RemoveMember(r.Context(), projectID, user.ID, memberID, clientIP(r), r.UserAgent()); err != nil {
		handleCenterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) projectSessions(w http.ResponseWriter, r *http.Request, user *center.User, projectID string) {
	switch r.Method {
	case http.MethodGet:
		sessions, err := a.svc.ListProjectSessions(r.Context(), projectID, user.ID)
		if err != nil {
			handleCenterError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	case http.MethodDelete:
		sessionID := r.URL.Query().Get("session_id")
		if err := a.svc.RevokeProjectSessions(r.Context(), projectID, user.ID, sessionID); err != nil {
			handleCenterError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) setupCodes(w http.ResponseWriter, r *http.Request, user *center.User, projectID string) {
	switch r.Method {
	case http.MethodGet:
		codes, err := a.svc.ListSetupCodes(r.Context(), projectID, user.ID)
		if err != nil {
			handleCenterError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"setupCodes": codes})
	case http.MethodPost:
		code, err := a.svc.CreateSetupCode(r.Context(), projectID, user.ID, clientIP(r), r.UserAgent())
		if err != nil {
			handleCenterError(w, r, err)
			return
		}
		// Raw code is returned once, at creation.
		writeJSON(w, http.StatusCreated, map[string]any{
			"setupCode": code,
			"code":      code.Code,
		})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) deleteSetupCode(w http.ResponseWriter, r *http.Request, user *center.User, projectID, codeID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if codeID == "" || strings.Contains(codeID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err := a.svc.DeleteSetupCode(r.Context(), projectID, user.ID, codeID, clientIP(r), r.UserAgent()); err != nil {
		handleCenterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) testIntegration(w http.ResponseWriter, r *http.Request, user *center.User, projectID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	result, err := a.svc.TestIntegration(r.Context(), projectID, user.ID)
	if err != nil {
		handleCenterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
