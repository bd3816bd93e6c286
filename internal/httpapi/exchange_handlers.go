package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/center"
	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/obs"
)

type tokenRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

type tokenResponse struct {
	User         *center.User `json:"user"`
	TokenVersion int64        `json:"tokenVersion"`
}

// handleToken redeems a one-time authorization code for the user identity.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	project, ok := a.requireProject(w, r)
	if !ok {
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.svc.Exchange(r.Context(), project, req.Code, req.RedirectURI, clientIP(r), r.UserAgent())
	if err != nil {
		handleCenterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		User:         result.User,
		TokenVersion: result.TokenVersion,
	})
}

type verifyRequest struct {
	UserID       string `json:"userId"`
	TokenVersion int64  `json:"tokenVersion"`
}

// handleSessionVerify re-validates a client-held session against the
// current token version.
func (a *API) handleSessionVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	project, ok := a.requireProject(w, r)
	if !ok {
		return
	}
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, http.StatusBadRequest, "userId is required")
		return
	}

	valid, err := a.svc.VerifySession(r.Context(), project, req.UserID, req.TokenVersion, clientIP(r), r.UserAgent())
	if err != nil {
		handleCenterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": valid})
}

type publicLogoutRequest struct {
	UserID    string `json:"userId"`
	ProjectID string `json:"projectId,omitempty"`
}

// handlePublicLogout drops a project session. The response is identical
// whether or not anything existed, and the durable fixed-window limiter
// keeps the endpoint from being used as an oracle.
func (a *API) handlePublicLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.checkDurableLimit(w, r, "public_logout") {
		return
	}

	var req publicLogoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	projectID := req.ProjectID
	if apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader)); apiKey != "" {
		if project, err := a.svc.ProjectByAPIKey(r.Context(), apiKey); err == nil {
			projectID = project.ID
		}
	}
	if req.UserID != "" && projectID != "" {
		if err := a.svc.RemoveProjectSession(r.Context(), req.UserID, projectID); err == nil {
			a.svc.LogSuccess(r.Context(), center.ActionLogout, center.AuditContext{
				UserID: req.UserID, ProjectID: projectID,
				IP: clientIP(r), UserAgent: r.UserAgent(),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type claimRequest struct {
	Code string `json:"code"`
}

// handleClaim exchanges a one-time setup code for project credentials.
func (a *API) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.checkDurableLimit(w, r, "claim") {
		return
	}

	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.svc.ClaimSetupCode(r.Context(), req.Code, clientIP(r))
	if err != nil {
		handleCenterError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// checkDurableLimit applies the store-backed fixed-window limiter keyed by
// caller IP and endpoint. It answers 429 with Retry-After when exhausted.
func (a *API) checkDurableLimit(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	key := clientIP(r) + ":" + endpoint
	result, err := a.svc.CheckRateLimit(r.Context(), key, center.DefaultRateLimit)
	if err != nil {
		// The limiter must not turn a storage hiccup into an outage.
		obs.Emit(map[string]any{
			"level": "error", "msg": "rate limit check failed",
			"endpoint": endpoint, "error": err.Error(),
		})
		return true
	}
	if limitErr := result.Err(); limitErr != nil {
		seconds := int(result.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
		payload := map[string]any{
			"error":        limitErr.Error(),
			"retryAfterMs": result.RetryAfter.Milliseconds(),
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusTooManyRequests, payload)
		return false
	}
	return true
}
