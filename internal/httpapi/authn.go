package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/center"
	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/session"
)

const (
	apiKeyHeader    = "X-Api-Key"
	adminKeyHeader  = "X-Admin-Key"
	idpSecretHeader = "X-IdP-Secret"
)

// hubUser resolves the session cookie to a live hub identity. The embedded
// token version is checked against the stored user row so a kill switch takes
// effect on the very next request.
func (a *API) hubUser(r *http.Request) (*center.User, error) {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil {
		return nil, center.ErrUnauthenticated
	}
	claims, err := session.ParseAndValidate(cookie.Value)
	if err != nil {
		return nil, center.ErrUnauthenticated
	}
	user, err := a.svc.User(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, center.ErrNotFound) {
			return nil, center.ErrUnauthenticated
		}
		return nil, err
	}
	if user.TokenVersion != claims.TokenVersion {
		return nil, center.ErrUnauthenticated
	}
	return user, nil
}

// requireHubUser is the handler-level guard for browser endpoints.
func (a *API) requireHubUser(w http.ResponseWriter, r *http.Request) (*center.User, bool) {
	user, err := a.hubUser(r)
	if err != nil {
		handleCenterError(w, r, err)
		return nil, false
	}
	return user, true
}

// requireProject authenticates a server-to-server call by its x-api-key.
// Missing key reads as 401, an unknown key as 403.
func (a *API) requireProject(w http.ResponseWriter, r *http.Request) (*center.Project, bool) {
	apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	if apiKey == "" {
		writeError(w, r, http.StatusUnauthorized, "missing api key")
		return nil, false
	}
	project, err := a.svc.ProjectByAPIKey(r.Context(), apiKey)
	if err != nil {
		if errors.Is(err, center.ErrNotFound) {
			writeError(w, r, http.StatusForbidden, "invalid api key")
			return nil, false
		}
		handleCenterError(w, r, err)
		return nil, false
	}
	return project, true
}

// requireAdmin gates the operational endpoints behind a shared secret.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if a.adminKey == "" {
		writeError(w, r, http.StatusUnauthorized, "admin access is not configured")
		return false
	}
	presented := strings.TrimSpace(r.Header.Get(adminKeyHeader))
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.adminKey)) != 1 {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

// setSessionCookie issues the hub session cookie for the given user.
func (a *API) setSessionCookie(w http.ResponseWriter, user *center.User, provider session.Provider) error {
	token, err := session.GenerateToken(user.ID, user.TokenVersion, provider, session.DefaultTTL)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(session.DefaultTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.secureCookies,
	})
	return nil
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.secureCookies,
	})
}
