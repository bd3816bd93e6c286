package httpapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/center"
	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/session"
)

type loginRequest struct {
	Provider string `json:"provider"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	Name     string `json:"name,omitempty"`
}

// handleLogin authenticates against the password provider. Google logins
// arrive through /auth/google/callback once the upstream IdP has verified
// the email.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	provider, err := session.ParseProvider(req.Provider)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if provider != session.ProviderPassword {
		writeError(w, r, http.StatusBadRequest, "use the provider callback for federated login")
		return
	}
	if strings.TrimSpace(req.Password) == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}

	ctx := r.Context()
	ip, userAgent := clientIP(r), r.UserAgent()

	user, err := a.svc.UserByEmail(ctx, req.Email)
	switch {
	case err == nil:
		if verifyErr := session.VerifyPassword(user.PasswordHash, req.Password); verifyErr != nil {
			a.svc.LogFailure(ctx, center.ActionLogin, center.AuditContext{
				UserID: user.ID, IP: ip, UserAgent: userAgent,
				Metadata: map[string]any{"provider": string(provider)},
			})
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
	case errors.Is(err, center.ErrNotFound):
		// First password login doubles as registration when the hub allows it.
		user, err = a.svc.EnsureUser(ctx, string(provider), req.Email, req.Name)
		if err != nil {
			handleCenterError(w, r, err)
			return
		}
		hash, hashErr := session.HashPassword(req.Password)
		if hashErr != nil {
			writeError(w, r, http.StatusBadRequest, hashErr.Error())
			return
		}
		if err := a.svc.SetPassword(ctx, user.ID, hash); err != nil {
			handleCenterError(w, r, err)
			return
		}
	default:
		handleCenterError(w, r, err)
		return
	}

	if err := a.setSessionCookie(w, user, provider); err != nil {
		writeError(w, r, http.StatusInternalServerError, "session issuance failed")
		return
	}
	a.svc.LogSuccess(ctx, center.ActionLogin, center.AuditContext{
		UserID: user.ID, IP: ip, UserAgent: userAgent,
		Metadata: map[string]any{"provider": string(provider)},
	})
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// handleProviderCallback completes a federated login. The deployment fronts
// this route with the actual IdP handshake; what arrives here is the
// verified email identity, authenticated by the fronting layer's shared
// secret. Without the secret the callback would take any caller's word for
// the email, so the route refuses to issue sessions until it is configured.
func (a *API) handleProviderCallback(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/auth/")
	providerName, ok := strings.CutSuffix(rest, "/callback")
	if !ok || strings.Contains(providerName, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	provider, err := session.ParseProvider(providerName)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	if a.idpSecret == "" {
		writeError(w, r, http.StatusUnauthorized, "federated login is not configured")
		return
	}
	presented := strings.TrimSpace(r.Header.Get(idpSecretHeader))
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.idpSecret)) != 1 {
		a.svc.LogFailure(r.Context(), center.ActionLogin, center.AuditContext{
			IP: clientIP(r), UserAgent: r.UserAgent(),
			Metadata: map[string]any{"provider": string(provider), "reason": "bad_idp_secret"},
		})
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	query := r.URL.Query()
	email := query.Get("email")
	name := query.Get("name")
	ctx := r.Context()
	ip, userAgent := clientIP(r), r.UserAgent()

	user, err := a.svc.EnsureUser(ctx, string(provider), email, name)
	if err != nil {
		a.svc.LogFailure(ctx, center.ActionLogin, center.AuditContext{
			IP: ip, UserAgent: userAgent,
			Metadata: map[string]any{"provider": string(provider), "email": email},
		})
		handleCenterError(w, r, err)
		return
	}
	if err := a.setSessionCookie(w, user, provider); err != nil {
		writeError(w, r, http.StatusInternalServerError, "session issuance failed")
		return
	}
	a.svc.LogSuccess(ctx, center.ActionLogin, center.AuditContext{
		UserID: user.ID, IP: ip, UserAgent: userAgent,
		Metadata: map[string]any{"provider": string(provider)},
	})

	if next := query.Get("next"); next != "" && strings.HasPrefix(next, "/") {
		http.Redirect(w, r, next, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// handleLogout drops the hub session cookie. Token version is untouched:
// other devices stay logged in.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if user, err := a.hubUser(r); err == nil {
		a.svc.LogSuccess(r.Context(), center.ActionLogout, center.AuditContext{
			UserID: user.ID, IP: clientIP(r), UserAgent: r.UserAgent(),
		})
	}
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleLogoutAll is the kill switch: every session artifact issued before
// this call becomes invalid on its next verification.
func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, ok := a.requireHubUser(w, r)
	if !ok {
		return
	}
	if _, err := a.svc.KillSwitch(r.Context(), user.ID, clientIP(r), r.UserAgent()); err != nil {
		handleCenterError(w, r, err)
		return
	}
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAuthorize is the browser entry point of the code flow.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	user, err := a.hubUser(r)
	if err != nil {
		// Brak sesji: odeślij do logowania z powrotem tutaj.
		next := url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, "/login?next="+next, http.StatusFound)
		return
	}

	query := r.URL.Query()
	result, err := a.svc.Authorize(r.Context(), center.AuthorizeRequest{
		UserID:      user.ID,
		ClientID:    query.Get("client_id"),
		RedirectURI: query.Get("redirect_uri"),
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		renderAuthorizeError(w, err)
		return
	}
	http.Redirect(w, r, result.RedirectTo, http.StatusFound)
}

// renderAuthorizeError shows a minimal explanatory page instead of a raw
// API error; the browser user cannot act on JSON.
func renderAuthorizeError(w http.ResponseWriter, err error) {
	var title, detail string
	code := http.StatusBadRequest
	switch {
	case errors.Is(err, center.ErrUnknownClient):
		title, detail = "Unknown application", "No application is registered under this identifier."
		code = http.StatusNotFound
	case errors.Is(err, center.ErrRedirectMismatch):
		title, detail = "Redirect rejected", "The return address does not belong to this application."
	case errors.Is(err, center.ErrAccessDenied):
		title, detail = "Access denied", "Your account is not allowed to sign in to this application."
		code = http.StatusForbidden
	case errors.Is(err, center.ErrInvalidRequest):
		title, detail = "Invalid request", "The sign-in link is missing required parameters."
	default:
		title, detail = "Sign-in failed", "Something went wrong. Please try again."
		code = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprintf(w, `<!doctype html>
<html><head><title>%s</title></head>
<body style="font-family: sans-serif; max-width: 40em; margin: 4em auto">
<h1>%s</h1>
<p>%s</p>
</body></html>
`, html.EscapeString(title), html.EscapeString(title), html.EscapeString(detail))
}
