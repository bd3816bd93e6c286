package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/center"
	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/obs"
)

// ReadyProbe — prosta kontrola gotowości (ping bazy danych).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the HTTP layer's knobs.
type Config struct {
	Version  string
	AdminKey string
	// IdPSecret authenticates the IdP fronting layer on federated callback
	// requests. Federated login is rejected while it is empty.
	IdPSecret  string
	RateBurst  int
	RatePerSec int
	// SecureCookies marks session cookies Secure; off for local development.
	SecureCookies bool
}

// API — warstwa HTTP.
type API struct {
	mux           *http.ServeMux
	svc           *center.Service
	readyProbe    ReadyProbe
	version       string
	adminKey      string
	idpSecret     string
	rateBurst     int
	ratePerSec    int
	secureCookies bool
}

func New(svc *center.Service, rp ReadyProbe, cfg Config) *API {
	a := &API{
		mux:           http.NewServeMux(),
		svc:           svc,
		readyProbe:    rp,
		version:       cfg.Version,
		adminKey:      cfg.AdminKey,
		idpSecret:     cfg.IdPSecret,
		rateBurst:     cfg.RateBurst,
		ratePerSec:    cfg.RatePerSec,
		secureCookies: cfg.SecureCookies,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 50
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 25
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/api/health", a.Health)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// hub login and the browser authorization endpoint
	a.mux.HandleFunc("/login", a.handleLogin)
	a.mux.HandleFunc("/logout", a.handleLogout)
	a.mux.HandleFunc("/logout-all", a.handleLogoutAll)
	a.mux.HandleFunc("/auth/", a.handleProviderCallback)
	a.mux.HandleFunc("/authorize", a.handleAuthorize)

	// server-to-server
	a.mux.HandleFunc("/api/v1/token", a.handleToken)
	a.mux.HandleFunc("/api/v1/session/verify", a.handleSessionVerify)
	a.mux.HandleFunc("/api/v1/public/logout", a.handlePublicLogout)
	a.mux.HandleFunc("/api/v1/projects/claim", a.handleClaim)

	// project management (hub session)
	a.mux.HandleFunc("/api/v1/projects", a.handleProjectsCollection)
	a.mux.HandleFunc("/api/v1/project/", a.handleProjectResource)

	// audit trail
	a.mux.HandleFunc("/api/v1/audit-logs", a.handleAuditLogs)
	a.mux.HandleFunc("/api/v1/audit-logs/", a.handleAuditLogResource)

	// operational endpoints
	a.mux.HandleFunc("/api/v1/admin/retention", a.handleRetention)
	a.mux.HandleFunc("/api/v1/admin/security", a.handleSecurity)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler składa cały łańcuch middleware wokół muxa.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Health handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "center",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Health reports the external monitoring contract: operational when the
// store and session config are both healthy, degraded when the session
// secret is missing, outage when the store is unreachable.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	status := "operational"
	code := http.StatusOK
	checks := map[string]string{"database": "ok", "auth_config": "ok"}

	if err := a.readyProbe.Check(r.Context()); err != nil {
		status = "outage"
		code = http.StatusServiceUnavailable
		checks["database"] = err.Error()
	}
	if os.Getenv("CENTER_SESSION_SECRET") == "" {
		if status == "operational" {
			status = "degraded"
		}
		checks["auth_config"] = "session secret not configured"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"checks":  checks,
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
