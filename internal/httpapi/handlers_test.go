package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/center"
	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/session"
)

const testRedirect = "https://app.example.com/callback"

func newTestAPI(t *testing.T, opts ...center.ServiceOption) (*API, *center.Service) {
	t.Helper()
	t.Setenv("CENTER_SESSION_SECRET", "handler-test-secret-0123456789abcdef")
	session.ResetSecretForTests()
	t.Cleanup(session.ResetSecretForTests)

	svc, err := center.NewService(center.NewMemoryStore(), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(svc, ReadyProbe{}, Config{
		Version:   "test",
		AdminKey:  "admin-test-key",
		IdPSecret: "idp-test-secret",
	})
	return api, svc
}

func seedHubUser(t *testing.T, svc *center.Service, email string) *center.User {
	t.Helper()
	user, err := svc.EnsureUser(context.Background(), "password", email, "Test User")
	if err != nil {
		t.Fatalf("EnsureUser(%s): %v", email, err)
	}
	return user
}

func seedHubProject(t *testing.T, svc *center.Service, owner *center.User, slug string, v center.Visibility) *center.Project {
	t.Helper()
	project, err := svc.CreateProject(context.Background(), owner.ID, slug, "Test App", "app.example.com", v)
	if err != nil {
		t.Fatalf("CreateProject(%s): %v", slug, err)
	}
	return project
}

func sessionCookie(t *testing.T, user *center.User) *http.Cookie {
	t.Helper()
	token, err := session.GenerateToken(user.ID, user.TokenVersion, session.ProviderPassword, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return &http.Cookie{Name: session.CookieName, Value: token}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, fn := range mutate {
		fn(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

var hexCode = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestAuthorizeThenExchange(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	owner := seedHubUser(t, svc, "owner@example.com")
	project := seedHubProject(t, svc, owner, "crm-app", center.VisibilityPublic)

	authURL := "/authorize?client_id=crm-app&redirect_uri=" + url.QueryEscape(testRedirect)
	rec := doJSON(t, h, http.MethodGet, authURL, "", func(r *http.Request) {
		r.AddCookie(sessionCookie(t, owner))
	})
	if rec.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want 302; body %s", rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse Location: %v", err)
	}
	if got := loc.Scheme + "://" + loc.Host + loc.Path; got != testRedirect {
		t.Fatalf("redirect target = %s, want %s", got, testRedirect)
	}
	code := loc.Query().Get("code")
	if !hexCode.MatchString(code) {
		t.Fatalf("code %q is not 64 lowercase hex chars", code)
	}

	body := fmt.Sprintf(`{"code":%q,"redirect_uri":%q}`, code, testRedirect)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/token", body, func(r *http.Request) {
		r.Header.Set(apiKeyHeader, project.APIKey)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d, body %s", rec.Code, rec.Body.String())
	}
	var tok struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		TokenVersion int64 `json:"tokenVersion"`
	}
	decodeBody(t, rec, &tok)
	if tok.User.ID != owner.ID || tok.User.Email != owner.Email {
		t.Fatalf("exchanged identity = %+v, want %s", tok.User, owner.ID)
	}
	if tok.TokenVersion != owner.TokenVersion {
		t.Fatalf("tokenVersion = %d, want %d", tok.TokenVersion, owner.TokenVersion)
	}

	// A second redemption of the same code is gone for good.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/token", body, func(r *http.Request) {
		r.Header.Set(apiKeyHeader, project.APIKey)
	})
	if rec.Code != http.StatusGone {
		t.Fatalf("replayed exchange status = %d, want 410; body %s", rec.Code, rec.Body.String())
	}
}

func TestAuthorizeWithoutSessionRedirectsToLogin(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/authorize?client_id=x&redirect_uri=https%3A%2F%2Fx", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "/login?next=") {
		t.Fatalf("Location = %s, want /login?next=...", loc)
	}
	if !strings.Contains(loc, url.QueryEscape("/authorize")) {
		t.Fatalf("Location %s does not round-trip the original request", loc)
	}
}

func TestAuthorizeRestrictedProjectDenied(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	owner := seedHubUser(t, svc, "owner@example.com")
	outsider := seedHubUser(t, svc, "outsider@example.com")
	seedHubProject(t, svc, owner, "internal-tool", center.VisibilityRestricted)

	authURL := "/authorize?client_id=internal-tool&redirect_uri=" + url.QueryEscape(testRedirect)
	rec := doJSON(t, h, http.MethodGet, authURL, "", func(r *http.Request) {
		r.AddCookie(sessionCookie(t, outsider))
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %s, want an html page", ct)
	}
	if !strings.Contains(rec.Body.String(), "Access denied") {
		t.Fatalf("error page does not explain the denial: %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "code=") {
		t.Fatal("denial page must not leak a code")
	}
}

func TestTokenAuthentication(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/token", `{"code":"x"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key status = %d, want 401", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/token", `{"code":"x"}`, func(r *http.Request) {
		r.Header.Set(apiKeyHeader, "key_nope")
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unknown key status = %d, want 403", rec.Code)
	}
}

func TestSessionVerifyAndKillSwitch(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	owner := seedHubUser(t, svc, "owner@example.com")
	project := seedHubProject(t, svc, owner, "crm-app", center.VisibilityPublic)

	verifyBody := fmt.Sprintf(`{"userId":%q,"tokenVersion":%d}`, owner.ID, owner.TokenVersion)
	withKey := func(r *http.Request) { r.Header.Set(apiKeyHeader, project.APIKey) }

	rec := doJSON(t, h, http.MethodPost, "/api/v1/session/verify", verifyBody, withKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Valid bool `json:"valid"`
	}
	decodeBody(t, rec, &out)
	if !out.Valid {
		t.Fatal("fresh session should verify")
	}

	// Kill switch from the browser invalidates the held version everywhere.
	rec = doJSON(t, h, http.MethodPost, "/logout-all", "", func(r *http.Request) {
		r.AddCookie(sessionCookie(t, owner))
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("logout-all status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/session/verify", verifyBody, withKey)
	decodeBody(t, rec, &out)
	if out.Valid {
		t.Fatal("stale token version should not verify after the kill switch")
	}

	// The old browser cookie is equally dead.
	rec = doJSON(t, h, http.MethodPost, "/logout-all", "", func(r *http.Request) {
		r.AddCookie(sessionCookie(t, owner))
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("stale cookie status = %d, want 401", rec.Code)
	}
}

func TestPublicLogoutRateLimit(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	owner := seedHubUser(t, svc, "owner@example.com")
	project := seedHubProject(t, svc, owner, "crm-app", center.VisibilityPublic)

	body := fmt.Sprintf(`{"userId":%q,"projectId":%q}`, owner.ID, project.ID)
	for i := int64(0); i < center.DefaultRateLimit.MaxRequests; i++ {
		rec := doJSON(t, h, http.MethodPost, "/api/v1/public/logout", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, body %s", i+1, rec.Code, rec.Body.String())
		}
		var out struct {
			Success bool `json:"success"`
		}
		decodeBody(t, rec, &out)
		if !out.Success {
			t.Fatalf("request %d: success = false", i+1)
		}
	}

	rec := doJSON(t, h, http.MethodPost, "/api/v1/public/logout", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit status = %d, want 429; body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}

	// A different caller address is unaffected.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/public/logout", body, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "198.51.100.7")
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("other ip status = %d, want 200", rec.Code)
	}
}

func TestPublicLogoutNeverLeaksExistence(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/public/logout",
		`{"userId":"no-such-user","projectId":"no-such-project"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out struct {
		Success bool `json:"success"`
	}
	decodeBody(t, rec, &out)
	if !out.Success {
		t.Fatal("public logout must report success regardless of the target")
	}
}

func TestClaimSetupCode(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	owner := seedHubUser(t, svc, "owner@example.com")
	project := seedHubProject(t, svc, owner, "crm-app", center.VisibilityPublic)
	setup, err := svc.CreateSetupCode(context.Background(), project.ID, owner.ID, "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("CreateSetupCode: %v", err)
	}

	body := fmt.Sprintf(`{"code":%q}`, setup.Code)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/projects/claim", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim status = %d, body %s", rec.Code, rec.Body.String())
	}
	var claim struct {
		APIKey    string `json:"apiKey"`
		Slug      string `json:"slug"`
		ProjectID string `json:"projectId"`
	}
	decodeBody(t, rec, &claim)
	if claim.APIKey != project.APIKey || claim.Slug != project.Slug || claim.ProjectID != project.ID {
		t.Fatalf("claim payload = %+v, want project %s credentials", claim, project.ID)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/projects/claim", body)
	if rec.Code != http.StatusGone {
		t.Fatalf("replayed claim status = %d, want 410", rec.Code)
	}
}

func TestProjectManagementOverHTTP(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	owner := seedHubUser(t, svc, "owner@example.com")
	cookie := sessionCookie(t, owner)
	asOwner := func(r *http.Request) { r.AddCookie(cookie) }

	rec := doJSON(t, h, http.MethodPost, "/api/v1/projects",
		`{"slug":"billing","name":"Billing","domain":"billing.example.com","visibility":"restricted"}`, asOwner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Project struct {
			ID string `json:"id"`
		} `json:"project"`
		APIKey string `json:"apiKey"`
	}
	decodeBody(t, rec, &created)
	if created.Project.ID == "" || !strings.HasPrefix(created.APIKey, "key_") {
		t.Fatalf("create payload missing credentials: %s", rec.Body.String())
	}
	projectID := created.Project.ID

	// The listing never repeats the secret.
	rec = doJSON(t, h, http.MethodGet, "/api/v1/projects", "", asOwner)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), created.APIKey) {
		t.Fatal("project listing leaks the api key")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/project/"+projectID+"/rotate-api-key", "", asOwner)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate status = %d, body %s", rec.Code, rec.Body.String())
	}
	var rotated struct {
		NewAPIKey string `json:"newApiKey"`
	}
	decodeBody(t, rec, &rotated)
	if rotated.NewAPIKey == "" || rotated.NewAPIKey == created.APIKey {
		t.Fatalf("rotation returned %q, want a fresh key", rotated.NewAPIKey)
	}

	rec = doJSON(t, h, http.MethodPatch, "/api/v1/project/"+projectID+"/visibility",
		`{"visibility":"public"}`, asOwner)
	if rec.Code != http.StatusOK {
		t.Fatalf("visibility status = %d, body %s", rec.Code, rec.Body.String())
	}

	member := seedHubUser(t, svc, "member@example.com")
	rec = doJSON(t, h, http.MethodPost, "/api/v1/project/"+projectID+"/members",
		`{"email":"member@example.com","role":"member"}`, asOwner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add member status = %d, body %s", rec.Code, rec.Body.String())
	}
	var added struct {
		Member struct {
			ID     string `json:"id"`
			UserID string `json:"user_id"`
		} `json:"member"`
	}
	decodeBody(t, rec, &added)
	if added.Member.UserID != member.ID {
		t.Fatalf("member user = %s, want %s", added.Member.UserID, member.ID)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/project/"+projectID+"/members", "", asOwner)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), member.ID) {
		t.Fatalf("members listing = %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/project/"+projectID+"/members/"+added.Member.ID, "", asOwner)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove member status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Member management stays owner-only.
	intruder := seedHubUser(t, svc, "intruder@example.com")
	rec = doJSON(t, h, http.MethodGet, "/api/v1/project/"+projectID+"/members", "", func(r *http.Request) {
		r.AddCookie(sessionCookie(t, intruder))
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("intruder listing status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/project/"+projectID, "", asOwner)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/project/"+projectID, "", asOwner)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted project status = %d, want 404", rec.Code)
	}
}

func TestSetupCodeManagementOverHTTP(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	owner := seedHubUser(t, svc, "owner@example.com")
	project := seedHubProject(t, svc, owner, "crm-app", center.VisibilityPublic)
	cookie := sessionCookie(t, owner)
	asOwner := func(r *http.Request) { r.AddCookie(cookie) }

	rec := doJSON(t, h, http.MethodPost, "/api/v1/project/"+project.ID+"/setup-codes", "", asOwner)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create setup code status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created struct {
		SetupCode struct {
			ID string `json:"id"`
		} `json:"setupCode"`
		Code string `json:"code"`
	}
	decodeBody(t, rec, &created)
	if !strings.HasPrefix(created.Code, "setup_") {
		t.Fatalf("raw setup code = %q, want setup_ prefix", created.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/project/"+project.ID+"/setup-codes", "", asOwner)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), created.SetupCode.ID) {
		t.Fatalf("setup codes listing = %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), created.Code) {
		t.Fatal("listing leaks the raw setup code")
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/project/"+project.ID+"/setup-code/"+created.SetupCode.ID, "", asOwner)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete setup code status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestAuditLogEndpoints(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	owner := seedHubUser(t, svc, "owner@example.com")
	seedHubProject(t, svc, owner, "crm-app", center.VisibilityPublic)
	cookie := sessionCookie(t, owner)
	asOwner := func(r *http.Request) { r.AddCookie(cookie) }

	rec := doJSON(t, h, http.MethodGet, "/api/v1/audit-logs", "", asOwner)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit logs status = %d, body %s", rec.Code, rec.Body.String())
	}
	var logs struct {
		Logs []struct {
			ID     string `json:"id"`
			Action string `json:"action"`
		} `json:"logs"`
	}
	decodeBody(t, rec, &logs)
	if len(logs.Logs) == 0 {
		t.Fatal("project creation should leave an audit trail")
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/audit-logs/"+logs.Logs[0].ID, "", asOwner)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete own entry status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Someone else's entries are invisible to the requester.
	other := seedHubUser(t, svc, "other@example.com")
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/audit-logs/"+logs.Logs[0].ID, "", func(r *http.Request) {
		r.AddCookie(sessionCookie(t, other))
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-user delete status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/audit-logs?limit=0", "", asOwner)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d, want 400", rec.Code)
	}
}

func TestAdminEndpoints(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	owner := seedHubUser(t, svc, "owner@example.com")
	seedHubProject(t, svc, owner, "crm-app", center.VisibilityPublic)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/admin/retention", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no admin key status = %d, want 401", rec.Code)
	}

	asAdmin := func(r *http.Request) { r.Header.Set(adminKeyHeader, "admin-test-key") }

	rec = doJSON(t, h, http.MethodGet, "/api/v1/admin/retention", "", asAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d, body %s", rec.Code, rec.Body.String())
	}
	var stats struct {
		TotalEntries int64 `json:"total_entries"`
	}
	decodeBody(t, rec, &stats)
	if stats.TotalEntries == 0 {
		t.Fatal("stats should count the seeded audit entries")
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/admin/retention", `{"retentionDays":30}`, asAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result struct {
		RetentionDays int `json:"retentionDays"`
	}
	decodeBody(t, rec, &result)
	if result.RetentionDays != 30 {
		t.Fatalf("retentionDays = %d, want 30", result.RetentionDays)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/admin/security", "", asAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("security report status = %d, body %s", rec.Code, rec.Body.String())
	}
	var report struct {
		GeneratedAt time.Time `json:"generated_at"`
		Threats     []any     `json:"threats"`
	}
	decodeBody(t, rec, &report)
	if report.GeneratedAt.IsZero() {
		t.Fatal("report missing generated_at")
	}
}

func TestLoginPasswordProvider(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	// First login registers.
	rec := doJSON(t, h, http.MethodPost, "/login",
		`{"provider":"password","email":"new@example.com","password":"s3cret-pass","name":"Nowy"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("first login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var hasSession bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName && c.Value != "" {
			hasSession = true
		}
	}
	if !hasSession {
		t.Fatal("login did not set the session cookie")
	}

	// Wrong password afterwards is rejected.
	rec = doJSON(t, h, http.MethodPost, "/login",
		`{"provider":"password","email":"new@example.com","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", rec.Code)
	}

	// Correct password again succeeds.
	rec = doJSON(t, h, http.MethodPost, "/login",
		`{"provider":"password","email":"new@example.com","password":"s3cret-pass"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat login status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestProviderCallback(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	withSecret := func(req *http.Request) { req.Header.Set(idpSecretHeader, "idp-test-secret") }

	rec := doJSON(t, h, http.MethodGet, "/auth/google/callback?email=g@example.com&name=G&next=/dashboard", "", withSecret)
	if rec.Code != http.StatusFound {
		t.Fatalf("callback status = %d, body %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/dashboard" {
		t.Fatalf("Location = %s, want /dashboard", loc)
	}

	rec = doJSON(t, h, http.MethodGet, "/auth/unknown/callback?email=x@example.com", "", withSecret)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown provider status = %d, want 404", rec.Code)
	}
}

func TestProviderCallbackRequiresSecret(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	victim := seedHubUser(t, svc, "victim@example.com")

	for _, tc := range []struct {
		name   string
		mutate []func(*http.Request)
	}{
		{name: "no header"},
		{name: "wrong header", mutate: []func(*http.Request){func(req *http.Request) {
			req.Header.Set(idpSecretHeader, "guessed-secret")
		}}},
	} {
		rec := doJSON(t, h, http.MethodGet, "/auth/google/callback?email=victim@example.com", "", tc.mutate...)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", tc.name, rec.Code)
		}
		for _, c := range rec.Result().Cookies() {
			if c.Name == session.CookieName && c.Value != "" {
				t.Fatalf("%s: session cookie issued for %s without IdP secret", tc.name, victim.Email)
			}
		}
	}
}

func TestProviderCallbackUnconfigured(t *testing.T) {
	t.Setenv("CENTER_SESSION_SECRET", "handler-test-secret-0123456789abcdef")
	session.ResetSecretForTests()
	t.Cleanup(session.ResetSecretForTests)

	svc, err := center.NewService(center.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(svc, ReadyProbe{}, Config{Version: "test"})
	h := api.Handler()

	rec := doJSON(t, h, http.MethodGet, "/auth/google/callback?email=someone@example.com", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 when no IdP secret is configured", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName && c.Value != "" {
			t.Fatal("session cookie issued while federated login is unconfigured")
		}
	}
}

func TestHealthContract(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeBody(t, rec, &out)
	if out.Status != "operational" {
		t.Fatalf("status = %s, want operational", out.Status)
	}

	t.Setenv("CENTER_SESSION_SECRET", "")
	rec = doJSON(t, h, http.MethodGet, "/api/health", "")
	decodeBody(t, rec, &out)
	if out.Status != "degraded" {
		t.Fatalf("status without secret = %s, want degraded", out.Status)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
