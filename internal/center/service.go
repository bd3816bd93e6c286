package center

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/ids"
	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/obs"
)

const (
	defaultCodeTTL      = 5 * time.Minute
	defaultSetupCodeTTL = 24 * time.Hour
	defaultProbeTimeout = 10 * time.Second

	codeBytes     = 32 // 256 bits, 64 hex chars on the wire
	apiKeyBytes   = 24
	setupBytes    = 20
	createRetries = 3
)

// Service implements the authorization/session protocol on top of a Store.
type Service struct {
	store Store
	now   func() time.Time

	autoRegister bool
	codeTTL      time.Duration
	setupTTL     time.Duration
	probeClient  *http.Client
	centerURL    string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAutoRegister toggles auto-registration of unknown verified emails.
// Enabled by default; when disabled, a login for an unknown email fails with
// ErrNotFound instead of creating an account.
func WithAutoRegister(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.autoRegister = enabled
		return nil
	}
}

// WithCodeTTL overrides the authorization code lifetime.
func WithCodeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.codeTTL = ttl
		}
		return nil
	}
}

// WithSetupCodeTTL overrides the setup code lifetime.
func WithSetupCodeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.setupTTL = ttl
		}
		return nil
	}
}

// WithProbeTimeout bounds the integration-test reachability probe.
func WithProbeTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d > 0 {
			s.probeClient = &http.Client{Timeout: d}
		}
		return nil
	}
}

// WithCenterURL sets the public base URL reported to claiming clients.
func WithCenterURL(u string) ServiceOption {
	return func(s *Service) error {
		s.centerURL = strings.TrimRight(strings.TrimSpace(u), "/")
		return nil
	}
}

// NewService constructs the login-center service.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("center: store is required")
	}
	svc := &Service{
		store:        store,
		now:          time.Now,
		autoRegister: true,
		codeTTL:      defaultCodeTTL,
		setupTTL:     defaultSetupCodeTTL,
		probeClient:  &http.Client{Timeout: defaultProbeTimeout},
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AuthorizeRequest carries the parameters of a browser authorization attempt.
type AuthorizeRequest struct {
	UserID      string
	ClientID    string // project slug
	RedirectURI string
	IP          string
	UserAgent   string
}

// AuthorizeResult is the successful outcome: redirect the browser to
// RedirectTo, which carries the one-time code.
type AuthorizeResult struct {
	Code       string
	Project    *Project
	RedirectTo string
}

// Authorize validates an authorization attempt and issues a one-time code.
// Validation order: parameters, client, redirect target, access control —
// the access check runs before any code is persisted.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return AuthorizeResult{}, ErrUnauthenticated
	}
	clientID := strings.TrimSpace(req.ClientID)
	redirectURI := strings.TrimSpace(req.RedirectURI)
	if clientID == "" || redirectURI == "" {
		return AuthorizeResult{}, fmt.Errorf("%w: client_id and redirect_uri are required", ErrInvalidRequest)
	}

	project, err := s.store.Projects().FindBySlug(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthorizeResult{}, ErrUnknownClient
		}
		return AuthorizeResult{}, err
	}

	if !redirectAllowed(redirectURI, project.Domain) {
		return AuthorizeResult{}, ErrRedirectMismatch
	}

	decision, err := s.CheckAccess(ctx, req.UserID, project.ID)
	if err != nil {
		return AuthorizeResult{}, err
	}
	if !decision.Allowed {
		obs.AccessDenied()
		s.LogFailure(ctx, ActionAccessDenied, AuditContext{
			UserID:    req.UserID,
			ProjectID: project.ID,
			IP:        req.IP,
			UserAgent: req.UserAgent,
			Metadata:  map[string]any{"reason": decision.Reason, "redirect_uri": redirectURI},
		})
		return AuthorizeResult{}, fmt.Errorf("%w: %s", ErrAccessDenied, decision.Reason)
	}

	user, err := s.store.Users().Find(ctx, req.UserID)
	if err != nil {
		return AuthorizeResult{}, err
	}

	now := s.now().UTC()
	code := &AuthorizationCode{
		UserID:      user.ID,
		ProjectID:   project.ID,
		RedirectURI: redirectURI,
		ExpiresAt:   now.Add(s.codeTTL),
		CreatedAt:   now,
	}
	// The code column holds a unique constraint; a collision is astronomically
	// unlikely but still retried rather than surfaced to the browser.
	var created bool
	for attempt := 0; attempt < createRetries; attempt++ {
		code.Code = randomHex(codeBytes)
		if err := s.store.Codes().Create(ctx, code); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return AuthorizeResult{}, err
		}
		created = true
		break
	}
	if !created {
		return AuthorizeResult{}, errors.New("center: could not generate a unique code")
	}

	obs.CodeIssued()
	s.LogSuccess(ctx, ActionProjectAccess, AuditContext{
		UserID:    user.ID,
		ProjectID: project.ID,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Metadata:  map[string]any{"redirect_uri": redirectURI, "email": user.Email},
	})

	return AuthorizeResult{
		Code:       code.Code,
		Project:    project,
		RedirectTo: appendCode(redirectURI, code.Code),
	}, nil
}

// ExchangeResult is what a client backend receives for a redeemed code.
type ExchangeResult struct {
	User         *User
	TokenVersion int64
}

// Exchange redeems a one-time authorization code on behalf of a project.
// Exactly one of any number of concurrent redemptions of the same code
// succeeds; the rest observe ErrCodeUsed.
func (s *Service) Exchange(ctx context.Context, project *Project, rawCode, redirectURI, ip, userAgent string) (ExchangeResult, error) {
	if project == nil {
		return ExchangeResult{}, ErrUnauthenticated
	}
	rawCode = strings.TrimSpace(rawCode)
	if rawCode == "" {
		return ExchangeResult{}, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}

	now := s.now().UTC()
	codes := s.store.Codes()
	code, err := redeemOnce(ctx, now,
		func(ctx context.Context) (*AuthorizationCode, time.Time, *time.Time, error) {
			c, err := codes.Find(ctx, rawCode)
			if err != nil {
				return nil, time.Time{}, nil, err
			}
			// Project isolation: a code issued for another tenant, or for a
			// different redirect target, is indistinguishable from an unknown
			// code. No enumeration signal.
			if c.ProjectID != project.ID {
				return nil, time.Time{}, nil, ErrNotFound
			}
			if redirectURI != "" && redirectURI != c.RedirectURI {
				return nil, time.Time{}, nil, ErrNotFound
			}
			return c, c.ExpiresAt, c.UsedAt, nil
		},
		func(ctx context.Context) (bool, error) {
			return codes.MarkUsed(ctx, rawCode, now)
		},
	)
	if err != nil {
		obs.CodeExchange(exchangeOutcome(err))
		s.LogFailure(ctx, ActionTokenExchange, AuditContext{
			ProjectID: project.ID,
			IP:        ip,
			UserAgent: userAgent,
			Metadata:  map[string]any{"reason": exchangeOutcome(err)},
		})
		return ExchangeResult{}, err
	}

	user, err := s.store.Users().Find(ctx, code.UserID)
	if err != nil {
		obs.CodeExchange("invalid")
		return ExchangeResult{}, err
	}

	session := &ProjectSession{
		UserID:     user.ID,
		ProjectID:  project.ID,
		Email:      user.Email,
		Name:       user.Name,
		UserAgent:  userAgent,
		IP:         ip,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := s.store.Sessions().Upsert(ctx, session); err != nil {
		// Session bookkeeping must not fail the redemption that already
		// happened; surface it to diagnostics only.
		obs.Emit(map[string]any{
			"ts": now.Format(time.RFC3339Nano), "level": "error",
			"msg": "project session upsert failed", "error": err.Error(),
		})
	}

	obs.CodeExchange("success")
	s.LogSuccess(ctx, ActionTokenExchange, AuditContext{
		UserID:    user.ID,
		ProjectID: project.ID,
		IP:        ip,
		UserAgent: userAgent,
	})
	return ExchangeResult{User: user, TokenVersion: user.TokenVersion}, nil
}

// VerifySession reports whether (userID, tokenVersion) still identifies a
// live session. A missing user or a stale version is invalid, never an error:
// callers drop the session and force re-login.
func (s *Service) VerifySession(ctx context.Context, project *Project, userID string, tokenVersion int64, ip, userAgent string) (bool, error) {
	if project == nil {
		return false, ErrUnauthenticated
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.LogFailure(ctx, ActionSessionVerify, AuditContext{
				UserID:    userID,
				ProjectID: project.ID,
				IP:        ip,
				UserAgent: userAgent,
				Metadata:  map[string]any{"reason": "unknown_user"},
			})
			return false, nil
		}
		return false, err
	}
	if user.TokenVersion != tokenVersion {
		s.LogFailure(ctx, ActionSessionVerify, AuditContext{
			UserID:    userID,
			ProjectID: project.ID,
			IP:        ip,
			UserAgent: userAgent,
			Metadata:  map[string]any{"presented_version": tokenVersion, "current_version": user.TokenVersion},
		})
		return false, nil
	}
	return true, nil
}

// KillSwitch atomically bumps the user's token version, invalidating every
// previously issued session artifact, and drops the user's project sessions.
func (s *Service) KillSwitch(ctx context.Context, userID, ip, userAgent string) (int64, error) {
	version, err := s.store.Users().IncrementTokenVersion(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.store.Sessions().DeleteByUser(ctx, userID); err != nil {
		obs.Emit(map[string]any{
			"ts": s.now().UTC().Format(time.RFC3339Nano), "level": "error",
			"msg": "kill switch session sweep failed", "error": err.Error(),
		})
	}
	obs.KillSwitch()
	s.LogSuccess(ctx, ActionKillSwitch, AuditContext{
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  map[string]any{"token_version": version},
	})
	return version, nil
}

// AccessDecision is the outcome of a project access check.
type AccessDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CheckAccess decides whether a user may authenticate into a project.
// Pure function of current membership state; no side effects.
func (s *Service) CheckAccess(ctx context.Context, userID, projectID string) (AccessDecision, error) {
	project, err := s.store.Projects().Find(ctx, projectID)
	if err != nil {
		return AccessDecision{}, err
	}
	if project.Visibility == VisibilityPublic {
		return AccessDecision{Allowed: true}, nil
	}
	if project.OwnerID == userID {
		return AccessDecision{Allowed: true}, nil
	}
	_, err = s.store.Members().Find(ctx, userID, projectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AccessDecision{Allowed: false, Reason: "user_not_member"}, nil
		}
		return AccessDecision{}, err
	}
	return AccessDecision{Allowed: true}, nil
}

// EnsureUser resolves a verified email from an identity provider into a hub
// account, creating one when auto-registration is enabled.
func (s *Service) EnsureUser(ctx context.Context, provider, email, name string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidRequest)
	}
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if !s.autoRegister {
		return nil, err
	}
	now := s.now().UTC()
	user = &User{
		ID:        ids.New(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a concurrent registration race; the row exists now.
			return s.store.Users().FindByEmail(ctx, email)
		}
		return nil, err
	}
	return user, nil
}

// User loads a hub account by id.
func (s *Service) User(ctx context.Context, userID string) (*User, error) {
	return s.store.Users().Find(ctx, userID)
}

// UserByEmail loads a hub account by normalized email.
func (s *Service) UserByEmail(ctx context.Context, email string) (*User, error) {
	return s.store.Users().FindByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
}

// SetPassword stores a pre-hashed password for the password provider.
func (s *Service) SetPassword(ctx context.Context, userID, passwordHash string) error {
	if strings.TrimSpace(passwordHash) == "" {
		return fmt.Errorf("%w: password hash is required", ErrInvalidRequest)
	}
	return s.store.Users().SetPassword(ctx, userID, passwordHash)
}

// RemoveProjectSession deletes the session row for (userID, projectID).
// Missing rows are not an error: the public logout endpoint must not leak
// whether a session existed.
func (s *Service) RemoveProjectSession(ctx context.Context, userID, projectID string) error {
	err := s.store.Sessions().DeleteByUserProject(ctx, userID, projectID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func exchangeOutcome(err error) string {
	switch {
	case errors.Is(err, ErrCodeUsed):
		return "used"
	case errors.Is(err, ErrCodeExpired):
		return "expired"
	default:
		return "invalid"
	}
}

// redirectAllowed reports whether redirectURI may receive a code for a
// project registered under domain. Loopback hosts are always allowed to keep
// local development working. The registered host must match the redirect host
// exactly; a prefix comparison on the raw URI would admit
// app.example.com.evil.test for a project registered under app.example.com.
func redirectAllowed(redirectURI, domain string) bool {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if isLoopbackHost(u.Hostname()) {
		return true
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return false
	}
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	reg, err := url.Parse(strings.TrimRight(domain, "/"))
	if err != nil || reg.Host == "" {
		return false
	}
	if u.Scheme != reg.Scheme || !strings.EqualFold(u.Host, reg.Host) {
		return false
	}
	if reg.Path == "" || reg.Path == "/" {
		return true
	}
	return u.Path == reg.Path || strings.HasPrefix(u.Path, strings.TrimRight(reg.Path, "/")+"/")
}

func isLoopbackHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func appendCode(redirectURI, code string) string {
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}
	return redirectURI + sep + "code=" + url.QueryEscape(code)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the process cannot safely mint secrets.
		panic(fmt.Sprintf("center: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
