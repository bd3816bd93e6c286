package center

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/ids"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

const (
	apiKeyPrefix    = "key_"
	setupCodePrefix = "setup_"
)

// CreateProject registers a new tenant. The returned Project carries the
// freshly generated API key; it is shown to the owner once and never
// serialized afterwards.
func (s *Service) CreateProject(ctx context.Context, ownerID, slug, name, domain string, visibility Visibility) (*Project, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrUnauthenticated
	}
	slug = strings.TrimSpace(strings.ToLower(slug))
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("%w: slug must be 3-64 chars of [a-z0-9-]", ErrInvalidRequest)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	switch visibility {
	case "":
		visibility = VisibilityPublic
	case VisibilityPublic, VisibilityRestricted:
	default:
		return nil, fmt.Errorf("%w: unsupported visibility %q", ErrInvalidRequest, visibility)
	}

	now := s.now().UTC()
	project := &Project{
		ID:         ids.New(),
		Slug:       slug,
		Name:       name,
		Domain:     strings.TrimRight(strings.TrimSpace(domain), "/"),
		APIKey:     apiKeyPrefix + randomHex(apiKeyBytes),
		OwnerID:    ownerID,
		Visibility: visibility,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Projects().Create(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// Project loads a tenant by id.
func (s *Service) Project(ctx context.Context, id string) (*Project, error) {
	return s.store.Projects().Find(ctx, id)
}

// ProjectByAPIKey resolves the x-api-key header to a tenant.
func (s *Service) ProjectByAPIKey(ctx context.Context, apiKey string) (*Project, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrUnauthenticated
	}
	return s.store.Projects().FindByAPIKey(ctx, apiKey)
}

// ProjectsByOwner lists the caller's tenants.
func (s *Service) ProjectsByOwner(ctx context.Context, ownerID string) ([]*Project, error) {
	return s.store.Projects().ListByOwner(ctx, ownerID)
}

// DeleteProject removes a tenant and cascades to all derived records.
func (s *Service) DeleteProject(ctx context.Context, projectID, ownerID string) error {
	if _, err := s.requireOwner(ctx, projectID, ownerID); err != nil {
		return err
	}
	return s.store.Projects().Delete(ctx, projectID)
}

// RotateAPIKey issues a fresh API key, atomically invalidating the old one.
// The new key is returned once and not retrievable later.
func (s *Service) RotateAPIKey(ctx context.Context, projectID, ownerID, ip, userAgent string) (string, error) {
	if _, err := s.requireOwner(ctx, projectID, ownerID); err != nil {
		return "", err
	}
	newKey := apiKeyPrefix + randomHex(apiKeyBytes)
	if err := s.store.Projects().RotateAPIKey(ctx, projectID, newKey); err != nil {
		return "", err
	}
	s.LogSuccess(ctx, ActionKeyRotate, AuditContext{
		UserID:    ownerID,
		ProjectID: projectID,
		IP:        ip,
		UserAgent: userAgent,
	})
	return newKey, nil
}

// SetVisibility toggles a project between public and restricted.
func (s *Service) SetVisibility(ctx context.Context, projectID, ownerID string, v Visibility, ip, userAgent string) error {
	if v != VisibilityPublic && v != VisibilityRestricted {
		return fmt.Errorf("%w: unsupported visibility %q", ErrInvalidRequest, v)
	}
	if _, err := s.requireOwner(ctx, projectID, ownerID); err != nil {
		return err
	}
	if err := s.store.Projects().UpdateVisibility(ctx, projectID, v); err != nil {
		return err
	}
	s.LogSuccess(ctx, ActionVisibilityChange, AuditContext{
		UserID:    ownerID,
		ProjectID: projectID,
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  map[string]any{"visibility": string(v)},
	})
	return nil
}

// AddMember grants a user access to a restricted project, identified by the
// email their hub account is registered under. Takes effect immediately.
func (s *Service) AddMember(ctx context.Context, projectID, ownerID, email string, role MemberRole, ip, userAgent string) (*ProjectUser, error) {
	if _, err := s.requireOwner(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	switch role {
	case "":
		role = RoleMember
	case RoleMember, RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unsupported role %q", ErrInvalidRequest, role)
	}
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	member := &ProjectUser{
		ID:        ids.New(),
		UserID:    user.ID,
		ProjectID: projectID,
		Role:      role,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Members().Add(ctx, member); err != nil {
		return nil, err
	}
	s.LogSuccess(ctx, ActionMemberAdd, AuditContext{
		UserID:    ownerID,
		ProjectID: projectID,
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  map[string]any{"member_user_id": user.ID, "role": string(role)},
	})
	return member, nil
}

// RemoveMember revokes a membership; access is gone on the next check.
func (s *Service) RemoveMember(ctx context.Context, projectID, ownerID, memberID, ip, userAgent string) error {
	if _, err := s.requireOwner(ctx, projectID, ownerID); err != nil {
		return err
	}
	member, err := s.store.Members().FindByID(ctx, memberID)
	if err != nil {
		return err
	}
	if member.ProjectID != projectID {
		return ErrNotFound
	}
	if err := s.store.Members().Remove(ctx, memberID); err != nil {
		return err
	}
	s.LogSuccess(ctx, ActionMemberRemove, AuditContext{
		UserID:    ownerID,
		ProjectID: projectID,
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  map[string]any{"member_user_id": member.UserID},
	})
	return nil
}

// ListMembers returns the allow list of a restricted project.
func (s *Service) ListMembers(ctx context.Context, projectID, ownerID string) ([]*ProjectUser, error) {
	if _, err := s.requireOwner(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	return s.store.Members().ListByProject(ctx, projectID)
}

// ListProjectSessions returns the project's active sessions for the owner.
func (s *Service) ListProjectSessions(ctx context.Context, projectID, ownerID string) ([]*ProjectSession, error) {
	if _, err := s.requireOwner(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	return s.store.Sessions().ListByProject(ctx, projectID)
}

// RevokeProjectSessions deletes one session by id, or all of the project's
// sessions when sessionID is empty.
func (s *Service) RevokeProjectSessions(ctx context.Context, projectID, ownerID, sessionID string) error {
	if _, err := s.requireOwner(ctx, projectID, ownerID); err != nil {
		return err
	}
	if sessionID == "" {
		return s.store.Sessions().DeleteByProject(ctx, projectID)
	}
	return s.store.Sessions().Delete(ctx, sessionID)
}

// CreateSetupCode mints a one-time bootstrap code for a project.
// The raw code is returned once; the store keeps it for claim lookup.
func (s *Service) CreateSetupCode(ctx context.Context, projectID, ownerID, ip, userAgent string) (*ProjectSetupCode, error) {
	if _, err := s.requireOwner(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	code := &ProjectSetupCode{
		ID:        ids.New(),
		ProjectID: projectID,
		Code:      setupCodePrefix + randomHex(setupBytes),
		ExpiresAt: now.Add(s.setupTTL),
		CreatedAt: now,
	}
	if err := s.store.SetupCodes().Create(ctx, code); err != nil {
		return nil, err
	}
	s.LogSuccess(ctx, ActionSetupCode, AuditContext{
		UserID:    ownerID,
		ProjectID: projectID,
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  map[string]any{"setup_code_id": code.ID},
	})
	return code, nil
}

// ListSetupCodes returns the project's setup codes with used/expired state.
func (s *Service) ListSetupCodes(ctx context.Context, projectID, ownerID string) ([]*ProjectSetupCode, error) {
	if _, err := s.requireOwner(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	return s.store.SetupCodes().ListByProject(ctx, projectID)
}

// DeleteSetupCode revokes a not-yet-used setup code.
func (s *Service) DeleteSetupCode(ctx context.Context, projectID, ownerID, codeID, ip, userAgent string) error {
	if _, err := s.requireOwner(ctx, projectID, ownerID); err != nil {
		return err
	}
	code, err := s.store.SetupCodes().FindByID(ctx, codeID)
	if err != nil {
		return err
	}
	if code.ProjectID != projectID {
		return ErrNotFound
	}
	if code.UsedAt != nil {
		return ErrCodeUsed
	}
	// The delete is conditional on used_at so a redemption racing between the
	// read above and this statement keeps its code.
	ok, err := s.store.SetupCodes().DeleteUnused(ctx, codeID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeUsed
	}
	s.LogSuccess(ctx, ActionSetupCodeDelete, AuditContext{
		UserID:    ownerID,
		ProjectID: projectID,
		IP:        ip,
		UserAgent: userAgent,
		Metadata:  map[string]any{"setup_code_id": codeID},
	})
	return nil
}

// ClaimResult is the self-provisioning payload a new client app receives in
// exchange for its setup code.
type ClaimResult struct {
	APIKey      string `json:"apiKey"`
	Slug        string `json:"slug"`
	CenterURL   string `json:"centerUrl"`
	ProjectName string `json:"projectName"`
	ProjectID   string `json:"projectId"`
}

// ClaimSetupCode redeems a setup code; same single-use semantics as the
// authorization code.
func (s *Service) ClaimSetupCode(ctx context.Context, rawCode, ip string) (ClaimResult, error) {
	rawCode = strings.TrimSpace(rawCode)
	if !strings.HasPrefix(rawCode, setupCodePrefix) {
		return ClaimResult{}, fmt.Errorf("%w: malformed setup code", ErrInvalidRequest)
	}

	now := s.now().UTC()
	setupCodes := s.store.SetupCodes()
	code, err := redeemOnce(ctx, now,
		func(ctx context.Context) (*ProjectSetupCode, time.Time, *time.Time, error) {
			c, err := setupCodes.Find(ctx, rawCode)
			if err != nil {
				return nil, time.Time{}, nil, err
			}
			return c, c.ExpiresAt, c.UsedAt, nil
		},
		func(ctx context.Context) (bool, error) {
			return setupCodes.MarkUsed(ctx, rawCode, now, ip)
		},
	)
	if err != nil {
		return ClaimResult{}, err
	}

	project, err := s.store.Projects().Find(ctx, code.ProjectID)
	if err != nil {
		return ClaimResult{}, err
	}
	s.LogSuccess(ctx, ActionSetupCode, AuditContext{
		ProjectID: project.ID,
		IP:        ip,
		Metadata:  map[string]any{"claimed": true, "setup_code_id": code.ID},
	})
	return ClaimResult{
		APIKey:      project.APIKey,
		Slug:        project.Slug,
		CenterURL:   s.centerURL,
		ProjectName: project.Name,
		ProjectID:   project.ID,
	}, nil
}

// ProbeResult reports the reachability of a project's registered domain.
type ProbeResult struct {
	Reachable  bool      `json:"reachable"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// TestIntegration probes the project's domain over HTTP. The probe is bounded
// by the configured timeout and failures are a soft result, never an error.
func (s *Service) TestIntegration(ctx context.Context, projectID, ownerID string) (ProbeResult, error) {
	project, err := s.requireOwner(ctx, projectID, ownerID)
	if err != nil {
		return ProbeResult{}, err
	}
	result := ProbeResult{CheckedAt: s.now().UTC()}
	if project.Domain == "" {
		result.Error = "no domain registered"
		return result, nil
	}
	target := project.Domain
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	resp, err := s.probeClient.Do(req)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	defer resp.Body.Close()
	result.Reachable = resp.StatusCode < http.StatusInternalServerError
	result.StatusCode = resp.StatusCode
	return result, nil
}

func (s *Service) requireOwner(ctx context.Context, projectID, userID string) (*Project, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthenticated
	}
	project, err := s.store.Projects().Find(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != userID {
		return nil, ErrAccessDenied
	}
	return project, nil
}
