package center

import "time"

// Visibility controls who may authenticate into a project.
type Visibility string

const (
	// VisibilityPublic admits any authenticated hub user.
	VisibilityPublic Visibility = "public"
	// VisibilityRestricted admits explicit members only.
	VisibilityRestricted Visibility = "restricted"
)

// MemberRole scopes a membership inside a single project.
type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleAdmin  MemberRole = "admin"
)

// Action enumerates audited security events.
type Action string

const (
	ActionLogin            Action = "login"
	ActionLogout           Action = "logout"
	ActionTokenExchange    Action = "token_exchange"
	ActionSessionVerify    Action = "session_verify"
	ActionAccessDenied     Action = "access_denied"
	ActionMemberAdd        Action = "member_add"
	ActionMemberRemove     Action = "member_remove"
	ActionProjectAccess    Action = "project_access"
	ActionSetupCode        Action = "setup_code"
	ActionSetupCodeDelete  Action = "setup_code_delete"
	ActionKillSwitch       Action = "kill_switch"
	ActionKeyRotate        Action = "key_rotate"
	ActionVisibilityChange Action = "visibility_change"
)

// Status marks an audit entry outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Project is a tenant application registered with the hub. The API key is a
// server-side secret and is never serialized; create/rotate responses expose
// it explicitly, once.
type Project struct {
	ID         string     `json:"id"`
	Slug       string     `json:"slug"`
	Name       string     `json:"name"`
	Domain     string     `json:"domain,omitempty"`
	APIKey     string     `json:"-"`
	OwnerID    string     `json:"owner_id"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// User is a hub account. TokenVersion is the kill-switch counter: every
// session artifact embeds the version observed at issuance and is valid only
// while it matches the stored value.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Provider     string    `json:"provider"`
	PasswordHash string    `json:"-"`
	TokenVersion int64     `json:"token_version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AuthorizationCode is a one-time credential proving a completed login,
// redeemable at most once and only before expiry.
type AuthorizationCode struct {
	Code        string     `json:"-"`
	UserID      string     `json:"user_id"`
	ProjectID   string     `json:"project_id"`
	RedirectURI string     `json:"redirect_uri"`
	ExpiresAt   time.Time  `json:"expires_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ProjectSession is a denormalized record of a user actively authenticated
// into a project, keyed on (user_id, project_id) and refreshed on every
// successful exchange.
type ProjectSession struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ProjectID  string    `json:"project_id"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IP         string    `json:"ip,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProjectUser is an allow-list entry consulted for restricted projects only.
type ProjectUser struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	ProjectID string     `json:"project_id"`
	Role      MemberRole `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

// ProjectSetupCode is a one-time bootstrap credential letting a new client
// app fetch its API key and configuration.
type ProjectSetupCode struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Code      string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	UsedByIP  string     `json:"used_by_ip,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// AuditLogEntry is an append-only security event record.
type AuditLogEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	Action    Action         `json:"action"`
	Status    Status         `json:"status"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// RateLimitEntry is a fixed-window counter keyed by an arbitrary string,
// typically "ip:endpoint". Once ExpiresAt has passed the entry is logically
// reset, never reused across windows.
type RateLimitEntry struct {
	Key             string    `json:"key"`
	Count           int64     `json:"count"`
	WindowStartedAt time.Time `json:"window_started_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}
