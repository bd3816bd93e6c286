package center

import (
	"context"
	"time"
)

// Store describes persistence operations required by the login center.
// All shared state lives behind this interface; correctness under concurrency
// is a property of the implementations' atomic primitives, not of in-process
// locks.
type Store interface {
	Projects() ProjectStore
	Users() UserStore
	Members() MemberStore
	Codes() CodeStore
	Sessions() SessionStore
	SetupCodes() SetupCodeStore
	Audit() AuditStore
	RateLimits() RateLimitStore
}

// ProjectStore manages tenant registrations.
type ProjectStore interface {
	Create(ctx context.Context, p *Project) error
	Find(ctx context.Context, id string) (*Project, error)
	FindBySlug(ctx context.Context, slug string) (*Project, error)
	FindByAPIKey(ctx context.Context, apiKey string) (*Project, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Project, error)
	UpdateVisibility(ctx context.Context, id string, v Visibility) error
	// RotateAPIKey swaps the key in a single statement so the old key is
	// never valid alongside the new one.
	RotateAPIKey(ctx context.Context, id, newKey string) error
	Delete(ctx context.Context, id string) error
}

// UserStore manages hub accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	SetPassword(ctx context.Context, id, passwordHash string) error
	// IncrementTokenVersion bumps the kill-switch counter atomically and
	// returns the new value. Read-modify-write is not acceptable here.
	IncrementTokenVersion(ctx context.Context, id string) (int64, error)
}

// MemberStore manages restricted-project allow lists.
type MemberStore interface {
	Add(ctx context.Context, m *ProjectUser) error
	Find(ctx context.Context, userID, projectID string) (*ProjectUser, error)
	FindByID(ctx context.Context, id string) (*ProjectUser, error)
	ListByProject(ctx context.Context, projectID string) ([]*ProjectUser, error)
	Remove(ctx context.Context, id string) error
}

// CodeStore manages one-time authorization codes.
type CodeStore interface {
	Create(ctx context.Context, c *AuthorizationCode) error
	Find(ctx context.Context, code string) (*AuthorizationCode, error)
	// MarkUsed sets used_at only when it is still null. The false return
	// means another redemption won the race.
	MarkUsed(ctx context.Context, code string, usedAt time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore manages denormalized project sessions.
type SessionStore interface {
	// Upsert inserts or refreshes the row for (user_id, project_id).
	Upsert(ctx context.Context, s *ProjectSession) error
	ListByProject(ctx context.Context, projectID string) ([]*ProjectSession, error)
	Delete(ctx context.Context, id string) error
	DeleteByUserProject(ctx context.Context, userID, projectID string) error
	DeleteByProject(ctx context.Context, projectID string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// SetupCodeStore manages one-time project bootstrap codes.
type SetupCodeStore interface {
	Create(ctx context.Context, c *ProjectSetupCode) error
	Find(ctx context.Context, code string) (*ProjectSetupCode, error)
	FindByID(ctx context.Context, id string) (*ProjectSetupCode, error)
	MarkUsed(ctx context.Context, code string, usedAt time.Time, usedByIP string) (bool, error)
	ListByProject(ctx context.Context, projectID string) ([]*ProjectSetupCode, error)
	// DeleteUnused removes the code only while it is still unredeemed; false
	// means a concurrent redemption won.
	DeleteUnused(ctx context.Context, id string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AuditFilter narrows audit log listings.
type AuditFilter struct {
	UserID    string
	ProjectID string
	Limit     int
}

// AuditStore appends immutable entries and serves read-only aggregations.
type AuditStore interface {
	Append(ctx context.Context, e *AuditLogEntry) error
	Get(ctx context.Context, id string) (*AuditLogEntry, error)
	List(ctx context.Context, f AuditFilter) ([]*AuditLogEntry, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
	// CountSince counts entries newer than since; an empty action or status
	// matches any.
	CountSince(ctx context.Context, action Action, status Status, since time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RateLimitStore maintains fixed-window counters.
type RateLimitStore interface {
	// Hit increments the counter for key, resetting the window in the same
	// atomic statement when the previous one has expired. It returns the
	// count within the current window and the window's reset time.
	Hit(ctx context.Context, key string, windowStart, expiresAt time.Time) (count int64, resetAt time.Time, err error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
