package center

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and DSN-less development
// runs. A single mutex makes every operation atomic, which is exactly the
// contract the Postgres implementation provides per statement.
type MemoryStore struct {
	mu sync.Mutex

	projects   map[string]*Project
	users      map[string]*User
	members    map[string]*ProjectUser
	codes      map[string]*AuthorizationCode
	sessions   map[string]*ProjectSession
	setupCodes map[string]*ProjectSetupCode
	audit      []*AuditLogEntry
	limits     map[string]*RateLimitEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:   make(map[string]*Project),
		users:      make(map[string]*User),
		members:    make(map[string]*ProjectUser),
		codes:      make(map[string]*AuthorizationCode),
		sessions:   make(map[string]*ProjectSession),
		setupCodes: make(map[string]*ProjectSetupCode),
		limits:     make(map[string]*RateLimitEntry),
	}
}

func (m *MemoryStore) Projects() ProjectStore     { return memProjects{m} }
func (m *MemoryStore) Users() UserStore           { return memUsers{m} }
func (m *MemoryStore) Members() MemberStore       { return memMembers{m} }
func (m *MemoryStore) Codes() CodeStore           { return memCodes{m} }
func (m *MemoryStore) Sessions() SessionStore     { return memSessions{m} }
func (m *MemoryStore) SetupCodes() SetupCodeStore { return memSetupCodes{m} }
func (m *MemoryStore) Audit() AuditStore          { return memAudit{m} }
func (m *MemoryStore) RateLimits() RateLimitStore { return memLimits{m} }

// Projects ------------------------------------------------------------------

type memProjects struct{ s *MemoryStore }

func (p memProjects) Create(_ context.Context, project *Project) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	for _, existing := range p.s.projects {
		if existing.Slug == project.Slug || existing.APIKey == project.APIKey {
			return ErrConflict
		}
	}
	cp := *project
	p.s.projects[project.ID] = &cp
	return nil
}

func (p memProjects) Find(_ context.Context, id string) (*Project, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	project, ok := p.s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *project
	return &cp, nil
}

func (p memProjects) FindBySlug(_ context.Context, slug string) (*Project, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	for _, project := range p.s.projects {
		if project.Slug == slug {
			cp := *project
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (p memProjects) FindByAPIKey(_ context.Context, apiKey string) (*Project, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	for _, project := range p.s.projects {
		if project.APIKey == apiKey {
			cp := *project
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (p memProjects) ListByOwner(_ context.Context, ownerID string) ([]*Project, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []*Project
	for _, project := range p.s.projects {
		if project.OwnerID == ownerID {
			cp := *project
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p memProjects) UpdateVisibility(_ context.Context, id string, v Visibility) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	project, ok := p.s.projects[id]
	if !ok {
		return ErrNotFound
	}
	project.Visibility = v
	project.UpdatedAt = time.Now().UTC()
	return nil
}

func (p memProjects) RotateAPIKey(_ context.Context, id, newKey string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	project, ok := p.s.projects[id]
	if !ok {
		return ErrNotFound
	}
	project.APIKey = newKey
	project.UpdatedAt = time.Now().UTC()
	return nil
}

func (p memProjects) Delete(_ context.Context, id string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.projects[id]; !ok {
		return ErrNotFound
	}
	delete(p.s.projects, id)
	// Cascade to derived records, mirroring the foreign keys in Postgres.
	for mid, member := range p.s.members {
		if member.ProjectID == id {
			delete(p.s.members, mid)
		}
	}
	for code, c := range p.s.codes {
		if c.ProjectID == id {
			delete(p.s.codes, code)
		}
	}
	for sid, session := range p.s.sessions {
		if session.ProjectID == id {
			delete(p.s.sessions, sid)
		}
	}
	for cid, sc := range p.s.setupCodes {
		if sc.ProjectID == id {
			delete(p.s.setupCodes, cid)
		}
	}
	return nil
}

// Users ---------------------------------------------------------------------

type memUsers struct{ s *MemoryStore }

func (u memUsers) Create(_ context.Context, user *User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, existing := range u.s.users {
		if existing.Email == user.Email {
			return ErrConflict
		}
	}
	cp := *user
	u.s.users[user.ID] = &cp
	return nil
}

func (u memUsers) Find(_ context.Context, id string) (*User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (u memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, user := range u.s.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (u memUsers) SetPassword(_ context.Context, id, passwordHash string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now().UTC()
	return nil
}

func (u memUsers) IncrementTokenVersion(_ context.Context, id string) (int64, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return 0, ErrNotFound
	}
	user.TokenVersion++
	user.UpdatedAt = time.Now().UTC()
	return user.TokenVersion, nil
}

// Members -------------------------------------------------------------------

type memMembers struct{ s *MemoryStore }

func (m memMembers) Add(_ context.Context, member *ProjectUser) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.members {
		if existing.UserID == member.UserID && existing.ProjectID == member.ProjectID {
			return ErrConflict
		}
	}
	cp := *member
	m.s.members[member.ID] = &cp
	return nil
}

func (m memMembers) Find(_ context.Context, userID, projectID string) (*ProjectUser, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, member := range m.s.members {
		if member.UserID == userID && member.ProjectID == projectID {
			cp := *member
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m memMembers) FindByID(_ context.Context, id string) (*ProjectUser, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	member, ok := m.s.members[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *member
	return &cp, nil
}

func (m memMembers) ListByProject(_ context.Context, projectID string) ([]*ProjectUser, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*ProjectUser
	for _, member := range m.s.members {
		if member.ProjectID == projectID {
			cp := *member
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memMembers) Remove(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.members[id]; !ok {
		return ErrNotFound
	}
	delete(m.s.members, id)
	return nil
}

// Authorization codes -------------------------------------------------------

type memCodes struct{ s *MemoryStore }

func (c memCodes) Create(_ context.Context, code *AuthorizationCode) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, ok := c.s.codes[code.Code]; ok {
		return ErrConflict
	}
	cp := *code
	c.s.codes[code.Code] = &cp
	return nil
}

func (c memCodes) Find(_ context.Context, code string) (*AuthorizationCode, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	rec, ok := c.s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	if rec.UsedAt != nil {
		used := *rec.UsedAt
		cp.UsedAt = &used
	}
	return &cp, nil
}

func (c memCodes) MarkUsed(_ context.Context, code string, usedAt time.Time) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	rec, ok := c.s.codes[code]
	if !ok || rec.UsedAt != nil {
		return false, nil
	}
	rec.UsedAt = &usedAt
	return true, nil
}

func (c memCodes) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var n int64
	for code, rec := range c.s.codes {
		if now.After(rec.ExpiresAt) {
			delete(c.s.codes, code)
			n++
		}
	}
	return n, nil
}

// Project sessions ----------------------------------------------------------

type memSessions struct{ s *MemoryStore }

func (se memSessions) Upsert(_ context.Context, session *ProjectSession) error {
	se.s.mu.Lock()
	defer se.s.mu.Unlock()
	for _, existing := range se.s.sessions {
		if existing.UserID == session.UserID && existing.ProjectID == session.ProjectID {
			existing.Email = session.Email
			existing.Name = session.Name
			existing.UserAgent = session.UserAgent
			existing.IP = session.IP
			existing.LastSeenAt = session.LastSeenAt
			session.ID = existing.ID
			session.CreatedAt = existing.CreatedAt
			return nil
		}
	}
	if session.ID == "" {
		session.ID = session.UserID + ":" + session.ProjectID
	}
	cp := *session
	se.s.sessions[cp.ID] = &cp
	return nil
}

func (se memSessions) ListByProject(_ context.Context, projectID string) ([]*ProjectSession, error) {
	se.s.mu.Lock()
	defer se.s.mu.Unlock()
	var out []*ProjectSession
	for _, session := range se.s.sessions {
		if session.ProjectID == projectID {
			cp := *session
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (se memSessions) Delete(_ context.Context, id string) error {
	se.s.mu.Lock()
	defer se.s.mu.Unlock()
	if _, ok := se.s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(se.s.sessions, id)
	return nil
}

func (se memSessions) DeleteByUserProject(_ context.Context, userID, projectID string) error {
	se.s.mu.Lock()
	defer se.s.mu.Unlock()
	for id, session := range se.s.sessions {
		if session.UserID == userID && session.ProjectID == projectID {
			delete(se.s.sessions, id)
			return nil
		}
	}
	return ErrNotFound
}

func (se memSessions) DeleteByProject(_ context.Context, projectID string) error {
	se.s.mu.Lock()
	defer se.s.mu.Unlock()
	for id, session := range se.s.sessions {
		if session.ProjectID == projectID {
			delete(se.s.sessions, id)
		}
	}
	return nil
}

func (se memSessions) DeleteByUser(_ context.Context, userID string) error {
	se.s.mu.Lock()
	defer se.s.mu.Unlock()
	for id, session := range se.s.sessions {
		if session.UserID == userID {
			delete(se.s.sessions, id)
		}
	}
	return nil
}

// Setup codes ---------------------------------------------------------------

type memSetupCodes struct{ s *MemoryStore }

func (sc memSetupCodes) Create(_ context.Context, code *ProjectSetupCode) error {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	for _, existing := range sc.s.setupCodes {
		if existing.Code == code.Code {
			return ErrConflict
		}
	}
	cp := *code
	sc.s.setupCodes[code.ID] = &cp
	return nil
}

func (sc memSetupCodes) Find(_ context.Context, code string) (*ProjectSetupCode, error) {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	for _, rec := range sc.s.setupCodes {
		if rec.Code == code {
			cp := *rec
			if rec.UsedAt != nil {
				used := *rec.UsedAt
				cp.UsedAt = &used
			}
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (sc memSetupCodes) FindByID(_ context.Context, id string) (*ProjectSetupCode, error) {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	rec, ok := sc.s.setupCodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	if rec.UsedAt != nil {
		used := *rec.UsedAt
		cp.UsedAt = &used
	}
	return &cp, nil
}

func (sc memSetupCodes) MarkUsed(_ context.Context, code string, usedAt time.Time, usedByIP string) (bool, error) {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	for _, rec := range sc.s.setupCodes {
		if rec.Code == code {
			if rec.UsedAt != nil {
				return false, nil
			}
			rec.UsedAt = &usedAt
			rec.UsedByIP = usedByIP
			return true, nil
		}
	}
	return false, nil
}

func (sc memSetupCodes) ListByProject(_ context.Context, projectID string) ([]*ProjectSetupCode, error) {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	var out []*ProjectSetupCode
	for _, rec := range sc.s.setupCodes {
		if rec.ProjectID == projectID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (sc memSetupCodes) DeleteUnused(_ context.Context, id string) (bool, error) {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	rec, ok := sc.s.setupCodes[id]
	if !ok {
		return false, ErrNotFound
	}
	if rec.UsedAt != nil {
		return false, nil
	}
	delete(sc.s.setupCodes, id)
	return true, nil
}

func (sc memSetupCodes) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	var n int64
	for id, rec := range sc.s.setupCodes {
		if now.After(rec.ExpiresAt) {
			delete(sc.s.setupCodes, id)
			n++
		}
	}
	return n, nil
}

// Audit ---------------------------------------------------------------------

type memAudit struct{ s *MemoryStore }

func (a memAudit) Append(_ context.Context, entry *AuditLogEntry) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	cp := *entry
	a.s.audit = append(a.s.audit, &cp)
	return nil
}

func (a memAudit) Get(_ context.Context, id string) (*AuditLogEntry, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, entry := range a.s.audit {
		if entry.ID == id {
			cp := *entry
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (a memAudit) List(_ context.Context, f AuditFilter) ([]*AuditLogEntry, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []*AuditLogEntry
	for i := len(a.s.audit) - 1; i >= 0; i-- {
		entry := a.s.audit[i]
		if f.UserID != "" && entry.UserID != f.UserID {
			continue
		}
		if f.ProjectID != "" && entry.ProjectID != f.ProjectID {
			continue
		}
		cp := *entry
		out = append(out, &cp)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (a memAudit) Delete(_ context.Context, id string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for i, entry := range a.s.audit {
		if entry.ID == id {
			a.s.audit = append(a.s.audit[:i], a.s.audit[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (a memAudit) Count(_ context.Context) (int64, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return int64(len(a.s.audit)), nil
}

func (a memAudit) CountSince(_ context.Context, action Action, status Status, since time.Time) (int64, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var n int64
	for _, entry := range a.s.audit {
		if entry.CreatedAt.Before(since) {
			continue
		}
		if action != "" && entry.Action != action {
			continue
		}
		if status != "" && entry.Status != status {
			continue
		}
		n++
	}
	return n, nil
}

func (a memAudit) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	kept := a.s.audit[:0]
	var deleted int64
	for _, entry := range a.s.audit {
		if entry.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, entry)
	}
	a.s.audit = kept
	return deleted, nil
}

// Rate limits ---------------------------------------------------------------

type memLimits struct{ s *MemoryStore }

func (l memLimits) Hit(_ context.Context, key string, windowStart, expiresAt time.Time) (int64, time.Time, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	entry, ok := l.s.limits[key]
	if !ok || !windowStart.Before(entry.ExpiresAt) {
		entry = &RateLimitEntry{
			Key:             key,
			Count:           1,
			WindowStartedAt: windowStart,
			ExpiresAt:       expiresAt,
		}
		l.s.limits[key] = entry
		return entry.Count, entry.ExpiresAt, nil
	}
	entry.Count++
	return entry.Count, entry.ExpiresAt, nil
}

func (l memLimits) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var n int64
	for key, entry := range l.s.limits {
		if !now.Before(entry.ExpiresAt) {
			delete(l.s.limits, key)
			n++
		}
	}
	return n, nil
}
