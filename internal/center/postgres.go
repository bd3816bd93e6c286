package center

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/AleksanderOne/centrum-logowania-app-sub001/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Every mutation that must be
// atomic is a single statement; no row is read-modified-written across a
// round trip.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Projects() ProjectStore     { return &pgProjects{db: s.db} }
func (s *PGStore) Users() UserStore           { return &pgUsers{db: s.db} }
func (s *PGStore) Members() MemberStore       { return &pgMembers{db: s.db} }
func (s *PGStore) Codes() CodeStore           { return &pgCodes{db: s.db} }
func (s *PGStore) Sessions() SessionStore     { return &pgSessions{db: s.db} }
func (s *PGStore) SetupCodes() SetupCodeStore { return &pgSetupCodes{db: s.db} }
func (s *PGStore) Audit() AuditStore          { return &pgAudit{db: s.db} }
func (s *PGStore) RateLimits() RateLimitStore { return &pgLimits{db: s.db} }

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

// Project store -------------------------------------------------------------
type pgProjects struct{ db *sql.DB }

func (s *pgProjects) Create(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into projects(id, slug, name, domain, api_key, owner_id, visibility, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.Slug, p.Name, p.Domain, p.APIKey, p.OwnerID, p.Visibility, p.CreatedAt, p.UpdatedAt,
	)
	return mapConflict(err)
}

const projectColumns = `id, slug, name, domain, api_key, owner_id, visibility, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	if err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Domain, &p.APIKey, &p.OwnerID, &p.Visibility, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *pgProjects) Find(ctx context.Context, id string) (*Project, error) {
	return scanProject(s.db.QueryRowContext(ctx,
		`select `+projectColumns+` from projects where id=$1`, id))
}

func (s *pgProjects) FindBySlug(ctx context.Context, slug string) (*Project, error) {
	return scanProject(s.db.QueryRowContext(ctx,
		`select `+projectColumns+` from projects where slug=$1`, slug))
}

func (s *pgProjects) FindByAPIKey(ctx context.Context, apiKey string) (*Project, error) {
	return scanProject(s.db.QueryRowContext(ctx,
		`select `+projectColumns+` from projects where api_key=$1`, apiKey))
}

func (s *pgProjects) ListByOwner(ctx context.Context, ownerID string) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+projectColumns+` from projects where owner_id=$1 order by created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *pgProjects) UpdateVisibility(ctx context.Context, id string, v Visibility) error {
	res, err := s.db.ExecContext(ctx,
		`update projects set visibility=$2, updated_at=now() where id=$1`, id, v)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgProjects) RotateAPIKey(ctx context.Context, id, newKey string) error {
	res, err := s.db.ExecContext(ctx,
		`update projects set api_key=$2, updated_at=now() where id=$1`, id, newKey)
	if err != nil {
		return mapConflict(err)
	}
	return requireRow(res)
}

func (s *pgProjects) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from projects where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// User store ----------------------------------------------------------------
type pgUsers struct{ db *sql.DB }

const userColumns = `id, email, name, provider, password_hash, token_version, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u    User
		hash sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Provider, &hash, &u.TokenVersion, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.PasswordHash = hash.String
	return &u, nil
}

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	var hash any
	if u.PasswordHash != "" {
		hash = u.PasswordHash
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, name, provider, password_hash, token_version, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.ID, u.Email, u.Name, u.Provider, hash, u.TokenVersion, u.CreatedAt, u.UpdatedAt,
	)
	return mapConflict(err)
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *pgUsers) SetPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgUsers) IncrementTokenVersion(ctx context.Context, id string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`update users set token_version = token_version + 1, updated_at=now()
		 where id=$1 returning token_version`, id,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Member store --------------------------------------------------------------
type pgMembers struct{ db *sql.DB }

func (s *pgMembers) Add(ctx context.Context, m *ProjectUser) error {
	if m.ID == "" {
		m.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into project_users(id, user_id, project_id, role, created_at)
		 values($1,$2,$3,$4,$5)`,
		m.ID, m.UserID, m.ProjectID, m.Role, m.CreatedAt,
	)
	return mapConflict(err)
}

const memberColumns = `id, user_id, project_id, role, created_at`

func scanMember(row interface{ Scan(...any) error }) (*ProjectUser, error) {
	var m ProjectUser
	if err := row.Scan(&m.ID, &m.UserID, &m.ProjectID, &m.Role, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *pgMembers) Find(ctx context.Context, userID, projectID string) (*ProjectUser, error) {
	return scanMember(s.db.QueryRowContext(ctx,
		`select `+memberColumns+` from project_users where user_id=$1 and project_id=$2`, userID, projectID))
}

func (s *pgMembers) FindByID(ctx context.Context, id string) (*ProjectUser, error) {
	return scanMember(s.db.QueryRowContext(ctx,
		`select `+memberColumns+` from project_users where id=$1`, id))
}

func (s *pgMembers) ListByProject(ctx context.Context, projectID string) ([]*ProjectUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+memberColumns+` from project_users where project_id=$1 order by created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*ProjectUser
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *pgMembers) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from project_users where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Authorization code store --------------------------------------------------
type pgCodes struct{ db *sql.DB }

func (s *pgCodes) Create(ctx context.Context, c *AuthorizationCode) error {
	_, err := s.db.ExecContext(ctx,
		`insert into authorization_codes(code, user_id, project_id, redirect_uri, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6)`,
		c.Code, c.UserID, c.ProjectID, c.RedirectURI, c.ExpiresAt, c.CreatedAt,
	)
	return mapConflict(err)
}

func (s *pgCodes) Find(ctx context.Context, code string) (*AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx,
		`select code, user_id, project_id, redirect_uri, expires_at, used_at, created_at
		 from authorization_codes where code=$1`, code)
	var (
		c      AuthorizationCode
		usedAt sql.NullTime
	)
	if err := row.Scan(&c.Code, &c.UserID, &c.ProjectID, &c.RedirectURI, &c.ExpiresAt, &usedAt, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		c.UsedAt = &t
	}
	return &c, nil
}

func (s *pgCodes) MarkUsed(ctx context.Context, code string, usedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update authorization_codes set used_at=$2 where code=$1 and used_at is null`,
		code, usedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *pgCodes) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from authorization_codes where expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Project session store -----------------------------------------------------
type pgSessions struct{ db *sql.DB }

func (s *pgSessions) Upsert(ctx context.Context, ps *ProjectSession) error {
	if ps.ID == "" {
		ps.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into project_sessions(id, user_id, project_id, email, name, user_agent, ip, last_seen_at, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 on conflict (user_id, project_id) do update set
		   email=excluded.email, name=excluded.name, user_agent=excluded.user_agent,
		   ip=excluded.ip, last_seen_at=excluded.last_seen_at`,
		ps.ID, ps.UserID, ps.ProjectID, ps.Email, ps.Name, ps.UserAgent, ps.IP, ps.LastSeenAt, ps.CreatedAt,
	)
	return err
}

func (s *pgSessions) ListByProject(ctx context.Context, projectID string) ([]*ProjectSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, user_id, project_id, email, name, user_agent, ip, last_seen_at, created_at
		 from project_sessions where project_id=$1 order by last_seen_at desc`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*ProjectSession
	for rows.Next() {
		var ps ProjectSession
		if err := rows.Scan(&ps.ID, &ps.UserID, &ps.ProjectID, &ps.Email, &ps.Name, &ps.UserAgent, &ps.IP, &ps.LastSeenAt, &ps.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, &ps)
	}
	return res, rows.Err()
}

func (s *pgSessions) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from project_sessions where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgSessions) DeleteByUserProject(ctx context.Context, userID, projectID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from project_sessions where user_id=$1 and project_id=$2`, userID, projectID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgSessions) DeleteByProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `delete from project_sessions where project_id=$1`, projectID)
	return err
}

func (s *pgSessions) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from project_sessions where user_id=$1`, userID)
	return err
}

// Setup code store ----------------------------------------------------------
type pgSetupCodes struct{ db *sql.DB }

const setupCodeColumns = `id, project_id, code, expires_at, used_at, used_by_ip, created_at`

func scanSetupCode(row interface{ Scan(...any) error }) (*ProjectSetupCode, error) {
	var (
		c        ProjectSetupCode
		usedAt   sql.NullTime
		usedByIP sql.NullString
	)
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Code, &c.ExpiresAt, &usedAt, &usedByIP, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		c.UsedAt = &t
	}
	c.UsedByIP = usedByIP.String
	return &c, nil
}

func (s *pgSetupCodes) Create(ctx context.Context, c *ProjectSetupCode) error {
	if c.ID == "" {
		c.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into project_setup_codes(id, project_id, code, expires_at, created_at)
		 values($1,$2,$3,$4,$5)`,
		c.ID, c.ProjectID, c.Code, c.ExpiresAt, c.CreatedAt,
	)
	return mapConflict(err)
}

func (s *pgSetupCodes) Find(ctx context.Context, code string) (*ProjectSetupCode, error) {
	return scanSetupCode(s.db.QueryRowContext(ctx,
		`select `+setupCodeColumns+` from project_setup_codes where code=$1`, code))
}

func (s *pgSetupCodes) FindByID(ctx context.Context, id string) (*ProjectSetupCode, error) {
	return scanSetupCode(s.db.QueryRowContext(ctx,
		`select `+setupCodeColumns+` from project_setup_codes where id=$1`, id))
}

func (s *pgSetupCodes) MarkUsed(ctx context.Context, code string, usedAt time.Time, usedByIP string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update project_setup_codes set used_at=$2, used_by_ip=$3 where code=$1 and used_at is null`,
		code, usedAt, usedByIP,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *pgSetupCodes) ListByProject(ctx context.Context, projectID string) ([]*ProjectSetupCode, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+setupCodeColumns+` from project_setup_codes where project_id=$1 order by created_at desc`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*ProjectSetupCode
	for rows.Next() {
		c, err := scanSetupCode(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *pgSetupCodes) DeleteUnused(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from project_setup_codes where id=$1 and used_at is null`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *pgSetupCodes) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from project_setup_codes where expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Audit store ---------------------------------------------------------------
type pgAudit struct{ db *sql.DB }

func (s *pgAudit) Append(ctx context.Context, e *AuditLogEntry) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	meta, _ := json.Marshal(e.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_logs(id, user_id, project_id, action, status, ip, user_agent, metadata, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, nullable(e.UserID), nullable(e.ProjectID), e.Action, e.Status, e.IP, e.UserAgent, meta, e.CreatedAt,
	)
	return err
}

const auditColumns = `id, user_id, project_id, action, status, ip, user_agent, metadata, created_at`

func scanAuditEntry(row interface{ Scan(...any) error }) (*AuditLogEntry, error) {
	var (
		e         AuditLogEntry
		userID    sql.NullString
		projectID sql.NullString
		meta      []byte
	)
	if err := row.Scan(&e.ID, &userID, &projectID, &e.Action, &e.Status, &e.IP, &e.UserAgent, &meta, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.UserID = userID.String
	e.ProjectID = projectID.String
	_ = json.Unmarshal(meta, &e.Metadata)
	return &e, nil
}

func (s *pgAudit) Get(ctx context.Context, id string) (*AuditLogEntry, error) {
	return scanAuditEntry(s.db.QueryRowContext(ctx,
		`select `+auditColumns+` from audit_logs where id=$1`, id))
}

func (s *pgAudit) List(ctx context.Context, f AuditFilter) ([]*AuditLogEntry, error) {
	query := `select ` + auditColumns + ` from audit_logs where 1=1`
	args := make([]any, 0, 3)
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += ` and user_id=$` + itoa(len(args))
	}
	if f.ProjectID != "" {
		args = append(args, f.ProjectID)
		query += ` and project_id=$` + itoa(len(args))
	}
	query += ` order by created_at desc`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` limit $` + itoa(len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*AuditLogEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *pgAudit) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from audit_logs where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgAudit) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `select count(*) from audit_logs`).Scan(&n)
	return n, err
}

func (s *pgAudit) CountSince(ctx context.Context, action Action, status Status, since time.Time) (int64, error) {
	query := `select count(*) from audit_logs where created_at >= $1`
	args := []any{since}
	if action != "" {
		args = append(args, action)
		query += ` and action=$` + itoa(len(args))
	}
	if status != "" {
		args = append(args, status)
		query += ` and status=$` + itoa(len(args))
	}
	var n int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (s *pgAudit) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from audit_logs where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Rate limit store ----------------------------------------------------------
type pgLimits struct{ db *sql.DB }

func (s *pgLimits) Hit(ctx context.Context, key string, windowStart, expiresAt time.Time) (int64, time.Time, error) {
	// The expired/live decision and the increment happen inside one upsert,
	// so concurrent hits within a window never lose counts and a stale row
	// is reset rather than reused.
	var (
		count   int64
		resetAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`insert into rate_limits(key, count, window_started_at, expires_at)
		 values($1, 1, $2, $3)
		 on conflict (key) do update set
		   count = case when rate_limits.expires_at <= $2 then 1 else rate_limits.count + 1 end,
		   window_started_at = case when rate_limits.expires_at <= $2 then $2 else rate_limits.window_started_at end,
		   expires_at = case when rate_limits.expires_at <= $2 then $3 else rate_limits.expires_at end
		 returning count, expires_at`,
		key, windowStart, expiresAt,
	).Scan(&count, &resetAt)
	if err != nil {
		return 0, time.Time{}, err
	}
	return count, resetAt, nil
}

func (s *pgLimits) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from rate_limits where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Helpers -------------------------------------------------------------------

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
