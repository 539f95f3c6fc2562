package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository         = (*PostgresUserRepo)(nil)
	_ OrganizationRepository = (*PostgresOrganizationRepo)(nil)
	_ SubmissionRepository   = (*PostgresSubmissionRepo)(nil)
	_ KeyRepository          = (*PostgresKeyRepo)(nil)
)

// PostgreSQL error codes mapped onto domain errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgUndefinedTable      = "42P01"
	pgUndefinedColumn     = "42703"
)

// mapPgError translates driver errors into domain errors while keeping the
// original error in the chain.
func mapPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrDuplicateID, err)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrInvalidOrganization, err)
		case pgUndefinedTable, pgUndefinedColumn:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrMissingIndex, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// NewPostgresStore bundles the PostgreSQL repositories sharing one pool.
func NewPostgresStore(db *pgxpool.Pool) Store {
	return Store{
		Users:         NewPostgresUserRepo(db),
		Organizations: NewPostgresOrganizationRepo(db),
		Submissions:   NewPostgresSubmissionRepo(db),
		Keys:          NewPostgresKeyRepo(db),
		Schema:        NewPostgresMigrator(db),
	}
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(db *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, password_hash, university, faculty, department, org_code, registered_at, timezone, status, password_reset_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u       domain.User
		status  string
		resetAt *time.Time
	)
	if err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Affiliation.University,
		&u.Affiliation.Faculty,
		&u.Affiliation.Department,
		&u.OrgCode,
		&u.RegisteredAt,
		&u.Timezone,
		&status,
		&resetAt,
	); err != nil {
		return domain.User{}, err
	}
	u.Status = domain.Status(status)
	u.RegisteredAt = u.RegisteredAt.UTC()
	if resetAt != nil {
		t := resetAt.UTC()
		u.PasswordResetAt = &t
	}
	return u, nil
}

func (r *PostgresUserRepo) Get(ctx context.Context, id string) (domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.User{}, mapPgError("get user", err)
	}
	return u, nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	const query = `
INSERT INTO users (` + userColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + userColumns

	created, err := scanUser(r.db.QueryRow(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Affiliation.University,
		user.Affiliation.Faculty,
		user.Affiliation.Department,
		user.OrgCode,
		user.RegisteredAt.UTC(),
		user.Timezone,
		string(user.Status),
		user.PasswordResetAt,
	))
	if err != nil {
		return domain.User{}, mapPgError("create user", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	const query = `UPDATE users SET status = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, string(status))
	if err != nil {
		return mapPgError("update user status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user status: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *PostgresUserRepo) UpdateStatuses(ctx context.Context, updates []StatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	const query = `
UPDATE users AS u SET status = v.status
FROM unnest($1::text[], $2::text[]) AS v(id, status)
WHERE u.id = v.id`

	ids := make([]string, 0, len(updates))
	statuses := make([]string, 0, len(updates))
	for _, up := range updates {
		ids = append(ids, up.UserID)
		statuses = append(statuses, string(up.Status))
	}
	if _, err := r.db.Exec(ctx, query, ids, statuses); err != nil {
		return mapPgError("update user statuses", err)
	}
	return nil
}

func (r *PostgresUserRepo) ListByOrg(ctx context.Context, orgCode string) ([]domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE org_code = $1 ORDER BY registered_at, id`
	rows, err := r.db.Query(ctx, query, orgCode)
	if err != nil {
		return nil, mapPgError("list users", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapPgError("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("list users", err)
	}
	return users, nil
}

func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	const query = `UPDATE users SET password_hash = $2, password_reset_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, passwordHash, at.UTC())
	if err != nil {
		return mapPgError("update user password", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user password: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *PostgresUserRepo) UpdateTimezone(ctx context.Context, id, timezone string) error {
	const query = `UPDATE users SET timezone = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, timezone)
	if err != nil {
		return mapPgError("update user timezone", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user timezone: %w", domain.ErrNotFound)
	}
	return nil
}

// PostgresOrganizationRepo implements OrganizationRepository.
type PostgresOrganizationRepo struct {
	db *pgxpool.Pool
}

func NewPostgresOrganizationRepo(db *pgxpool.Pool) *PostgresOrganizationRepo {
	return &PostgresOrganizationRepo{db: db}
}

const orgColumns = `code, org_name, password_hash, timezone, full_dashboard, universities, created_at`

func scanOrganization(row pgx.Row) (domain.Organization, error) {
	var (
		org     domain.Organization
		catalog []byte
	)
	if err := row.Scan(
		&org.Code,
		&org.Name,
		&org.PasswordHash,
		&org.Timezone,
		&org.FullDashboard,
		&catalog,
		&org.CreatedAt,
	); err != nil {
		return domain.Organization{}, err
	}
	if len(catalog) > 0 {
		if err := json.Unmarshal(catalog, &org.Universities); err != nil {
			return domain.Organization{}, fmt.Errorf("decode universities: %w", err)
		}
	}
	return org, nil
}

func (r *PostgresOrganizationRepo) Get(ctx context.Context, code string) (domain.Organization, error) {
	const query = `SELECT ` + orgColumns + ` FROM organizations WHERE code = $1`
	org, err := scanOrganization(r.db.QueryRow(ctx, query, code))
	if err != nil {
		return domain.Organization{}, mapPgError("get organization", err)
	}
	return org, nil
}

func (r *PostgresOrganizationRepo) Create(ctx context.Context, org domain.Organization) (domain.Organization, error) {
	const query = `
INSERT INTO organizations (` + orgColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + orgColumns

	catalog, err := json.Marshal(org.Universities)
	if err != nil {
		return domain.Organization{}, fmt.Errorf("encode universities: %w", err)
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	created, err := scanOrganization(r.db.QueryRow(ctx, query,
		org.Code,
		org.Name,
		org.PasswordHash,
		org.Timezone,
		org.FullDashboard,
		catalog,
		org.CreatedAt,
	))
	if err != nil {
		return domain.Organization{}, mapPgError("create organization", err)
	}
	return created, nil
}

// PostgresSubmissionRepo implements SubmissionRepository.
type PostgresSubmissionRepo struct {
	db *pgxpool.Pool
}

func NewPostgresSubmissionRepo(db *pgxpool.Pool) *PostgresSubmissionRepo {
	return &PostgresSubmissionRepo{db: db}
}

const submissionColumns = `id, user_id, text, feedback, submit_time, university, faculty, department, org_code, timezone, scan_key`

func scanSubmission(row pgx.Row) (domain.Submission, error) {
	var s domain.Submission
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Text,
		&s.Feedback,
		&s.SubmitTime,
		&s.Affiliation.University,
		&s.Affiliation.Faculty,
		&s.Affiliation.Department,
		&s.OrgCode,
		&s.Timezone,
		&s.ScanKey,
	); err != nil {
		return domain.Submission{}, err
	}
	s.SubmitTime = s.SubmitTime.UTC()
	return s, nil
}

func (r *PostgresSubmissionRepo) Append(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	const query = `
INSERT INTO submissions (` + submissionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + submissionColumns

	created, err := scanSubmission(r.db.QueryRow(ctx, query,
		sub.ID,
		sub.UserID,
		sub.Text,
		sub.Feedback,
		sub.SubmitTime.UTC(),
		sub.Affiliation.University,
		sub.Affiliation.Faculty,
		sub.Affiliation.Department,
		sub.OrgCode,
		sub.Timezone,
		sub.ScanKey,
	))
	if err != nil {
		return domain.Submission{}, mapPgError("append submission", err)
	}
	return created, nil
}

func (r *PostgresSubmissionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Submission, error) {
	const query = `SELECT ` + submissionColumns + ` FROM submissions WHERE user_id = $1 ORDER BY submit_time DESC, id DESC LIMIT $2`
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, "list user submissions", query, userID, limit)
}

func (r *PostgresSubmissionRepo) ListByOrgBetween(ctx context.Context, orgCode string, from, to time.Time) ([]domain.Submission, error) {
	const query = `SELECT ` + submissionColumns + ` FROM submissions WHERE org_code = $1 AND submit_time >= $2 AND submit_time < $3 ORDER BY submit_time`
	return r.list(ctx, "list org submissions", query, orgCode, from.UTC(), to.UTC())
}

func (r *PostgresSubmissionRepo) CountByOrg(ctx context.Context, orgCode string) (map[string]int, error) {
	const query = `SELECT user_id, count(*) FROM submissions WHERE org_code = $1 GROUP BY user_id`
	rows, err := r.db.Query(ctx, query, orgCode)
	if err != nil {
		return nil, mapPgError("count org submissions", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			userID string
			n      int64
		)
		if err := rows.Scan(&userID, &n); err != nil {
			return nil, mapPgError("count org submissions", err)
		}
		counts[userID] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("count org submissions", err)
	}
	return counts, nil
}

func (r *PostgresSubmissionRepo) list(ctx context.Context, op, query string, args ...any) ([]domain.Submission, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(op, err)
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, mapPgError(op, err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(op, err)
	}
	return subs, nil
}

// PostgresKeyRepo implements KeyRepository.
type PostgresKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresKeyRepo(db *pgxpool.Pool) *PostgresKeyRepo {
	return &PostgresKeyRepo{db: db}
}

func (r *PostgresKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	const query = `SELECT kid, secret, algorithm, is_active, created_at FROM signing_keys WHERE is_active ORDER BY created_at DESC LIMIT 1`
	var key domain.SigningKey
	if err := r.db.QueryRow(ctx, query).Scan(&key.KID, &key.Secret, &key.Algorithm, &key.Active, &key.CreatedAt); err != nil {
		return domain.SigningKey{}, mapPgError("get active key", err)
	}
	return key, nil
}

func (r *PostgresKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	const query = `
INSERT INTO signing_keys (kid, secret, algorithm, is_active, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING kid, secret, algorithm, is_active, created_at`

	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	var created domain.SigningKey
	if err := r.db.QueryRow(ctx, query, key.KID, key.Secret, key.Algorithm, key.Active, key.CreatedAt).
		Scan(&created.KID, &created.Secret, &created.Algorithm, &created.Active, &created.CreatedAt); err != nil {
		return domain.SigningKey{}, mapPgError("create key", err)
	}
	return created, nil
}
