package pg

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"mediboard.org/internal/auth"
)

//go:embed schema.sql
var schemaSQL string

// queryTimeout bounds every repository call so a database outage surfaces as
// Unavailable instead of burning login attempts.
const queryTimeout = 2 * time.Second

// Store implements the principal repository, the revocation set, and the
// patient directory on Postgres through database/sql with the pgx driver.
type Store struct {
	db          *sql.DB
	maxAttempts int
	lockout     time.Duration
}

var (
	_ auth.PrincipalStore   = (*Store)(nil)
	_ auth.RevocationStore  = (*Store)(nil)
	_ auth.PatientDirectory = (*Store)(nil)
)

// Option configures the store.
type Option func(*Store)

// WithMaxLoginAttempts overrides the failure count that triggers a lock.
func WithMaxLoginAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithLockoutDuration overrides the lockout window.
func WithLockoutDuration(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockout = d
		}
	}
}

// Open connects to Postgres and tunes the pool.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db, opts...), nil
}

// NewStore wraps an existing handle; tests pass a sqlmock connection here.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		maxAttempts: auth.DefaultMaxLoginAttempts,
		lockout:     auth.DefaultLockoutDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// EnsureSchema applies the embedded DDL. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

const principalColumns = `id, kind, role, display_name, primary_email, login_email, login_username,
	password_hash, active, tenant_id, pharmacy_id, login_attempts, lock_until, last_login,
	assigned_patient_ids, created_at, updated_at`

// FindByLogin matches the identifier against the clinic admin email, the
// clinic admin username, and every kind's primary email. Clinic records win
// on collision.
func (s *Store) FindByLogin(ctx context.Context, identifier string) (*auth.Principal, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		select `+principalColumns+`
		from principals
		where lower(login_email) = lower($1)
		   or lower(login_username) = lower($1)
		   or lower(primary_email) = lower($1)
		order by case kind when 'clinic' then 0 when 'doctor' then 1 when 'nurse' then 2 else 3 end
		limit 1
	`, identifier)
	return scanPrincipal(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.Principal, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		select `+principalColumns+`
		from principals
		where id = $1
	`, id)
	return scanPrincipal(row)
}

// IncrementLoginAttempts is a single conditional update: an expired lock
// resets the counter to one, otherwise the counter grows and crossing the
// maximum sets the lock. Evaluating the CASE expressions against the old row
// keeps concurrent failures correctly counted.
func (s *Store) IncrementLoginAttempts(ctx context.Context, id string, now time.Time) (int, *time.Time, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	lockAt := now.Add(s.lockout)
	row := s.db.QueryRowContext(ctx, `
		update principals set
			login_attempts = case
				when lock_until is not null and lock_until <= $2 then 1
				else login_attempts + 1
			end,
			lock_until = case
				when lock_until is not null and lock_until <= $2 then null
				when lock_until is null and login_attempts + 1 >= $3 then $4
				else lock_until
			end,
			updated_at = $2
		where id = $1
		returning login_attempts, lock_until
	`, id, now.UTC(), s.maxAttempts, lockAt.UTC())

	var attempts int
	var lockUntil sql.NullTime
	if err := row.Scan(&attempts, &lockUntil); err != nil {
		return 0, nil, mapError(err)
	}
	var until *time.Time
	if lockUntil.Valid {
		u := lockUntil.Time
		until = &u
	}
	return attempts, until, nil
}

func (s *Store) ResetLoginAttempts(ctx context.Context, id string, now time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		update principals
		set login_attempts = 0, lock_until = null, last_login = $2, updated_at = $2
		where id = $1
	`, id, now.UTC())
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func (s *Store) RewritePassword(ctx context.Context, id, newHash string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		update principals
		set password_hash = $2, updated_at = now()
		where id = $1
	`, id, newHash)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func (s *Store) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		insert into revoked_tokens (jti, expires_at)
		values ($1, $2)
		on conflict (jti) do nothing
	`, jti, expiresAt.UTC())
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from revoked_tokens where jti = $1)
	`, jti).Scan(&revoked)
	if err != nil {
		return false, mapError(err)
	}
	return revoked, nil
}

func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		delete from revoked_tokens where expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (s *Store) Patient(ctx context.Context, id string) (*auth.PatientRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		select id, tenant_id, display_name, assigned_doctor_ids, pharmacy_id
		from patients
		where id = $1
	`, id)
	return scanPatient(row)
}

func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]auth.PatientRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		select id, tenant_id, display_name, assigned_doctor_ids, pharmacy_id
		from patients
		where tenant_id = $1
		order by id
	`, tenantID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []auth.PatientRecord
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*auth.Principal, error) {
	var (
		p           auth.Principal
		lockUntil   sql.NullTime
		lastLogin   sql.NullTime
		assignedRaw []byte
	)
	err := row.Scan(
		&p.ID, &p.Kind, &p.Role, &p.DisplayName, &p.PrimaryEmail,
		&p.LoginEmail, &p.LoginUsername, &p.PasswordHash, &p.Active,
		&p.TenantID, &p.PharmacyID, &p.LoginAttempts, &lockUntil, &lastLogin,
		&assignedRaw, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if lockUntil.Valid {
		u := lockUntil.Time
		p.LockUntil = &u
	}
	if lastLogin.Valid {
		l := lastLogin.Time
		p.LastLogin = &l
	}
	if len(assignedRaw) > 0 {
		if err := json.Unmarshal(assignedRaw, &p.AssignedPatientIDs); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func scanPatient(row rowScanner) (*auth.PatientRecord, error) {
	var (
		p           auth.PatientRecord
		assignedRaw []byte
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.DisplayName, &assignedRaw, &p.PharmacyID)
	if err != nil {
		return nil, mapError(err)
	}
	if len(assignedRaw) > 0 {
		if err := json.Unmarshal(assignedRaw, &p.AssignedDoctorIDs); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return auth.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return auth.ErrUnavailable
	default:
		return err
	}
}
