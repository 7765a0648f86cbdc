package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, now: time.Now}
}

// SetClock overrides the expiry clock (useful for tests).
func (s *PGStore) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

func (s *PGStore) Accounts() AccountStore { return &pgAccounts{db: s.db} }
func (s *PGStore) VerificationTokens() VerificationTokenStore {
	return &pgVerifications{db: s.db, now: s.now}
}
func (s *PGStore) RefreshTokens() RefreshTokenStore { return &pgRefresh{db: s.db} }
func (s *PGStore) Audit() AuditStore                { return &pgAudit{db: s.db} }

const pgUniqueViolation = "23505"

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case "accounts_handle_key":
			return ErrHandleTaken
		case "accounts_email_key":
			return ErrEmailInUse
		}
	}
	return err
}

// Account store -------------------------------------------------------------

type pgAccounts struct{ db *sql.DB }

const accountColumns = `id, handle, email, password_hash, role, enabled, locked, failed_logins, created_at, updated_at`

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Handle, &a.Email, &a.PasswordHash, &a.Role,
		&a.Enabled, &a.Locked, &a.FailedLogins, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *pgAccounts) Create(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx,
		`insert into accounts(id, handle, email, password_hash, role, enabled, locked, failed_logins, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.Handle, a.Email, a.PasswordHash, a.Role,
		a.Enabled, a.Locked, a.FailedLogins, a.CreatedAt, a.UpdatedAt,
	)
	return mapUniqueViolation(err)
}

func (s *pgAccounts) Find(ctx context.Context, id string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id))
}

func (s *pgAccounts) FindByHandle(ctx context.Context, handle string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where handle=$1`, handle))
}

func (s *pgAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=$1`, email))
}

func (s *pgAccounts) Save(ctx context.Context, a *Account) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set handle=$2, email=$3, password_hash=$4, role=$5, enabled=$6, updated_at=$7
		 where id=$1`,
		a.ID, a.Handle, a.Email, a.PasswordHash, a.Role, a.Enabled, a.UpdatedAt,
	)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return requireRow(res)
}

func (s *pgAccounts) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from accounts where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgAccounts) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`update accounts set failed_logins = failed_logins + 1, updated_at = now()
		 where id=$1 returning failed_logins`, id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

func (s *pgAccounts) ResetFailedLogins(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set failed_logins = 0, updated_at = now() where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgAccounts) SetLocked(ctx context.Context, id string, locked bool) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set locked=$2,
		        failed_logins = case when $2 then failed_logins else 0 end,
		        updated_at = now()
		 where id=$1`, id, locked)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Verification token store ---------------------------------------------------

type pgVerifications struct {
	db  *sql.DB
	now func() time.Time
}

func (s *pgVerifications) Create(ctx context.Context, t *VerificationToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into verification_tokens(value, account_id, purpose, expires_at, created_at)
		 values($1,$2,$3,$4,$5)`,
		t.Value, t.AccountID, t.Purpose, t.ExpiresAt, t.CreatedAt,
	)
	return err
}

func (s *pgVerifications) Consume(ctx context.Context, value string, purpose Purpose) (*VerificationToken, error) {
	// Delete-returning makes consumption atomic: of two concurrent calls
	// only one sees the row.
	var t VerificationToken
	err := s.db.QueryRowContext(ctx,
		`delete from verification_tokens where value=$1 and purpose=$2
		 returning value, account_id, purpose, expires_at, created_at`,
		value, purpose,
	).Scan(&t.Value, &t.AccountID, &t.Purpose, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if t.Expired(s.now().UTC()) {
		return &t, ErrTokenExpired
	}
	return &t, nil
}

func (s *pgVerifications) DeleteByAccount(ctx context.Context, accountID string, purpose Purpose) error {
	_, err := s.db.ExecContext(ctx,
		`delete from verification_tokens where account_id=$1 and purpose=$2`,
		accountID, purpose,
	)
	return err
}

// Refresh token store --------------------------------------------------------

type pgRefresh struct{ db *sql.DB }

func (s *pgRefresh) Create(ctx context.Context, t *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, account_id, token, expires_at, revoked, created_at)
		 values($1,$2,$3,$4,$5,$6)`,
		t.ID, t.AccountID, t.Token, t.ExpiresAt, t.Revoked, t.CreatedAt,
	)
	return err
}

func (s *pgRefresh) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	var t RefreshToken
	err := s.db.QueryRowContext(ctx,
		`select id, account_id, token, expires_at, revoked, created_at
		 from refresh_tokens where token=$1`, token,
	).Scan(&t.ID, &t.AccountID, &t.Token, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *pgRefresh) Rotate(ctx context.Context, id, oldToken, newToken string, expiresAt time.Time) error {
	// Conditional on the current value: of two concurrent rotations only
	// one matches oldToken and wins.
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set token=$3, expires_at=$4
		 where id=$1 and token=$2 and not revoked`,
		id, oldToken, newToken, expiresAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidRefreshToken
	}
	return nil
}

func (s *pgRefresh) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *pgRefresh) DeleteByAccount(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where account_id=$1`, accountID)
	return err
}

// Audit store ----------------------------------------------------------------

type pgAudit struct{ db *sql.DB }

func (s *pgAudit) Append(ctx context.Context, e *AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, account_id, action, ip, detail, occurred_at)
		 values($1,$2,$3,$4,$5,$6)`,
		e.ID, e.AccountID, e.Action, nullable(e.IP), e.Detail, e.OccurredAt,
	)
	return err
}

// helpers --------------------------------------------------------------------

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
