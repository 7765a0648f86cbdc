package identity

import (
	"context"
	"time"
)

// Store describes persistence required by the identity and session services.
type Store interface {
	Accounts() AccountStore
	VerificationTokens() VerificationTokenStore
	RefreshTokens() RefreshTokenStore
	Audit() AuditStore
}

// AccountStore manages account records.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByHandle(ctx context.Context, handle string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// Save persists the account's identity fields: handle, email, password
	// hash, role and the enabled flag. The failed-login counter and the
	// locked flag are owned by the atomic operations below, so a stale
	// snapshot passed to Save can never roll them back.
	Save(ctx context.Context, a *Account) error

	Delete(ctx context.Context, id string) error

	// IncrementFailedLogins atomically bumps the failed-login counter and
	// returns the new value. The increment must be serialized at the store
	// so two concurrent failures cannot both observe the pre-threshold count.
	IncrementFailedLogins(ctx context.Context, id string) (int, error)

	// ResetFailedLogins zeroes the counter.
	ResetFailedLogins(ctx context.Context, id string) error

	// SetLocked flips the locked flag and, when unlocking, zeroes the
	// failed-login counter.
	SetLocked(ctx context.Context, id string, locked bool) error
}

// VerificationTokenStore manages single-use, time-bound opaque tokens.
type VerificationTokenStore interface {
	Create(ctx context.Context, t *VerificationToken) error

	// Consume removes the token and returns it. Unknown values, and values
	// bound to a different purpose, fail with ErrTokenNotFound; a purpose
	// mismatch does not consume the token. A token past its expiry is also
	// removed, and both the token and ErrTokenExpired are returned so the
	// caller can apply purpose-specific expiry side effects. Removal is
	// atomic: a second Consume of the same value observes ErrTokenNotFound.
	Consume(ctx context.Context, value string, purpose Purpose) (*VerificationToken, error)

	// DeleteByAccount purges all tokens of one purpose bound to an account.
	DeleteByAccount(ctx context.Context, accountID string, purpose Purpose) error
}

// RefreshTokenStore manages revocable session records.
type RefreshTokenStore interface {
	Create(ctx context.Context, t *RefreshToken) error
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)

	// Rotate overwrites the record's token and expiry in place, conditional
	// on the current token still being oldToken. When a concurrent rotation
	// already won, Rotate fails with ErrInvalidRefreshToken.
	Rotate(ctx context.Context, id, oldToken, newToken string, expiresAt time.Time) error

	// Revoke marks the record revoked. Revoking an already revoked record
	// is a no-op.
	Revoke(ctx context.Context, id string) error

	DeleteByAccount(ctx context.Context, accountID string) error
}

// AuditStore appends immutable entries.
type AuditStore interface {
	Append(ctx context.Context, e *AuditEntry) error
}
