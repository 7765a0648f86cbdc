package identity

import "time"

// Account is the durable identity record. A freshly registered account is
// disabled until its confirmation token is consumed; a locked account stays
// locked until an unlock token is consumed.
type Account struct {
	ID           string
	Handle       string
	Email        string
	PasswordHash string
	Role         string
	Enabled      bool
	Locked       bool
	FailedLogins int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Purpose tags a verification token with the single workflow it may complete.
type Purpose string

const (
	PurposeConfirm Purpose = "confirm"
	PurposeUnlock  Purpose = "unlock"
	PurposeReset   Purpose = "reset"
)

// VerificationToken is a single-use, time-bound opaque secret delivered
// out-of-band. Consuming it, successfully or on expiry detection, removes it.
type VerificationToken struct {
	Value     string
	AccountID string
	Purpose   Purpose
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *VerificationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// RefreshToken is a persisted, revocable session credential. Rotation
// overwrites Token and ExpiresAt in place, so one record tracks one login
// session lineage.
type RefreshToken struct {
	ID        string
	AccountID string
	Token     string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Usable reports whether the token may still mint new access tokens.
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// AuditEntry is one append-only row per mutating operation. IP is empty when
// the operation was not attributable to a remote caller.
type AuditEntry struct {
	ID         string
	AccountID  string
	Action     string
	IP         string
	Detail     string
	OccurredAt time.Time
}

// Audit action tags.
const (
	ActionRegister       = "REGISTER"
	ActionConfirm        = "CONFIRM"
	ActionLoginFail      = "LOGIN_FAIL"
	ActionLock           = "LOCK"
	ActionUnlockRequest  = "UNLOCK_REQUEST"
	ActionUnlock         = "UNLOCK"
	ActionEmailUpdate    = "EMAIL_UPDATE"
	ActionPasswordReset  = "PASSWORD_RESET"
	ActionTokenIssued    = "TOKEN_ISSUED"
	ActionTokenRefreshed = "TOKEN_REFRESHED"
	ActionLogout         = "LOGOUT"
	ActionDelete         = "DELETE"
)

// TokenPair is the success payload of login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}
