package identity

import "errors"

// Domain failures are sentinel errors so callers can pattern-match with
// errors.Is instead of inspecting strings. Unknown handle and wrong password
// map to the same ErrInvalidCredentials on purpose: login must not reveal
// whether a handle exists.
var (
	ErrInvalidInput        = errors.New("identity: invalid input")
	ErrInvalidCredentials  = errors.New("identity: invalid credentials")
	ErrNotConfirmed        = errors.New("identity: account not confirmed")
	ErrLocked              = errors.New("identity: account locked")
	ErrHandleTaken         = errors.New("identity: handle already exists")
	ErrEmailInUse          = errors.New("identity: email already in use")
	ErrNotFound            = errors.New("identity: not found")
	ErrTokenNotFound       = errors.New("identity: verification token not found")
	ErrTokenExpired        = errors.New("identity: verification token expired")
	ErrInvalidRefreshToken = errors.New("identity: refresh token not found")
	ErrRefreshExpired      = errors.New("identity: refresh token invalid or expired")
)
