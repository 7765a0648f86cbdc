// Package identity implements the account and session lifecycle core:
// credential verification, bearer token issuance and rotation, the
// failed-login lockout state machine, and the single-use verification token
// workflows for confirmation, unlock and password reset.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"identra.org/internal/ids"
	"identra.org/internal/obs"
)

const (
	defaultConfirmTTL = 24 * time.Hour
	defaultUnlockTTL  = 24 * time.Hour
	defaultResetTTL   = 30 * time.Minute

	defaultRole = "customer"
)

// Service orchestrates registration, confirmation, lockout, unlock, email
// change, password reset and deletion over the Store, the Hasher and the
// Notifier.
type Service struct {
	store    Store
	hasher   Hasher
	notifier Notifier
	lockout  LockoutPolicy
	baseURL  string

	confirmTTL time.Duration
	unlockTTL  time.Duration
	resetTTL   time.Duration

	now func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithHasher overrides the password hasher.
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithNotifier sets the outbound notification sink.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLockoutPolicy overrides the lockout threshold policy.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) { s.lockout = p }
}

// WithBaseURL sets the public URL embedded in confirmation and reset links.
func WithBaseURL(u string) ServiceOption {
	return func(s *Service) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			s.baseURL = u
		}
	}
}

// WithConfirmTTL configures the confirmation token lifetime.
func WithConfirmTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.confirmTTL = ttl
		}
	}
}

// WithUnlockTTL configures the unlock token lifetime.
func WithUnlockTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.unlockTTL = ttl
		}
	}
}

// WithResetTTL configures the password-reset token lifetime.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the identity service with optional configuration.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		hasher:     NewBcryptHasher(0),
		notifier:   NopNotifier{},
		lockout:    NewLockoutPolicy(0),
		baseURL:    "http://localhost:8080",
		confirmTTL: defaultConfirmTTL,
		unlockTTL:  defaultUnlockTTL,
		resetTTL:   defaultResetTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hasher exposes the configured password hasher to the session layer.
func (s *Service) Hasher() Hasher { return s.hasher }

// FindByHandle looks up an account by handle.
func (s *Service) FindByHandle(ctx context.Context, handle string) (*Account, error) {
	return s.store.Accounts().FindByHandle(ctx, strings.TrimSpace(handle))
}

// Register creates a disabled account, issues a confirmation token and sends
// the confirmation notification. The handle must be unused.
func (s *Service) Register(ctx context.Context, handle, password, email, role, ip string) (*Account, error) {
	handle = strings.TrimSpace(handle)
	email = strings.TrimSpace(strings.ToLower(email))
	if handle == "" || password == "" || email == "" {
		return nil, fmt.Errorf("%w: handle, password and email are required", ErrInvalidInput)
	}
	if role = strings.TrimSpace(role); role == "" {
		role = defaultRole
	}

	if _, err := s.store.Accounts().FindByHandle(ctx, handle); err == nil {
		return nil, ErrHandleTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	account := &Account{
		ID:           ids.New(),
		Handle:       handle,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Enabled:      false,
		Locked:       false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Accounts().Create(ctx, account); err != nil {
		return nil, err
	}

	value, err := s.issueVerification(ctx, account.ID, PurposeConfirm, s.confirmTTL)
	if err != nil {
		return nil, err
	}

	link := s.baseURL + "/v1/auth/confirm?token=" + value
	body := fmt.Sprintf("Thanks for registering. Confirm your account within %s: %s",
		s.confirmTTL, link)
	if err := s.notifier.Send(ctx, account.Email, "Confirm your account", body); err != nil {
		return nil, err
	}

	if err := s.audit(ctx, account.ID, ActionRegister, ip, "registration initiated"); err != nil {
		return nil, err
	}
	return account, nil
}

// ConfirmRegistration consumes a confirmation token and enables its account.
// An expired token erases both the token and the still-unconfirmed account,
// freeing the handle and email for re-registration.
func (s *Service) ConfirmRegistration(ctx context.Context, value string) error {
	tok, err := s.store.VerificationTokens().Consume(ctx, value, PurposeConfirm)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) && tok != nil {
			if delErr := s.store.Accounts().Delete(ctx, tok.AccountID); delErr != nil && !errors.Is(delErr, ErrNotFound) {
				return delErr
			}
		}
		return err
	}

	account, err := s.store.Accounts().Find(ctx, tok.AccountID)
	if err != nil {
		return err
	}
	account.Enabled = true
	account.UpdatedAt = s.now().UTC()
	if err := s.store.Accounts().Save(ctx, account); err != nil {
		return err
	}
	return s.audit(ctx, account.ID, ActionConfirm, "", "account confirmed")
}

// RegisterFailedLogin bumps the account's failed-login counter atomically at
// the store and locks the account once the policy threshold is met. The
// passed account is updated to reflect the new state.
func (s *Service) RegisterFailedLogin(ctx context.Context, account *Account, ip string) error {
	count, err := s.store.Accounts().IncrementFailedLogins(ctx, account.ID)
	if err != nil {
		return err
	}
	account.FailedLogins = count

	if !s.lockout.ShouldLock(count) {
		return s.audit(ctx, account.ID, ActionLoginFail, ip, "failed login attempt")
	}

	if err := s.store.Accounts().SetLocked(ctx, account.ID, true); err != nil {
		return err
	}
	account.Locked = true
	obs.ObserveLockout()

	body := "Your account is locked after repeated failed login attempts. " +
		"Request an unlock link to restore access."
	if err := s.notifier.Send(ctx, account.Email, "Account locked", body); err != nil {
		return err
	}
	return s.audit(ctx, account.ID, ActionLock, ip, "locked after failed attempts")
}

// ResetFailedAttempts zeroes the counter after a verified password match.
func (s *Service) ResetFailedAttempts(ctx context.Context, account *Account) error {
	if err := s.store.Accounts().ResetFailedLogins(ctx, account.ID); err != nil {
		return err
	}
	account.FailedLogins = 0
	return nil
}

// SendUnlockToken issues an unlock token and notification for a locked
// account. Unknown handles and accounts that are not locked are silent
// no-ops so the endpoint cannot be used to enumerate handles.
func (s *Service) SendUnlockToken(ctx context.Context, handle string) error {
	account, err := s.store.Accounts().FindByHandle(ctx, strings.TrimSpace(handle))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !account.Locked {
		return nil
	}

	value, err := s.issueVerification(ctx, account.ID, PurposeUnlock, s.unlockTTL)
	if err != nil {
		return err
	}

	link := s.baseURL + "/v1/auth/unlock/confirm?token=" + value
	body := "Your account is locked after failed login attempts. Unlock it here: " + link
	if err := s.notifier.Send(ctx, account.Email, "Unlock your account", body); err != nil {
		return err
	}
	return s.audit(ctx, account.ID, ActionUnlockRequest, "", "unlock link requested")
}

// ConfirmUnlock consumes an unlock token, clears the lock and zeroes the
// failed-login counter. An expired token is purged; the account is untouched.
func (s *Service) ConfirmUnlock(ctx context.Context, value string) error {
	tok, err := s.store.VerificationTokens().Consume(ctx, value, PurposeUnlock)
	if err != nil {
		return err
	}
	if err := s.store.Accounts().SetLocked(ctx, tok.AccountID, false); err != nil {
		return err
	}
	return s.audit(ctx, tok.AccountID, ActionUnlock, "", "account unlocked")
}

// UpdateEmail changes the account's email and disables the account until the
// new address is confirmed through a fresh confirmation token.
func (s *Service) UpdateEmail(ctx context.Context, handle, newEmail string) error {
	newEmail = strings.TrimSpace(strings.ToLower(newEmail))
	if newEmail == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	account, err := s.store.Accounts().FindByHandle(ctx, strings.TrimSpace(handle))
	if err != nil {
		return err
	}

	if existing, err := s.store.Accounts().FindByEmail(ctx, newEmail); err == nil {
		if existing.ID != account.ID {
			return ErrEmailInUse
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	account.Email = newEmail
	account.Enabled = false
	account.UpdatedAt = s.now().UTC()
	if err := s.store.Accounts().Save(ctx, account); err != nil {
		return err
	}

	value, err := s.issueVerification(ctx, account.ID, PurposeConfirm, s.confirmTTL)
	if err != nil {
		return err
	}

	link := s.baseURL + "/v1/auth/confirm?token=" + value
	body := "Your email has been updated. Confirm the new address: " + link
	if err := s.notifier.Send(ctx, newEmail, "Confirm new email", body); err != nil {
		return err
	}
	return s.audit(ctx, account.ID, ActionEmailUpdate, "", "email updated, reconfirmation required")
}

// SendPasswordResetLink issues a short-lived reset token for the account
// registered under the email. Any earlier reset tokens for the account are
// purged first, so only the newest link works.
func (s *Service) SendPasswordResetLink(ctx context.Context, email string) error {
	account, err := s.store.Accounts().FindByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		return err
	}

	if err := s.store.VerificationTokens().DeleteByAccount(ctx, account.ID, PurposeReset); err != nil {
		return err
	}

	value, err := s.issueVerification(ctx, account.ID, PurposeReset, s.resetTTL)
	if err != nil {
		return err
	}

	link := s.baseURL + "/v1/auth/password/reset?token=" + value
	body := "Reset your password within " + s.resetTTL.String() + ": " + link
	return s.notifier.Send(ctx, account.Email, "Password reset instructions", body)
}

// ResetPassword consumes a reset token and replaces the password hash. The
// enabled and locked flags are deliberately untouched: a locked account can
// reset its password, but the lock still blocks login afterwards.
func (s *Service) ResetPassword(ctx context.Context, value, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	tok, err := s.store.VerificationTokens().Consume(ctx, value, PurposeReset)
	if err != nil {
		return err
	}

	account, err := s.store.Accounts().Find(ctx, tok.AccountID)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	account.PasswordHash = hash
	account.UpdatedAt = s.now().UTC()
	if err := s.store.Accounts().Save(ctx, account); err != nil {
		return err
	}
	return s.audit(ctx, account.ID, ActionPasswordReset, "", "password reset via token")
}

// DeleteAccount hard-deletes the account and its session and verification
// tokens. Deleting an unknown handle is a no-op.
func (s *Service) DeleteAccount(ctx context.Context, handle string) error {
	account, err := s.store.Accounts().FindByHandle(ctx, strings.TrimSpace(handle))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.store.RefreshTokens().DeleteByAccount(ctx, account.ID); err != nil {
		return err
	}
	for _, p := range []Purpose{PurposeConfirm, PurposeUnlock, PurposeReset} {
		if err := s.store.VerificationTokens().DeleteByAccount(ctx, account.ID, p); err != nil {
			return err
		}
	}
	if err := s.store.Accounts().Delete(ctx, account.ID); err != nil {
		return err
	}
	return s.audit(ctx, account.ID, ActionDelete, "", "account deleted")
}

func (s *Service) issueVerification(ctx context.Context, accountID string, purpose Purpose, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	tok := &VerificationToken{
		Value:     uuid.NewString(),
		AccountID: accountID,
		Purpose:   purpose,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := s.store.VerificationTokens().Create(ctx, tok); err != nil {
		return "", err
	}
	return tok.Value, nil
}

func (s *Service) audit(ctx context.Context, accountID, action, ip, detail string) error {
	return s.store.Audit().Append(ctx, &AuditEntry{
		ID:         ids.New(),
		AccountID:  accountID,
		Action:     action,
		IP:         ip,
		Detail:     detail,
		OccurredAt: s.now().UTC(),
	})
}
