package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"identra.org/internal/ids"
	"identra.org/internal/obs"
	"identra.org/internal/token"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// SessionService orchestrates login, token refresh and logout over the token
// codec, the account store and the refresh token store.
type SessionService struct {
	store    Store
	codec    *token.Codec
	identity *Service

	accessTTL  time.Duration
	refreshTTL time.Duration

	now func() time.Time
}

// SessionOption configures SessionService behavior.
type SessionOption func(*SessionService)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) SessionOption {
	return func(s *SessionService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) SessionOption {
	return func(s *SessionService) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithSessionClock overrides the time source (useful for tests).
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(s *SessionService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSessionService constructs the session service. The identity service
// owns the failed-login state machine, so it is a required collaborator.
func NewSessionService(store Store, codec *token.Codec, identity *Service, opts ...SessionOption) *SessionService {
	s := &SessionService{
		store:      store,
		codec:      codec,
		identity:   identity,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies credentials and issues a fresh access+refresh pair. Unknown
// handles and wrong passwords fail identically with ErrInvalidCredentials.
func (s *SessionService) Login(ctx context.Context, handle, password, ip string) (*TokenPair, error) {
	account, err := s.store.Accounts().FindByHandle(ctx, strings.TrimSpace(handle))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveLogin("denied")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !account.Enabled {
		obs.ObserveLogin("denied")
		return nil, ErrNotConfirmed
	}
	if account.Locked {
		obs.ObserveLogin("locked")
		return nil, ErrLocked
	}

	if !s.identity.Hasher().Verify(account.PasswordHash, password) {
		if err := s.identity.RegisterFailedLogin(ctx, account, ip); err != nil {
			return nil, err
		}
		obs.ObserveLogin("denied")
		return nil, ErrInvalidCredentials
	}

	if err := s.identity.ResetFailedAttempts(ctx, account); err != nil {
		return nil, err
	}

	pair, refreshExp, err := s.mintPair(account.ID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	record := &RefreshToken{
		ID:        ids.New(),
		AccountID: account.ID,
		Token:     pair.RefreshToken,
		ExpiresAt: refreshExp,
		CreatedAt: now,
	}
	if err := s.store.RefreshTokens().Create(ctx, record); err != nil {
		return nil, err
	}

	if err := s.audit(ctx, account.ID, ActionTokenIssued, ip, "issued tokens"); err != nil {
		return nil, err
	}
	obs.ObserveLogin("ok")
	obs.ObserveTokensIssued("login")
	return pair, nil
}

// Refresh rotates the refresh token and returns a new pair. The stored
// record is overwritten in place, conditional on the presented value still
// being current, so of two concurrent refreshes exactly one wins and the
// loser observes ErrRefreshExpired.
func (s *SessionService) Refresh(ctx context.Context, refreshToken, ip string) (*TokenPair, error) {
	record, err := s.store.RefreshTokens().FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	if !record.Usable(s.now().UTC()) {
		return nil, ErrRefreshExpired
	}

	claims, err := s.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, ErrRefreshExpired
	}
	if claims.Subject != record.AccountID {
		return nil, ErrRefreshExpired
	}

	pair, refreshExp, err := s.mintPair(record.AccountID)
	if err != nil {
		return nil, err
	}

	if err := s.store.RefreshTokens().Rotate(ctx, record.ID, refreshToken, pair.RefreshToken, refreshExp); err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) || errors.Is(err, ErrNotFound) {
			return nil, ErrRefreshExpired
		}
		return nil, err
	}

	if err := s.audit(ctx, record.AccountID, ActionTokenRefreshed, ip, "refreshed token"); err != nil {
		return nil, err
	}
	obs.ObserveTokensIssued("refresh")
	return pair, nil
}

// Logout revokes the refresh token's record. An unknown token is a silent
// no-op: logout never leaks whether a token existed, and revoking twice is
// harmless.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	record, err := s.store.RefreshTokens().FindByToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.RefreshTokens().Revoke(ctx, record.ID); err != nil {
		return err
	}
	return s.audit(ctx, record.AccountID, ActionLogout, "", "refresh token revoked")
}

func (s *SessionService) mintPair(accountID string) (*TokenPair, time.Time, error) {
	access, _, err := s.codec.Issue(accountID, token.KindAccess, s.accessTTL)
	if err != nil {
		return nil, time.Time{}, err
	}
	refresh, refreshExp, err := s.codec.Issue(accountID, token.KindRefresh, s.refreshTTL)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, refreshExp, nil
}

func (s *SessionService) audit(ctx context.Context, accountID, action, ip, detail string) error {
	return s.store.Audit().Append(ctx, &AuditEntry{
		ID:         ids.New(),
		AccountID:  accountID,
		Action:     action,
		IP:         ip,
		Detail:     detail,
		OccurredAt: s.now().UTC(),
	})
}
