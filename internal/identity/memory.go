package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-process Store. It backs tests and
// DSN-less development runs; the mutex gives it the same per-record
// serialization the SQL and Redis stores get from their engines.
type MemoryStore struct {
	mu sync.Mutex

	accounts      map[string]*Account           // by ID
	verifications map[string]*VerificationToken // by value
	refresh       map[string]*RefreshToken      // by ID
	auditLog      []*AuditEntry

	now func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[string]*Account),
		verifications: make(map[string]*VerificationToken),
		refresh:       make(map[string]*RefreshToken),
		now:           time.Now,
	}
}

// SetClock overrides the expiry clock (useful for tests).
func (m *MemoryStore) SetClock(fn func() time.Time) {
	if fn != nil {
		m.now = fn
	}
}

func (m *MemoryStore) Accounts() AccountStore                     { return (*memAccounts)(m) }
func (m *MemoryStore) VerificationTokens() VerificationTokenStore { return (*memVerifications)(m) }
func (m *MemoryStore) RefreshTokens() RefreshTokenStore           { return (*memRefresh)(m) }
func (m *MemoryStore) Audit() AuditStore                          { return (*memAudit)(m) }

// AuditEntries returns a copy of the appended entries, oldest first.
func (m *MemoryStore) AuditEntries() []*AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*AuditEntry, len(m.auditLog))
	copy(out, m.auditLog)
	return out
}

// Account store -------------------------------------------------------------

type memAccounts MemoryStore

func (m *memAccounts) Create(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Handle == a.Handle {
			return ErrHandleTaken
		}
		if existing.Email == a.Email {
			return ErrEmailInUse
		}
	}
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memAccounts) Find(ctx context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) FindByHandle(ctx context.Context, handle string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Handle == handle {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memAccounts) Save(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.accounts[a.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Handle = a.Handle
	stored.Email = a.Email
	stored.PasswordHash = a.PasswordHash
	stored.Role = a.Role
	stored.Enabled = a.Enabled
	stored.UpdatedAt = a.UpdatedAt
	return nil
}

func (m *memAccounts) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *memAccounts) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return 0, ErrNotFound
	}
	a.FailedLogins++
	return a.FailedLogins, nil
}

func (m *memAccounts) ResetFailedLogins(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.FailedLogins = 0
	return nil
}

func (m *memAccounts) SetLocked(ctx context.Context, id string, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Locked = locked
	if !locked {
		a.FailedLogins = 0
	}
	return nil
}

// Verification token store ---------------------------------------------------

type memVerifications MemoryStore

func (m *memVerifications) Create(ctx context.Context, t *VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.verifications[t.Value] = &cp
	return nil
}

func (m *memVerifications) Consume(ctx context.Context, value string, purpose Purpose) (*VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.verifications[value]
	if !ok || t.Purpose != purpose {
		return nil, ErrTokenNotFound
	}
	delete(m.verifications, value)
	cp := *t
	if cp.Expired(m.now().UTC()) {
		return &cp, ErrTokenExpired
	}
	return &cp, nil
}

func (m *memVerifications) DeleteByAccount(ctx context.Context, accountID string, purpose Purpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for value, t := range m.verifications {
		if t.AccountID == accountID && t.Purpose == purpose {
			delete(m.verifications, value)
		}
	}
	return nil
}

// Refresh token store --------------------------------------------------------

type memRefresh MemoryStore

func (m *memRefresh) Create(ctx context.Context, t *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.refresh[t.ID] = &cp
	return nil
}

func (m *memRefresh) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.refresh {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRefresh) Rotate(ctx context.Context, id, oldToken, newToken string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[id]
	if !ok || t.Token != oldToken || t.Revoked {
		return ErrInvalidRefreshToken
	}
	t.Token = newToken
	t.ExpiresAt = expiresAt
	return nil
}

func (m *memRefresh) Revoke(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[id]
	if !ok {
		return ErrNotFound
	}
	t.Revoked = true
	return nil
}

func (m *memRefresh) DeleteByAccount(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.refresh {
		if t.AccountID == accountID {
			delete(m.refresh, id)
		}
	}
	return nil
}

// Audit store ----------------------------------------------------------------

type memAudit MemoryStore

func (m *memAudit) Append(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.auditLog = append(m.auditLog, &cp)
	return nil
}
