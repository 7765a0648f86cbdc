package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

// recordingNotifier captures outbound notifications for assertions.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
}

func (n *recordingNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (n *recordingNotifier) last(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent)
	return n.sent[len(n.sent)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type serviceFixture struct {
	store    *MemoryStore
	notifier *recordingNotifier
	svc      *Service
	now      time.Time
}

func newServiceFixture(t *testing.T, opts ...ServiceOption) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:    NewMemoryStore(),
		notifier: &recordingNotifier{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.SetClock(func() time.Time { return f.now })
	base := []ServiceOption{
		WithHasher(NewBcryptHasher(bcrypt.MinCost)),
		WithNotifier(f.notifier),
		WithServiceClock(func() time.Time { return f.now }),
		WithBaseURL("https://identra.test"),
	}
	f.svc = NewService(f.store, append(base, opts...)...)
	return f
}

// confirmLink pulls the token value out of the last notification body.
func (f *serviceFixture) lastToken(t *testing.T) string {
	t.Helper()
	body := f.notifier.last(t).Body
	idx := -1
	for i := len(body) - 1; i >= 0; i-- {
		if body[i] == '=' {
			idx = i
			break
		}
	}
	require.Greater(t, idx, 0, "no token link in notification body")
	return body[idx+1:]
}

func (f *serviceFixture) register(t *testing.T, handle string) *Account {
	t.Helper()
	account, err := f.svc.Register(context.Background(), handle, "s3cret-pass", handle+"@example.com", "", "127.0.0.1")
	require.NoError(t, err)
	return account
}

func TestRegister(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	account := f.register(t, "alice")
	assert.NotEmpty(t, account.ID)
	assert.Equal(t, "alice", account.Handle)
	assert.Equal(t, "alice@example.com", account.Email)
	assert.Equal(t, "customer", account.Role)
	assert.False(t, account.Enabled, "account starts disabled until confirmed")
	assert.NotEqual(t, "s3cret-pass", account.PasswordHash)

	mail := f.notifier.last(t)
	assert.Equal(t, "alice@example.com", mail.To)
	assert.Contains(t, mail.Body, "https://identra.test/v1/auth/confirm?token=")

	_, err := f.svc.Register(ctx, "alice", "other-pass", "alice2@example.com", "", "")
	assert.ErrorIs(t, err, ErrHandleTaken)

	_, err = f.svc.Register(ctx, "", "pass", "x@example.com", "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestConfirmRegistration(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	account := f.register(t, "alice")
	value := f.lastToken(t)

	require.NoError(t, f.svc.ConfirmRegistration(ctx, value))

	got, err := f.store.Accounts().Find(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)

	// Tokens are single use.
	err = f.svc.ConfirmRegistration(ctx, value)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestConfirmRegistrationExpiredDeletesAccount(t *testing.T) {
	f := newServiceFixture(t, WithConfirmTTL(time.Hour))
	ctx := context.Background()

	account := f.register(t, "alice")
	value := f.lastToken(t)

	f.now = f.now.Add(2 * time.Hour)

	err := f.svc.ConfirmRegistration(ctx, value)
	require.ErrorIs(t, err, ErrTokenExpired)

	// The pending account is gone: handle and email are free again.
	_, err = f.store.Accounts().Find(ctx, account.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Register(ctx, "alice", "new-pass", "alice@example.com", "", "")
	assert.NoError(t, err)
}

func TestRegisterFailedLoginLocksAtThreshold(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	account := f.register(t, "alice")

	require.NoError(t, f.svc.RegisterFailedLogin(ctx, account, "10.0.0.1"))
	require.NoError(t, f.svc.RegisterFailedLogin(ctx, account, "10.0.0.1"))
	assert.Equal(t, 2, account.FailedLogins)
	assert.False(t, account.Locked, "two failures stay below the threshold")

	mails := f.notifier.count()
	require.NoError(t, f.svc.RegisterFailedLogin(ctx, account, "10.0.0.1"))
	assert.Equal(t, 3, account.FailedLogins)
	assert.True(t, account.Locked)
	assert.Equal(t, mails+1, f.notifier.count(), "lock notification sent")

	got, err := f.store.Accounts().Find(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Locked)
}

func TestResetFailedAttempts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	account := f.register(t, "alice")
	require.NoError(t, f.svc.RegisterFailedLogin(ctx, account, ""))
	require.NoError(t, f.svc.RegisterFailedLogin(ctx, account, ""))

	require.NoError(t, f.svc.ResetFailedAttempts(ctx, account))
	assert.Equal(t, 0, account.FailedLogins)

	got, err := f.store.Accounts().Find(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedLogins)
}

func TestSendUnlockToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	account := f.register(t, "alice")

	// Not locked: silent no-op, no mail.
	mails := f.notifier.count()
	require.NoError(t, f.svc.SendUnlockToken(ctx, "alice"))
	assert.Equal(t, mails, f.notifier.count())

	// Unknown handle: silent no-op too.
	require.NoError(t, f.svc.SendUnlockToken(ctx, "nobody"))
	assert.Equal(t, mails, f.notifier.count())

	require.NoError(t, f.store.Accounts().SetLocked(ctx, account.ID, true))
	require.NoError(t, f.svc.SendUnlockToken(ctx, "alice"))
	mail := f.notifier.last(t)
	assert.Equal(t, "alice@example.com", mail.To)
	assert.Contains(t, mail.Body, "/v1/auth/unlock/confirm?token=")
}

func TestConfirmUnlock(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	account := f.register(t, "alice")
	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.RegisterFailedLogin(ctx, account, ""))
	}
	require.True(t, account.Locked)

	require.NoError(t, f.svc.SendUnlockToken(ctx, "alice"))
	value := f.lastToken(t)

	require.NoError(t, f.svc.ConfirmUnlock(ctx, value))

	got, err := f.store.Accounts().Find(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, got.Locked)
	assert.Equal(t, 0, got.FailedLogins, "unlock zeroes the counter")

	err = f.svc.ConfirmUnlock(ctx, value)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestConfirmUnlockExpired(t *testing.T) {
	f := newServiceFixture(t, WithUnlockTTL(time.Hour))
	ctx := context.Background()

	account := f.register(t, "alice")
	require.NoError(t, f.store.Accounts().SetLocked(ctx, account.ID, true))
	require.NoError(t, f.svc.SendUnlockToken(ctx, "alice"))
	value := f.lastToken(t)

	f.now = f.now.Add(2 * time.Hour)

	err := f.svc.ConfirmUnlock(ctx, value)
	require.ErrorIs(t, err, ErrTokenExpired)

	// Account stays locked; only the token was purged.
	got, err := f.store.Accounts().Find(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Locked)
}

func TestUpdateEmail(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	account := f.register(t, "alice")
	value := f.lastToken(t)
	require.NoError(t, f.svc.ConfirmRegistration(ctx, value))

	require.NoError(t, f.svc.UpdateEmail(ctx, "alice", "New@Example.com"))

	got, err := f.store.Accounts().Find(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", got.Email)
	assert.False(t, got.Enabled, "email change requires reconfirmation")

	mail := f.notifier.last(t)
	assert.Equal(t, "new@example.com", mail.To)
	assert.Contains(t, mail.Body, "/v1/auth/confirm?token=")

	// The new confirmation token re-enables the account.
	require.NoError(t, f.svc.ConfirmRegistration(ctx, f.lastToken(t)))
	got, err = f.store.Accounts().Find(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
}

func TestUpdateEmailTaken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.register(t, "alice")
	f.register(t, "bob")

	err := f.svc.UpdateEmail(ctx, "bob", "alice@example.com")
	assert.ErrorIs(t, err, ErrEmailInUse)

	// Re-submitting one's own address is fine.
	err = f.svc.UpdateEmail(ctx, "bob", "bob@example.com")
	assert.NoError(t, err)
}

func TestSendPasswordResetLink(t *testing.T) {
	f := newServiceFixture(t, WithResetTTL(30*time.Minute))
	ctx := context.Background()

	f.register(t, "alice")

	require.NoError(t, f.svc.SendPasswordResetLink(ctx, "Alice@Example.com"))
	first := f.lastToken(t)

	// A second request invalidates the first link.
	require.NoError(t, f.svc.SendPasswordResetLink(ctx, "alice@example.com"))
	second := f.lastToken(t)
	require.NotEqual(t, first, second)

	err := f.svc.ResetPassword(ctx, first, "brand-new-pass")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.NoError(t, f.svc.ResetPassword(ctx, second, "brand-new-pass"))

	err = f.svc.SendPasswordResetLink(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResetPassword(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	account := f.register(t, "alice")
	oldHash := account.PasswordHash

	require.NoError(t, f.svc.SendPasswordResetLink(ctx, "alice@example.com"))
	value := f.lastToken(t)

	require.NoError(t, f.svc.ResetPassword(ctx, value, "brand-new-pass"))

	got, err := f.store.Accounts().Find(ctx, account.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, got.PasswordHash)
	assert.True(t, f.svc.Hasher().Verify(got.PasswordHash, "brand-new-pass"))

	err = f.svc.ResetPassword(ctx, value, "again")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	err = f.svc.ResetPassword(ctx, "whatever", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestResetPasswordKeepsLock(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	account := f.register(t, "alice")
	require.NoError(t, f.store.Accounts().SetLocked(ctx, account.ID, true))

	require.NoError(t, f.svc.SendPasswordResetLink(ctx, "alice@example.com"))
	require.NoError(t, f.svc.ResetPassword(ctx, f.lastToken(t), "brand-new-pass"))

	got, err := f.store.Accounts().Find(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.Locked, "reset does not clear the lock")
}

func TestDeleteAccount(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	account := f.register(t, "alice")
	require.NoError(t, f.svc.SendPasswordResetLink(ctx, "alice@example.com"))
	resetValue := f.lastToken(t)

	require.NoError(t, f.svc.DeleteAccount(ctx, "alice"))

	_, err := f.store.Accounts().Find(ctx, account.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.store.VerificationTokens().Consume(ctx, resetValue, PurposeReset)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// Idempotent.
	assert.NoError(t, f.svc.DeleteAccount(ctx, "alice"))
}

func TestAuditTrail(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.register(t, "alice")
	require.NoError(t, f.svc.ConfirmRegistration(ctx, f.lastToken(t)))

	actions := make([]string, 0, 2)
	for _, e := range f.store.AuditEntries() {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{ActionRegister, ActionConfirm}, actions)
}
