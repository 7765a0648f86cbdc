package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTokenStoreTest(t *testing.T) (*RedisTokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTokenStore(client), mr
}

func TestRedisVerificationConsume(t *testing.T) {
	store, _ := newRedisTokenStoreTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tok := &VerificationToken{
		Value:     "tok-1",
		AccountID: "acc-1",
		Purpose:   PurposeConfirm,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	require.NoError(t, store.Verifications().Create(ctx, tok))

	got, err := store.Verifications().Consume(ctx, "tok-1", PurposeConfirm)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got.AccountID)
	assert.Equal(t, PurposeConfirm, got.Purpose)

	// Single use.
	_, err = store.Verifications().Consume(ctx, "tok-1", PurposeConfirm)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRedisVerificationConsumeWrongPurpose(t *testing.T) {
	store, _ := newRedisTokenStoreTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Verifications().Create(ctx, &VerificationToken{
		Value:     "tok-2",
		AccountID: "acc-1",
		Purpose:   PurposeReset,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}))

	_, err := store.Verifications().Consume(ctx, "tok-2", PurposeConfirm)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// Wrong purpose must not burn the token.
	got, err := store.Verifications().Consume(ctx, "tok-2", PurposeReset)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got.AccountID)
}

func TestRedisVerificationConsumeExpired(t *testing.T) {
	store, _ := newRedisTokenStoreTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Verifications().Create(ctx, &VerificationToken{
		Value:     "tok-3",
		AccountID: "acc-9",
		Purpose:   PurposeConfirm,
		ExpiresAt: now.Add(time.Minute),
		CreatedAt: now,
	}))

	store.SetClock(func() time.Time { return now.Add(2 * time.Minute) })

	got, err := store.Verifications().Consume(ctx, "tok-3", PurposeConfirm)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.NotNil(t, got)
	assert.Equal(t, "acc-9", got.AccountID)

	// Expired consume still removes the record.
	_, err = store.Verifications().Consume(ctx, "tok-3", PurposeConfirm)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRedisVerificationDeleteByAccount(t *testing.T) {
	store, _ := newRedisTokenStoreTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, v := range []string{"a", "b"} {
		require.NoError(t, store.Verifications().Create(ctx, &VerificationToken{
			Value:     v,
			AccountID: "acc-1",
			Purpose:   PurposeUnlock,
			ExpiresAt: now.Add(time.Hour),
			CreatedAt: now,
		}))
	}
	require.NoError(t, store.Verifications().Create(ctx, &VerificationToken{
		Value:     "other",
		AccountID: "acc-1",
		Purpose:   PurposeReset,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}))

	require.NoError(t, store.Verifications().DeleteByAccount(ctx, "acc-1", PurposeUnlock))

	_, err := store.Verifications().Consume(ctx, "a", PurposeUnlock)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = store.Verifications().Consume(ctx, "b", PurposeUnlock)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	// Other purposes are untouched.
	_, err = store.Verifications().Consume(ctx, "other", PurposeReset)
	assert.NoError(t, err)
}

func TestRedisRefreshRotate(t *testing.T) {
	store, _ := newRedisTokenStoreTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rt := &RefreshToken{
		ID:        "rt-1",
		AccountID: "acc-1",
		Token:     "old-token",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	require.NoError(t, store.RefreshTokens().Create(ctx, rt))

	require.NoError(t, store.RefreshTokens().Rotate(ctx, "rt-1", "old-token", "new-token", now.Add(2*time.Hour)))

	// The superseded token value no longer resolves.
	_, err := store.RefreshTokens().FindByToken(ctx, "old-token")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.RefreshTokens().FindByToken(ctx, "new-token")
	require.NoError(t, err)
	assert.Equal(t, "rt-1", got.ID)
	assert.Equal(t, "acc-1", got.AccountID)

	// A second rotation with the superseded token loses.
	err = store.RefreshTokens().Rotate(ctx, "rt-1", "old-token", "race-token", now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRedisRefreshRevoke(t *testing.T) {
	store, _ := newRedisTokenStoreTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.RefreshTokens().Create(ctx, &RefreshToken{
		ID:        "rt-2",
		AccountID: "acc-1",
		Token:     "tok",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}))

	require.NoError(t, store.RefreshTokens().Revoke(ctx, "rt-2"))

	got, err := store.RefreshTokens().FindByToken(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	err = store.RefreshTokens().Rotate(ctx, "rt-2", "tok", "next", now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRedisRefreshDeleteByAccount(t *testing.T) {
	store, _ := newRedisTokenStoreTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"rt-a", "rt-b"} {
		require.NoError(t, store.RefreshTokens().Create(ctx, &RefreshToken{
			ID:        id,
			AccountID: "acc-1",
			Token:     "tok-" + id,
			ExpiresAt: now.Add(time.Hour),
			CreatedAt: now,
		}))
	}

	require.NoError(t, store.RefreshTokens().DeleteByAccount(ctx, "acc-1"))

	_, err := store.RefreshTokens().FindByToken(ctx, "tok-rt-a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.RefreshTokens().FindByToken(ctx, "tok-rt-b")
	assert.ErrorIs(t, err, ErrNotFound)
}
