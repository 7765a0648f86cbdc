package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenStore keeps verification and refresh tokens in Redis. Keys get a
// native TTL, but expired records are retained for a grace window so a late
// Consume can still observe expiry and trigger its purge side effects
// (deleting a pending account) instead of a plain not-found.
type RedisTokenStore struct {
	rdb       *redis.Client
	retention time.Duration
	now       func() time.Time
}

const (
	redisVerificationKey   = "idv:"  // value -> record
	redisVerificationIndex = "idvi:" // accountID:purpose -> set of values
	redisRefreshKey        = "idr:"  // id -> record
	redisRefreshByToken    = "idrt:" // token -> id
	redisRefreshIndex      = "idri:" // accountID -> set of ids

	defaultRetention = 24 * time.Hour

	// Optimistic WATCH transactions retry a bounded number of times before
	// reporting contention to the caller.
	redisMaxRetries = 4
)

var errRedisContention = errors.New("identity: redis transaction contention")

// NewRedisTokenStore builds the store around an existing client.
func NewRedisTokenStore(rdb *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb, retention: defaultRetention, now: time.Now}
}

// SetClock overrides the expiry clock (useful for tests).
func (s *RedisTokenStore) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// Verifications returns the verification-token half of the store.
func (s *RedisTokenStore) Verifications() VerificationTokenStore { return (*redisVerifications)(s) }

// RefreshTokens returns the refresh-token half of the store.
func (s *RedisTokenStore) RefreshTokens() RefreshTokenStore { return (*redisRefresh)(s) }

// Verification token store ---------------------------------------------------

type redisVerifications RedisTokenStore

type redisVerificationRecord struct {
	AccountID string    `json:"account_id"`
	Purpose   Purpose   `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *redisVerifications) Create(ctx context.Context, t *VerificationToken) error {
	data, err := json.Marshal(redisVerificationRecord{
		AccountID: t.AccountID,
		Purpose:   t.Purpose,
		ExpiresAt: t.ExpiresAt,
		CreatedAt: t.CreatedAt,
	})
	if err != nil {
		return err
	}

	ttl := t.ExpiresAt.Sub(s.now().UTC()) + s.retention
	if ttl <= 0 {
		ttl = s.retention
	}
	index := redisVerificationIndex + t.AccountID + ":" + string(t.Purpose)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisVerificationKey+t.Value, data, ttl)
		pipe.SAdd(ctx, index, t.Value)
		pipe.Expire(ctx, index, ttl)
		return nil
	})
	return err
}

func (s *redisVerifications) Consume(ctx context.Context, value string, purpose Purpose) (*VerificationToken, error) {
	key := redisVerificationKey + value

	for i := 0; i < redisMaxRetries; i++ {
		var consumed *VerificationToken

		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrTokenNotFound
				}
				return err
			}

			var rec redisVerificationRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode verification record: %w", err)
			}
			if rec.Purpose != purpose {
				return ErrTokenNotFound
			}

			index := redisVerificationIndex + rec.AccountID + ":" + string(rec.Purpose)
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, index, value)
				return nil
			}); err != nil {
				return err
			}

			consumed = &VerificationToken{
				Value:     value,
				AccountID: rec.AccountID,
				Purpose:   rec.Purpose,
				ExpiresAt: rec.ExpiresAt,
				CreatedAt: rec.CreatedAt,
			}
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if consumed.Expired(s.now().UTC()) {
			return consumed, ErrTokenExpired
		}
		return consumed, nil
	}
	return nil, errRedisContention
}

func (s *redisVerifications) DeleteByAccount(ctx context.Context, accountID string, purpose Purpose) error {
	index := redisVerificationIndex + accountID + ":" + string(purpose)
	values, err := s.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(values)+1)
	for _, v := range values {
		keys = append(keys, redisVerificationKey+v)
	}
	keys = append(keys, index)
	return s.rdb.Del(ctx, keys...).Err()
}

// Refresh token store --------------------------------------------------------

type redisRefresh RedisTokenStore

type redisRefreshRecord struct {
	AccountID string    `json:"account_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *redisRefresh) recordTTL(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(s.now().UTC()) + s.retention
	if ttl <= 0 {
		ttl = s.retention
	}
	return ttl
}

func (s *redisRefresh) Create(ctx context.Context, t *RefreshToken) error {
	data, err := json.Marshal(redisRefreshRecord{
		AccountID: t.AccountID,
		Token:     t.Token,
		ExpiresAt: t.ExpiresAt,
		Revoked:   t.Revoked,
		CreatedAt: t.CreatedAt,
	})
	if err != nil {
		return err
	}

	ttl := s.recordTTL(t.ExpiresAt)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisRefreshKey+t.ID, data, ttl)
		pipe.Set(ctx, redisRefreshByToken+t.Token, t.ID, ttl)
		pipe.SAdd(ctx, redisRefreshIndex+t.AccountID, t.ID)
		pipe.Expire(ctx, redisRefreshIndex+t.AccountID, ttl)
		return nil
	})
	return err
}

func (s *redisRefresh) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	id, err := s.rdb.Get(ctx, redisRefreshByToken+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Stale token index after a rotation must not resolve the new record.
	if rec.Token != token {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *redisRefresh) get(ctx context.Context, id string) (*RefreshToken, error) {
	data, err := s.rdb.Get(ctx, redisRefreshKey+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec redisRefreshRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode refresh record: %w", err)
	}
	return &RefreshToken{
		ID:        id,
		AccountID: rec.AccountID,
		Token:     rec.Token,
		ExpiresAt: rec.ExpiresAt,
		Revoked:   rec.Revoked,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (s *redisRefresh) Rotate(ctx context.Context, id, oldToken, newToken string, expiresAt time.Time) error {
	key := redisRefreshKey + id

	for i := 0; i < redisMaxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrInvalidRefreshToken
				}
				return err
			}
			var rec redisRefreshRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode refresh record: %w", err)
			}
			if rec.Revoked || rec.Token != oldToken {
				return ErrInvalidRefreshToken
			}

			rec.Token = newToken
			rec.ExpiresAt = expiresAt
			updated, err := json.Marshal(rec)
			if err != nil {
				return err
			}

			ttl := s.recordTTL(expiresAt)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				pipe.Del(ctx, redisRefreshByToken+oldToken)
				pipe.Set(ctx, redisRefreshByToken+newToken, id, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errRedisContention
}

func (s *redisRefresh) Revoke(ctx context.Context, id string) error {
	key := redisRefreshKey + id

	for i := 0; i < redisMaxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return err
			}
			var rec redisRefreshRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode refresh record: %w", err)
			}
			if rec.Revoked {
				return nil
			}
			rec.Revoked = true
			updated, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			ttl := s.recordTTL(rec.ExpiresAt)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errRedisContention
}

func (s *redisRefresh) DeleteByAccount(ctx context.Context, accountID string) error {
	index := redisRefreshIndex + accountID
	ids, err := s.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return err
	}
	keys := []string{index}
	for _, id := range ids {
		rec, err := s.get(ctx, id)
		if err == nil {
			keys = append(keys, redisRefreshByToken+rec.Token)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		keys = append(keys, redisRefreshKey+id)
	}
	return s.rdb.Del(ctx, keys...).Err()
}
