package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRefreshBackend = errors.New("refresh token backend unavailable")
)

// RefreshTokenStore keeps, per account, the set of sha256 digests of the
// refresh tokens that are still valid. Rotation removes the presented
// digest and adds the replacement; a digest that fails removal was either
// never issued or already spent, and the two are deliberately
// indistinguishable.
type RefreshTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRefreshTokenStore(redisClient redis.UniversalClient, prefix string) *RefreshTokenStore {
	if prefix == "" {
		prefix = "art"
	}
	return &RefreshTokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RefreshTokenStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

// Add registers a digest and pushes the whole set's TTL out to the refresh
// lifetime, so the set dies with its youngest token.
func (s *RefreshTokenStore) Add(
	ctx context.Context,
	accountID string,
	digest [32]byte,
	ttl time.Duration,
) error {
	key := s.key(accountID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, hex.EncodeToString(digest[:]))
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshBackend, err)
	}

	return nil
}

// Remove deletes a digest and reports whether it was present. Exactly one
// concurrent caller can observe true for a given digest.
func (s *RefreshTokenStore) Remove(ctx context.Context, accountID string, digest [32]byte) (bool, error) {
	n, err := s.redis.SRem(ctx, s.key(accountID), hex.EncodeToString(digest[:])).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRefreshBackend, err)
	}
	return n > 0, nil
}

// ClearAll revokes every refresh token the account holds.
func (s *RefreshTokenStore) ClearAll(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRefreshBackend, err)
	}
	return nil
}

// Count reports how many refresh tokens the account currently holds.
func (s *RefreshTokenStore) Count(ctx context.Context, accountID string) (int64, error) {
	n, err := s.redis.SCard(ctx, s.key(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRefreshBackend, err)
	}
	return n, nil
}
