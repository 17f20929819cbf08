package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	twoFactorRecordVersion1 = 1
)

var (
	ErrSessionNotFound = errors.New("two-factor session not found")
	ErrSessionBackend  = errors.New("two-factor session backend unavailable")
)

// TwoFactorSession is the server half of a pending second-factor handshake.
// Only the sha256 digest of the bearer secret is stored; ExpiresAt is unix
// milliseconds, exclusive end.
type TwoFactorSession struct {
	AccountID  string
	SecretHash [32]byte
	ExpiresAt  int64
}

// TwoFactorSessionStore keeps sessions by id plus a per-account pointer to
// the current session id. Creating a session overwrites the pointer and
// deletes the session it named, so an account never has more than one
// discoverable handshake in flight.
type TwoFactorSessionStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewTwoFactorSessionStore(redisClient redis.UniversalClient, prefix string) *TwoFactorSessionStore {
	if prefix == "" {
		prefix = "a2"
	}
	return &TwoFactorSessionStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// SetClock overrides the store's time source. Test hook.
func (s *TwoFactorSessionStore) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *TwoFactorSessionStore) sessionKey(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *TwoFactorSessionStore) accountKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

// Create stores a new session and retires the account's previous one in the
// same transaction.
func (s *TwoFactorSessionStore) Create(
	ctx context.Context,
	sessionID string,
	record *TwoFactorSession,
	ttl time.Duration,
) error {
	const maxRetries = 4

	encoded, err := encodeTwoFactorSession(record)
	if err != nil {
		return err
	}

	pointerKey := s.accountKey(record.AccountID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			previousID, err := tx.Get(ctx, pointerKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if previousID != "" && previousID != sessionID {
					pipe.Del(ctx, s.sessionKey(previousID))
				}
				pipe.Set(ctx, s.sessionKey(sessionID), encoded, ttl)
				pipe.Set(ctx, pointerKey, sessionID, ttl)
				return nil
			})
			return err
		}, pointerKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSessionBackend, err)
		}
		return nil
	}

	return fmt.Errorf("%w: transaction retries exhausted", ErrSessionBackend)
}

// Get returns the live session for an id. Expired or missing sessions are
// both reported as not found.
func (s *TwoFactorSessionStore) Get(ctx context.Context, sessionID string) (*TwoFactorSession, error) {
	data, err := s.redis.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}

	record, err := decodeTwoFactorSession(data)
	if err != nil {
		return nil, err
	}
	if s.now().UnixMilli() >= record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.sessionKey(sessionID)).Result()
		return nil, ErrSessionNotFound
	}

	return record, nil
}

// Validate resolves a session id and compares the presented secret digest
// in constant time. A digest mismatch is indistinguishable from a missing
// session.
func (s *TwoFactorSessionStore) Validate(
	ctx context.Context,
	sessionID string,
	secretHash [32]byte,
) (*TwoFactorSession, error) {
	record, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(record.SecretHash[:], secretHash[:]) != 1 {
		return nil, ErrSessionNotFound
	}
	return record, nil
}

// MarkUsed destroys a session after its handshake completed. The account
// pointer is cleared only if it still names this session.
func (s *TwoFactorSessionStore) MarkUsed(ctx context.Context, sessionID, accountID string) error {
	const maxRetries = 4
	pointerKey := s.accountKey(accountID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			currentID, err := tx.Get(ctx, pointerKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, s.sessionKey(sessionID))
				if currentID == sessionID {
					pipe.Del(ctx, pointerKey)
				}
				return nil
			})
			return err
		}, pointerKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSessionBackend, err)
		}
		return nil
	}

	return fmt.Errorf("%w: transaction retries exhausted", ErrSessionBackend)
}

// InvalidateAccount drops whatever session the account currently has.
func (s *TwoFactorSessionStore) InvalidateAccount(ctx context.Context, accountID string) error {
	pointerKey := s.accountKey(accountID)

	sessionID, err := s.redis.Get(ctx, pointerKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}

	if err := s.redis.Del(ctx, s.sessionKey(sessionID), pointerKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return nil
}

func encodeTwoFactorSession(record *TwoFactorSession) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(twoFactorRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("two-factor session account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeTwoFactorSession(data []byte) (*TwoFactorSession, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != twoFactorRecordVersion1 {
		return nil, errors.New("invalid two-factor session version")
	}

	record := &TwoFactorSession{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var accountLen uint16
	if err := binary.Read(reader, binary.BigEndian, &accountLen); err != nil {
		return nil, err
	}
	account := make([]byte, accountLen)
	if _, err := io.ReadFull(reader, account); err != nil {
		return nil, err
	}
	record.AccountID = string(account)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
