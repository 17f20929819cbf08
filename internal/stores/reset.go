package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resetRecordVersion1 = 1
)

var (
	ErrResetNotFound = errors.New("reset record not found")
	ErrResetBackend  = errors.New("reset backend unavailable")
)

// ResetRecord is one pending password-reset grant. TokenHash is the argon2
// encoding of the mailed token, never the token itself. ExpiresAt is unix
// milliseconds, exclusive end.
type ResetRecord struct {
	AccountID string
	TokenHash string
	ExpiresAt int64
}

// ResetStore keys records by account, so requesting a new reset replaces
// the previous grant. A side index set of account ids makes the candidate
// scan possible: reset tokens are validated by comparing the presented
// token against every live hash, because the hash cannot be looked up from
// the token directly. The record keys carry TTLs; the index is reconciled
// by PurgeExpired since set members cannot expire on their own.
type ResetStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewResetStore(redisClient redis.UniversalClient, prefix string) *ResetStore {
	if prefix == "" {
		prefix = "ar"
	}
	return &ResetStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// SetClock overrides the store's time source. Test hook.
func (s *ResetStore) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *ResetStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

func (s *ResetStore) indexKey() string {
	return s.prefix + ":index"
}

func (s *ResetStore) Save(
	ctx context.Context,
	record *ResetRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeResetRecord(record)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(record.AccountID), encoded, ttl)
		pipe.SAdd(ctx, s.indexKey(), record.AccountID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetBackend, err)
	}

	return nil
}

// Active returns every live reset record. Index members whose record has
// expired or vanished are dropped from the index on the way through.
func (s *ResetStore) Active(ctx context.Context) ([]*ResetRecord, error) {
	accountIDs, err := s.redis.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResetBackend, err)
	}

	records := make([]*ResetRecord, 0, len(accountIDs))
	var stale []interface{}

	for _, accountID := range accountIDs {
		data, err := s.redis.Get(ctx, s.key(accountID)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				stale = append(stale, accountID)
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrResetBackend, err)
		}

		record, err := decodeResetRecord(data)
		if err != nil {
			return nil, err
		}
		if s.now().UnixMilli() >= record.ExpiresAt {
			stale = append(stale, accountID)
			continue
		}

		records = append(records, record)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResetBackend, err)
		}
	}

	return records, nil
}

// Consume destroys the account's grant and reports whether one was there
// to destroy. Exactly one concurrent caller can observe true, which is
// what lets redemption mark the grant used before touching the password.
func (s *ResetStore) Consume(ctx context.Context, accountID string) (bool, error) {
	var deleted *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, s.key(accountID))
		pipe.SRem(ctx, s.indexKey(), accountID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrResetBackend, err)
	}
	return deleted.Val() > 0, nil
}

// PurgeExpired removes index entries whose record is gone or past its
// expiry, and returns how many were purged.
func (s *ResetStore) PurgeExpired(ctx context.Context) (int, error) {
	accountIDs, err := s.redis.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrResetBackend, err)
	}

	purged := 0
	for _, accountID := range accountIDs {
		data, err := s.redis.Get(ctx, s.key(accountID)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if err := s.redis.SRem(ctx, s.indexKey(), accountID).Err(); err != nil {
					return purged, fmt.Errorf("%w: %v", ErrResetBackend, err)
				}
				purged++
				continue
			}
			return purged, fmt.Errorf("%w: %v", ErrResetBackend, err)
		}

		record, err := decodeResetRecord(data)
		if err != nil {
			return purged, err
		}
		if s.now().UnixMilli() >= record.ExpiresAt {
			_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, s.key(accountID))
				pipe.SRem(ctx, s.indexKey(), accountID)
				return nil
			})
			if err != nil {
				return purged, fmt.Errorf("%w: %v", ErrResetBackend, err)
			}
			purged++
		}
	}

	return purged, nil
}

func encodeResetRecord(record *ResetRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(resetRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 || len(record.TokenHash) > 65535 {
		return nil, errors.New("reset record field too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.TokenHash))); err != nil {
		return nil, err
	}
	buf.WriteString(record.TokenHash)

	return buf.Bytes(), nil
}

func decodeResetRecord(data []byte) (*ResetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersion1 {
		return nil, errors.New("invalid reset record version")
	}

	record := &ResetRecord{}
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

	var hashLen uint16
	if err := binary.Read(reader, binary.BigEndian, &hashLen); err != nil {
		return nil, err
	}
	hash := make([]byte, hashLen)
	if _, err := io.ReadFull(reader, hash); err != nil {
		return nil, err
	}
	record.TokenHash = string(hash)

	return record, nil
}
