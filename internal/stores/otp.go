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
	otpRecordVersion1 = 1
)

var (
	ErrOTPNotFound  = errors.New("otp record not found")
	ErrOTPMismatch  = errors.New("otp code mismatch")
	ErrOTPExhausted = errors.New("otp attempts exhausted")
	ErrOTPBackend   = errors.New("otp backend unavailable")
)

// OTPRecord is one issued one-time code. ExpiresAt is unix milliseconds and
// the end is exclusive: a record observed at exactly ExpiresAt is dead.
// Attempts counts validations still allowed; an existing record with zero
// attempts is the exhausted marker, kept until its TTL fires so repeated
// validations keep reporting exhaustion instead of absence.
type OTPRecord struct {
	AccountID string
	CodeHash  string
	ExpiresAt int64
	Attempts  uint16
}

// OTPStore keys records by purpose and account, so issuing a fresh code
// atomically replaces whatever code that account had for the same purpose.
type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = "ao"
	}
	return &OTPStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// SetClock overrides the store's time source. Test hook.
func (s *OTPStore) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *OTPStore) key(purpose, accountID string) string {
	return s.prefix + ":" + purpose + ":" + accountID
}

func (s *OTPStore) Put(
	ctx context.Context,
	purpose, accountID string,
	record *OTPRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeOTPRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(purpose, accountID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPBackend, err)
	}

	return nil
}

// Consume validates the account's pending code via verify, which receives
// the stored hash and reports whether the presented code matches. A match
// destroys the record. A mismatch burns one attempt; burning the last one
// leaves the zero-attempt marker in place and returns ErrOTPExhausted, as
// does every validation after that. The returned count is the attempts
// still remaining after a mismatch.
func (s *OTPStore) Consume(
	ctx context.Context,
	purpose, accountID string,
	verify func(codeHash string) (bool, error),
) (int, error) {
	const maxRetries = 4
	key := s.key(purpose, accountID)

	for i := 0; i < maxRetries; i++ {
		var remaining int

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOTPRecord(data)
			if err != nil {
				return err
			}

			if s.now().UnixMilli() >= record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrOTPNotFound
			}

			if record.Attempts == 0 {
				return ErrOTPExhausted
			}

			matched, err := verify(record.CodeHash)
			if err != nil {
				return err
			}

			if !matched {
				record.Attempts--
				remaining = int(record.Attempts)

				// Same time source as the expiry check above, so the
				// rewrite cannot disagree with it.
				ttl := time.Duration(record.ExpiresAt-s.now().UnixMilli()) * time.Millisecond
				if ttl <= 0 {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return ErrOTPNotFound
				}

				updated, err := encodeOTPRecord(record)
				if err != nil {
					return err
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}

				if record.Attempts == 0 {
					return ErrOTPExhausted
				}
				return ErrOTPMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return 0, ErrOTPNotFound
			case errors.Is(err, ErrOTPNotFound), errors.Is(err, ErrOTPMismatch), errors.Is(err, ErrOTPExhausted):
				return remaining, err
			default:
				return 0, fmt.Errorf("%w: %v", ErrOTPBackend, err)
			}
		}

		return remaining, nil
	}

	return 0, ErrOTPNotFound
}

func (s *OTPStore) Delete(ctx context.Context, purpose, accountID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(purpose, accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrOTPBackend, err)
	}
	return n > 0, nil
}

func encodeOTPRecord(record *OTPRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(otpRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 || len(record.CodeHash) > 65535 {
		return nil, errors.New("otp record field too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.CodeHash))); err != nil {
		return nil, err
	}
	buf.WriteString(record.CodeHash)

	return buf.Bytes(), nil
}

func decodeOTPRecord(data []byte) (*OTPRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpRecordVersion1 {
		return nil, errors.New("invalid otp record version")
	}

	record := &OTPRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
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
	record.CodeHash = string(hash)

	return record, nil
}
