// Package secret provides the one-way hasher used for every secret the
// engine persists by digest: account passwords, one-time codes, and
// password-reset tokens. Hashes are argon2id in PHC string format.
package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const phcAlgorithm = "argon2id"

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

// Cost holds the argon2id parameters. It is injected once at construction
// and never mutated afterwards; changing cost means building a new Hasher.
type Cost struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultCost is a production-reasonable parameter set (64 MiB, t=3).
func DefaultCost() Cost {
	return Cost{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher computes and verifies argon2id digests. Length and complexity
// policy belongs to the caller: a Hasher accepts any plaintext, because it
// also digests 6-digit one-time codes, not just passwords.
type Hasher struct {
	cost Cost
}

// NewHasher validates the cost floor and returns an immutable Hasher.
func NewHasher(cost Cost) (*Hasher, error) {
	switch {
	case cost.Memory < minMemoryKB:
		return nil, errors.New("secret: memory must be >= 8192 KB")
	case cost.Time < minTimeCost:
		return nil, errors.New("secret: time cost must be >= 1")
	case cost.Parallelism < minParallelism:
		return nil, errors.New("secret: parallelism must be >= 1")
	case cost.SaltLength < minSaltLength:
		return nil, errors.New("secret: salt length must be >= 16")
	case cost.KeyLength < minKeyLength:
		return nil, errors.New("secret: key length must be >= 16")
	}
	return &Hasher{cost: cost}, nil
}

// Hash digests plaintext with a fresh random salt and returns the PHC
// encoded string.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.cost.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(plaintext),
		salt,
		h.cost.Time,
		h.cost.Memory,
		h.cost.Parallelism,
		h.cost.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlgorithm,
		argon2.Version,
		h.cost.Memory,
		h.cost.Time,
		h.cost.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Compare reports whether plaintext digests to encoded. The comparison is
// constant time; a malformed encoded hash is an error, not a mismatch.
func (h *Hasher) Compare(plaintext, encoded string) (bool, error) {
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(plaintext),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		uint32(len(parsed.key)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

type phcFields struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (*phcFields, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("secret: invalid PHC format")
	}
	if parts[1] != phcAlgorithm {
		return nil, errors.New("secret: unsupported algorithm")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if !strings.HasPrefix(parts[2], "v=") || err != nil {
		return nil, errors.New("secret: invalid argon2 version")
	}
	if version != argon2.Version {
		return nil, errors.New("secret: unsupported argon2 version")
	}

	fields := &phcFields{}
	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("secret: invalid parameter entry")
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, errors.New("secret: invalid memory parameter")
			}
			fields.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, errors.New("secret: invalid time parameter")
			}
			fields.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, errors.New("secret: invalid parallelism parameter")
			}
			fields.parallelism = uint8(v)
		default:
			return nil, errors.New("secret: unsupported parameter")
		}
	}
	if fields.memory == 0 || fields.time == 0 || fields.parallelism == 0 {
		return nil, errors.New("secret: missing parameters")
	}

	fields.salt, err = base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(fields.salt) < int(minSaltLength) {
		return nil, errors.New("secret: invalid salt")
	}
	fields.key, err = base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(fields.key) == 0 {
		return nil, errors.New("secret: invalid key")
	}

	return fields, nil
}
