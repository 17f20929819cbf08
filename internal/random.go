// Package internal holds the crypto-random primitives shared by the engine
// and its stores: one-time codes, split bearer tokens, and temporary
// passwords.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const secretSize = 32

// Temporary password alphabet. Visually ambiguous characters (0/O, 1/l/I,
// lowercase o) are excluded because these passwords are read out of an
// email and typed once.
const (
	tempUppercase = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	tempLowercase = "abcdefghijkmnpqrstuvwxyz"
	tempDigits    = "23456789"
	tempSymbols   = "!@#$%&*+-=?"
)

// NewSplitToken generates a bearer token of the form "<id>.<secret>" where
// id is a random UUID usable as a storage key and secret is 256 bits of
// entropy. Only Digest(secret) is ever persisted.
func NewSplitToken() (id string, token string, digest [32]byte, err error) {
	var secret [secretSize]byte
	if _, err = rand.Read(secret[:]); err != nil {
		return "", "", digest, err
	}

	id = uuid.NewString()
	token = id + "." + base64.RawURLEncoding.EncodeToString(secret[:])
	return id, token, sha256.Sum256(secret[:]), nil
}

// SplitTokenDigest parses a "<id>.<secret>" token and returns the id and
// the digest of the secret part.
func SplitTokenDigest(token string) (id string, digest [32]byte, err error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", digest, errors.New("invalid token format")
	}
	if _, err = uuid.Parse(parts[0]); err != nil {
		return "", digest, errors.New("invalid token id")
	}

	secret, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(secret) != secretSize {
		return "", digest, errors.New("invalid token secret")
	}
	return parts[0], sha256.Sum256(secret), nil
}

// NewResetToken returns an opaque 256-bit token. It carries no lookup id
// on purpose: the stored side is a slow hash, and validation scans the
// live candidates.
func NewResetToken() (string, error) {
	var secret [secretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(secret[:]), nil
}

// Digest hashes an opaque secret for storage or set membership.
func Digest(value string) [32]byte {
	return sha256.Sum256([]byte(value))
}

// NewOTP returns a crypto-random numeric code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NewTemporaryPassword generates an admin-issued starter password. At
// least one character from each class is guaranteed; the result is
// shuffled so class positions are not predictable.
func NewTemporaryPassword(length int) (string, error) {
	if length < 8 {
		return "", errors.New("temporary password length must be >= 8")
	}

	all := tempUppercase + tempLowercase + tempDigits + tempSymbols
	out := make([]byte, 0, length)

	for _, class := range []string{tempUppercase, tempLowercase, tempDigits, tempSymbols} {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates with crypto-random indices.
	for i := len(out) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		j := n.Int64()
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func randomChar(alphabet string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		return 0, err
	}
	return alphabet[n.Int64()], nil
}
