// Package jwt issues and verifies the engine's bearer tokens: a short-lived
// access token and a long-lived refresh token, signed HS256 with
// independent keys so neither class can stand in for the other.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClass selects which key and TTL a token is signed and parsed with.
type TokenClass uint8

const (
	ClassAccess TokenClass = iota
	ClassRefresh
)

// ErrTokenInvalid is returned for any token that fails verification,
// including expiry; callers are not told which check failed.
var ErrTokenInvalid = errors.New("jwt: invalid or expired token")

// Config carries the signing material. Access and refresh keys must differ;
// both token classes carry {subject, email, role}.
type Config struct {
	AccessKey  []byte
	RefreshKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
}

// Claims is the claim set shared by both token classes.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and parses token pairs. Immutable after construction.
type Manager struct {
	config Config
}

func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.AccessKey) < 32 || len(cfg.RefreshKey) < 32 {
		return nil, errors.New("jwt: signing keys must be at least 32 bytes")
	}
	if string(cfg.AccessKey) == string(cfg.RefreshKey) {
		return nil, errors.New("jwt: access and refresh keys must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("jwt: invalid TTL configuration")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("jwt: refresh TTL must exceed access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: invalid leeway configuration")
	}
	return &Manager{config: cfg}, nil
}

// AccessTTL reports the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

// IssuePair signs an access and a refresh token for the account. The two
// tokens expire independently.
func (m *Manager) IssuePair(accountID, email, role string) (access, refresh string, err error) {
	now := time.Now()

	access, err = m.sign(accountID, email, role, now, ClassAccess)
	if err != nil {
		return "", "", err
	}
	refresh, err = m.sign(accountID, email, role, now, ClassRefresh)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (m *Manager) sign(accountID, email, role string, now time.Time, class TokenClass) (string, error) {
	ttl := m.config.AccessTTL
	key := m.config.AccessKey
	if class == ClassRefresh {
		ttl = m.config.RefreshTTL
		key = m.config.RefreshKey
	}

	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// Parse verifies a token against the key for its class and returns its
// claims. Every failure collapses to ErrTokenInvalid.
func (m *Manager) Parse(tokenStr string, class TokenClass) (*Claims, error) {
	key := m.config.AccessKey
	if class == ClassRefresh {
		key = m.config.RefreshKey
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
