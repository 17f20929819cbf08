package authkit

import (
	"errors"
	"time"

	"github.com/authkit-dev/authkit/internal/audit"
	"github.com/authkit-dev/authkit/secret"
)

// OTPConfig controls one-time code issuance.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

// TwoFactorConfig controls the login handshake session.
type TwoFactorConfig struct {
	SessionTTL time.Duration
}

// ResetConfig controls password-reset grants.
type ResetConfig struct {
	TokenTTL time.Duration
}

// PasswordConfig controls password policy and temporary-password
// generation.
type PasswordConfig struct {
	MinLength       int
	TemporaryLength int
}

// JWTConfig feeds the token issuer. AccessKey and RefreshKey must be
// independent secrets of at least 32 bytes.
type JWTConfig struct {
	AccessKey  []byte
	RefreshKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Leeway     time.Duration
}

// SweeperConfig controls the background purge of leftover secret state.
type SweeperConfig struct {
	Interval time.Duration
}

// RedisConfig controls key namespacing.
type RedisConfig struct {
	Prefix string
}

// MetricsConfig toggles the atomic counters.
type MetricsConfig struct {
	Enabled bool
}

// Config is the engine's full configuration. Treat it as immutable after
// Build; the builder deep-clones it.
type Config struct {
	OTP       OTPConfig
	TwoFactor TwoFactorConfig
	Reset     ResetConfig
	Password  PasswordConfig
	JWT       JWTConfig
	Hasher    secret.Cost
	Sweeper   SweeperConfig
	Redis     RedisConfig
	Audit     audit.Config
	Metrics   MetricsConfig
}

// DefaultConfig returns the stock timings: 6-digit codes valid 4 minutes
// with 3 attempts, 10-minute handshake sessions, 30-minute reset tokens,
// 12-char temporary passwords, 10-minute sweeps. JWT keys have no default.
func DefaultConfig() Config {
	return Config{
		OTP: OTPConfig{
			Digits:      6,
			TTL:         4 * time.Minute,
			MaxAttempts: 3,
		},
		TwoFactor: TwoFactorConfig{
			SessionTTL: 10 * time.Minute,
		},
		Reset: ResetConfig{
			TokenTTL: 30 * time.Minute,
		},
		Password: PasswordConfig{
			MinLength:       8,
			TemporaryLength: 12,
		},
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "authkit",
			Leeway:     30 * time.Second,
		},
		Hasher:  secret.DefaultCost(),
		Sweeper: SweeperConfig{Interval: 10 * time.Minute},
		Redis:   RedisConfig{Prefix: "ak"},
		Audit: audit.Config{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate checks the structural constraints; key material is validated by
// the jwt manager at build time.
func (c Config) Validate() error {
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP.Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP.TTL must be positive")
	}
	if c.OTP.MaxAttempts < 1 || c.OTP.MaxAttempts > 10 {
		return errors.New("OTP.MaxAttempts must be between 1 and 10")
	}
	if c.TwoFactor.SessionTTL <= 0 {
		return errors.New("TwoFactor.SessionTTL must be positive")
	}
	if c.TwoFactor.SessionTTL < c.OTP.TTL {
		return errors.New("TwoFactor.SessionTTL must cover the OTP lifetime")
	}
	if c.Reset.TokenTTL <= 0 {
		return errors.New("Reset.TokenTTL must be positive")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password.MinLength must be at least 8")
	}
	if c.Password.TemporaryLength < c.Password.MinLength {
		return errors.New("Password.TemporaryLength must satisfy Password.MinLength")
	}
	if c.Sweeper.Interval <= 0 {
		return errors.New("Sweeper.Interval must be positive")
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.JWT.AccessKey = cloneBytes(c.JWT.AccessKey)
	out.JWT.RefreshKey = cloneBytes(c.JWT.RefreshKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
