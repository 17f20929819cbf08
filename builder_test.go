package authkit

import (
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBuilderRequiresCollaborators(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	dir := newMockDirectory()
	notifier := &mockNotifier{}

	cases := []struct {
		name  string
		build func() (*Engine, error)
	}{
		{"missing redis", func() (*Engine, error) {
			return New().WithConfig(testConfig()).WithDirectory(dir).WithNotifier(notifier).Build()
		}},
		{"missing directory", func() (*Engine, error) {
			return New().WithConfig(testConfig()).WithRedis(client).WithNotifier(notifier).Build()
		}},
		{"missing notifier", func() (*Engine, error) {
			return New().WithConfig(testConfig()).WithRedis(client).WithDirectory(dir).Build()
		}},
		{"missing jwt keys", func() (*Engine, error) {
			cfg := testConfig()
			cfg.JWT.AccessKey = nil
			cfg.JWT.RefreshKey = nil
			return New().WithConfig(cfg).WithRedis(client).WithDirectory(dir).WithNotifier(notifier).Build()
		}},
		{"identical jwt keys", func() (*Engine, error) {
			cfg := testConfig()
			cfg.JWT.RefreshKey = cfg.JWT.AccessKey
			return New().WithConfig(cfg).WithRedis(client).WithDirectory(dir).WithNotifier(notifier).Build()
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.build(); err == nil {
				t.Fatal("expected a build error")
			}
		})
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := New().
		WithConfig(testConfig()).
		WithRedis(client).
		WithDirectory(newMockDirectory()).
		WithNotifier(&mockNotifier{})

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := b.Build(); err == nil {
		t.Fatal("second Build must fail")
	}
}

func TestBuilderClonesConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithDirectory(newMockDirectory()).
		WithNotifier(&mockNotifier{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	// Mutating the caller's key material afterwards must not reach the
	// engine.
	copy(cfg.JWT.AccessKey, strings.Repeat("z", 32))
	if engine.config.JWT.AccessKey[0] == 'z' {
		t.Fatal("config was not cloned")
	}
}

func TestConfigValidate(t *testing.T) {
	mutate := func(f func(*Config)) Config {
		cfg := testConfig()
		f(&cfg)
		return cfg
	}

	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"defaults", testConfig(), true},
		{"digits too low", mutate(func(c *Config) { c.OTP.Digits = 5 }), false},
		{"digits too high", mutate(func(c *Config) { c.OTP.Digits = 11 }), false},
		{"zero ttl", mutate(func(c *Config) { c.OTP.TTL = 0 }), false},
		{"zero attempts", mutate(func(c *Config) { c.OTP.MaxAttempts = 0 }), false},
		{"session shorter than code", mutate(func(c *Config) { c.TwoFactor.SessionTTL = time.Minute }), false},
		{"zero reset ttl", mutate(func(c *Config) { c.Reset.TokenTTL = 0 }), false},
		{"weak min length", mutate(func(c *Config) { c.Password.MinLength = 4 }), false},
		{"temp below min", mutate(func(c *Config) { c.Password.TemporaryLength = 8; c.Password.MinLength = 10 }), false},
		{"zero sweep interval", mutate(func(c *Config) { c.Sweeper.Interval = 0 }), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}
