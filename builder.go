package authkit

import (
	"errors"
	"time"

	"github.com/authkit-dev/authkit/internal/audit"
	"github.com/authkit-dev/authkit/internal/stores"
	"github.com/authkit-dev/authkit/jwt"
	"github.com/authkit-dev/authkit/secret"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Configure it once, call Build once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	directory Directory
	notifier  Notifier
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the engine's time source, including the expiry
// checks inside the secret stores. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}
	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hasher, err := secret.NewHasher(cfg.Hasher)
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessKey:  cloneBytes(cfg.JWT.AccessKey),
		RefreshKey: cloneBytes(cfg.JWT.RefreshKey),
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Issuer:     cfg.JWT.Issuer,
		Leeway:     cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "ak"
	}

	engine := &Engine{
		config:       cfg,
		directory:    b.directory,
		notifier:     b.notifier,
		hasher:       hasher,
		jwtManager:   jm,
		otpStore:     stores.NewOTPStore(b.redis, prefix+":otp"),
		sessionStore: stores.NewTwoFactorSessionStore(b.redis, prefix+":2fa"),
		resetStore:   stores.NewResetStore(b.redis, prefix+":reset"),
		refreshStore: stores.NewRefreshTokenStore(b.redis, prefix+":refresh"),
		audit:        audit.NewDispatcher(cfg.Audit, b.auditSink),
		metrics:      NewMetrics(cfg.Metrics),
		now:          time.Now,
	}

	if b.clock != nil {
		engine.now = b.clock
		engine.otpStore.SetClock(b.clock)
		engine.sessionStore.SetClock(b.clock)
		engine.resetStore.SetClock(b.clock)
	}

	b.built = true

	return engine, nil
}
