package authkit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/authkit-dev/authkit/internal/audit"
	"github.com/authkit-dev/authkit/internal/stores"
	"github.com/authkit-dev/authkit/jwt"
	"github.com/authkit-dev/authkit/secret"
)

// OTP purposes. A code issued for one purpose never validates the other.
const (
	purposeLogin     = "login"
	purposeTwoFactor = "2fa"
)

const (
	auditLoginChallenge  = "login.challenge"
	auditLoginFailure    = "login.failure"
	auditLoginSuccess    = "login.success"
	auditOTPIssued       = "otp.issued"
	auditOTPFailure      = "otp.failure"
	auditAccountCreated  = "account.created"
	auditAccountRegister = "account.registered"
	auditPasswordChanged = "password.changed"
	auditPasswordFailure = "password.failure"
	auditResetRequested  = "reset.requested"
	auditResetCompleted  = "reset.completed"
	auditResetFailure    = "reset.failure"
	auditRefreshSuccess  = "refresh.success"
	auditRefreshFailure  = "refresh.failure"
	auditLogout          = "logout"
	auditLogoutAll       = "logout.all"
	auditNotifyFailure   = "notify.failure"
	auditSweeperRun      = "sweeper.run"
)

// Engine owns every short-lived secret of the authentication flows. It is
// safe for concurrent use once built. Durable account state lives behind
// the Directory; outbound messages go through the Notifier.
type Engine struct {
	config Config

	directory Directory
	notifier  Notifier

	hasher     *secret.Hasher
	jwtManager *jwt.Manager

	otpStore     *stores.OTPStore
	sessionStore *stores.TwoFactorSessionStore
	resetStore   *stores.ResetStore
	refreshStore *stores.RefreshTokenStore

	audit   *audit.Dispatcher
	metrics *Metrics

	now func() time.Time

	sweeperMu     sync.Mutex
	sweeperCancel context.CancelFunc
	sweeperDone   chan struct{}
}

// Close stops the sweeper and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.StopSweeper()
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) newTokenPair(access, refresh string) TokenPair {
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(e.jwtManager.AccessTTL() / time.Second),
	}
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID, email string,
	err error,
	metadata map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := audit.Event{
		Timestamp: e.now(),
		EventType: eventType,
		AccountID: accountID,
		Email:     email,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = err.Error()
	}

	e.audit.Emit(ctx, event)
}

// normalizeEmail is applied before every directory lookup; the directory
// contract is case-insensitive uniqueness.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
