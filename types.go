package authkit

import (
	"context"
	"time"
)

// Account is the directory's record of one principal. PasswordHash is only
// populated when the lookup asked for secrets.
type Account struct {
	ID                 string
	Email              string
	Name               string
	Role               string
	PasswordHash       string
	Active             bool
	MustChangePassword bool
	LastLoginAt        time.Time
}

// AccountView is the secret-free projection of an Account returned to
// callers.
type AccountView struct {
	ID                 string
	Email              string
	Name               string
	Role               string
	Active             bool
	MustChangePassword bool
	LastLoginAt        time.Time
}

func (a Account) view() AccountView {
	return AccountView{
		ID:                 a.ID,
		Email:              a.Email,
		Name:               a.Name,
		Role:               a.Role,
		Active:             a.Active,
		MustChangePassword: a.MustChangePassword,
		LastLoginAt:        a.LastLoginAt,
	}
}

// NewAccount is the payload handed to Directory.Create.
type NewAccount struct {
	Email              string
	Name               string
	Role               string
	PasswordHash       string
	Active             bool
	MustChangePassword bool
}

// Directory is the caller-supplied durable account store. Emails are
// matched case-insensitively; the engine lowercases before every lookup.
// Implementations return ErrAccountNotFound for missing accounts and
// ErrEmailExists for duplicate creates.
type Directory interface {
	GetByEmail(ctx context.Context, email string, includeSecrets bool) (Account, error)
	GetByID(ctx context.Context, accountID string, includeSecrets bool) (Account, error)
	Create(ctx context.Context, input NewAccount) (Account, error)
	UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error
	SetMustChangePassword(ctx context.Context, accountID string, must bool) error
	UpdateLastLogin(ctx context.Context, accountID string, at time.Time) error
}

// Notifier delivers the engine's outbound messages. Every send carries the
// recipient's display name for the mail template; SendTemporaryPassword
// also carries who issued the credential. SendOTP, SendPasswordReset and
// SendTemporaryPassword failures propagate to the caller;
// SendPasswordChanged is best-effort.
type Notifier interface {
	SendOTP(ctx context.Context, email, name, code string, ttl time.Duration) error
	SendPasswordReset(ctx context.Context, email, name, token string, ttl time.Duration) error
	SendPasswordChanged(ctx context.Context, email, name string) error
	SendTemporaryPassword(ctx context.Context, email, name, password, issuedBy string) error
}

// RegisterInput creates a self-service account with a chosen password.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
	Role     string
}

// CreateAccountInput creates an account on someone's behalf. An empty
// Password makes the engine generate a temporary one, mail it, and flag
// the account for a forced change on first login. IssuedBy names who
// requested the account and is forwarded to the temporary-password mail.
type CreateAccountInput struct {
	Email    string
	Name     string
	Role     string
	Password string
	IssuedBy string
}

// VerifyOTPInput completes a one-time-code validation. With SessionToken
// set the code is checked against the two-factor handshake started by
// LoginWithOTP; without it the code is checked against a standalone login
// code from RequestOTP.
type VerifyOTPInput struct {
	Email        string
	Code         string
	SessionToken string
}

// LoginChallenge is the first half of the two-step login.
type LoginChallenge struct {
	SessionToken string
	ExpiresAt    time.Time
	RequiresOTP  bool
}

// TokenTypeBearer is the scheme of every pair the engine issues.
const TokenTypeBearer = "Bearer"

// TokenPair is one issued access/refresh pair. ExpiresIn is the access
// token's lifetime in seconds; the refresh token outlives it.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// CompletedLogin is returned when a flow ends in an authenticated
// principal.
type CompletedLogin struct {
	Account            AccountView
	Tokens             TokenPair
	MustChangePassword bool
}

// Principal is the identity carried by a verified access token.
type Principal struct {
	AccountID string
	Email     string
	Role      string
}
