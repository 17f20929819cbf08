package authkit

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/authkit-dev/authkit/internal"
	"github.com/authkit-dev/authkit/internal/stores"
)

// MessageOTPRequested is the response body for RequestOTP regardless of
// whether the account exists. Byte-identical on both paths.
const MessageOTPRequested = "If an account with that email exists, a one-time code has been sent."

// LoginWithOTP verifies the password and starts the two-factor handshake:
// a session token is returned to the caller and a one-time code is mailed
// to the account. Unknown email, wrong password, and inactive account all
// fail with the same ErrInvalidCredentials.
func (e *Engine) LoginWithOTP(ctx context.Context, email, password string) (*LoginChallenge, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" || password == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, false, "", email, ErrInvalidCredentials, map[string]string{
			"reason": "empty_input",
		})
		return nil, ErrInvalidCredentials
	}

	account, err := e.directory.GetByEmail(ctx, email, true)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, false, "", email, ErrInvalidCredentials, map[string]string{
			"reason": "account_lookup",
		})
		return nil, ErrInvalidCredentials
	}
	if !account.Active {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, false, account.ID, email, ErrInvalidCredentials, map[string]string{
			"reason": "account_inactive",
		})
		return nil, ErrInvalidCredentials
	}

	ok, err := e.hasher.Compare(password, account.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, false, account.ID, email, ErrInvalidCredentials, map[string]string{
			"reason": "password_mismatch",
		})
		return nil, ErrInvalidCredentials
	}
	password = ""

	sessionID, sessionToken, secretHash, err := internal.NewSplitToken()
	if err != nil {
		return nil, err
	}

	expiresAt := e.now().Add(e.config.TwoFactor.SessionTTL)
	session := &stores.TwoFactorSession{
		AccountID:  account.ID,
		SecretHash: secretHash,
		ExpiresAt:  expiresAt.UnixMilli(),
	}
	if err := e.sessionStore.Create(ctx, sessionID, session, e.config.TwoFactor.SessionTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := e.issueOTP(ctx, account, purposeTwoFactor); err != nil {
		return nil, err
	}

	e.metricInc(MetricChallengeIssued)
	e.emitAudit(ctx, auditLoginChallenge, true, account.ID, email, nil, nil)

	return &LoginChallenge{
		SessionToken: sessionToken,
		ExpiresAt:    expiresAt,
		RequiresOTP:  true,
	}, nil
}

// RequestOTP issues a standalone login code. The returned message is the
// same whether or not the account exists.
func (e *Engine) RequestOTP(ctx context.Context, email string) (string, error) {
	if e == nil || e.hasher == nil {
		return "", ErrEngineNotReady
	}

	email = normalizeEmail(email)

	account, err := e.directory.GetByEmail(ctx, email, false)
	if err != nil || !account.Active {
		e.emitAudit(ctx, auditOTPFailure, false, "", email, nil, map[string]string{
			"reason": "unknown_or_inactive",
		})
		return MessageOTPRequested, nil
	}

	if err := e.issueOTP(ctx, account, purposeLogin); err != nil {
		return "", err
	}

	return MessageOTPRequested, nil
}

// VerifyOTP completes a login. With a session token the code must belong
// to the handshake started by LoginWithOTP for the same account; without
// one the code is a standalone login code.
func (e *Engine) VerifyOTP(ctx context.Context, input VerifyOTPInput) (*CompletedLogin, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(input.Email)
	if email == "" || input.Code == "" {
		e.metricInc(MetricOTPInvalid)
		e.emitAudit(ctx, auditOTPFailure, false, "", email, ErrOTPInvalid, map[string]string{
			"reason": "empty_input",
		})
		return nil, ErrOTPInvalid
	}

	account, err := e.directory.GetByEmail(ctx, email, false)
	if err != nil || !account.Active {
		e.metricInc(MetricOTPInvalid)
		e.emitAudit(ctx, auditOTPFailure, false, "", email, ErrOTPInvalid, map[string]string{
			"reason": "unknown_or_inactive",
		})
		return nil, ErrOTPInvalid
	}

	purpose := purposeLogin
	sessionID := ""
	if input.SessionToken != "" {
		id, secretHash, err := internal.SplitTokenDigest(input.SessionToken)
		if err != nil {
			e.emitAudit(ctx, auditOTPFailure, false, account.ID, email, ErrSessionInvalid, map[string]string{
				"reason": "session_token_malformed",
			})
			return nil, ErrSessionInvalid
		}

		session, err := e.sessionStore.Validate(ctx, id, secretHash)
		if err != nil {
			if errors.Is(err, stores.ErrSessionNotFound) {
				e.emitAudit(ctx, auditOTPFailure, false, account.ID, email, ErrSessionInvalid, map[string]string{
					"reason": "session_invalid",
				})
				return nil, ErrSessionInvalid
			}
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		if session.AccountID != account.ID {
			e.emitAudit(ctx, auditOTPFailure, false, account.ID, email, ErrSessionInvalid, map[string]string{
				"reason": "session_account_mismatch",
			})
			return nil, ErrSessionInvalid
		}

		purpose = purposeTwoFactor
		sessionID = id
	}

	if err := e.consumeOTP(ctx, purpose, account, email, input.Code); err != nil {
		return nil, err
	}

	if sessionID != "" {
		if err := e.sessionStore.MarkUsed(ctx, sessionID, account.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	return e.completeLogin(ctx, account)
}

// VerifyOTPDirect validates a standalone login code issued by RequestOTP.
func (e *Engine) VerifyOTPDirect(ctx context.Context, email, code string) (*CompletedLogin, error) {
	return e.VerifyOTP(ctx, VerifyOTPInput{Email: email, Code: code})
}

// issueOTP generates, stores, and mails a code. Storing keys on purpose
// and account, so any prior code for that pair dies with the write.
func (e *Engine) issueOTP(ctx context.Context, account Account, purpose string) error {
	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return err
	}

	codeHash, err := e.hasher.Hash(code)
	if err != nil {
		return err
	}

	record := &stores.OTPRecord{
		AccountID: account.ID,
		CodeHash:  codeHash,
		ExpiresAt: e.now().Add(e.config.OTP.TTL).UnixMilli(),
		Attempts:  uint16(e.config.OTP.MaxAttempts),
	}
	if err := e.otpStore.Put(ctx, purpose, account.ID, record, e.config.OTP.TTL); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, auditOTPIssued, true, account.ID, account.Email, nil, map[string]string{
		"purpose": purpose,
	})

	if err := e.notifier.SendOTP(ctx, account.Email, account.Name, code, e.config.OTP.TTL); err != nil {
		e.emitAudit(ctx, auditNotifyFailure, false, account.ID, account.Email, err, map[string]string{
			"kind": "otp",
		})
		return fmt.Errorf("%w: %v", ErrNotifierFailed, err)
	}

	return nil
}

func (e *Engine) consumeOTP(ctx context.Context, purpose string, account Account, email, code string) error {
	remaining, err := e.otpStore.Consume(ctx, purpose, account.ID, func(codeHash string) (bool, error) {
		return e.hasher.Compare(code, codeHash)
	})
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrOTPExhausted):
			e.metricInc(MetricOTPExhausted)
			e.emitAudit(ctx, auditOTPFailure, false, account.ID, email, ErrOTPExhausted, map[string]string{
				"purpose": purpose,
			})
			return ErrOTPExhausted
		case errors.Is(err, stores.ErrOTPNotFound), errors.Is(err, stores.ErrOTPMismatch):
			e.metricInc(MetricOTPInvalid)
			e.emitAudit(ctx, auditOTPFailure, false, account.ID, email, ErrOTPInvalid, map[string]string{
				"purpose":   purpose,
				"remaining": strconv.Itoa(remaining),
			})
			return ErrOTPInvalid
		default:
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	return nil
}

// completeLogin is the shared tail of every successful authentication:
// record the login time, issue a pair, and register the refresh digest.
func (e *Engine) completeLogin(ctx context.Context, account Account) (*CompletedLogin, error) {
	access, refresh, err := e.jwtManager.IssuePair(account.ID, account.Email, account.Role)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, err
	}

	if err := e.refreshStore.Add(ctx, account.ID, internal.Digest(refresh), e.config.JWT.RefreshTTL); err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	now := e.now()
	if err := e.directory.UpdateLastLogin(ctx, account.ID, now); err != nil {
		// Login timestamp is informational; never fail an otherwise valid
		// login over it.
		e.emitAudit(ctx, auditLoginSuccess, false, account.ID, account.Email, err, map[string]string{
			"reason": "last_login_update_failed",
		})
	} else {
		account.LastLoginAt = now
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditLoginSuccess, true, account.ID, account.Email, nil, nil)

	return &CompletedLogin{
		Account:            account.view(),
		Tokens:             e.newTokenPair(access, refresh),
		MustChangePassword: account.MustChangePassword,
	}, nil
}
