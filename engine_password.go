package authkit

import (
	"context"
	"fmt"

	"github.com/authkit-dev/authkit/internal"
	"github.com/authkit-dev/authkit/internal/stores"
)

// MessageResetRequested is the response body for ForgotPassword regardless
// of whether the account exists. Byte-identical on both paths.
const MessageResetRequested = "If an account with that email exists, a password reset link has been sent."

// ChangePassword rotates an authenticated account's password. The current
// password must verify, the new one must differ from it, match its
// confirmation, and satisfy the length policy. On success every refresh
// token the account holds is revoked and mustChangePassword is cleared.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, newPassword, confirm string) error {
	if e == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	if accountID == "" || current == "" || newPassword == "" {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditPasswordFailure, false, accountID, "", ErrPasswordPolicy, map[string]string{
			"reason": "empty_input",
		})
		return ErrPasswordPolicy
	}
	if len(newPassword) < e.config.Password.MinLength {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditPasswordFailure, false, accountID, "", ErrPasswordPolicy, map[string]string{
			"reason": "too_short",
		})
		return ErrPasswordPolicy
	}
	if newPassword != confirm {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditPasswordFailure, false, accountID, "", ErrPasswordConfirmMismatch, nil)
		return ErrPasswordConfirmMismatch
	}
	if newPassword == current {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditPasswordFailure, false, accountID, "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	account, err := e.directory.GetByID(ctx, accountID, true)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditPasswordFailure, false, accountID, "", ErrAccountNotFound, map[string]string{
			"reason": "account_lookup",
		})
		return ErrAccountNotFound
	}

	ok, err := e.hasher.Compare(current, account.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditPasswordFailure, false, account.ID, account.Email, ErrInvalidCredentials, map[string]string{
			"reason": "current_mismatch",
		})
		return ErrInvalidCredentials
	}
	current = ""

	if err := e.applyNewPassword(ctx, account, newPassword); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditPasswordChanged, true, account.ID, account.Email, nil, nil)

	return nil
}

// ForgotPassword issues a reset grant and mails the token. The returned
// message never reveals whether the account exists; a delivery failure
// does, and is accepted as the lesser risk because the alternative is a
// silently lost reset.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (string, error) {
	if e == nil || e.hasher == nil {
		return "", ErrEngineNotReady
	}

	email = normalizeEmail(email)

	account, err := e.directory.GetByEmail(ctx, email, false)
	if err != nil || !account.Active {
		e.emitAudit(ctx, auditResetRequested, false, "", email, nil, map[string]string{
			"reason": "unknown_or_inactive",
		})
		return MessageResetRequested, nil
	}

	token, err := internal.NewResetToken()
	if err != nil {
		return "", err
	}
	tokenHash, err := e.hasher.Hash(token)
	if err != nil {
		return "", err
	}

	record := &stores.ResetRecord{
		AccountID: account.ID,
		TokenHash: tokenHash,
		ExpiresAt: e.now().Add(e.config.Reset.TokenTTL).UnixMilli(),
	}
	if err := e.resetStore.Save(ctx, record, e.config.Reset.TokenTTL); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricResetRequested)
	e.emitAudit(ctx, auditResetRequested, true, account.ID, email, nil, nil)

	if err := e.notifier.SendPasswordReset(ctx, account.Email, account.Name, token, e.config.Reset.TokenTTL); err != nil {
		e.emitAudit(ctx, auditNotifyFailure, false, account.ID, email, err, map[string]string{
			"kind": "reset",
		})
		return "", fmt.Errorf("%w: %v", ErrNotifierFailed, err)
	}

	return MessageResetRequested, nil
}

// ResetPassword redeems a mailed token. The token cannot be looked up
// directly because only its slow hash is stored, so every live grant is a
// candidate and the presented token is compared against each.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	if token == "" {
		e.metricInc(MetricResetFailure)
		return ErrResetTokenInvalid
	}
	if len(newPassword) < e.config.Password.MinLength {
		e.metricInc(MetricResetFailure)
		e.emitAudit(ctx, auditResetFailure, false, "", "", ErrPasswordPolicy, map[string]string{
			"reason": "too_short",
		})
		return ErrPasswordPolicy
	}

	records, err := e.resetStore.Active(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var matched *stores.ResetRecord
	for _, record := range records {
		ok, err := e.hasher.Compare(token, record.TokenHash)
		if err == nil && ok {
			matched = record
			break
		}
	}
	if matched == nil {
		e.metricInc(MetricResetFailure)
		e.emitAudit(ctx, auditResetFailure, false, "", "", ErrResetTokenInvalid, nil)
		return ErrResetTokenInvalid
	}

	account, err := e.directory.GetByID(ctx, matched.AccountID, false)
	if err != nil {
		e.metricInc(MetricResetFailure)
		e.emitAudit(ctx, auditResetFailure, false, matched.AccountID, "", ErrResetTokenInvalid, map[string]string{
			"reason": "account_lookup",
		})
		return ErrResetTokenInvalid
	}

	// The grant is marked used before the password moves. Of two
	// concurrent redemptions exactly one gets the removal; the loser is
	// told the token is invalid and never touches the password.
	removed, err := e.resetStore.Consume(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !removed {
		e.metricInc(MetricResetFailure)
		e.emitAudit(ctx, auditResetFailure, false, account.ID, "", ErrResetTokenInvalid, map[string]string{
			"reason": "grant_already_consumed",
		})
		return ErrResetTokenInvalid
	}

	if err := e.applyNewPassword(ctx, account, newPassword); err != nil {
		e.metricInc(MetricResetFailure)
		return err
	}

	e.metricInc(MetricResetSuccess)
	e.emitAudit(ctx, auditResetCompleted, true, account.ID, account.Email, nil, nil)

	return nil
}

// applyNewPassword is the shared tail of change and reset: store the new
// hash, clear the forced-change flag, revoke every refresh token, and
// send the best-effort confirmation.
func (e *Engine) applyNewPassword(ctx context.Context, account Account, newPassword string) error {
	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := e.directory.UpdatePasswordHash(ctx, account.ID, newHash); err != nil {
		e.emitAudit(ctx, auditPasswordFailure, false, account.ID, account.Email, err, map[string]string{
			"reason": "update_hash_failed",
		})
		return err
	}

	if account.MustChangePassword {
		if err := e.directory.SetMustChangePassword(ctx, account.ID, false); err != nil {
			e.emitAudit(ctx, auditPasswordFailure, false, account.ID, account.Email, err, map[string]string{
				"reason": "clear_must_change_failed",
			})
			return err
		}
	}

	if err := e.refreshStore.ClearAll(ctx, account.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := e.notifier.SendPasswordChanged(ctx, account.Email, account.Name); err != nil {
		// Confirmation only; the password is already rotated.
		e.emitAudit(ctx, auditNotifyFailure, false, account.ID, account.Email, err, map[string]string{
			"kind": "password_changed",
		})
	}

	return nil
}
