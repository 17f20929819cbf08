package authkit

import (
	"context"
	"fmt"

	"github.com/authkit-dev/authkit/internal"
	"github.com/authkit-dev/authkit/jwt"
)

// Refresh rotates a refresh token: the presented token is removed from the
// account's live set and a fresh pair is issued. Removing and checking are
// one atomic step, so a token replayed concurrently succeeds for exactly
// one caller.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.Parse(refreshToken, jwt.ClassRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditRefreshFailure, false, "", "", ErrRefreshInvalid, map[string]string{
			"reason": "parse_failed",
		})
		return nil, ErrRefreshInvalid
	}
	accountID := claims.Subject

	removed, err := e.refreshStore.Remove(ctx, accountID, internal.Digest(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !removed {
		// Valid signature but not in the live set: revoked or already
		// rotated.
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditRefreshFailure, false, accountID, "", ErrRefreshInvalid, map[string]string{
			"reason": "not_registered",
		})
		return nil, ErrRefreshInvalid
	}

	account, err := e.directory.GetByID(ctx, accountID, false)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditRefreshFailure, false, accountID, "", ErrRefreshInvalid, map[string]string{
			"reason": "account_lookup",
		})
		return nil, ErrRefreshInvalid
	}
	if !account.Active {
		_ = e.refreshStore.ClearAll(ctx, accountID)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditRefreshFailure, false, accountID, account.Email, ErrRefreshInvalid, map[string]string{
			"reason": "account_inactive",
		})
		return nil, ErrRefreshInvalid
	}

	access, refresh, err := e.jwtManager.IssuePair(account.ID, account.Email, account.Role)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	if err := e.refreshStore.Add(ctx, account.ID, internal.Digest(refresh), e.config.JWT.RefreshTTL); err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditRefreshSuccess, true, account.ID, account.Email, nil, nil)

	pair := e.newTokenPair(access, refresh)
	return &pair, nil
}

// Logout revokes the presented refresh token. Revoking an unknown token
// is a no-op, so logout is idempotent.
func (e *Engine) Logout(ctx context.Context, accountID, refreshToken string) error {
	if e == nil || e.refreshStore == nil {
		return ErrEngineNotReady
	}

	removed, err := e.refreshStore.Remove(ctx, accountID, internal.Digest(refreshToken))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditLogout, true, accountID, "", nil, map[string]string{
		"revoked": fmt.Sprintf("%t", removed),
	})

	return nil
}

// LogoutAll revokes every refresh token the account holds.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if e == nil || e.refreshStore == nil {
		return ErrEngineNotReady
	}

	if err := e.refreshStore.ClearAll(ctx, accountID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditLogoutAll, true, accountID, "", nil, nil)

	return nil
}

// VerifyAccess validates an access token and returns the principal it
// carries. Pure signature and claim verification; no store access.
func (e *Engine) VerifyAccess(tokenStr string) (*Principal, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.Parse(tokenStr, jwt.ClassAccess)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	return &Principal{
		AccountID: claims.Subject,
		Email:     claims.Email,
		Role:      claims.Role,
	}, nil
}
