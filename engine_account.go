package authkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/authkit-dev/authkit/internal"
)

const defaultRole = "user"

// Register creates a self-service account and logs it in immediately.
func (e *Engine) Register(ctx context.Context, input RegisterInput) (*CompletedLogin, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, ErrEmailInvalid
	}
	if len(input.Password) < e.config.Password.MinLength {
		return nil, ErrPasswordPolicy
	}

	passwordHash, err := e.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	role := input.Role
	if role == "" {
		role = defaultRole
	}

	account, err := e.directory.Create(ctx, NewAccount{
		Email:        email,
		Name:         input.Name,
		Role:         role,
		PasswordHash: passwordHash,
		Active:       true,
	})
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			e.metricInc(MetricAccountDuplicate)
			e.emitAudit(ctx, auditAccountRegister, false, "", email, ErrEmailExists, nil)
			return nil, ErrEmailExists
		}
		return nil, err
	}

	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, auditAccountRegister, true, account.ID, email, nil, nil)

	return e.completeLogin(ctx, account)
}

// CreateAccount creates an account on someone's behalf. With an empty
// password a temporary one is generated, mailed, and the account is
// flagged to change it on first login. When that mail fails the error
// propagates but the account stays created; the returned view is non-nil
// either way so the caller can see what exists.
func (e *Engine) CreateAccount(ctx context.Context, input CreateAccountInput) (*AccountView, error) {
	if e == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, ErrEmailInvalid
	}

	password := input.Password
	temporary := password == ""
	if temporary {
		generated, err := internal.NewTemporaryPassword(e.config.Password.TemporaryLength)
		if err != nil {
			return nil, err
		}
		password = generated
	} else if len(password) < e.config.Password.MinLength {
		return nil, ErrPasswordPolicy
	}

	passwordHash, err := e.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	role := input.Role
	if role == "" {
		role = defaultRole
	}

	account, err := e.directory.Create(ctx, NewAccount{
		Email:              email,
		Name:               input.Name,
		Role:               role,
		PasswordHash:       passwordHash,
		Active:             true,
		MustChangePassword: temporary,
	})
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			e.metricInc(MetricAccountDuplicate)
			e.emitAudit(ctx, auditAccountCreated, false, "", email, ErrEmailExists, nil)
			return nil, ErrEmailExists
		}
		return nil, err
	}

	metadata := map[string]string{
		"temporary_password": fmt.Sprintf("%t", temporary),
	}
	if input.IssuedBy != "" {
		metadata["issued_by"] = input.IssuedBy
	}
	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, auditAccountCreated, true, account.ID, email, nil, metadata)

	view := account.view()

	if temporary {
		if err := e.notifier.SendTemporaryPassword(ctx, account.Email, account.Name, password, input.IssuedBy); err != nil {
			e.emitAudit(ctx, auditNotifyFailure, false, account.ID, email, err, map[string]string{
				"kind": "temporary_password",
			})
			return &view, fmt.Errorf("%w: %v", ErrNotifierFailed, err)
		}
	}

	return &view, nil
}
