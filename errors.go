package authkit

import "errors"

var (
	// ErrInvalidCredentials covers every credential-stage login failure:
	// unknown email, wrong password, inactive account. Callers must not be
	// able to tell these apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotFound is returned by Directory implementations when no
	// account matches the lookup.
	ErrAccountNotFound = errors.New("account not found")
	// ErrEmailExists is returned by Directory implementations when an
	// account with the same email already exists.
	ErrEmailExists = errors.New("email already registered")
	// ErrEmailInvalid is returned when a create or register request
	// carries no usable email address.
	ErrEmailInvalid = errors.New("invalid email address")
	// ErrOTPInvalid covers a missing, expired, replaced, or mismatched
	// one-time code.
	ErrOTPInvalid = errors.New("invalid or expired code")
	// ErrOTPExhausted is returned once a code has burned all its attempts,
	// including for later attempts with the correct code.
	ErrOTPExhausted = errors.New("code attempts exhausted")
	// ErrSessionInvalid covers a missing, expired, used, or foreign
	// two-factor session token.
	ErrSessionInvalid = errors.New("invalid or expired login session")
	// ErrResetTokenInvalid covers a missing, expired, or used password
	// reset token.
	ErrResetTokenInvalid = errors.New("invalid or expired reset token")
	// ErrRefreshInvalid covers a malformed, expired, revoked, or already
	// rotated refresh token.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrTokenInvalid covers every access token verification failure.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrPasswordPolicy is returned when a new password fails the length
	// policy or required input is missing.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when the new password equals the
	// current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrPasswordConfirmMismatch is returned when the confirmation does
	// not match the new password.
	ErrPasswordConfirmMismatch = errors.New("password confirmation does not match")
	// ErrNotifierFailed wraps notification delivery failures on the sends
	// that must propagate (one-time codes, reset links, temporary
	// passwords).
	ErrNotifierFailed = errors.New("notification delivery failed")
	// ErrBackendUnavailable wraps Redis-level failures.
	ErrBackendUnavailable = errors.New("secret backend unavailable")
	// ErrEngineNotReady is returned when the engine is used before Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)
