package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned for a wrong email/password pair.
	// Unknown principals produce the same error so the response does not
	// reveal which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account locked")

	// ErrAccountInactive is returned for a disabled principal.
	ErrAccountInactive = errors.New("account inactive")

	// ErrInvalidMFACode is returned when a submitted second factor fails.
	ErrInvalidMFACode = errors.New("invalid mfa code")

	// ErrMFANotEnrolled is returned when a step-up is attempted for a
	// method the principal has not set up.
	ErrMFANotEnrolled = errors.New("mfa method not enrolled")

	// ErrChallengeExpired is returned when the MFA challenge referenced by
	// a verification has expired or was already consumed.
	ErrChallengeExpired = errors.New("mfa challenge expired")

	// ErrMFAAttemptsExceeded is returned after too many wrong codes
	// against one challenge; the challenge is discarded.
	ErrMFAAttemptsExceeded = errors.New("mfa attempts exceeded")

	// ErrTokenBlacklisted is returned for a revoked token.
	ErrTokenBlacklisted = errors.New("token blacklisted")

	// ErrInvalidRefreshToken is returned when a refresh token fails
	// signature, expiry, or version checks.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrInvalidSession is returned when a token references a session that
	// is missing or no longer active.
	ErrInvalidSession = errors.New("invalid session")

	// ErrUserInactive is returned on refresh when the principal behind the
	// session has been deactivated.
	ErrUserInactive = errors.New("user inactive")

	// ErrPermissionDenied is returned by RequirePermission.
	ErrPermissionDenied = errors.New("insufficient permissions")

	// ErrRateLimited is returned when an attempt budget is spent.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound is returned for missing roles, permissions, principals,
	// and assignments in management operations.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for duplicate registrations, duplicate role
	// names, and repeated assignments.
	ErrConflict = errors.New("resource conflict")

	// ErrPasswordPolicy is returned when a new password fails validation.
	ErrPasswordPolicy = errors.New("password policy violation")

	// ErrInvalidResetToken is returned for unknown, expired, or already
	// consumed password reset tokens.
	ErrInvalidResetToken = errors.New("invalid reset token")

	// ErrEngineNotReady is returned when a required dependency was not
	// wired before use.
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrBackendUnavailable wraps transport failures from the stores.
	ErrBackendUnavailable = errors.New("backend unavailable")
)
