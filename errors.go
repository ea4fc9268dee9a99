package guard

import "errors"

var (
	// ErrCredentialsRequired rejects empty email or password before any
	// lookup happens.
	ErrCredentialsRequired = errors.New("credentials required")
	// ErrInvalidCredentials is the uniform authentication failure. Lockout,
	// unknown user, and wrong password all collapse into it so callers
	// cannot probe which one occurred.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordPolicy rejects a new password that fails policy
	// validation.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrResetTokenInvalid covers absent, expired, and already-used reset
	// tokens alike.
	ErrResetTokenInvalid = errors.New("password reset token invalid")
	// ErrSessionNotFound is returned by session operations that require a
	// live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrEngineClosed rejects operations after Close.
	ErrEngineClosed = errors.New("engine closed")
	// ErrInternal wraps backend failures (directory, store) without
	// exposing them to unauthenticated callers.
	ErrInternal = errors.New("internal error")
)
