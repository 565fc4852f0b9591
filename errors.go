package identio

import "errors"

// Kind buckets an error into the taxonomy callers branch on: validation,
// conflict, unauthorized, not-found, internal.
type Kind uint8

const (
	// KindValidation marks malformed input.
	KindValidation Kind = iota + 1
	// KindConflict marks uniqueness violations.
	KindConflict
	// KindUnauthorized marks credential, token and second-factor failures.
	// They are reported uniformly so callers cannot tell which factor failed.
	KindUnauthorized
	// KindNotFound marks absent resources, used only where no security
	// information leaks by distinguishing it from unauthorized.
	KindNotFound
	// KindInternal marks infrastructure failures, surfaced opaquely.
	KindInternal
)

// Error is the typed failure returned by every orchestrator operation.
// Code is stable and machine-readable; Message is for humans and is never
// the only signal.
type Error struct {
	Code    string
	Message string
	Kind    Kind
	cause   error
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on Code so wrapped instances compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	// ErrInvalidInput is a generic validation failure.
	ErrInvalidInput = &Error{Code: "invalid_input", Message: "invalid input", Kind: KindValidation}
	// ErrPasswordPolicy rejects passwords below the policy floor.
	ErrPasswordPolicy = &Error{Code: "password_policy", Message: "password does not meet policy", Kind: KindValidation}
	// ErrPasswordReuse rejects a new password equal to the current one.
	ErrPasswordReuse = &Error{Code: "password_reuse", Message: "new password must differ from the current password", Kind: KindValidation}

	// ErrUsernameTaken reports a username uniqueness conflict.
	ErrUsernameTaken = &Error{Code: "username_conflict", Message: "username already exists", Kind: KindConflict}
	// ErrEmailTaken reports an email uniqueness conflict, including the case
	// of an external login colliding with an unlinked local account.
	ErrEmailTaken = &Error{Code: "email_conflict", Message: "email already exists", Kind: KindConflict}
	// ErrTwoFactorEnabled rejects enrollment when 2FA is already active.
	ErrTwoFactorEnabled = &Error{Code: "totp_enabled", Message: "two-factor authentication is already enabled", Kind: KindConflict}

	// ErrInvalidCredentials covers unknown account, wrong password, and
	// blocked account states uniformly.
	ErrInvalidCredentials = &Error{Code: "invalid_credentials", Message: "invalid credentials", Kind: KindUnauthorized}
	// ErrTokenInvalid covers malformed, expired, revoked and orphaned tokens.
	ErrTokenInvalid = &Error{Code: "token_invalid", Message: "invalid token", Kind: KindUnauthorized}
	// ErrTwoFactorInvalid covers wrong, expired and replayed second-factor
	// codes and challenges.
	ErrTwoFactorInvalid = &Error{Code: "totp_invalid", Message: "invalid two-factor code", Kind: KindUnauthorized}
	// ErrResetTokenInvalid covers unknown, expired, consumed, superseded and
	// wrong-purpose reset or verification tokens.
	ErrResetTokenInvalid = &Error{Code: "reset_token_invalid", Message: "invalid or expired token", Kind: KindUnauthorized}
	// ErrExternalExchange reports a failed OAuth code exchange, including
	// reuse of a code/redirect pair.
	ErrExternalExchange = &Error{Code: "external_exchange_failed", Message: "external authorization failed", Kind: KindUnauthorized}

	// ErrUserNotFound is returned by operations addressed to an explicit
	// user id, where existence is not a secret.
	ErrUserNotFound = &Error{Code: "user_not_found", Message: "user not found", Kind: KindNotFound}
	// ErrSessionNotFound is returned by targeted session removal.
	ErrSessionNotFound = &Error{Code: "session_not_found", Message: "session not found", Kind: KindNotFound}
	// ErrTwoFactorNotEnrolled rejects confirm/disable without enrollment.
	ErrTwoFactorNotEnrolled = &Error{Code: "totp_not_enrolled", Message: "two-factor authentication is not set up", Kind: KindNotFound}

	// ErrNotReady reports a core built without a required dependency.
	ErrNotReady = &Error{Code: "not_ready", Message: "identity core not initialized", Kind: KindInternal}
	// ErrInternal is the opaque infrastructure failure. The cause is
	// attached for logs but never rendered to callers.
	ErrInternal = &Error{Code: "internal", Message: "internal error", Kind: KindInternal}
)

// UsernameConflictError wraps ErrUsernameTaken with an alternate username
// the caller may accept in a follow-up Register call.
type UsernameConflictError struct {
	Suggested string
}

func (e *UsernameConflictError) Error() string {
	return ErrUsernameTaken.Error()
}

func (e *UsernameConflictError) Unwrap() error {
	return ErrUsernameTaken
}

// wrapInternal attaches a cause to ErrInternal without changing its code or
// message.
func wrapInternal(err error) *Error {
	return &Error{
		Code:    ErrInternal.Code,
		Message: ErrInternal.Message,
		Kind:    KindInternal,
		cause:   err,
	}
}

// errorString renders err for audit events; nil-safe.
func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// KindOf extracts the Kind of any error returned by this package, defaulting
// to KindInternal for foreign errors. Transports use it to map failures onto
// their status vocabulary without enumerating error values.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}
