package identio

import (
	"context"
	"time"

	"github.com/tamrel/identio/user"
)

// ClientMeta carries optional per-request client attributes recorded on the
// session and in audit events.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// RegisterInput is the input for [Core.Register].
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult is returned by [Core.Login], [Core.ConfirmLoginTOTP] and
// [Core.LoginExternal]. When TwoFactorRequired is set no token was issued;
// the caller must follow up with ConfirmLoginTOTP using ChallengeID.
type LoginResult struct {
	Token     string
	SessionID string
	User      *user.User

	TwoFactorRequired bool
	ChallengeID       string
}

// TokenInfo is the successful result of [Core.ValidateToken].
type TokenInfo struct {
	UserID    string
	SessionID string
	ExpiresAt time.Time
}

// SessionInfo is the enumeration view of one active session.
type SessionInfo struct {
	SessionID string
	UserID    string
	IssuedAt  time.Time
	IP        string
	UserAgent string
}

// TwoFactorSetup is returned by [Core.BeginTwoFactorSetup]. The secret is
// stored but 2FA stays disabled until one valid code confirms enrollment.
type TwoFactorSetup struct {
	Secret string
	// URI is the otpauth:// provisioning string; rendering it into a QR
	// image is the job of an external collaborator.
	URI string
}

// ExternalIdentity is the result of a successful OAuth code exchange.
type ExternalIdentity struct {
	Provider    user.Provider
	ExternalID  string
	Email       string
	DisplayName string
}

// OAuthExchanger exchanges an authorization code for an external identity.
// A code/redirect pair is single-use; the provider must reject replays.
type OAuthExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (ExternalIdentity, error)
}

// EmailSender delivers templated messages. It is best-effort from the
// core's perspective: failures are audited and logged, never surfaced to
// the caller of the primary operation.
type EmailSender interface {
	SendTemplated(ctx context.Context, to, templateName, language string, params map[string]string) error
}

// Notifier pushes out-of-band notifications (new login, password changed).
// Best-effort, like EmailSender.
type Notifier interface {
	Push(ctx context.Context, userID, kind string) error
}
