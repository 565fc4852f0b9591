package identio

import (
	"errors"
	"time"

	"github.com/tamrel/identio/password"
	"github.com/tamrel/identio/token"
)

// Config carries every tunable of the identity core. Zero values are filled
// from DefaultConfig by the builder; Build rejects configurations that would
// weaken the security invariants (zero TTLs, missing signing keys).
type Config struct {
	Token    TokenConfig
	TOTP     TOTPConfig
	Session  SessionConfig
	Cache    CacheConfig
	Reset    ResetConfig
	MFALogin MFALoginConfig
	Password password.Config
	Timeouts TimeoutConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Email    EmailConfig

	// RequireVerifiedEmail blocks local login for accounts still pending
	// email verification.
	RequireVerifiedEmail bool
}

// TokenConfig configures the bearer-credential issuer.
type TokenConfig struct {
	SigningMethod token.SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	TTL           time.Duration
	Leeway        time.Duration
}

// TOTPConfig configures second-factor code generation and verification.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string
}

// SessionConfig configures the session registry.
type SessionConfig struct {
	TTL       time.Duration
	KeyPrefix string
}

// CacheConfig configures the user cache projections.
type CacheConfig struct {
	TTL       time.Duration
	KeyPrefix string
}

// ResetConfig configures single-use reset and verification tokens.
type ResetConfig struct {
	PasswordTTL time.Duration
	VerifyTTL   time.Duration
}

// MFALoginConfig bounds the pending-login challenge between the password
// check and the TOTP confirmation.
type MFALoginConfig struct {
	ChallengeTTL time.Duration
	MaxAttempts  int
}

// TimeoutConfig bounds every call that crosses the network. A timed-out
// cache read degrades to the store; a timed-out store call is a hard
// failure.
type TimeoutConfig struct {
	Store time.Duration
	Cache time.Duration
	OAuth time.Duration
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of blocking the request path when the
	// buffer is saturated.
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
	// EnableLatencyHistograms additionally buckets token-validation latency.
	EnableLatencyHistograms bool
}

// EmailConfig names the templates handed to the EmailSender collaborator.
type EmailConfig struct {
	ResetTemplate  string
	VerifyTemplate string
	Language       string
}

// DefaultConfig returns production-leaning defaults. Signing key material
// has no default and must be provided.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			SigningMethod: token.MethodHS256,
			Issuer:        "identio",
			TTL:           15 * time.Minute,
			Leeway:        30 * time.Second,
		},
		TOTP: TOTPConfig{
			Issuer:    "identio",
			Digits:    6,
			Period:    30,
			Skew:      1,
			Algorithm: "SHA1",
		},
		Session: SessionConfig{
			TTL:       24 * time.Hour,
			KeyPrefix: "is",
		},
		Cache: CacheConfig{
			TTL:       10 * time.Minute,
			KeyPrefix: "uc",
		},
		Reset: ResetConfig{
			PasswordTTL: 30 * time.Minute,
			VerifyTTL:   24 * time.Hour,
		},
		MFALogin: MFALoginConfig{
			ChallengeTTL: 5 * time.Minute,
			MaxAttempts:  5,
		},
		Password: password.DefaultConfig(),
		Timeouts: TimeoutConfig{
			Store: 5 * time.Second,
			Cache: 500 * time.Millisecond,
			OAuth: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
		Email: EmailConfig{
			ResetTemplate:  "password_reset",
			VerifyTemplate: "email_verification",
			Language:       "en",
		},
	}
}

func (c *Config) validate() error {
	if len(c.Token.PrivateKey) == 0 {
		return errors.New("identio: token signing key is required")
	}
	if c.Token.TTL <= 0 || c.Session.TTL <= 0 {
		return errors.New("identio: token and session TTLs must be positive")
	}
	if c.Token.TTL > c.Session.TTL {
		return errors.New("identio: token TTL must not exceed session TTL")
	}
	if c.Reset.PasswordTTL <= 0 || c.Reset.VerifyTTL <= 0 {
		return errors.New("identio: reset TTLs must be positive")
	}
	if c.MFALogin.ChallengeTTL <= 0 || c.MFALogin.MaxAttempts <= 0 {
		return errors.New("identio: mfa challenge TTL and attempts must be positive")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 || c.TOTP.Period <= 0 || c.TOTP.Skew < 0 {
		return errors.New("identio: invalid totp parameters")
	}
	if c.Timeouts.Store <= 0 || c.Timeouts.Cache <= 0 || c.Timeouts.OAuth <= 0 {
		return errors.New("identio: timeouts must be positive")
	}
	return nil
}
